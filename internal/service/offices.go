package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/deskline/servicedesk/internal/apperr"
	"github.com/deskline/servicedesk/internal/model"
	"github.com/deskline/servicedesk/internal/policy"
	"github.com/deskline/servicedesk/internal/repository"
	"github.com/deskline/servicedesk/internal/validation"
)

// CachePurger drops cached public office responses after a write.
type CachePurger interface {
	Purge(ctx context.Context) error
}

// OfficeService manages the office directory.  Reads are public; writes
// are admin only.
type OfficeService struct {
	Offices OfficeStore
	Cache   CachePurger
	Log     logrus.FieldLogger
}

func NewOfficeService(offices OfficeStore, cache CachePurger, log logrus.FieldLogger) *OfficeService {
	return &OfficeService{Offices: offices, Cache: cache, Log: log}
}

type CreateOfficeInput struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	Code        string `json:"code" validate:"required,min=2,max=20"`
	Address     string `json:"address" validate:"max=255"`
	City        string `json:"city" validate:"max=100"`
	Floor       string `json:"floor" validate:"max=20"`
	Description string `json:"description" validate:"max=1000"`
	IsActive    *bool  `json:"is_active"`
}

type UpdateOfficeInput struct {
	Name        *string `json:"name" validate:"omitnil,min=2,max=100"`
	Code        *string `json:"code" validate:"omitnil,min=2,max=20"`
	Address     *string `json:"address" validate:"omitnil,max=255"`
	City        *string `json:"city" validate:"omitnil,max=100"`
	Floor       *string `json:"floor" validate:"omitnil,max=20"`
	Description *string `json:"description" validate:"omitnil,max=1000"`
	IsActive    *bool   `json:"is_active"`
}

// List returns offices, only the active ones unless all is set.
func (s *OfficeService) List(ctx context.Context, all bool) ([]*model.Office, error) {
	offices, err := s.Offices.List(ctx, !all)
	if err != nil {
		return nil, apperr.Internal("list offices", err)
	}
	return offices, nil
}

func (s *OfficeService) Get(ctx context.Context, id uint64) (*model.Office, error) {
	o, err := s.Offices.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrOfficeNotFound) {
			return nil, apperr.NotFound("office not found")
		}
		return nil, apperr.Internal("load office", err)
	}
	return o, nil
}

func (s *OfficeService) Create(ctx context.Context, caller *model.Account, in CreateOfficeInput) (*model.Office, error) {
	if err := policy.Check(subjectOf(caller), policy.ManageOffice, policy.None); err != nil {
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	o := &model.Office{
		Name:        strings.TrimSpace(in.Name),
		Code:        strings.ToUpper(strings.TrimSpace(in.Code)),
		Address:     strings.TrimSpace(in.Address),
		City:        strings.TrimSpace(in.City),
		Floor:       strings.TrimSpace(in.Floor),
		Description: strings.TrimSpace(in.Description),
		IsActive:    in.IsActive == nil || *in.IsActive,
	}
	if err := s.Offices.Create(ctx, o); err != nil {
		if errors.Is(err, repository.ErrOfficeCodeExists) {
			return nil, apperr.Conflict("office code already exists")
		}
		return nil, apperr.Internal("create office", err)
	}
	s.purge(ctx)
	return o, nil
}

func (s *OfficeService) Update(ctx context.Context, caller *model.Account, id uint64, in UpdateOfficeInput) (*model.Office, error) {
	if err := policy.Check(subjectOf(caller), policy.ManageOffice, policy.None); err != nil {
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		o.Name = strings.TrimSpace(*in.Name)
	}
	if in.Code != nil {
		o.Code = strings.ToUpper(strings.TrimSpace(*in.Code))
	}
	if in.Address != nil {
		o.Address = strings.TrimSpace(*in.Address)
	}
	if in.City != nil {
		o.City = strings.TrimSpace(*in.City)
	}
	if in.Floor != nil {
		o.Floor = strings.TrimSpace(*in.Floor)
	}
	if in.Description != nil {
		o.Description = strings.TrimSpace(*in.Description)
	}
	if in.IsActive != nil {
		o.IsActive = *in.IsActive
	}
	if err := s.Offices.Update(ctx, o); err != nil {
		switch {
		case errors.Is(err, repository.ErrOfficeCodeExists):
			return nil, apperr.Conflict("office code already exists")
		case errors.Is(err, repository.ErrOfficeNotFound):
			return nil, apperr.NotFound("office not found")
		}
		return nil, apperr.Internal("update office", err)
	}
	s.purge(ctx)
	return o, nil
}

func (s *OfficeService) Delete(ctx context.Context, caller *model.Account, id uint64) error {
	if err := policy.Check(subjectOf(caller), policy.ManageOffice, policy.None); err != nil {
		return err
	}
	if err := s.Offices.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrOfficeNotFound):
			return apperr.NotFound("office not found")
		case errors.Is(err, repository.ErrConflict):
			return apperr.Conflict("office is referenced by reports or accounts")
		}
		return apperr.Internal("delete office", err)
	}
	s.purge(ctx)
	return nil
}

// purge is best effort; stale entries expire with their TTL anyway.
func (s *OfficeService) purge(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Purge(ctx); err != nil {
		s.Log.WithError(err).Warn("purge office cache failed")
	}
}
