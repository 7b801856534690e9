package service

import (
	"context"
	"errors"
	"time"

	"github.com/deskline/servicedesk/internal/apperr"
	"github.com/deskline/servicedesk/internal/model"
	"github.com/deskline/servicedesk/internal/repository"
)

// ReportView is the populated read model of a report: account and office
// references are replaced by their summaries.
type ReportView struct {
	ID          uint64                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Category    model.Category        `json:"category"`
	Priority    model.Priority        `json:"priority"`
	Status      model.ReportStatus    `json:"status"`
	Workstation string                `json:"workstation,omitempty"`
	Office      *model.OfficeSummary  `json:"office"`
	Creator     *model.AccountSummary `json:"creator"`
	Assignee    *model.AccountSummary `json:"assignee"`
	AssignedAt  *time.Time            `json:"assigned_at"`
	ResolvedAt  *time.Time            `json:"resolved_at"`
	ClosedAt    *time.Time            `json:"closed_at"`
	Resolution  *ResolutionView       `json:"resolution"`
	Rating      *model.Rating         `json:"rating"`
	History     []model.StatusChange  `json:"history,omitempty"`
	Attachments []model.Attachment    `json:"attachments,omitempty"`
	Version     int                   `json:"version"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

type ResolutionView struct {
	Description string                `json:"description"`
	ResolvedBy  *model.AccountSummary `json:"resolved_by"`
	ResolvedAt  time.Time             `json:"resolved_at"`
}

// viewCache memoizes lookups while one response is assembled.
type viewCache struct {
	accounts map[uint64]*model.AccountSummary
	offices  map[uint64]*model.OfficeSummary
}

func newViewCache() *viewCache {
	return &viewCache{accounts: map[uint64]*model.AccountSummary{}, offices: map[uint64]*model.OfficeSummary{}}
}

func (s *ReportService) account(ctx context.Context, c *viewCache, id uint64) (*model.AccountSummary, error) {
	if sum, ok := c.accounts[id]; ok {
		return sum, nil
	}
	a, err := s.Accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			c.accounts[id] = nil
			return nil, nil
		}
		return nil, err
	}
	sum := a.Summary()
	c.accounts[id] = &sum
	return &sum, nil
}

func (s *ReportService) office(ctx context.Context, c *viewCache, id uint64) (*model.OfficeSummary, error) {
	if sum, ok := c.offices[id]; ok {
		return sum, nil
	}
	o, err := s.Offices.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrOfficeNotFound) {
			c.offices[id] = nil
			return nil, nil
		}
		return nil, err
	}
	sum := o.Summary()
	c.offices[id] = &sum
	return &sum, nil
}

func (s *ReportService) present(ctx context.Context, c *viewCache, r *model.Report) (*ReportView, error) {
	v := &ReportView{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		Priority:    r.Priority,
		Status:      r.Status,
		Workstation: r.Workstation,
		AssignedAt:  r.AssignedAt,
		ResolvedAt:  r.ResolvedAt,
		ClosedAt:    r.ClosedAt,
		Rating:      r.Rating,
		History:     r.History,
		Attachments: r.Attachments,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	var err error
	if v.Office, err = s.office(ctx, c, r.OfficeID); err != nil {
		return nil, err
	}
	if v.Creator, err = s.account(ctx, c, r.CreatorID); err != nil {
		return nil, err
	}
	if r.AssigneeID != nil {
		if v.Assignee, err = s.account(ctx, c, *r.AssigneeID); err != nil {
			return nil, err
		}
	}
	if r.Resolution != nil {
		v.Resolution = &ResolutionView{Description: r.Resolution.Description, ResolvedAt: r.Resolution.ResolvedAt}
		if v.Resolution.ResolvedBy, err = s.account(ctx, c, r.Resolution.ResolvedBy); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Present populates a single report.
func (s *ReportService) Present(ctx context.Context, r *model.Report) (*ReportView, error) {
	v, err := s.present(ctx, newViewCache(), r)
	if err != nil {
		return nil, apperr.Internal("populate report", err)
	}
	return v, nil
}

// PresentAll populates a list, looking each referenced record up once.
func (s *ReportService) PresentAll(ctx context.Context, rs []*model.Report) ([]*ReportView, error) {
	c := newViewCache()
	out := make([]*ReportView, 0, len(rs))
	for _, r := range rs {
		v, err := s.present(ctx, c, r)
		if err != nil {
			return nil, apperr.Internal("populate reports", err)
		}
		out = append(out, v)
	}
	return out, nil
}
