package handler

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/deskline/servicedesk/internal/apperr"
	"github.com/deskline/servicedesk/internal/middleware"
	"github.com/deskline/servicedesk/internal/model"
)

// caller returns the authenticated account.  Routes using it sit behind
// middleware.Auth, so a missing caller means a wiring mistake or an
// anonymous request that slipped through.
func caller(c echo.Context) (*model.Account, error) {
	a := middleware.CallerFrom(c)
	if a == nil {
		return nil, apperr.Unauthenticated(apperr.CodeTokenMissing, "authentication required")
	}
	return a, nil
}

// parseID reads the :id path parameter.
func parseID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Field("id", "must be a positive integer")
	}
	return id, nil
}

// queryError turns an echo binding failure into a field validation error.
func queryError(err error) error {
	if err == nil {
		return nil
	}
	var be *echo.BindingError
	if errors.As(err, &be) {
		return apperr.Field(be.Field, "invalid value")
	}
	return apperr.Field("query", "invalid value")
}

// queryBool parses an optional boolean query parameter.
func queryBool(c echo.Context, name string) (*bool, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperr.Field(name, "must be true or false")
	}
	return &v, nil
}

// accountView is the JSON form of an account.  The password hash never
// leaves the service.
type accountView struct {
	ID                   uint64            `json:"id"`
	Name                 string            `json:"name"`
	Email                string            `json:"email"`
	Role                 model.Role        `json:"role"`
	IsActive             bool              `json:"is_active"`
	IsVerified           bool              `json:"is_verified"`
	Phone                string            `json:"phone,omitempty"`
	Department           string            `json:"department,omitempty"`
	Avatar               string            `json:"avatar,omitempty"`
	Preferences          map[string]string `json:"preferences,omitempty"`
	PreferredOfficeID    *uint64           `json:"preferred_office_id"`
	PreferredWorkstation string            `json:"preferred_workstation,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

func newAccountView(a *model.Account) accountView {
	return accountView{
		ID:                   a.ID,
		Name:                 a.Name,
		Email:                a.Email,
		Role:                 a.Role,
		IsActive:             a.IsActive,
		IsVerified:           a.IsVerified,
		Phone:                a.Phone,
		Department:           a.Department,
		Avatar:               a.Avatar,
		Preferences:          a.Preferences,
		PreferredOfficeID:    a.PreferredOfficeID,
		PreferredWorkstation: a.PreferredWorkstation,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
}

func newAccountViews(as []*model.Account) []accountView {
	out := make([]accountView, 0, len(as))
	for _, a := range as {
		out = append(out, newAccountView(a))
	}
	return out
}

type officeView struct {
	ID          uint64    `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Address     string    `json:"address,omitempty"`
	City        string    `json:"city,omitempty"`
	Floor       string    `json:"floor,omitempty"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newOfficeView(o *model.Office) officeView {
	return officeView{
		ID:          o.ID,
		Name:        o.Name,
		Code:        o.Code,
		Address:     o.Address,
		City:        o.City,
		Floor:       o.Floor,
		Description: o.Description,
		IsActive:    o.IsActive,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}
