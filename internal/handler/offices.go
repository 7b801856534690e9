package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/deskline/servicedesk/internal/apperr"
	"github.com/deskline/servicedesk/internal/service"
)

// OfficeHandler serves /api/offices.  Reads are public; writes need an
// admin caller.
type OfficeHandler struct {
	Offices *service.OfficeService
}

func NewOfficeHandler(offices *service.OfficeService) *OfficeHandler {
	return &OfficeHandler{Offices: offices}
}

// List returns active offices, or all of them with ?all=true.
func (h *OfficeHandler) List(c echo.Context) error {
	all := false
	if raw := c.QueryParam("all"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return apperr.Field("all", "must be true or false")
		}
		all = v
	}
	offices, err := h.Offices.List(c.Request().Context(), all)
	if err != nil {
		return err
	}
	views := make([]officeView, 0, len(offices))
	for _, o := range offices {
		views = append(views, newOfficeView(o))
	}
	return writeOK(c, views)
}

func (h *OfficeHandler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, err := h.Offices.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return writeOK(c, newOfficeView(o))
}

func (h *OfficeHandler) Create(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	var in service.CreateOfficeInput
	if err := bind(c, &in); err != nil {
		return err
	}
	o, err := h.Offices.Create(c.Request().Context(), me, in)
	if err != nil {
		return err
	}
	return writeCreated(c, newOfficeView(o))
}

func (h *OfficeHandler) Update(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in service.UpdateOfficeInput
	if err := bind(c, &in); err != nil {
		return err
	}
	o, err := h.Offices.Update(c.Request().Context(), me, id, in)
	if err != nil {
		return err
	}
	return writeOK(c, newOfficeView(o))
}

func (h *OfficeHandler) Delete(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.Offices.Delete(c.Request().Context(), me, id); err != nil {
		return err
	}
	return writeMessage(c, "office deleted")
}
