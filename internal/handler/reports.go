package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/deskline/servicedesk/internal/model"
	"github.com/deskline/servicedesk/internal/service"
)

// ReportHandler serves /api/reports.  Every report in a response is
// presented with its creator, assignee, resolver and office summaries.
type ReportHandler struct {
	Reports *service.ReportService
}

func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{Reports: reports}
}

func (h *ReportHandler) respond(c echo.Context, r *model.Report, fresh bool) error {
	view, err := h.Reports.Present(c.Request().Context(), r)
	if err != nil {
		return err
	}
	if fresh {
		return writeCreated(c, view)
	}
	return writeOK(c, view)
}

// List supports ?status, ?priority, ?category, ?office_id, ?page and
// ?limit.  Results are newest first and scoped to what the caller may see.
func (h *ReportHandler) List(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	var in service.ListReportsInput
	err = echo.QueryParamsBinder(c).
		String("status", &in.Status).
		String("priority", &in.Priority).
		String("category", &in.Category).
		Uint64("office_id", &in.OfficeID).
		Int("page", &in.Page).
		Int("limit", &in.Limit).
		BindError()
	if err != nil {
		return queryError(err)
	}
	res, err := h.Reports.List(c.Request().Context(), me, in)
	if err != nil {
		return err
	}
	views, err := h.Reports.PresentAll(c.Request().Context(), res.Items)
	if err != nil {
		return err
	}
	return writePage(c, views, res.Total, res.Page, res.Limit)
}

func (h *ReportHandler) Create(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	var in service.CreateReportInput
	if err := bind(c, &in); err != nil {
		return err
	}
	r, err := h.Reports.Create(c.Request().Context(), me, in)
	if err != nil {
		return err
	}
	return h.respond(c, r, true)
}

func (h *ReportHandler) Get(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.Reports.Get(c.Request().Context(), me, id)
	if err != nil {
		return err
	}
	return h.respond(c, r, false)
}

// Update applies a partial edit.  Fields the caller may not change are
// silently ignored.
func (h *ReportHandler) Update(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in service.UpdateReportInput
	if err := bind(c, &in); err != nil {
		return err
	}
	r, err := h.Reports.Update(c.Request().Context(), me, id, in)
	if err != nil {
		return err
	}
	return h.respond(c, r, false)
}

func (h *ReportHandler) Delete(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.Reports.Delete(c.Request().Context(), me, id); err != nil {
		return err
	}
	return writeMessage(c, "report deleted")
}

// Assign hands the report to the staff account in the body, or to the
// caller when none is given.
func (h *ReportHandler) Assign(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in service.AssignInput
	if err := bind(c, &in); err != nil {
		return err
	}
	r, err := h.Reports.Assign(c.Request().Context(), me, id, in)
	if err != nil {
		return err
	}
	return h.respond(c, r, false)
}

func (h *ReportHandler) Resolve(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in service.ResolveInput
	if err := bind(c, &in); err != nil {
		return err
	}
	r, err := h.Reports.Resolve(c.Request().Context(), me, id, in)
	if err != nil {
		return err
	}
	return h.respond(c, r, false)
}

func (h *ReportHandler) Close(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.Reports.Close(c.Request().Context(), me, id)
	if err != nil {
		return err
	}
	return h.respond(c, r, false)
}

func (h *ReportHandler) Rate(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in service.RateInput
	if err := bind(c, &in); err != nil {
		return err
	}
	r, err := h.Reports.Rate(c.Request().Context(), me, id, in)
	if err != nil {
		return err
	}
	return h.respond(c, r, false)
}

func (h *ReportHandler) History(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	hist, err := h.Reports.History(c.Request().Context(), me, id)
	if err != nil {
		return err
	}
	if hist == nil {
		hist = []model.StatusChange{}
	}
	return writeOK(c, hist)
}

func (h *ReportHandler) Stats(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	st, err := h.Reports.Stats(c.Request().Context(), me)
	if err != nil {
		return err
	}
	return writeOK(c, st)
}
