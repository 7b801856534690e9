package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/deskline/servicedesk/internal/apperr"
	"github.com/deskline/servicedesk/internal/service"
)

// UserHandler serves /api/users.  Admins manage every account; other
// callers reach only their own.
type UserHandler struct {
	Accounts *service.AccountService
}

func NewUserHandler(accounts *service.AccountService) *UserHandler {
	return &UserHandler{Accounts: accounts}
}

func (h *UserHandler) List(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	var in service.ListAccountsInput
	err = echo.QueryParamsBinder(c).
		String("role", &in.Role).
		String("search", &in.Search).
		Int("page", &in.Page).
		Int("limit", &in.Limit).
		BindError()
	if err != nil {
		return queryError(err)
	}
	if in.Active, err = queryBool(c, "active"); err != nil {
		return err
	}
	res, err := h.Accounts.List(c.Request().Context(), me, in)
	if err != nil {
		return err
	}
	return writePage(c, newAccountViews(res.Items), res.Total, res.Page, res.Limit)
}

// Staff lists the active accounts reports can be assigned to.
func (h *UserHandler) Staff(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	staff, err := h.Accounts.ListStaff(c.Request().Context(), me)
	if err != nil {
		return err
	}
	return writeOK(c, newAccountViews(staff))
}

func (h *UserHandler) Get(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	acct, err := h.Accounts.Get(c.Request().Context(), me, id)
	if err != nil {
		return err
	}
	return writeOK(c, newAccountView(acct))
}

func (h *UserHandler) Create(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	var in service.CreateAccountInput
	if err := bind(c, &in); err != nil {
		return err
	}
	acct, err := h.Accounts.Create(c.Request().Context(), me, in)
	if err != nil {
		return err
	}
	return writeCreated(c, newAccountView(acct))
}

func (h *UserHandler) Update(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in service.UpdateAccountInput
	if err := bind(c, &in); err != nil {
		return err
	}
	acct, err := h.Accounts.Update(c.Request().Context(), me, id, in)
	if err != nil {
		return err
	}
	return writeOK(c, newAccountView(acct))
}

// Delete deactivates an account; ?hard=true removes it.
func (h *UserHandler) Delete(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	hard := false
	if raw := c.QueryParam("hard"); raw != "" {
		if hard, err = strconv.ParseBool(raw); err != nil {
			return apperr.Field("hard", "must be true or false")
		}
	}
	if err := h.Accounts.Delete(c.Request().Context(), me, id, hard); err != nil {
		return err
	}
	if hard {
		return writeMessage(c, "account deleted")
	}
	return writeMessage(c, "account deactivated")
}
