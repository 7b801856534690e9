package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/deskline/servicedesk/internal/service"
)

// AuthHandler serves /api/auth.
type AuthHandler struct {
	Accounts *service.AccountService
}

func NewAuthHandler(accounts *service.AccountService) *AuthHandler {
	return &AuthHandler{Accounts: accounts}
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type authResp struct {
	User    accountView `json:"user"`
	Access  tokenPart   `json:"access"`
	Refresh tokenPart   `json:"refresh"`
}

func newAuthResp(s *service.Session) authResp {
	return authResp{
		User:    newAccountView(s.Account),
		Access:  tokenPart{Token: s.Access.Token, Expires: s.Access.Exp},
		Refresh: tokenPart{Token: s.Refresh.Raw, Expires: s.Refresh.Exp},
	}
}

// Register creates a user account and signs it in.
func (h *AuthHandler) Register(c echo.Context) error {
	var req service.RegisterInput
	if err := bind(c, &req); err != nil {
		return err
	}
	sess, err := h.Accounts.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, envelope{Success: true, Data: newAuthResp(sess), Message: "account created"})
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req service.LoginInput
	if err := bind(c, &req); err != nil {
		return err
	}
	sess, err := h.Accounts.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return writeOK(c, newAuthResp(sess))
}

// Refresh exchanges a refresh token for a new pair.  The presented token
// stops working.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return err
	}
	sess, err := h.Accounts.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return writeOK(c, newAuthResp(sess))
}

// Logout revokes the refresh token in the body, or every refresh token of
// the caller when the body carries none.
func (h *AuthHandler) Logout(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.Accounts.Logout(c.Request().Context(), me, req.RefreshToken); err != nil {
		return err
	}
	if req.RefreshToken == "" {
		return writeMessage(c, "logged out of all sessions")
	}
	return writeMessage(c, "logged out")
}

func (h *AuthHandler) Me(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	return writeOK(c, newAccountView(me))
}

func (h *AuthHandler) ChangePassword(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	var req service.ChangePasswordInput
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.Accounts.ChangePassword(c.Request().Context(), me, req); err != nil {
		return err
	}
	return writeMessage(c, "password changed, sign in again")
}
