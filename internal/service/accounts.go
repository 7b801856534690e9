package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/deskline/servicedesk/internal/apperr"
	"github.com/deskline/servicedesk/internal/metrics"
	"github.com/deskline/servicedesk/internal/model"
	"github.com/deskline/servicedesk/internal/policy"
	"github.com/deskline/servicedesk/internal/repository"
	"github.com/deskline/servicedesk/internal/utils"
	"github.com/deskline/servicedesk/internal/validation"
)

// AccountConfig carries the tunables of AccountService.
type AccountConfig struct {
	BcryptCost       int
	MaxRefreshTokens int
}

// AccountService implements registration, login, token rotation and
// account administration.
type AccountService struct {
	Accounts AccountStore
	Tokens   TokenStore
	Offices  OfficeStore
	JWT      *utils.TokenService
	Cfg      AccountConfig
	Log      logrus.FieldLogger
	Metrics  *metrics.Metrics
}

func NewAccountService(accounts AccountStore, tokens TokenStore, offices OfficeStore, jwt *utils.TokenService, cfg AccountConfig, log logrus.FieldLogger, m *metrics.Metrics) *AccountService {
	if cfg.MaxRefreshTokens <= 0 {
		cfg.MaxRefreshTokens = 5
	}
	return &AccountService{Accounts: accounts, Tokens: tokens, Offices: offices, JWT: jwt, Cfg: cfg, Log: log, Metrics: m}
}

// Session is the result of a successful login, registration or refresh.
type Session struct {
	Account *model.Account
	Access  utils.AccessToken
	Refresh utils.RefreshToken
}

type RegisterInput struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

// CreateAccountInput is the admin-create payload.  Unlike registration the
// role is taken from the request.
type CreateAccountInput struct {
	Name       string `json:"name" validate:"required,min=2,max=100"`
	Email      string `json:"email" validate:"required,email,max=255"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
	Role       string `json:"role" validate:"required,role"`
	Phone      string `json:"phone" validate:"max=30"`
	Department string `json:"department" validate:"max=100"`
	IsVerified bool   `json:"is_verified"`
}

// UpdateAccountInput is a partial update; nil fields are left alone.  The
// fields below the blank line are only honoured for admins and are dropped
// for everybody else.
type UpdateAccountInput struct {
	Name                 *string           `json:"name" validate:"omitnil,min=2,max=100"`
	Phone                *string           `json:"phone" validate:"omitnil,max=30"`
	Department           *string           `json:"department" validate:"omitnil,max=100"`
	Avatar               *string           `json:"avatar" validate:"omitnil,max=500"`
	Preferences          map[string]string `json:"preferences"`
	PreferredOfficeID    *uint64           `json:"preferred_office_id"`
	PreferredWorkstation *string           `json:"preferred_workstation" validate:"omitnil,max=100"`

	Email      *string `json:"email" validate:"omitnil,email,max=255"`
	Role       *string `json:"role" validate:"omitnil,role"`
	IsActive   *bool   `json:"is_active"`
	IsVerified *bool   `json:"is_verified"`
}

func (in *UpdateAccountInput) dropPrivileged() {
	in.Email = nil
	in.Role = nil
	in.IsActive = nil
	in.IsVerified = nil
}

// ListAccountsInput holds the admin list filters.
type ListAccountsInput struct {
	Role   string
	Active *bool
	Search string
	Page   int
	Limit  int
}

// AccountPage is one page of accounts.
type AccountPage struct {
	Items []*model.Account
	Total int
	Page  int
	Limit int
}

func subjectOf(caller *model.Account) policy.Subject {
	return policy.Subject{ID: caller.ID, Role: caller.Role}
}

// Register creates a user account and logs it in.  The role is always
// user; admins create privileged accounts through Create.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	acct, err := model.NewAccount(in.Name, in.Email, in.Password, model.RoleUser, s.Cfg.BcryptCost)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}
	if err := s.Accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, apperr.Conflict("email already exists")
		}
		return nil, apperr.Internal("create account", err)
	}
	return s.newSession(ctx, acct)
}

// Login checks credentials and issues a new token pair.
func (s *AccountService) Login(ctx context.Context, in LoginInput) (*Session, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	acct, err := s.Accounts.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, apperr.Unauthenticated(apperr.CodeInvalidCredentials, "invalid credentials")
		}
		return nil, apperr.Internal("load account", err)
	}
	if !acct.CheckPassword(in.Password) {
		return nil, apperr.Unauthenticated(apperr.CodeInvalidCredentials, "invalid credentials")
	}
	if !acct.IsActive {
		return nil, apperr.Unauthenticated(apperr.CodeAccountInactive, "account is deactivated")
	}
	return s.newSession(ctx, acct)
}

func (s *AccountService) newSession(ctx context.Context, acct *model.Account) (*Session, error) {
	access, err := s.JWT.IssueAccessToken(identityOf(acct))
	if err != nil {
		return nil, apperr.Internal("issue access token", err)
	}
	refresh, err := s.JWT.NewRefreshToken()
	if err != nil {
		return nil, apperr.Internal("issue refresh token", err)
	}
	if err := s.Tokens.Add(ctx, acct.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp, s.Cfg.MaxRefreshTokens); err != nil {
		return nil, apperr.Internal("store refresh token", err)
	}
	return &Session{Account: acct, Access: access, Refresh: refresh}, nil
}

func identityOf(a *model.Account) utils.Identity {
	return utils.Identity{AccountID: a.ID, Email: a.Email, Role: string(a.Role), Name: a.Name}
}

// Refresh rotates a refresh token: the presented token is consumed and a
// new pair is returned.  A token can be used once.
func (s *AccountService) Refresh(ctx context.Context, raw string) (*Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperr.Field("refresh_token", "is required")
	}
	next, err := s.JWT.NewRefreshToken()
	if err != nil {
		return nil, apperr.Internal("issue refresh token", err)
	}
	accountID, err := s.Tokens.Rotate(ctx, utils.HashRefreshRaw(raw), utils.HashRefreshRaw(next.Raw), next.Exp, s.Cfg.MaxRefreshTokens)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshNotFound) {
			s.Metrics.Rotation("rejected")
			return nil, apperr.Unauthenticated(apperr.CodeRefreshInvalid, "invalid or expired refresh token")
		}
		return nil, apperr.Internal("rotate refresh token", err)
	}
	acct, err := s.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, apperr.Internal("load account", err)
	}
	if !acct.IsActive {
		_ = s.Tokens.RevokeAll(ctx, acct.ID)
		s.Metrics.Rotation("rejected")
		return nil, apperr.Unauthenticated(apperr.CodeAccountInactive, "account is deactivated")
	}
	access, err := s.JWT.IssueAccessToken(identityOf(acct))
	if err != nil {
		return nil, apperr.Internal("issue access token", err)
	}
	s.Metrics.Rotation("ok")
	return &Session{Account: acct, Access: access, Refresh: next}, nil
}

// Logout revokes one refresh token of the caller, or all of them when raw
// is empty.
func (s *AccountService) Logout(ctx context.Context, caller *model.Account, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if err := s.Tokens.RevokeAll(ctx, caller.ID); err != nil {
			return apperr.Internal("revoke refresh tokens", err)
		}
		return nil
	}
	if err := s.Tokens.Revoke(ctx, caller.ID, utils.HashRefreshRaw(raw)); err != nil {
		if errors.Is(err, repository.ErrRefreshNotFound) {
			return apperr.NotFound("refresh token not found")
		}
		return apperr.Internal("revoke refresh token", err)
	}
	return nil
}

// ChangePassword replaces the caller's password and signs out every
// session.
func (s *AccountService) ChangePassword(ctx context.Context, caller *model.Account, in ChangePasswordInput) error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if !caller.CheckPassword(in.CurrentPassword) {
		return apperr.Field("current_password", "is incorrect")
	}
	if err := caller.SetPassword(in.NewPassword, s.Cfg.BcryptCost); err != nil {
		return apperr.Internal("hash password", err)
	}
	if err := s.Accounts.Update(ctx, caller); err != nil {
		return apperr.Internal("update account", err)
	}
	if err := s.Tokens.RevokeAll(ctx, caller.ID); err != nil {
		return apperr.Internal("revoke refresh tokens", err)
	}
	return nil
}

// Authenticate resolves an Authorization header into the calling account.
// The account is reloaded so role and active flag are always current.
func (s *AccountService) Authenticate(ctx context.Context, header string) (*model.Account, error) {
	raw := utils.ExtractBearer(header)
	if raw == "" {
		return nil, apperr.Unauthenticated(apperr.CodeTokenMissing, "missing bearer token")
	}
	id, err := s.JWT.VerifyAccessToken(raw)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			return nil, apperr.Unauthenticated(apperr.CodeTokenExpired, "access token expired")
		}
		return nil, apperr.Unauthenticated(apperr.CodeTokenInvalid, "invalid access token")
	}
	acct, err := s.Accounts.GetByID(ctx, id.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, apperr.Unauthenticated(apperr.CodeTokenInvalid, "invalid access token")
		}
		return nil, apperr.Internal("load account", err)
	}
	if !acct.IsActive {
		return nil, apperr.Unauthenticated(apperr.CodeAccountInactive, "account is deactivated")
	}
	return acct, nil
}

func (s *AccountService) load(ctx context.Context, id uint64) (*model.Account, error) {
	acct, err := s.Accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, apperr.NotFound("account not found")
		}
		return nil, apperr.Internal("load account", err)
	}
	return acct, nil
}

// Get returns account id if the caller may view it.
func (s *AccountService) Get(ctx context.Context, caller *model.Account, id uint64) (*model.Account, error) {
	if err := policy.Check(subjectOf(caller), policy.ViewAccount, policy.Resource{OwnerID: id}); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// List returns accounts matching in.  Admin only.
func (s *AccountService) List(ctx context.Context, caller *model.Account, in ListAccountsInput) (*AccountPage, error) {
	if err := policy.Check(subjectOf(caller), policy.ListAccounts, policy.None); err != nil {
		return nil, err
	}
	f := repository.AccountFilter{Active: in.Active, Search: strings.TrimSpace(in.Search)}
	if in.Role != "" {
		role, ok := model.ParseRole(in.Role)
		if !ok {
			return nil, apperr.Field("role", "must be one of: user, servicedesk, admin")
		}
		f.Roles = []model.Role{role}
	}
	page, limit, p := paging(in.Page, in.Limit)
	f.Page = p
	items, total, err := s.Accounts.List(ctx, f)
	if err != nil {
		return nil, apperr.Internal("list accounts", err)
	}
	return &AccountPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// ListStaff returns the active accounts eligible as report assignees.
func (s *AccountService) ListStaff(ctx context.Context, caller *model.Account) ([]*model.Account, error) {
	if err := policy.Check(subjectOf(caller), policy.ListStaff, policy.None); err != nil {
		return nil, err
	}
	active := true
	items, _, err := s.Accounts.List(ctx, repository.AccountFilter{
		Roles:  []model.Role{model.RoleServiceDesk, model.RoleAdmin},
		Active: &active,
	})
	if err != nil {
		return nil, apperr.Internal("list staff", err)
	}
	return items, nil
}

// Create is the administrative account creation with an explicit role.
func (s *AccountService) Create(ctx context.Context, caller *model.Account, in CreateAccountInput) (*model.Account, error) {
	if err := policy.Check(subjectOf(caller), policy.CreateAccount, policy.None); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	role, _ := model.ParseRole(in.Role)
	acct, err := model.NewAccount(in.Name, in.Email, in.Password, role, s.Cfg.BcryptCost)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}
	acct.Phone = strings.TrimSpace(in.Phone)
	acct.Department = strings.TrimSpace(in.Department)
	acct.IsVerified = in.IsVerified
	if err := s.Accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, apperr.Conflict("email already exists")
		}
		return nil, apperr.Internal("create account", err)
	}
	s.Log.WithFields(logrus.Fields{"account_id": acct.ID, "role": acct.Role, "by": caller.ID}).Info("account created")
	return acct, nil
}

// Update applies a partial update to account id.  Non-admins may only
// touch their own profile fields; privileged fields they send are dropped.
func (s *AccountService) Update(ctx context.Context, caller *model.Account, id uint64, in UpdateAccountInput) (*model.Account, error) {
	sub := subjectOf(caller)
	if err := policy.Check(sub, policy.EditAccount, policy.Resource{OwnerID: id}); err != nil {
		return nil, err
	}
	if !policy.PrivilegedAccountEdit(sub) {
		in.dropPrivileged()
	}
	trimPtr(in.Name)
	trimPtr(in.Email)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	acct, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	wasAdmin := acct.Role == model.RoleAdmin
	if in.Role != nil {
		role, _ := model.ParseRole(*in.Role)
		if role != acct.Role {
			if err := policy.Check(sub, policy.ChangeRole, policy.AccountResource(acct)); err != nil {
				return nil, err
			}
			acct.Role = role
		}
	}
	demote := wasAdmin && acct.Role != model.RoleAdmin
	deactivate := in.IsActive != nil && !*in.IsActive && acct.IsActive
	if wasAdmin && acct.IsActive && (demote || deactivate) {
		if err := s.guardLastAdmin(ctx); err != nil {
			return nil, err
		}
	}

	if in.PreferredOfficeID != nil {
		if *in.PreferredOfficeID == 0 {
			acct.PreferredOfficeID = nil
		} else {
			if _, err := s.Offices.GetByID(ctx, *in.PreferredOfficeID); err != nil {
				if errors.Is(err, repository.ErrOfficeNotFound) {
					return nil, apperr.Field("preferred_office_id", "office not found")
				}
				return nil, apperr.Internal("load office", err)
			}
			acct.PreferredOfficeID = in.PreferredOfficeID
		}
	}
	if in.Name != nil {
		acct.Name = strings.TrimSpace(*in.Name)
	}
	if in.Phone != nil {
		acct.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Department != nil {
		acct.Department = strings.TrimSpace(*in.Department)
	}
	if in.Avatar != nil {
		acct.Avatar = strings.TrimSpace(*in.Avatar)
	}
	if in.Preferences != nil {
		acct.Preferences = in.Preferences
	}
	if in.PreferredWorkstation != nil {
		acct.PreferredWorkstation = strings.TrimSpace(*in.PreferredWorkstation)
	}
	if in.Email != nil {
		acct.Email = model.NormalizeEmail(*in.Email)
	}
	if in.IsActive != nil {
		acct.IsActive = *in.IsActive
	}
	if in.IsVerified != nil {
		acct.IsVerified = *in.IsVerified
	}

	if err := s.Accounts.Update(ctx, acct); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, apperr.Conflict("email already exists")
		}
		return nil, apperr.Internal("update account", err)
	}
	if deactivate {
		if err := s.Tokens.RevokeAll(ctx, acct.ID); err != nil {
			return nil, apperr.Internal("revoke refresh tokens", err)
		}
	}
	return acct, nil
}

// Delete deactivates account id and clears its sessions.  With hard set
// the row is removed instead.  Both are refused for the last active admin.
func (s *AccountService) Delete(ctx context.Context, caller *model.Account, id uint64, hard bool) error {
	if err := policy.Check(subjectOf(caller), policy.DeleteAccount, policy.None); err != nil {
		return err
	}
	acct, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if acct.Role == model.RoleAdmin && acct.IsActive {
		if err := s.guardLastAdmin(ctx); err != nil {
			return err
		}
	}
	if hard {
		if err := s.Accounts.Delete(ctx, id); err != nil {
			switch {
			case errors.Is(err, repository.ErrAccountNotFound):
				return apperr.NotFound("account not found")
			case errors.Is(err, repository.ErrConflict):
				return apperr.Conflict("account is still referenced by reports")
			}
			return apperr.Internal("delete account", err)
		}
		s.Log.WithFields(logrus.Fields{"account_id": id, "by": caller.ID}).Warn("account hard-deleted")
		return nil
	}
	acct.IsActive = false
	if err := s.Accounts.Update(ctx, acct); err != nil {
		return apperr.Internal("deactivate account", err)
	}
	if err := s.Tokens.RevokeAll(ctx, id); err != nil {
		return apperr.Internal("revoke refresh tokens", err)
	}
	return nil
}

// guardLastAdmin fails with a conflict unless another active admin would
// remain.  The count and the following write are not atomic.
func (s *AccountService) guardLastAdmin(ctx context.Context) error {
	n, err := s.Accounts.CountActiveAdmins(ctx)
	if err != nil {
		return apperr.Internal("count admins", err)
	}
	if n <= 1 {
		return apperr.Conflict("cannot remove the last active admin")
	}
	return nil
}

// EnsureAdmin creates or promotes the bootstrap admin when no active admin
// exists.  It reports whether anything changed.
func (s *AccountService) EnsureAdmin(ctx context.Context, name, email, password string) (bool, error) {
	n, err := s.Accounts.CountActiveAdmins(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if email == "" || password == "" {
		return false, errors.New("no active admin and ADMIN_EMAIL/ADMIN_PASSWORD not set")
	}
	if name == "" {
		name = "Administrator"
	}
	acct, err := s.Accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		acct.Role = model.RoleAdmin
		acct.IsActive = true
		if err := s.Accounts.Update(ctx, acct); err != nil {
			return false, err
		}
	case errors.Is(err, repository.ErrAccountNotFound):
		acct, err = model.NewAccount(name, email, password, model.RoleAdmin, s.Cfg.BcryptCost)
		if err != nil {
			return false, err
		}
		acct.IsVerified = true
		if err := s.Accounts.Create(ctx, acct); err != nil {
			return false, err
		}
	default:
		return false, err
	}
	s.Log.WithField("email", acct.Email).Info("bootstrap admin ensured")
	return true, nil
}

// SweepExpiredTokens deletes refresh tokens past their expiry.
func (s *AccountService) SweepExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.Tokens.DeleteExpired(ctx, utcNow())
	if err != nil {
		return 0, err
	}
	s.Metrics.Swept(n)
	return n, nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// paging normalizes 1-based page and limit query values.
func paging(page, limit int) (int, int, repository.Page) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit, repository.Page{Limit: limit, Offset: (page - 1) * limit}
}
