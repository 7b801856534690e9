// Package service holds the application logic: identity and token
// handling, the report lifecycle and the office directory.  Services check
// the authorization policy, validate input, apply state changes and
// persist them through the store interfaces declared here.
package service

import (
	"context"
	"time"

	"github.com/deskline/servicedesk/internal/model"
	"github.com/deskline/servicedesk/internal/repository"
)

// AccountStore is the identity store.  *repository.AccountRepo satisfies it.
type AccountStore interface {
	Create(ctx context.Context, a *model.Account) error
	GetByID(ctx context.Context, id uint64) (*model.Account, error)
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	List(ctx context.Context, f repository.AccountFilter) ([]*model.Account, int, error)
	Update(ctx context.Context, a *model.Account) error
	Delete(ctx context.Context, id uint64) error
	CountActiveAdmins(ctx context.Context) (int, error)
}

// TokenStore keeps refresh token hashes.  *repository.TokenRepo satisfies it.
type TokenStore interface {
	Add(ctx context.Context, accountID uint64, tokenHash string, exp time.Time, max int) error
	Rotate(ctx context.Context, oldHash, newHash string, exp time.Time, max int) (uint64, error)
	Revoke(ctx context.Context, accountID uint64, tokenHash string) error
	RevokeAll(ctx context.Context, accountID uint64) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ReportStore persists reports.  *repository.ReportRepo satisfies it.
type ReportStore interface {
	Create(ctx context.Context, r *model.Report) error
	GetByID(ctx context.Context, id uint64) (*model.Report, error)
	List(ctx context.Context, f repository.ReportFilter) ([]*model.Report, int, error)
	Save(ctx context.Context, r *model.Report) error
	Delete(ctx context.Context, id uint64) error
	Stats(ctx context.Context, f repository.ReportFilter) (*model.ReportStats, error)
}

// OfficeStore persists offices.  *repository.OfficeRepo satisfies it.
type OfficeStore interface {
	Create(ctx context.Context, o *model.Office) error
	GetByID(ctx context.Context, id uint64) (*model.Office, error)
	List(ctx context.Context, activeOnly bool) ([]*model.Office, error)
	Update(ctx context.Context, o *model.Office) error
	Delete(ctx context.Context, id uint64) error
}

var (
	_ AccountStore = (*repository.AccountRepo)(nil)
	_ TokenStore   = (*repository.TokenRepo)(nil)
	_ ReportStore  = (*repository.ReportRepo)(nil)
	_ OfficeStore  = (*repository.OfficeRepo)(nil)
)

func utcNow() time.Time { return time.Now().UTC() }
