package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/deskline/servicedesk/internal/model"
)

const accountColumns = "id, name, email, password_hash, role, is_active, is_verified, phone, department, avatar, preferences, preferred_office_id, preferred_workstation, created_at, updated_at"

// AccountFilter narrows List.  Zero values do not filter.
type AccountFilter struct {
	Roles  []model.Role
	Active *bool
	Search string // matched against name and email
	Page
}

// AccountRepo persists model.Account rows.
type AccountRepo struct{ DB *sql.DB }

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{DB: db} }

func scanAccount(s rowScanner) (*model.Account, error) {
	var (
		a      model.Account
		role   string
		prefs  sql.NullString
		office sql.NullInt64
	)
	err := s.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &role, &a.IsActive, &a.IsVerified,
		&a.Phone, &a.Department, &a.Avatar, &prefs, &office, &a.PreferredWorkstation, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Role = model.Role(role)
	a.PreferredOfficeID = idPtr(office)
	if prefs.Valid && prefs.String != "" {
		if err := json.Unmarshal([]byte(prefs.String), &a.Preferences); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func encodePreferences(p map[string]string) (sql.NullString, error) {
	if len(p) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// Create inserts a and fills in its ID.  The email is stored normalized.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	a.Email = model.NormalizeEmail(a.Email)
	prefs, err := encodePreferences(a.Preferences)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Second)
	const q = `INSERT INTO accounts (name, email, password_hash, role, is_active, is_verified, phone, department, avatar, preferences, preferred_office_id, preferred_workstation, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	res, err := r.DB.ExecContext(ctx, q,
		a.Name, a.Email, a.PasswordHash, string(a.Role), a.IsActive, a.IsVerified,
		a.Phone, a.Department, a.Avatar, prefs, nullID(a.PreferredOfficeID), a.PreferredWorkstation, now, now)
	if err != nil {
		if isMySQLError(err, mysqlDuplicateEntry) {
			return ErrEmailExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	a.CreatedAt, a.UpdatedAt = now, now
	return nil
}

// GetByID returns ErrAccountNotFound when no row matches.
func (r *AccountRepo) GetByID(ctx context.Context, id uint64) (*model.Account, error) {
	a, err := scanAccount(r.DB.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

// GetByEmail looks the account up by case-folded email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	a, err := scanAccount(r.DB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE email = ? LIMIT 1", model.NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

// List returns the accounts matching f, newest first, with the total count
// ignoring pagination.
func (r *AccountRepo) List(ctx context.Context, f AccountFilter) ([]*model.Account, int, error) {
	var w where
	if len(f.Roles) > 0 {
		args := make([]any, len(f.Roles))
		for i, role := range f.Roles {
			args[i] = string(role)
		}
		w.add("role IN ("+placeholders(len(args))+")", args...)
	}
	if f.Active != nil {
		w.add("is_active = ?", *f.Active)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		w.add("(name LIKE ? OR email LIKE ?)", like, like)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts"+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, pageArgs := f.Page.clause()
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts"+w.String()+" ORDER BY created_at DESC, id DESC"+limit,
		append(w.args, pageArgs...)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Update writes every mutable column of a.
func (r *AccountRepo) Update(ctx context.Context, a *model.Account) error {
	a.Email = model.NormalizeEmail(a.Email)
	prefs, err := encodePreferences(a.Preferences)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Second)
	const q = `UPDATE accounts SET name = ?, email = ?, password_hash = ?, role = ?, is_active = ?, is_verified = ?,
		phone = ?, department = ?, avatar = ?, preferences = ?, preferred_office_id = ?, preferred_workstation = ?, updated_at = ?
		WHERE id = ?`
	_, err = r.DB.ExecContext(ctx, q,
		a.Name, a.Email, a.PasswordHash, string(a.Role), a.IsActive, a.IsVerified,
		a.Phone, a.Department, a.Avatar, prefs, nullID(a.PreferredOfficeID), a.PreferredWorkstation, now, a.ID)
	if err != nil {
		if isMySQLError(err, mysqlDuplicateEntry) {
			return ErrEmailExists
		}
		return err
	}
	a.UpdatedAt = now
	return nil
}

// Delete removes the account row.  Refresh tokens cascade; accounts that
// still own reports cannot be removed and yield ErrConflict.
func (r *AccountRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		if isMySQLError(err, mysqlRowIsReferenced) {
			return ErrConflict
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// CountActiveAdmins counts accounts with role admin and the active flag set.
func (r *AccountRepo) CountActiveAdmins(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM accounts WHERE role = ? AND is_active = TRUE", string(model.RoleAdmin)).Scan(&n)
	return n, err
}
