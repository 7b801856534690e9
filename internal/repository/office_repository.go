package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/deskline/servicedesk/internal/model"
)

const officeColumns = "id, name, code, address, city, floor, description, is_active, created_at, updated_at"

// OfficeRepo encapsulates all database queries related to offices.
type OfficeRepo struct {
	db *sql.DB
}

func NewOfficeRepo(db *sql.DB) *OfficeRepo {
	return &OfficeRepo{db: db}
}

func scanOffice(s rowScanner) (*model.Office, error) {
	var o model.Office
	if err := s.Scan(&o.ID, &o.Name, &o.Code, &o.Address, &o.City, &o.Floor, &o.Description, &o.IsActive, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// Create inserts o.  Codes are stored upper-cased and must be unique.
func (r *OfficeRepo) Create(ctx context.Context, o *model.Office) error {
	o.Code = strings.ToUpper(strings.TrimSpace(o.Code))
	now := time.Now().UTC().Truncate(time.Second)
	const q = "INSERT INTO offices (name, code, address, city, floor, description, is_active, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?)"
	res, err := r.db.ExecContext(ctx, q, o.Name, o.Code, o.Address, o.City, o.Floor, o.Description, o.IsActive, now, now)
	if err != nil {
		if isMySQLError(err, mysqlDuplicateEntry) {
			return ErrOfficeCodeExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)
	o.CreatedAt, o.UpdatedAt = now, now
	return nil
}

// GetByID returns ErrOfficeNotFound if no row is found.
func (r *OfficeRepo) GetByID(ctx context.Context, id uint64) (*model.Office, error) {
	o, err := scanOffice(r.db.QueryRowContext(ctx, "SELECT "+officeColumns+" FROM offices WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOfficeNotFound
	}
	return o, err
}

// List returns offices ordered by name.  With activeOnly set, deactivated
// offices are skipped.
func (r *OfficeRepo) List(ctx context.Context, activeOnly bool) ([]*model.Office, error) {
	q := "SELECT " + officeColumns + " FROM offices"
	if activeOnly {
		q += " WHERE is_active = TRUE"
	}
	q += " ORDER BY name ASC, id ASC"
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Office
	for rows.Next() {
		o, err := scanOffice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Update writes every mutable column of o.
func (r *OfficeRepo) Update(ctx context.Context, o *model.Office) error {
	o.Code = strings.ToUpper(strings.TrimSpace(o.Code))
	now := time.Now().UTC().Truncate(time.Second)
	const q = "UPDATE offices SET name = ?, code = ?, address = ?, city = ?, floor = ?, description = ?, is_active = ?, updated_at = ? WHERE id = ?"
	if _, err := r.db.ExecContext(ctx, q, o.Name, o.Code, o.Address, o.City, o.Floor, o.Description, o.IsActive, now, o.ID); err != nil {
		if isMySQLError(err, mysqlDuplicateEntry) {
			return ErrOfficeCodeExists
		}
		return err
	}
	o.UpdatedAt = now
	return nil
}

// Delete removes an office that no report references.  Referenced offices
// yield ErrConflict.
func (r *OfficeRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM offices WHERE id = ?", id)
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
		return ErrOfficeNotFound
	}
	return nil
}
