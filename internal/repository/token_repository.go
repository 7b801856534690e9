package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// TokenRepo stores refresh token hashes.  Each account holds a bounded,
// oldest-first collection; expired rows are invisible to every read.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Add stores tokenHash for accountID.  When the account already holds max
// live tokens the oldest ones are evicted first.
func (r *TokenRepo) Add(ctx context.Context, accountID uint64, tokenHash string, exp time.Time, max int) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return addTx(ctx, tx, accountID, tokenHash, exp, max)
}

// Rotate consumes oldHash and stores newHash for the same account in one
// transaction.  The row lock taken on oldHash makes a concurrent second
// rotation of the same token fail with ErrRefreshNotFound.
func (r *TokenRepo) Rotate(ctx context.Context, oldHash, newHash string, exp time.Time, max int) (accountID uint64, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	now := time.Now().UTC()
	err = tx.QueryRowContext(ctx,
		"SELECT account_id FROM refresh_tokens WHERE token_hash = ? AND expires_at > ? FOR UPDATE",
		oldHash, now).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrRefreshNotFound
	}
	if err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE token_hash = ?", oldHash); err != nil {
		return 0, err
	}
	if err = addTx(ctx, tx, accountID, newHash, exp, max); err != nil {
		return 0, err
	}
	return accountID, nil
}

func addTx(ctx context.Context, tx *sql.Tx, accountID uint64, tokenHash string, exp time.Time, max int) error {
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE account_id = ? AND expires_at <= ?", accountID, now); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM refresh_tokens WHERE account_id = ? ORDER BY created_at ASC, id ASC FOR UPDATE", accountID)
	if err != nil {
		return err
	}
	var ids []any
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if max > 0 && len(ids) >= max {
		evict := ids[:len(ids)-max+1]
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM refresh_tokens WHERE id IN ("+placeholders(len(evict))+")", evict...); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO refresh_tokens (account_id, token_hash, expires_at, created_at) VALUES (?,?,?,?)",
		accountID, tokenHash, exp, now)
	return err
}

// Revoke deletes one live token belonging to accountID.
func (r *TokenRepo) Revoke(ctx context.Context, accountID uint64, tokenHash string) error {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE account_id = ? AND token_hash = ?", accountID, tokenHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRefreshNotFound
	}
	return nil
}

// RevokeAll deletes every token of accountID.
func (r *TokenRepo) RevokeAll(ctx context.Context, accountID uint64) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE account_id = ?", accountID)
	return err
}

// DeleteExpired removes every token that expired before now and returns
// how many rows went away.
func (r *TokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at <= ?", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
