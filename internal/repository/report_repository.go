package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/deskline/servicedesk/internal/model"
)

const reportColumns = "id, creator_id, office_id, workstation, title, description, category, priority, status, assignee_id, assigned_at, resolved_at, closed_at, resolution_description, resolved_by, resolution_at, rating_score, rating_comment, rated_at, version, created_at, updated_at"

// ReportFilter narrows List and Stats.  Zero values do not filter.
type ReportFilter struct {
	CreatorID  *uint64
	AssigneeID *uint64
	// IncludeUnassigned widens the assignee condition to also match
	// reports nobody has picked up yet.
	IncludeUnassigned bool
	Status            model.ReportStatus
	Priority          model.Priority
	Category          model.Category
	OfficeID          uint64
	Page
}

// ByCreator selects the reports filed by accountID.
func ByCreator(accountID uint64) ReportFilter { return ReportFilter{CreatorID: &accountID} }

// ByAssignee selects the reports assigned to accountID.
func ByAssignee(accountID uint64) ReportFilter { return ReportFilter{AssigneeID: &accountID} }

func (f ReportFilter) where() where {
	var w where
	if f.CreatorID != nil {
		w.add("creator_id = ?", *f.CreatorID)
	}
	switch {
	case f.AssigneeID != nil && f.IncludeUnassigned:
		w.add("(assignee_id = ? OR assignee_id IS NULL)", *f.AssigneeID)
	case f.AssigneeID != nil:
		w.add("assignee_id = ?", *f.AssigneeID)
	case f.IncludeUnassigned:
		w.add("assignee_id IS NULL")
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.Priority != "" {
		w.add("priority = ?", string(f.Priority))
	}
	if f.Category != "" {
		w.add("category = ?", string(f.Category))
	}
	if f.OfficeID != 0 {
		w.add("office_id = ?", f.OfficeID)
	}
	return w
}

// ReportRepo persists reports together with their status history and
// attachments.
type ReportRepo struct{ DB *sql.DB }

func NewReportRepo(db *sql.DB) *ReportRepo { return &ReportRepo{DB: db} }

func scanReport(s rowScanner) (*model.Report, error) {
	var (
		r                              model.Report
		category, priority, status     string
		assignee, resolvedBy, score    sql.NullInt64
		assignedAt, resolvedAt, closed sql.NullTime
		resolutionAt, ratedAt          sql.NullTime
		resolutionText, ratingComment  sql.NullString
	)
	err := s.Scan(&r.ID, &r.CreatorID, &r.OfficeID, &r.Workstation, &r.Title, &r.Description,
		&category, &priority, &status, &assignee, &assignedAt, &resolvedAt, &closed,
		&resolutionText, &resolvedBy, &resolutionAt, &score, &ratingComment, &ratedAt,
		&r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Category = model.Category(category)
	r.Priority = model.Priority(priority)
	r.Status = model.ReportStatus(status)
	r.AssigneeID = idPtr(assignee)
	r.AssignedAt = timePtr(assignedAt)
	r.ResolvedAt = timePtr(resolvedAt)
	r.ClosedAt = timePtr(closed)
	if resolutionAt.Valid {
		r.Resolution = &model.Resolution{
			Description: resolutionText.String,
			ResolvedBy:  uint64(resolvedBy.Int64),
			ResolvedAt:  resolutionAt.Time,
		}
	}
	if score.Valid {
		r.Rating = &model.Rating{Score: int(score.Int64), Comment: ratingComment.String, RatedAt: ratedAt.Time}
	}
	return &r, nil
}

// reportValues returns the mutable column values shared by insert and update.
func reportValues(r *model.Report) []any {
	var (
		resolutionText sql.NullString
		resolvedBy     sql.NullInt64
		resolutionAt   sql.NullTime
		score          sql.NullInt64
		ratingComment  sql.NullString
		ratedAt        sql.NullTime
	)
	if r.Resolution != nil {
		resolutionText = sql.NullString{String: r.Resolution.Description, Valid: true}
		resolvedBy = sql.NullInt64{Int64: int64(r.Resolution.ResolvedBy), Valid: true}
		resolutionAt = sql.NullTime{Time: r.Resolution.ResolvedAt, Valid: true}
	}
	if r.Rating != nil {
		score = sql.NullInt64{Int64: int64(r.Rating.Score), Valid: true}
		ratingComment = sql.NullString{String: r.Rating.Comment, Valid: r.Rating.Comment != ""}
		ratedAt = sql.NullTime{Time: r.Rating.RatedAt, Valid: true}
	}
	return []any{
		r.OfficeID, r.Workstation, r.Title, r.Description, string(r.Category), string(r.Priority), string(r.Status),
		nullID(r.AssigneeID), nullTime(r.AssignedAt), nullTime(r.ResolvedAt), nullTime(r.ClosedAt),
		resolutionText, resolvedBy, resolutionAt, score, ratingComment, ratedAt,
	}
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Create inserts r with its history and attachments, filling in IDs.
func (r *ReportRepo) Create(ctx context.Context, rep *model.Report) error {
	now := time.Now().UTC().Truncate(time.Second)
	return withTx(ctx, r.DB, func(tx *sql.Tx) error {
		const q = `INSERT INTO reports (office_id, workstation, title, description, category, priority, status,
			assignee_id, assigned_at, resolved_at, closed_at, resolution_description, resolved_by, resolution_at,
			rating_score, rating_comment, rated_at, creator_id, version, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
		args := append(reportValues(rep), rep.CreatorID, 1, now, now)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		rep.ID = uint64(id)
		rep.Version = 1
		rep.CreatedAt, rep.UpdatedAt = now, now

		if err := insertHistory(ctx, tx, rep); err != nil {
			return err
		}
		for i := range rep.Attachments {
			if err := insertAttachment(ctx, tx, rep.ID, &rep.Attachments[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// insertHistory writes the history entries that have no ID yet.
func insertHistory(ctx context.Context, tx *sql.Tx, rep *model.Report) error {
	for i := range rep.History {
		h := &rep.History[i]
		if h.ID != 0 {
			continue
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO report_status_history (report_id, status, changed_by, changed_at) VALUES (?,?,?,?)",
			rep.ID, string(h.Status), h.ChangedBy, h.ChangedAt)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		h.ID = uint64(id)
	}
	return nil
}

func insertAttachment(ctx context.Context, tx *sql.Tx, reportID uint64, a *model.Attachment) error {
	tags, err := json.Marshal(a.Analysis.Tags)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO report_attachments (report_id, filename, url, mime_type, size_bytes, ai_tags, ai_confidence, ai_processed, uploaded_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		reportID, a.Filename, a.URL, a.MimeType, a.SizeBytes, string(tags), a.Analysis.Confidence, a.Analysis.Processed, a.UploadedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	return nil
}

// GetByID loads a report with its history and attachments.  It returns
// ErrReportNotFound if no row is found.
func (r *ReportRepo) GetByID(ctx context.Context, id uint64) (*model.Report, error) {
	rep, err := scanReport(r.DB.QueryRowContext(ctx, "SELECT "+reportColumns+" FROM reports WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	if rep.History, err = r.history(ctx, id); err != nil {
		return nil, err
	}
	if rep.Attachments, err = r.attachments(ctx, id); err != nil {
		return nil, err
	}
	return rep, nil
}

func (r *ReportRepo) history(ctx context.Context, reportID uint64) ([]model.StatusChange, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, status, changed_by, changed_at FROM report_status_history WHERE report_id = ? ORDER BY changed_at ASC, id ASC",
		reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.StatusChange
	for rows.Next() {
		var (
			h      model.StatusChange
			status string
		)
		if err := rows.Scan(&h.ID, &status, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		h.Status = model.ReportStatus(status)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *ReportRepo) attachments(ctx context.Context, reportID uint64) ([]model.Attachment, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, filename, url, mime_type, size_bytes, ai_tags, ai_confidence, ai_processed, uploaded_at FROM report_attachments WHERE report_id = ? ORDER BY id ASC",
		reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Attachment
	for rows.Next() {
		var (
			a    model.Attachment
			tags sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Filename, &a.URL, &a.MimeType, &a.SizeBytes, &tags,
			&a.Analysis.Confidence, &a.Analysis.Processed, &a.UploadedAt); err != nil {
			return nil, err
		}
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &a.Analysis.Tags); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// List returns reports matching f, newest first, without history or
// attachments, plus the total count ignoring pagination.
func (r *ReportRepo) List(ctx context.Context, f ReportFilter) ([]*model.Report, int, error) {
	w := f.where()
	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports"+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, pageArgs := f.Page.clause()
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+reportColumns+" FROM reports"+w.String()+" ORDER BY created_at DESC, id DESC"+limit,
		append(w.args, pageArgs...)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*model.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Save writes rep back if nobody saved it since it was loaded, then
// appends its new history entries.  A version mismatch yields
// ErrStaleReport and nothing is written.
func (r *ReportRepo) Save(ctx context.Context, rep *model.Report) error {
	now := time.Now().UTC().Truncate(time.Second)
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		const q = `UPDATE reports SET office_id = ?, workstation = ?, title = ?, description = ?, category = ?, priority = ?, status = ?,
			assignee_id = ?, assigned_at = ?, resolved_at = ?, closed_at = ?, resolution_description = ?, resolved_by = ?, resolution_at = ?,
			rating_score = ?, rating_comment = ?, rated_at = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`
		args := append(reportValues(rep), now, rep.ID, rep.Version)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrStaleReport
		}
		return insertHistory(ctx, tx, rep)
	})
	if err != nil {
		return err
	}
	rep.Version++
	rep.UpdatedAt = now
	return nil
}

// Delete removes a report; history and attachments cascade.
func (r *ReportRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM reports WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrReportNotFound
	}
	return nil
}

// Stats aggregates counts for the reports matching f.  Pagination in f is
// ignored.
func (r *ReportRepo) Stats(ctx context.Context, f ReportFilter) (*model.ReportStats, error) {
	w := f.where()
	rows, err := r.DB.QueryContext(ctx,
		"SELECT status, priority, category, COUNT(*), COUNT(rating_score), COALESCE(SUM(rating_score), 0) FROM reports"+
			w.String()+" GROUP BY status, priority, category", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := model.NewReportStats()
	ratingSum := 0
	for rows.Next() {
		var (
			status, priority, category string
			n, rated, sum              int
		)
		if err := rows.Scan(&status, &priority, &category, &n, &rated, &sum); err != nil {
			return nil, err
		}
		stats.Total += n
		stats.ByStatus[model.ReportStatus(status)] += n
		stats.ByPriority[model.Priority(priority)] += n
		stats.ByCategory[model.Category(category)] += n
		stats.RatedCount += rated
		ratingSum += sum
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if stats.RatedCount > 0 {
		stats.AverageRating = float64(ratingSum) / float64(stats.RatedCount)
	}
	return stats, nil
}
