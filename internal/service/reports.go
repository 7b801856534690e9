package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deskline/servicedesk/internal/apperr"
	"github.com/deskline/servicedesk/internal/metrics"
	"github.com/deskline/servicedesk/internal/model"
	"github.com/deskline/servicedesk/internal/policy"
	q "github.com/deskline/servicedesk/internal/queue"
	"github.com/deskline/servicedesk/internal/repository"
	"github.com/deskline/servicedesk/internal/validation"
)

// publishTimeout bounds a best-effort event publish.
const publishTimeout = 3 * time.Second

// ReportService is the report lifecycle engine.  Every operation loads the
// report, checks the policy against fresh ownership facts, applies the
// transition and saves with the version the report was loaded at.
type ReportService struct {
	Reports   ReportStore
	Accounts  AccountStore
	Offices   OfficeStore
	Publisher Publisher
	Log       logrus.FieldLogger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func NewReportService(reports ReportStore, accounts AccountStore, offices OfficeStore, pub Publisher, log logrus.FieldLogger, m *metrics.Metrics) *ReportService {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &ReportService{Reports: reports, Accounts: accounts, Offices: offices, Publisher: pub, Log: log, Metrics: m, Now: utcNow}
}

type AttachmentInput struct {
	Filename  string `json:"filename" validate:"required,max=255"`
	URL       string `json:"url" validate:"required,url,max=1000"`
	MimeType  string `json:"mime_type" validate:"max=100"`
	SizeBytes int64  `json:"size_bytes" validate:"min=0"`
}

type CreateReportInput struct {
	OfficeID    uint64            `json:"office_id" validate:"required"`
	Workstation string            `json:"workstation" validate:"max=100"`
	Title       string            `json:"title" validate:"required,min=5,max=200"`
	Description string            `json:"description" validate:"required,min=10,max=5000"`
	Category    string            `json:"category" validate:"required,category"`
	Priority    string            `json:"priority" validate:"omitempty,priority"`
	Attachments []AttachmentInput `json:"attachments" validate:"max=10,dive"`
}

// UpdateReportInput is a partial field edit.  Which fields survive depends
// on the caller's role.
type UpdateReportInput struct {
	Title       *string `json:"title" validate:"omitnil,min=5,max=200"`
	Description *string `json:"description" validate:"omitnil,min=10,max=5000"`
	Priority    *string `json:"priority" validate:"omitnil,priority"`
	Category    *string `json:"category" validate:"omitnil,category"`
	Status      *string `json:"status" validate:"omitnil,status"`
}

func (in *CreateReportInput) trim() {
	in.Workstation = strings.TrimSpace(in.Workstation)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
}

func (in *UpdateReportInput) trim() {
	trimPtr(in.Title)
	trimPtr(in.Description)
}

func trimPtr(p *string) {
	if p != nil {
		*p = strings.TrimSpace(*p)
	}
}

// restrictTo nils every field not in allowed.
func (in *UpdateReportInput) restrictTo(allowed map[string]bool) {
	if !allowed[policy.FieldTitle] {
		in.Title = nil
	}
	if !allowed[policy.FieldDescription] {
		in.Description = nil
	}
	if !allowed[policy.FieldPriority] {
		in.Priority = nil
	}
	if !allowed[policy.FieldCategory] {
		in.Category = nil
	}
	if !allowed[policy.FieldStatus] {
		in.Status = nil
	}
}

type AssignInput struct {
	// AssigneeID defaults to the caller.
	AssigneeID uint64 `json:"assignee_id"`
}

type ResolveInput struct {
	Resolution string `json:"resolution"`
}

type RateInput struct {
	Score   int    `json:"score" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=1000"`
}

type ListReportsInput struct {
	Status   string
	Priority string
	Category string
	OfficeID uint64
	Page     int
	Limit    int
}

// ReportPage is one page of reports.
type ReportPage struct {
	Items []*model.Report
	Total int
	Page  int
	Limit int
}

func (s *ReportService) load(ctx context.Context, id uint64) (*model.Report, error) {
	r, err := s.Reports.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrReportNotFound) {
			return nil, apperr.NotFound("report not found")
		}
		return nil, apperr.Internal("load report", err)
	}
	return r, nil
}

func (s *ReportService) save(ctx context.Context, r *model.Report) error {
	if err := s.Reports.Save(ctx, r); err != nil {
		if errors.Is(err, repository.ErrStaleReport) {
			return apperr.Conflict("report was modified by someone else, reload and try again")
		}
		return apperr.Internal("save report", err)
	}
	return nil
}

// Create files a new report.  The caller becomes the creator and the
// status always starts at open.
func (s *ReportService) Create(ctx context.Context, caller *model.Account, in CreateReportInput) (*model.Report, error) {
	if err := policy.Check(subjectOf(caller), policy.CreateReport, policy.None); err != nil {
		return nil, err
	}
	in.trim()
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	office, err := s.Offices.GetByID(ctx, in.OfficeID)
	if err != nil {
		if errors.Is(err, repository.ErrOfficeNotFound) {
			return nil, apperr.Field("office_id", "office not found")
		}
		return nil, apperr.Internal("load office", err)
	}
	if !office.IsActive {
		return nil, apperr.Field("office_id", "office is inactive")
	}

	now := s.Now()
	r := &model.Report{
		CreatorID:   caller.ID,
		OfficeID:    office.ID,
		Workstation: in.Workstation,
		Title:       in.Title,
		Description: in.Description,
		Category:    model.Category(in.Category),
		Priority:    model.PriorityMedium,
	}
	if in.Priority != "" {
		r.Priority = model.Priority(in.Priority)
	}
	for _, a := range in.Attachments {
		r.Attachments = append(r.Attachments, model.Attachment{
			Filename:   a.Filename,
			URL:        a.URL,
			MimeType:   a.MimeType,
			SizeBytes:  a.SizeBytes,
			Analysis:   model.AttachmentAnalysis{Tags: []string{}},
			UploadedAt: now,
		})
	}
	r.SetStatus(model.StatusOpen, caller.ID, now)

	if err := s.Reports.Create(ctx, r); err != nil {
		return nil, apperr.Internal("create report", err)
	}
	s.Metrics.Transition("create")
	s.publish(ctx, q.EventReportCreated, r, caller.ID, 0)
	return r, nil
}

// Get returns report id if the caller may view it.
func (s *ReportService) Get(ctx context.Context, caller *model.Account, id uint64) (*model.Report, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Check(subjectOf(caller), policy.ViewReport, policy.ReportResource(r)); err != nil {
		return nil, err
	}
	return r, nil
}

// History returns the status history of report id, oldest first.
func (s *ReportService) History(ctx context.Context, caller *model.Account, id uint64) ([]model.StatusChange, error) {
	r, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return r.History, nil
}

// scopedFilter applies the caller's list scope to f.
func scopedFilter(f repository.ReportFilter, scope policy.ReportScope, callerID uint64) repository.ReportFilter {
	switch scope {
	case policy.ScopeOwn:
		f.CreatorID = &callerID
	case policy.ScopeAssignedToSelfOrUnassigned:
		f.AssigneeID = &callerID
		f.IncludeUnassigned = true
	}
	return f
}

// List returns the reports visible to the caller, newest first.
func (s *ReportService) List(ctx context.Context, caller *model.Account, in ListReportsInput) (*ReportPage, error) {
	if err := policy.Check(subjectOf(caller), policy.ListReports, policy.None); err != nil {
		return nil, err
	}
	var fields []apperr.FieldError
	f := repository.ReportFilter{OfficeID: in.OfficeID}
	if in.Status != "" {
		if f.Status = model.ReportStatus(in.Status); !f.Status.Valid() {
			fields = append(fields, apperr.FieldError{Field: "status", Message: "is not a valid status"})
		}
	}
	if in.Priority != "" {
		if f.Priority = model.Priority(in.Priority); !f.Priority.Valid() {
			fields = append(fields, apperr.FieldError{Field: "priority", Message: "is not a valid priority"})
		}
	}
	if in.Category != "" {
		if f.Category = model.Category(in.Category); !f.Category.Valid() {
			fields = append(fields, apperr.FieldError{Field: "category", Message: "is not a valid category"})
		}
	}
	if len(fields) > 0 {
		return nil, apperr.Validation(fields...)
	}
	page, limit, p := paging(in.Page, in.Limit)
	f.Page = p
	f = scopedFilter(f, policy.ListScope(caller.Role), caller.ID)

	items, total, err := s.Reports.List(ctx, f)
	if err != nil {
		return nil, apperr.Internal("list reports", err)
	}
	return &ReportPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// Update edits report fields.  Fields the caller's role may not edit are
// dropped without error.  Staff may set the status directly within the
// limits of checkDirectStatus.
func (s *ReportService) Update(ctx context.Context, caller *model.Account, id uint64, in UpdateReportInput) (*model.Report, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Check(subjectOf(caller), policy.EditReport, policy.ReportResource(r)); err != nil {
		return nil, err
	}
	in.restrictTo(policy.EditableReportFields(caller.Role))
	in.trim()
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.Status != nil {
		if err := checkDirectStatus(r, model.ReportStatus(*in.Status)); err != nil {
			return nil, err
		}
	}

	now := s.Now()
	if in.Title != nil {
		r.Title = *in.Title
	}
	if in.Description != nil {
		r.Description = *in.Description
	}
	if in.Priority != nil {
		r.Priority = model.Priority(*in.Priority)
	}
	if in.Category != nil {
		r.Category = model.Category(*in.Category)
	}
	if in.Status != nil {
		status := model.ReportStatus(*in.Status)
		r.SetStatus(status, caller.ID, now)
		switch status {
		case model.StatusResolved:
			if r.ResolvedAt == nil {
				r.ResolvedAt = &now
			}
		case model.StatusClosed:
			if r.ClosedAt == nil {
				r.ClosedAt = &now
			}
		}
	}
	if err := s.save(ctx, r); err != nil {
		return nil, err
	}
	s.Metrics.Transition("update")
	s.publish(ctx, q.EventReportUpdated, r, caller.ID, 0)
	return r, nil
}

// checkDirectStatus limits what a staff edit may set the status to.  The
// non-terminal statuses are always allowed.  resolved needs an existing
// resolution record and closed needs the report to be resolved already;
// otherwise Resolve and Close are the way there.  cancelled is never set
// through an edit.
func checkDirectStatus(r *model.Report, to model.ReportStatus) error {
	if r.Status == to {
		return nil
	}
	switch to {
	case model.StatusResolved:
		if r.Resolution == nil {
			return apperr.InvalidOperation("a report without a resolution must be resolved through resolve")
		}
	case model.StatusClosed:
		if r.Status != model.StatusResolved {
			return apperr.InvalidOperation("only resolved reports can be closed")
		}
	case model.StatusCancelled:
		return apperr.InvalidOperation("status cannot be set to cancelled")
	}
	return nil
}

// Assign sets the assignee and moves the report to in-progress.
func (s *ReportService) Assign(ctx context.Context, caller *model.Account, id uint64, in AssignInput) (*model.Report, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Check(subjectOf(caller), policy.AssignReport, policy.ReportResource(r)); err != nil {
		return nil, err
	}
	if r.Status.IsTerminal() {
		return nil, apperr.InvalidOperation("cannot assign a " + string(r.Status) + " report")
	}
	targetID := in.AssigneeID
	if targetID == 0 {
		targetID = caller.ID
	}
	target, err := s.Accounts.GetByID(ctx, targetID)
	if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, apperr.Internal("load assignee", err)
	}
	if target == nil || !target.IsActive || !target.Role.CanBeAssigned() {
		return nil, apperr.InvalidOperation("assignee must be an active account with role servicedesk or admin")
	}

	now := s.Now()
	r.AssigneeID = &target.ID
	r.AssignedAt = &now
	r.SetStatus(model.StatusInProgress, caller.ID, now)
	if err := s.save(ctx, r); err != nil {
		return nil, err
	}
	s.Metrics.Transition("assign")
	s.publish(ctx, q.EventReportAssigned, r, caller.ID, 0)
	return r, nil
}

// Resolve records the resolution and moves the report to resolved.
func (s *ReportService) Resolve(ctx context.Context, caller *model.Account, id uint64, in ResolveInput) (*model.Report, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Check(subjectOf(caller), policy.ResolveReport, policy.ReportResource(r)); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(in.Resolution)
	if text == "" {
		return nil, apperr.Field("resolution", "is required")
	}
	if r.Status.IsTerminal() || r.Status == model.StatusResolved {
		return nil, apperr.InvalidOperation("cannot resolve a " + string(r.Status) + " report")
	}

	now := s.Now()
	r.ResolvedAt = &now
	r.Resolution = &model.Resolution{Description: text, ResolvedBy: caller.ID, ResolvedAt: now}
	r.SetStatus(model.StatusResolved, caller.ID, now)
	if err := s.save(ctx, r); err != nil {
		return nil, err
	}
	s.Metrics.Transition("resolve")
	s.publish(ctx, q.EventReportResolved, r, caller.ID, 0)
	return r, nil
}

// Close moves a resolved report to closed.
func (s *ReportService) Close(ctx context.Context, caller *model.Account, id uint64) (*model.Report, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Check(subjectOf(caller), policy.CloseReport, policy.ReportResource(r)); err != nil {
		return nil, err
	}
	if r.Status != model.StatusResolved {
		return nil, apperr.InvalidOperation("only resolved reports can be closed")
	}

	now := s.Now()
	r.ClosedAt = &now
	r.SetStatus(model.StatusClosed, caller.ID, now)
	if err := s.save(ctx, r); err != nil {
		return nil, err
	}
	s.Metrics.Transition("close")
	s.publish(ctx, q.EventReportClosed, r, caller.ID, 0)
	return r, nil
}

// Rate attaches the creator's rating.  The status does not change and a
// second rating replaces the first.
func (s *ReportService) Rate(ctx context.Context, caller *model.Account, id uint64, in RateInput) (*model.Report, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Check(subjectOf(caller), policy.RateReport, policy.ReportResource(r)); err != nil {
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if !r.Status.Rateable() {
		return nil, apperr.InvalidOperation("only resolved or closed reports can be rated")
	}

	r.Rating = &model.Rating{Score: in.Score, Comment: strings.TrimSpace(in.Comment), RatedAt: s.Now()}
	if err := s.save(ctx, r); err != nil {
		return nil, err
	}
	s.Metrics.Transition("rate")
	s.publish(ctx, q.EventReportRated, r, caller.ID, in.Score)
	return r, nil
}

// Delete removes report id permanently.
func (s *ReportService) Delete(ctx context.Context, caller *model.Account, id uint64) error {
	if err := policy.Check(subjectOf(caller), policy.DeleteReport, policy.None); err != nil {
		return err
	}
	if err := s.Reports.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrReportNotFound) {
			return apperr.NotFound("report not found")
		}
		return apperr.Internal("delete report", err)
	}
	s.Log.WithFields(logrus.Fields{"report_id": id, "by": caller.ID}).Info("report deleted")
	return nil
}

// Stats aggregates the reports in the caller's stats scope.
func (s *ReportService) Stats(ctx context.Context, caller *model.Account) (*model.ReportStats, error) {
	if err := policy.Check(subjectOf(caller), policy.ViewStats, policy.None); err != nil {
		return nil, err
	}
	f := scopedFilter(repository.ReportFilter{}, policy.StatsScope(caller.Role), caller.ID)
	stats, err := s.Reports.Stats(ctx, f)
	if err != nil {
		return nil, apperr.Internal("report stats", err)
	}
	return stats, nil
}

// publish sends an event without failing the operation it follows.  It
// outlives the request context so a client disconnect does not drop it.
func (s *ReportService) publish(ctx context.Context, typ string, r *model.Report, actorID uint64, score int) {
	ev := q.ReportEvent{
		Type:       typ,
		ReportID:   r.ID,
		Title:      r.Title,
		Status:     string(r.Status),
		Priority:   string(r.Priority),
		CreatorID:  r.CreatorID,
		AssigneeID: r.AssigneeID,
		ActorID:    actorID,
		Score:      score,
	}
	ev.Stamp(s.Now())

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.Publisher.Publish(ctx, ev); err != nil {
		s.Metrics.PublishFailed()
		s.Log.WithError(err).WithFields(logrus.Fields{"event": typ, "report_id": r.ID}).Warn("publish report event failed")
	}
}
