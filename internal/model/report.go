package model

import "time"

// ReportStatus is the lifecycle state of a report.
type ReportStatus string

const (
	StatusOpen       ReportStatus = "open"
	StatusAssigned   ReportStatus = "assigned"
	StatusInProgress ReportStatus = "in-progress"
	StatusResolved   ReportStatus = "resolved"
	StatusClosed     ReportStatus = "closed"
	StatusCancelled  ReportStatus = "cancelled"
)

// Valid reports whether s is an enumerated status.
func (s ReportStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusInProgress, StatusResolved, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no lifecycle transition may leave s.
func (s ReportStatus) IsTerminal() bool { return s == StatusClosed || s == StatusCancelled }

// Rateable reports whether a report in status s may receive a rating.
func (s ReportStatus) Rateable() bool { return s == StatusResolved || s == StatusClosed }

// Priority of a report. Defaults to PriorityMedium.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Category classifies what a report is about.
type Category string

const (
	CategoryHardware   Category = "hardware"
	CategorySoftware   Category = "software"
	CategoryNetwork    Category = "network"
	CategoryFurniture  Category = "furniture"
	CategoryFacilities Category = "facilities"
	CategoryElectrical Category = "electrical"
	CategoryPlumbing   Category = "plumbing"
	CategoryHVAC       Category = "hvac"
	CategorySecurity   Category = "security"
	CategoryCleaning   Category = "cleaning"
	CategoryOther      Category = "other"
)

// Categories lists every enumerated category.
var Categories = []Category{
	CategoryHardware, CategorySoftware, CategoryNetwork, CategoryFurniture,
	CategoryFacilities, CategoryElectrical, CategoryPlumbing, CategoryHVAC,
	CategorySecurity, CategoryCleaning, CategoryOther,
}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// StatusChange is one entry of a report's append-only status history,
// stored in `report_status_history`.
type StatusChange struct {
	ID        uint64       `json:"id"`
	Status    ReportStatus `json:"status"`
	ChangedBy uint64       `json:"changed_by"`
	ChangedAt time.Time    `json:"changed_at"`
}

// AttachmentAnalysis is the sidecar filled in by the image-analysis
// integration.  New attachments start unprocessed.
type AttachmentAnalysis struct {
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
	Processed  bool     `json:"processed"`
}

// Attachment is file metadata stored in `report_attachments`.  The file
// itself lives in external storage referenced by URL.
type Attachment struct {
	ID         uint64             `json:"id"`
	Filename   string             `json:"filename"`
	URL        string             `json:"url"`
	MimeType   string             `json:"mime_type"`
	SizeBytes  int64              `json:"size_bytes"`
	Analysis   AttachmentAnalysis `json:"analysis"`
	UploadedAt time.Time          `json:"uploaded_at"`
}

// Resolution records how and by whom a report was resolved.
type Resolution struct {
	Description string    `json:"description"`
	ResolvedBy  uint64    `json:"resolved_by"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// Rating is the creator's feedback on a resolved report.
type Rating struct {
	Score   int       `json:"score"`
	Comment string    `json:"comment,omitempty"`
	RatedAt time.Time `json:"rated_at"`
}

// Report is an incident filed by an account against an office.  It maps to
// the `reports` table; History and Attachments are loaded from their own
// tables.  Version increments on every save and guards concurrent writes.
type Report struct {
	ID          uint64         // reports.id
	CreatorID   uint64         // reports.creator_id
	OfficeID    uint64         // reports.office_id
	Workstation string         // reports.workstation
	Title       string         // reports.title
	Description string         // reports.description
	Category    Category       // reports.category
	Priority    Priority       // reports.priority
	Status      ReportStatus   // reports.status
	AssigneeID  *uint64        // reports.assignee_id (nullable)
	AssignedAt  *time.Time     // reports.assigned_at
	ResolvedAt  *time.Time     // reports.resolved_at
	ClosedAt    *time.Time     // reports.closed_at
	Resolution  *Resolution    // reports.resolution_* columns
	Rating      *Rating        // reports.rating_* columns
	History     []StatusChange // report_status_history rows, oldest first
	Attachments []Attachment   // report_attachments rows
	Version     int            // reports.version
	CreatedAt   time.Time      // reports.created_at
	UpdatedAt   time.Time      // reports.updated_at
}

// SetStatus moves the report to status and appends a history entry.  It
// does nothing when the status is unchanged.
func (r *Report) SetStatus(status ReportStatus, by uint64, at time.Time) {
	if r.Status == status {
		return
	}
	r.Status = status
	r.History = append(r.History, StatusChange{Status: status, ChangedBy: by, ChangedAt: at})
}

// ReportStats aggregates report counts for the dashboard.
type ReportStats struct {
	Total         int                  `json:"total"`
	ByStatus      map[ReportStatus]int `json:"by_status"`
	ByPriority    map[Priority]int     `json:"by_priority"`
	ByCategory    map[Category]int     `json:"by_category"`
	RatedCount    int                  `json:"rated_count"`
	AverageRating float64              `json:"average_rating"`
}

// NewReportStats returns stats with every status and priority present at zero.
func NewReportStats() *ReportStats {
	s := &ReportStats{
		ByStatus:   map[ReportStatus]int{},
		ByPriority: map[Priority]int{},
		ByCategory: map[Category]int{},
	}
	for _, st := range []ReportStatus{StatusOpen, StatusAssigned, StatusInProgress, StatusResolved, StatusClosed, StatusCancelled} {
		s.ByStatus[st] = 0
	}
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
		s.ByPriority[p] = 0
	}
	return s
}
