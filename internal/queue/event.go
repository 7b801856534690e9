// Package queue defines the report events exchanged over the message
// broker and the consumer that turns them into notifications.
package queue

import "time"

// ReportEventsQueue is the durable queue report events are published to.
const ReportEventsQueue = "report.events"

// Event types.
const (
	EventReportCreated  = "report.created"
	EventReportUpdated  = "report.updated"
	EventReportAssigned = "report.assigned"
	EventReportResolved = "report.resolved"
	EventReportClosed   = "report.closed"
	EventReportRated    = "report.rated"
)

// ReportEvent is published after a report changes.  It carries enough for
// a notifier to address the creator and assignee without querying the
// primary database.
type ReportEvent struct {
	Type       string  `json:"type"`
	ReportID   uint64  `json:"report_id"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Priority   string  `json:"priority"`
	CreatorID  uint64  `json:"creator_id"`
	AssigneeID *uint64 `json:"assignee_id,omitempty"`
	ActorID    uint64  `json:"actor_id"`
	Score      int     `json:"score,omitempty"`
	OccurredAt string  `json:"occurred_at"`
}

// Stamp sets OccurredAt to t in RFC 3339.
func (e *ReportEvent) Stamp(t time.Time) {
	e.OccurredAt = t.UTC().Format(time.RFC3339)
}
