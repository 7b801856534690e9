// Package policy holds the authorization matrix.  Every decision about
// who may do what goes through Authorize, which looks the (action, role)
// pair up in a single table.  Ownership and assignment facts are passed in
// by the caller and recomputed on every request.
package policy

import (
	"fmt"

	"github.com/deskline/servicedesk/internal/apperr"
	"github.com/deskline/servicedesk/internal/model"
)

// Action is an operation subject to authorization.
type Action string

const (
	ListAccounts  Action = "account:list"
	ListStaff     Action = "account:list-staff"
	ViewAccount   Action = "account:view"
	EditAccount   Action = "account:edit"
	ChangeRole    Action = "account:change-role"
	CreateAccount Action = "account:create"
	DeleteAccount Action = "account:delete"

	CreateReport  Action = "report:create"
	ListReports   Action = "report:list"
	ViewReport    Action = "report:view"
	EditReport    Action = "report:edit"
	AssignReport  Action = "report:assign"
	ResolveReport Action = "report:resolve"
	CloseReport   Action = "report:close"
	RateReport    Action = "report:rate"
	DeleteReport  Action = "report:delete"
	ViewStats     Action = "report:stats"

	ManageOffice Action = "office:manage"
)

// Subject is the authenticated caller.
type Subject struct {
	ID   uint64
	Role model.Role
}

// Resource carries the ownership facts a rule may need.  For reports
// OwnerID is the creator; for accounts it is the account itself.
type Resource struct {
	OwnerID    uint64
	AssigneeID *uint64
}

// None is the resource for actions that do not target an existing record.
var None = Resource{}

// ReportResource extracts the ownership facts of r.
func ReportResource(r *model.Report) Resource {
	return Resource{OwnerID: r.CreatorID, AssigneeID: r.AssigneeID}
}

// AccountResource extracts the ownership facts of a.
func AccountResource(a *model.Account) Resource {
	return Resource{OwnerID: a.ID}
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

type rule func(s Subject, r Resource) Decision

func allow(Subject, Resource) Decision { return Decision{Allowed: true} }

func deny(reason string) rule {
	return func(Subject, Resource) Decision { return Decision{Reason: reason} }
}

func selfOnly(s Subject, r Resource) Decision {
	if s.ID == r.OwnerID {
		return Decision{Allowed: true}
	}
	return Decision{Reason: "only your own account"}
}

func ownerOnly(reason string) rule {
	return func(s Subject, r Resource) Decision {
		if s.ID == r.OwnerID {
			return Decision{Allowed: true}
		}
		return Decision{Reason: reason}
	}
}

func ownerOrAssignee(s Subject, r Resource) Decision {
	if s.ID == r.OwnerID || (r.AssigneeID != nil && *r.AssigneeID == s.ID) {
		return Decision{Allowed: true}
	}
	return Decision{Reason: "not your report"}
}

var adminOnly = deny("admin role required")
var staffOnly = deny("service desk role required")

// table is the role × action matrix.  A missing role entry denies.
var table = map[Action]map[model.Role]rule{
	ListAccounts:  {model.RoleUser: adminOnly, model.RoleServiceDesk: adminOnly, model.RoleAdmin: allow},
	ListStaff:     {model.RoleUser: staffOnly, model.RoleServiceDesk: allow, model.RoleAdmin: allow},
	ViewAccount:   {model.RoleUser: selfOnly, model.RoleServiceDesk: selfOnly, model.RoleAdmin: allow},
	EditAccount:   {model.RoleUser: selfOnly, model.RoleServiceDesk: selfOnly, model.RoleAdmin: allow},
	ChangeRole:    {model.RoleUser: adminOnly, model.RoleServiceDesk: adminOnly, model.RoleAdmin: allow},
	CreateAccount: {model.RoleUser: adminOnly, model.RoleServiceDesk: adminOnly, model.RoleAdmin: allow},
	DeleteAccount: {model.RoleUser: adminOnly, model.RoleServiceDesk: adminOnly, model.RoleAdmin: allow},

	CreateReport: {model.RoleUser: allow, model.RoleServiceDesk: allow, model.RoleAdmin: allow},
	// Scoping of the result set is ListScope's job.
	ListReports:   {model.RoleUser: allow, model.RoleServiceDesk: allow, model.RoleAdmin: allow},
	ViewReport:    {model.RoleUser: ownerOrAssignee, model.RoleServiceDesk: allow, model.RoleAdmin: allow},
	EditReport:    {model.RoleUser: ownerOnly("only the creator may edit this report"), model.RoleServiceDesk: allow, model.RoleAdmin: allow},
	AssignReport:  {model.RoleUser: staffOnly, model.RoleServiceDesk: allow, model.RoleAdmin: allow},
	ResolveReport: {model.RoleUser: staffOnly, model.RoleServiceDesk: allow, model.RoleAdmin: allow},
	// The resolved-status precondition is a lifecycle rule, not a permission.
	CloseReport:  {model.RoleUser: staffOnly, model.RoleServiceDesk: allow, model.RoleAdmin: allow},
	RateReport:   {model.RoleUser: ownerOnly("only the creator may rate this report"), model.RoleServiceDesk: deny("staff cannot rate reports"), model.RoleAdmin: deny("staff cannot rate reports")},
	DeleteReport: {model.RoleUser: adminOnly, model.RoleServiceDesk: adminOnly, model.RoleAdmin: allow},
	ViewStats:    {model.RoleUser: allow, model.RoleServiceDesk: allow, model.RoleAdmin: allow},

	ManageOffice: {model.RoleUser: adminOnly, model.RoleServiceDesk: adminOnly, model.RoleAdmin: allow},
}

// Authorize decides whether s may perform a on r.
func Authorize(s Subject, a Action, r Resource) Decision {
	byRole, ok := table[a]
	if !ok {
		return Decision{Reason: fmt.Sprintf("unknown action %q", a)}
	}
	fn, ok := byRole[s.Role]
	if !ok {
		return Decision{Reason: fmt.Sprintf("role %q may not perform %s", s.Role, a)}
	}
	return fn(s, r)
}

// Check is Authorize returning an authorization error on denial.
func Check(s Subject, a Action, r Resource) error {
	if d := Authorize(s, a, r); !d.Allowed {
		return apperr.Forbidden(d.Reason)
	}
	return nil
}

// ReportScope restricts which reports a list or stats query may return.
type ReportScope int

const (
	ScopeAll ReportScope = iota
	ScopeOwn
	ScopeAssignedToSelfOrUnassigned
)

// ListScope returns the report scope of role for listing.
func ListScope(role model.Role) ReportScope {
	switch role {
	case model.RoleAdmin:
		return ScopeAll
	case model.RoleServiceDesk:
		return ScopeAssignedToSelfOrUnassigned
	}
	return ScopeOwn
}

// StatsScope returns the report scope of role for aggregate counts.
func StatsScope(role model.Role) ReportScope {
	if role.IsStaff() {
		return ScopeAll
	}
	return ScopeOwn
}

// Report fields that may be edited directly.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldPriority    = "priority"
	FieldCategory    = "category"
	FieldStatus      = "status"
)

// EditableReportFields returns the allow-list of report fields role may
// change through a plain edit.  Fields outside it are dropped silently.
func EditableReportFields(role model.Role) map[string]bool {
	fields := map[string]bool{FieldTitle: true, FieldDescription: true}
	if role.IsStaff() {
		fields[FieldPriority] = true
		fields[FieldCategory] = true
		fields[FieldStatus] = true
	}
	return fields
}

// PrivilegedAccountEdit reports whether s may change email, role, active
// and verified flags in addition to the self-service profile fields.
func PrivilegedAccountEdit(s Subject) bool { return s.Role == model.RoleAdmin }
