package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deskline/servicedesk/internal/apperr"
	"github.com/deskline/servicedesk/internal/model"
)

func ptr(v uint64) *uint64 { return &v }

func TestOnlyAdminManagesAccounts(t *testing.T) {
	for _, action := range []Action{ListAccounts, ChangeRole, CreateAccount, DeleteAccount, ManageOffice} {
		for _, role := range model.Roles {
			d := Authorize(Subject{ID: 1, Role: role}, action, Resource{OwnerID: 2})
			assert.Equal(t, role == model.RoleAdmin, d.Allowed, "%s as %s", action, role)
			if !d.Allowed {
				assert.NotEmpty(t, d.Reason)
			}
		}
	}
}

func TestAccountSelfService(t *testing.T) {
	self := Resource{OwnerID: 7}
	other := Resource{OwnerID: 8}
	for _, role := range []model.Role{model.RoleUser, model.RoleServiceDesk} {
		s := Subject{ID: 7, Role: role}
		assert.True(t, Authorize(s, ViewAccount, self).Allowed)
		assert.True(t, Authorize(s, EditAccount, self).Allowed)
		assert.False(t, Authorize(s, ViewAccount, other).Allowed)
		assert.False(t, Authorize(s, EditAccount, other).Allowed)
		assert.False(t, PrivilegedAccountEdit(s))
	}
	admin := Subject{ID: 7, Role: model.RoleAdmin}
	assert.True(t, Authorize(admin, EditAccount, other).Allowed)
	assert.True(t, PrivilegedAccountEdit(admin))
}

func TestReportMatrix(t *testing.T) {
	const owner, assignee, stranger = 10, 20, 30
	res := Resource{OwnerID: owner, AssigneeID: ptr(assignee)}

	cases := []struct {
		name   string
		sub    Subject
		action Action
		want   bool
	}{
		{"user creates", Subject{stranger, model.RoleUser}, CreateReport, true},
		{"owner views", Subject{owner, model.RoleUser}, ViewReport, true},
		{"assignee views", Subject{assignee, model.RoleUser}, ViewReport, true},
		{"stranger views", Subject{stranger, model.RoleUser}, ViewReport, false},
		{"servicedesk views any", Subject{stranger, model.RoleServiceDesk}, ViewReport, true},
		{"owner edits", Subject{owner, model.RoleUser}, EditReport, true},
		{"stranger edits", Subject{stranger, model.RoleUser}, EditReport, false},
		{"servicedesk edits", Subject{stranger, model.RoleServiceDesk}, EditReport, true},
		{"user assigns", Subject{owner, model.RoleUser}, AssignReport, false},
		{"servicedesk assigns", Subject{stranger, model.RoleServiceDesk}, AssignReport, true},
		{"admin assigns", Subject{stranger, model.RoleAdmin}, AssignReport, true},
		{"user resolves", Subject{owner, model.RoleUser}, ResolveReport, false},
		{"servicedesk resolves", Subject{assignee, model.RoleServiceDesk}, ResolveReport, true},
		{"user closes", Subject{owner, model.RoleUser}, CloseReport, false},
		{"admin closes", Subject{stranger, model.RoleAdmin}, CloseReport, true},
		{"owner rates", Subject{owner, model.RoleUser}, RateReport, true},
		{"stranger rates", Subject{stranger, model.RoleUser}, RateReport, false},
		{"servicedesk rates", Subject{owner, model.RoleServiceDesk}, RateReport, false},
		{"admin rates", Subject{owner, model.RoleAdmin}, RateReport, false},
		{"owner deletes", Subject{owner, model.RoleUser}, DeleteReport, false},
		{"servicedesk deletes", Subject{stranger, model.RoleServiceDesk}, DeleteReport, false},
		{"admin deletes", Subject{stranger, model.RoleAdmin}, DeleteReport, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Authorize(tc.sub, tc.action, res).Allowed)
		})
	}
}

func TestUnknownRoleOrActionDenied(t *testing.T) {
	assert.False(t, Authorize(Subject{ID: 1, Role: "root"}, CreateReport, None).Allowed)
	assert.False(t, Authorize(Subject{ID: 1, Role: model.RoleAdmin}, Action("report:teleport"), None).Allowed)
}

func TestCheckReturnsForbidden(t *testing.T) {
	err := Check(Subject{ID: 1, Role: model.RoleUser}, DeleteReport, None)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	assert.NoError(t, Check(Subject{ID: 1, Role: model.RoleAdmin}, DeleteReport, None))
}

func TestScopes(t *testing.T) {
	assert.Equal(t, ScopeOwn, ListScope(model.RoleUser))
	assert.Equal(t, ScopeAssignedToSelfOrUnassigned, ListScope(model.RoleServiceDesk))
	assert.Equal(t, ScopeAll, ListScope(model.RoleAdmin))

	assert.Equal(t, ScopeOwn, StatsScope(model.RoleUser))
	assert.Equal(t, ScopeAll, StatsScope(model.RoleServiceDesk))
}

func TestEditableReportFields(t *testing.T) {
	user := EditableReportFields(model.RoleUser)
	assert.Equal(t, map[string]bool{FieldTitle: true, FieldDescription: true}, user)

	for _, role := range []model.Role{model.RoleServiceDesk, model.RoleAdmin} {
		staff := EditableReportFields(role)
		assert.True(t, staff[FieldStatus])
		assert.True(t, staff[FieldPriority])
		assert.True(t, staff[FieldCategory])
	}
}
