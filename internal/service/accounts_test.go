package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskline/servicedesk/internal/apperr"
	"github.com/deskline/servicedesk/internal/model"
	"github.com/deskline/servicedesk/internal/testutil"
)

func TestRegisterForcesUserRole(t *testing.T) {
	f := newFixture(t)
	sess, err := f.accounts.Register(ctx, RegisterInput{Name: "Ann", Email: " Ann@Example.com ", Password: "secret-pass"})
	require.NoError(t, err)

	assert.Equal(t, model.RoleUser, sess.Account.Role)
	assert.Equal(t, "ann@example.com", sess.Account.Email)
	assert.NotEmpty(t, sess.Access.Token)
	assert.Len(t, sess.Refresh.Raw, 96)
	assert.Equal(t, 1, f.store.LiveTokens(sess.Account.ID))

	id, err := f.jwt.VerifyAccessToken(sess.Access.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.Account.ID, id.AccountID)
	assert.Equal(t, "user", id.Role)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.accounts.Register(ctx, RegisterInput{Name: "", Email: "not-an-email", Password: "short"})
	requireKind(t, err, apperr.KindValidation)
	assert.ElementsMatch(t, []string{"name", "email", "password"}, fieldNames(err))

	_, err = f.accounts.Register(ctx, RegisterInput{Name: "   ", Email: "   ", Password: "secret-pass"})
	requireKind(t, err, apperr.KindValidation)
	assert.ElementsMatch(t, []string{"name", "email"}, fieldNames(err))
}

func TestRegisterDuplicateEmailIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)
	_, err := f.accounts.Register(ctx, RegisterInput{Name: "Ann", Email: "ANN@example.com", Password: "secret-pass"})
	requireKind(t, err, apperr.KindConflict)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	acct := f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)

	sess, err := f.accounts.Login(ctx, LoginInput{Email: "ANN@example.com", Password: testutil.TestPassword})
	require.NoError(t, err)
	assert.Equal(t, acct.ID, sess.Account.ID)

	sess, err = f.accounts.Login(ctx, LoginInput{Email: "  ann@example.com ", Password: testutil.TestPassword})
	require.NoError(t, err)
	assert.Equal(t, acct.ID, sess.Account.ID)

	_, err = f.accounts.Login(ctx, LoginInput{Email: "ann@example.com", Password: "wrong-password"})
	requireCode(t, err, apperr.CodeInvalidCredentials)

	_, err = f.accounts.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "whatever"})
	requireCode(t, err, apperr.CodeInvalidCredentials)

	acct.IsActive = false
	require.NoError(t, f.store.Accounts().Update(ctx, acct))
	_, err = f.accounts.Login(ctx, LoginInput{Email: "ann@example.com", Password: testutil.TestPassword})
	requireCode(t, err, apperr.CodeAccountInactive)
}

func TestRefreshIsSingleUse(t *testing.T) {
	f := newFixture(t)
	f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)
	sess, err := f.accounts.Login(ctx, LoginInput{Email: "ann@example.com", Password: testutil.TestPassword})
	require.NoError(t, err)

	next, err := f.accounts.Refresh(ctx, sess.Refresh.Raw)
	require.NoError(t, err)
	assert.NotEqual(t, sess.Refresh.Raw, next.Refresh.Raw)
	assert.Equal(t, 1, f.store.LiveTokens(sess.Account.ID))

	_, err = f.accounts.Refresh(ctx, sess.Refresh.Raw)
	requireCode(t, err, apperr.CodeRefreshInvalid)

	_, err = f.accounts.Refresh(ctx, next.Refresh.Raw)
	require.NoError(t, err)
}

func TestRefreshRequiresToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.accounts.Refresh(ctx, "  ")
	requireKind(t, err, apperr.KindValidation)
}

func TestRefreshTokensAreBoundedFIFO(t *testing.T) {
	f := newFixture(t)
	acct := f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)

	var sessions []*Session
	for i := 0; i < 7; i++ {
		s, err := f.accounts.Login(ctx, LoginInput{Email: "ann@example.com", Password: testutil.TestPassword})
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	assert.Equal(t, 5, f.store.LiveTokens(acct.ID))

	_, err := f.accounts.Refresh(ctx, sessions[0].Refresh.Raw)
	requireCode(t, err, apperr.CodeRefreshInvalid)
	_, err = f.accounts.Refresh(ctx, sessions[1].Refresh.Raw)
	requireCode(t, err, apperr.CodeRefreshInvalid)
	_, err = f.accounts.Refresh(ctx, sessions[6].Refresh.Raw)
	require.NoError(t, err)
}

func TestRefreshRejectsDeactivatedAccount(t *testing.T) {
	f := newFixture(t)
	acct := f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)
	sess, err := f.accounts.Login(ctx, LoginInput{Email: "ann@example.com", Password: testutil.TestPassword})
	require.NoError(t, err)

	acct.IsActive = false
	require.NoError(t, f.store.Accounts().Update(ctx, acct))
	_, err = f.accounts.Refresh(ctx, sess.Refresh.Raw)
	requireCode(t, err, apperr.CodeAccountInactive)
	assert.Equal(t, 0, f.store.LiveTokens(acct.ID))
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ann := f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)
	bob := f.store.MustAccount("Bob", "bob@example.com", model.RoleUser)
	login := func(email string) *Session {
		s, err := f.accounts.Login(ctx, LoginInput{Email: email, Password: testutil.TestPassword})
		require.NoError(t, err)
		return s
	}
	a1, _ := login("ann@example.com"), login("ann@example.com")
	b1 := login("bob@example.com")

	requireKind(t, f.accounts.Logout(ctx, ann, b1.Refresh.Raw), apperr.KindNotFound)

	require.NoError(t, f.accounts.Logout(ctx, ann, a1.Refresh.Raw))
	assert.Equal(t, 1, f.store.LiveTokens(ann.ID))

	require.NoError(t, f.accounts.Logout(ctx, ann, ""))
	assert.Equal(t, 0, f.store.LiveTokens(ann.ID))
	assert.Equal(t, 1, f.store.LiveTokens(bob.ID))
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	f := newFixture(t)
	acct := f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)
	sess, err := f.accounts.Login(ctx, LoginInput{Email: "ann@example.com", Password: testutil.TestPassword})
	require.NoError(t, err)

	err = f.accounts.ChangePassword(ctx, acct, ChangePasswordInput{CurrentPassword: "nope", NewPassword: "another-pass"})
	requireKind(t, err, apperr.KindValidation)
	assert.Equal(t, []string{"current_password"}, fieldNames(err))

	require.NoError(t, f.accounts.ChangePassword(ctx, acct, ChangePasswordInput{CurrentPassword: testutil.TestPassword, NewPassword: "another-pass"}))
	assert.Equal(t, 0, f.store.LiveTokens(acct.ID))

	_, err = f.accounts.Refresh(ctx, sess.Refresh.Raw)
	requireCode(t, err, apperr.CodeRefreshInvalid)
	_, err = f.accounts.Login(ctx, LoginInput{Email: "ann@example.com", Password: "another-pass"})
	require.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	acct := f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)
	sess, err := f.accounts.Login(ctx, LoginInput{Email: "ann@example.com", Password: testutil.TestPassword})
	require.NoError(t, err)

	got, err := f.accounts.Authenticate(ctx, "bearer   "+sess.Access.Token)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)

	_, err = f.accounts.Authenticate(ctx, "")
	requireCode(t, err, apperr.CodeTokenMissing)
	_, err = f.accounts.Authenticate(ctx, "Basic abc")
	requireCode(t, err, apperr.CodeTokenMissing)
	_, err = f.accounts.Authenticate(ctx, "Bearer not.a.token")
	requireCode(t, err, apperr.CodeTokenInvalid)

	past := f.jwt.WithClock(func() time.Time { return time.Now().Add(-time.Hour) })
	old, err := past.IssueAccessToken(identityOf(acct))
	require.NoError(t, err)
	_, err = f.accounts.Authenticate(ctx, "Bearer "+old.Token)
	requireCode(t, err, apperr.CodeTokenExpired)

	acct.IsActive = false
	require.NoError(t, f.store.Accounts().Update(ctx, acct))
	_, err = f.accounts.Authenticate(ctx, "Bearer "+sess.Access.Token)
	requireCode(t, err, apperr.CodeAccountInactive)
}

func TestAuthenticateReloadsRole(t *testing.T) {
	f := newFixture(t)
	acct := f.store.MustAccount("Sam", "sam@example.com", model.RoleServiceDesk)
	sess, err := f.accounts.Login(ctx, LoginInput{Email: "sam@example.com", Password: testutil.TestPassword})
	require.NoError(t, err)

	acct.Role = model.RoleUser
	require.NoError(t, f.store.Accounts().Update(ctx, acct))
	got, err := f.accounts.Authenticate(ctx, "Bearer "+sess.Access.Token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, got.Role)
}

func TestOnlyAdminsListAccounts(t *testing.T) {
	f := newFixture(t)
	admin := f.store.MustAccount("Ada", "ada@example.com", model.RoleAdmin)
	desk := f.store.MustAccount("Sam", "sam@example.com", model.RoleServiceDesk)
	user := f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)

	for _, caller := range []*model.Account{desk, user} {
		_, err := f.accounts.List(ctx, caller, ListAccountsInput{})
		requireKind(t, err, apperr.KindAuthorization)
	}

	page, err := f.accounts.List(ctx, admin, ListAccountsInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Limit)

	page, err = f.accounts.List(ctx, admin, ListAccountsInput{Role: "servicedesk"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, desk.ID, page.Items[0].ID)

	page, err = f.accounts.List(ctx, admin, ListAccountsInput{Search: "ANN"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = f.accounts.List(ctx, admin, ListAccountsInput{Role: "owner"})
	requireKind(t, err, apperr.KindValidation)
}

func TestListStaff(t *testing.T) {
	f := newFixture(t)
	admin := f.store.MustAccount("Ada", "ada@example.com", model.RoleAdmin)
	desk := f.store.MustAccount("Sam", "sam@example.com", model.RoleServiceDesk)
	user := f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)

	_, err := f.accounts.ListStaff(ctx, user)
	requireKind(t, err, apperr.KindAuthorization)

	staff, err := f.accounts.ListStaff(ctx, desk)
	require.NoError(t, err)
	var ids []uint64
	for _, a := range staff {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []uint64{admin.ID, desk.ID}, ids)
}

func TestGetAccount(t *testing.T) {
	f := newFixture(t)
	admin := f.store.MustAccount("Ada", "ada@example.com", model.RoleAdmin)
	ann := f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)
	bob := f.store.MustAccount("Bob", "bob@example.com", model.RoleUser)

	_, err := f.accounts.Get(ctx, ann, ann.ID)
	require.NoError(t, err)
	_, err = f.accounts.Get(ctx, ann, bob.ID)
	requireKind(t, err, apperr.KindAuthorization)
	_, err = f.accounts.Get(ctx, admin, bob.ID)
	require.NoError(t, err)
	_, err = f.accounts.Get(ctx, admin, 999)
	requireKind(t, err, apperr.KindNotFound)
}

func TestAdminCreate(t *testing.T) {
	f := newFixture(t)
	admin := f.store.MustAccount("Ada", "ada@example.com", model.RoleAdmin)
	desk := f.store.MustAccount("Sam", "sam@example.com", model.RoleServiceDesk)

	in := CreateAccountInput{Name: "Dee", Email: "dee@example.com", Password: "secret-pass", Role: "servicedesk"}
	_, err := f.accounts.Create(ctx, desk, in)
	requireKind(t, err, apperr.KindAuthorization)

	acct, err := f.accounts.Create(ctx, admin, in)
	require.NoError(t, err)
	assert.Equal(t, model.RoleServiceDesk, acct.Role)

	_, err = f.accounts.Create(ctx, admin, CreateAccountInput{Name: "Eve", Email: "eve@example.com", Password: "secret-pass", Role: "root"})
	requireKind(t, err, apperr.KindValidation)
	assert.Equal(t, []string{"role"}, fieldNames(err))
}

func TestSelfUpdateDropsPrivilegedFields(t *testing.T) {
	f := newFixture(t)
	f.store.MustAccount("Ada", "ada@example.com", model.RoleAdmin)
	office := f.store.MustOffice("Head office", "HQ")
	ann := f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)

	got, err := f.accounts.Update(ctx, ann, ann.ID, UpdateAccountInput{
		Name:              ptr("Ann Smith"),
		Department:        ptr("Finance"),
		PreferredOfficeID: ptr(office.ID),
		Preferences:       map[string]string{"theme": "dark"},
		Role:              ptr("admin"),
		Email:             ptr("boss@example.com"),
		IsVerified:        ptr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, "Ann Smith", got.Name)
	assert.Equal(t, "Finance", got.Department)
	assert.Equal(t, office.ID, *got.PreferredOfficeID)
	assert.Equal(t, model.RoleUser, got.Role)
	assert.Equal(t, "ann@example.com", got.Email)
	assert.False(t, got.IsVerified)

	_, err = f.accounts.Update(ctx, ann, ann.ID, UpdateAccountInput{PreferredOfficeID: ptr(uint64(999))})
	requireKind(t, err, apperr.KindValidation)
	assert.Equal(t, []string{"preferred_office_id"}, fieldNames(err))
}

func TestUpdateOtherAccountRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	desk := f.store.MustAccount("Sam", "sam@example.com", model.RoleServiceDesk)
	ann := f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)

	_, err := f.accounts.Update(ctx, desk, ann.ID, UpdateAccountInput{Role: ptr("servicedesk")})
	requireKind(t, err, apperr.KindAuthorization)
}

func TestLastAdminProtection(t *testing.T) {
	f := newFixture(t)
	ada := f.store.MustAccount("Ada", "ada@example.com", model.RoleAdmin)

	_, err := f.accounts.Update(ctx, ada, ada.ID, UpdateAccountInput{Role: ptr("user")})
	requireKind(t, err, apperr.KindConflict)
	_, err = f.accounts.Update(ctx, ada, ada.ID, UpdateAccountInput{IsActive: ptr(false)})
	requireKind(t, err, apperr.KindConflict)
	requireKind(t, f.accounts.Delete(ctx, ada, ada.ID, false), apperr.KindConflict)

	stored, err := f.store.Accounts().GetByID(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, stored.Role)
	assert.True(t, stored.IsActive)

	bo := f.store.MustAccount("Bo", "bo@example.com", model.RoleAdmin)
	got, err := f.accounts.Update(ctx, ada, bo.ID, UpdateAccountInput{Role: ptr("servicedesk")})
	require.NoError(t, err)
	assert.Equal(t, model.RoleServiceDesk, got.Role)

	_, err = f.accounts.Update(ctx, ada, ada.ID, UpdateAccountInput{Role: ptr("user")})
	requireKind(t, err, apperr.KindConflict)
}

func TestPromoteAndDeactivateSkipsLastAdminGuard(t *testing.T) {
	f := newFixture(t)
	ada := f.store.MustAccount("Ada", "ada@example.com", model.RoleAdmin)
	cy := f.store.MustAccount("Cy", "cy@example.com", model.RoleUser)

	got, err := f.accounts.Update(ctx, ada, cy.ID, UpdateAccountInput{Role: ptr("admin"), IsActive: ptr(false)})
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, got.Role)
	assert.False(t, got.IsActive)

	n, err := f.store.Accounts().CountActiveAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeactivateRevokesTokens(t *testing.T) {
	f := newFixture(t)
	ada := f.store.MustAccount("Ada", "ada@example.com", model.RoleAdmin)
	ann := f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)
	_, err := f.accounts.Login(ctx, LoginInput{Email: "ann@example.com", Password: testutil.TestPassword})
	require.NoError(t, err)

	got, err := f.accounts.Update(ctx, ada, ann.ID, UpdateAccountInput{IsActive: ptr(false)})
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, 0, f.store.LiveTokens(ann.ID))
}

func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	ada := f.store.MustAccount("Ada", "ada@example.com", model.RoleAdmin)
	ann := f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)
	bob := f.store.MustAccount("Bob", "bob@example.com", model.RoleUser)
	office := f.store.MustOffice("Head office", "HQ")
	_, err := f.accounts.Login(ctx, LoginInput{Email: "ann@example.com", Password: testutil.TestPassword})
	require.NoError(t, err)

	requireKind(t, f.accounts.Delete(ctx, bob, ann.ID, false), apperr.KindAuthorization)

	require.NoError(t, f.accounts.Delete(ctx, ada, ann.ID, false))
	stored, err := f.store.Accounts().GetByID(ctx, ann.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, 0, f.store.LiveTokens(ann.ID))

	_, err = f.reports.Create(ctx, bob, CreateReportInput{OfficeID: office.ID, Title: "Broken chair", Description: "The chair at desk 4 is broken", Category: "furniture"})
	require.NoError(t, err)
	requireKind(t, f.accounts.Delete(ctx, ada, bob.ID, true), apperr.KindConflict)

	require.NoError(t, f.accounts.Delete(ctx, ada, ann.ID, true))
	_, err = f.store.Accounts().GetByID(ctx, ann.ID)
	assert.Error(t, err)
	requireKind(t, f.accounts.Delete(ctx, ada, ann.ID, true), apperr.KindNotFound)
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t)
	created, err := f.accounts.EnsureAdmin(ctx, "", "root@example.com", "bootstrap-pass")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.accounts.EnsureAdmin(ctx, "", "root@example.com", "bootstrap-pass")
	require.NoError(t, err)
	assert.False(t, created)

	acct, err := f.store.Accounts().GetByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, acct.Role)
	assert.Equal(t, "Administrator", acct.Name)
	assert.True(t, acct.CheckPassword("bootstrap-pass"))
}

func TestEnsureAdminPromotesExistingAccount(t *testing.T) {
	f := newFixture(t)
	f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)
	created, err := f.accounts.EnsureAdmin(ctx, "Ann", "ann@example.com", "ignored-pass")
	require.NoError(t, err)
	assert.True(t, created)

	acct, err := f.store.Accounts().GetByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, acct.Role)
}

func TestEnsureAdminWithoutCredentials(t *testing.T) {
	f := newFixture(t)
	_, err := f.accounts.EnsureAdmin(ctx, "", "", "")
	assert.Error(t, err)
}

func TestSweepExpiredTokens(t *testing.T) {
	f := newFixture(t)
	acct := f.store.MustAccount("Ann", "ann@example.com", model.RoleUser)
	require.NoError(t, f.store.Tokens().Add(ctx, acct.ID, "live", time.Now().Add(time.Hour), 5))
	require.NoError(t, f.store.Tokens().Add(ctx, acct.ID, "old", time.Now().Add(-time.Minute), 5))

	n, err := f.accounts.SweepExpiredTokens(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1, f.store.LiveTokens(acct.ID))
}

func TestPaging(t *testing.T) {
	page, limit, p := paging(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, 20, limit)
	assert.Equal(t, 0, p.Offset)

	page, limit, p = paging(3, 500)
	assert.Equal(t, 3, page)
	assert.Equal(t, 100, limit)
	assert.Equal(t, 200, p.Offset)
}
