package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskline/servicedesk/internal/config"
	"github.com/deskline/servicedesk/internal/handler"
	"github.com/deskline/servicedesk/internal/logger"
	"github.com/deskline/servicedesk/internal/metrics"
	"github.com/deskline/servicedesk/internal/middleware"
	"github.com/deskline/servicedesk/internal/model"
	"github.com/deskline/servicedesk/internal/service"
	"github.com/deskline/servicedesk/internal/testutil"
	"github.com/deskline/servicedesk/internal/utils"
)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

type api struct {
	t      *testing.T
	e      *echo.Echo
	store  *testutil.Store
	events *testutil.Events
	office *model.Office
}

type setup struct {
	rdb   *redis.Client
	limit config.RateLimitConfig
	db    handler.Pinger
}

func newAPI(t *testing.T, s setup) *api {
	t.Helper()
	store := testutil.NewStore()
	events := &testutil.Events{}
	log := logger.Discard()
	m := metrics.New()
	jwt := utils.NewTokenService("router-secret", "servicedesk-api", "servicedesk-clients", 15*time.Minute, 7*24*time.Hour)
	cache := middleware.NewRedisCache(config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache:offices"}, s.rdb, log)

	accounts := service.NewAccountService(store.Accounts(), store.Tokens(), store.Offices(), jwt,
		service.AccountConfig{BcryptCost: 4, MaxRefreshTokens: 5}, log, m)
	reports := service.NewReportService(store.Reports(), store.Accounts(), store.Offices(), events, log, m)
	offices := service.NewOfficeService(store.Offices(), cache, log)
	if s.db == nil {
		s.db = pinger{}
	}

	e := echo.New()
	e.HTTPErrorHandler = handler.NewHTTPErrorHandler(false, log)
	e.Use(middleware.RequestLogger(log), middleware.Metrics(m))
	Register(e, Deps{
		Auth:          handler.NewAuthHandler(accounts),
		Reports:       handler.NewReportHandler(reports),
		Users:         handler.NewUserHandler(accounts),
		Offices:       handler.NewOfficeHandler(offices),
		Authenticator: accounts,
		DB:            s.db,
		Metrics:       m,
		AuthLimiter:   middleware.NewTokenBucket(s.limit, s.rdb, log),
		OfficeCache:   cache.Middleware(),
	})
	return &api{t: t, e: e, store: store, events: events, office: store.MustOffice("Headquarters", "HQ")}
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Errors  []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (r response) fields() []string {
	var out []string
	for _, f := range r.Errors {
		out = append(out, f.Field)
	}
	return out
}

func (a *api) raw(method, path, token string, body []byte) *httptest.ResponseRecorder {
	a.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if len(body) > 0 {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func (a *api) do(method, path, token string, body any) (int, response) {
	a.t.Helper()
	var bs []byte
	if body != nil {
		var err error
		bs, err = json.Marshal(body)
		require.NoError(a.t, err)
	}
	rec := a.raw(method, path, token, bs)
	var res response
	if rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	}
	return rec.Code, res
}

type authData struct {
	User struct {
		ID   uint64 `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
	Access struct {
		Token string `json:"token"`
	} `json:"access"`
	Refresh struct {
		Token string `json:"token"`
	} `json:"refresh"`
}

func (a *api) login(email string) authData {
	a.t.Helper()
	code, res := a.do(http.MethodPost, "/api/auth/login", "", echo.Map{"email": email, "password": testutil.TestPassword})
	require.Equal(a.t, http.StatusOK, code, res.Message)
	var out authData
	require.NoError(a.t, json.Unmarshal(res.Data, &out))
	return out
}

// member creates an account with role and returns its access token.
func (a *api) member(name string, role model.Role) (*model.Account, string) {
	a.t.Helper()
	acct := a.store.MustAccount(name, name+"@example.com", role)
	return acct, a.login(acct.Email).Access.Token
}

type reportData struct {
	ID       uint64 `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Version  int    `json:"version"`
	Creator  *struct {
		ID uint64 `json:"id"`
	} `json:"creator"`
	Assignee *struct {
		ID uint64 `json:"id"`
	} `json:"assignee"`
	Office *struct {
		Code string `json:"code"`
	} `json:"office"`
	Resolution *struct {
		Description string `json:"description"`
	} `json:"resolution"`
	Rating *struct {
		Score int `json:"score"`
	} `json:"rating"`
}

func decodeData[T any](t *testing.T, res response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(res.Data, &v), string(res.Data))
	return v
}

func (a *api) fileReport(token string) reportData {
	a.t.Helper()
	code, res := a.do(http.MethodPost, "/api/reports", token, echo.Map{
		"office_id":   a.office.ID,
		"workstation": "WS-12",
		"title":       "Monitor flickers",
		"description": "The left monitor flickers every few seconds.",
		"category":    "hardware",
	})
	require.Equal(a.t, http.StatusCreated, code, res.Message)
	return decodeData[reportData](a.t, res)
}

func TestHealthz(t *testing.T) {
	a := newAPI(t, setup{})
	assert.Equal(t, http.StatusOK, a.raw(http.MethodGet, "/healthz", "", nil).Code)

	down := newAPI(t, setup{db: pinger{err: errors.New("connection refused")}})
	assert.Equal(t, http.StatusServiceUnavailable, down.raw(http.MethodGet, "/healthz", "", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newAPI(t, setup{})
	a.raw(http.MethodGet, "/healthz", "", nil)
	rec := a.raw(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "servicedesk_http_requests_total")
}

func TestRegisterForcesUserRole(t *testing.T) {
	a := newAPI(t, setup{})
	code, res := a.do(http.MethodPost, "/api/auth/register", "", echo.Map{
		"name": "Dana", "email": "Dana@Example.com", "password": "correct-horse", "role": "admin",
	})
	require.Equal(t, http.StatusCreated, code, res.Message)
	sess := decodeData[authData](t, res)
	assert.Equal(t, "user", sess.User.Role)
	assert.NotEmpty(t, sess.Access.Token)
	assert.NotEmpty(t, sess.Refresh.Token)

	code, res = a.do(http.MethodGet, "/api/auth/me", sess.Access.Token, nil)
	require.Equal(t, http.StatusOK, code)
	me := decodeData[map[string]any](t, res)
	assert.Equal(t, "dana@example.com", me["email"])
	assert.NotContains(t, me, "password_hash")

	code, res = a.do(http.MethodPost, "/api/auth/register", "", echo.Map{
		"name": "Dana", "email": "dana@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, res.Success)
}

func TestLoginFailures(t *testing.T) {
	a := newAPI(t, setup{})
	acct := a.store.MustAccount("Eve", "eve@example.com", model.RoleUser)

	code, res := a.do(http.MethodPost, "/api/auth/login", "", echo.Map{"email": acct.Email, "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_credentials", res.Code)

	code, res = a.do(http.MethodPost, "/api/auth/login", "", echo.Map{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.ElementsMatch(t, []string{"email", "password"}, res.fields())
}

func TestRefreshIsSingleUse(t *testing.T) {
	a := newAPI(t, setup{})
	acct := a.store.MustAccount("Finn", "finn@example.com", model.RoleUser)
	sess := a.login(acct.Email)

	code, res := a.do(http.MethodPost, "/api/auth/refresh", "", echo.Map{"refresh_token": sess.Refresh.Token})
	require.Equal(t, http.StatusOK, code, res.Message)
	next := decodeData[authData](t, res)
	assert.NotEqual(t, sess.Refresh.Token, next.Refresh.Token)

	code, res = a.do(http.MethodPost, "/api/auth/refresh", "", echo.Map{"refresh_token": sess.Refresh.Token})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "refresh_invalid", res.Code)

	code, _ = a.do(http.MethodPost, "/api/auth/refresh", "", echo.Map{"refresh_token": next.Refresh.Token})
	assert.Equal(t, http.StatusOK, code)
}

func TestLogoutAllRevokesEveryRefreshToken(t *testing.T) {
	a := newAPI(t, setup{})
	acct := a.store.MustAccount("Gus", "gus@example.com", model.RoleUser)
	first := a.login(acct.Email)
	second := a.login(acct.Email)

	code, _ := a.do(http.MethodPost, "/api/auth/logout", second.Access.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Zero(t, a.store.LiveTokens(acct.ID))

	code, _ = a.do(http.MethodPost, "/api/auth/refresh", "", echo.Map{"refresh_token": first.Refresh.Token})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	a := newAPI(t, setup{})

	code, res := a.do(http.MethodGet, "/api/reports", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "token_missing", res.Code)

	code, res = a.do(http.MethodGet, "/api/reports", "not.a.jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "token_invalid", res.Code)

	code, _ = a.do(http.MethodGet, "/api/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestReportVisibility(t *testing.T) {
	a := newAPI(t, setup{})
	_, alice := a.member("alice", model.RoleUser)
	_, bob := a.member("bob", model.RoleUser)
	_, sam := a.member("sam", model.RoleServiceDesk)

	rep := a.fileReport(alice)
	assert.Equal(t, "open", rep.Status)
	assert.Equal(t, "medium", rep.Priority)
	assert.Equal(t, "HQ", rep.Office.Code)

	path := fmt.Sprintf("/api/reports/%d", rep.ID)
	code, _ := a.do(http.MethodGet, path, alice, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = a.do(http.MethodGet, path, sam, nil)
	assert.Equal(t, http.StatusOK, code)
	code, res := a.do(http.MethodGet, path, bob, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.False(t, res.Success)

	code, res = a.do(http.MethodGet, "/api/reports", bob, nil)
	require.Equal(t, http.StatusOK, code)
	list := decodeData[struct {
		Items      []reportData `json:"items"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}](t, res)
	assert.Empty(t, list.Items)
	assert.Zero(t, list.Pagination.Total)
}

func TestUserEditDropsStatus(t *testing.T) {
	a := newAPI(t, setup{})
	_, alice := a.member("alice", model.RoleUser)
	rep := a.fileReport(alice)

	code, res := a.do(http.MethodPut, fmt.Sprintf("/api/reports/%d", rep.ID), alice, echo.Map{
		"title":  "Monitor flickers badly",
		"status": "resolved",
	})
	require.Equal(t, http.StatusOK, code, res.Message)
	got := decodeData[reportData](t, res)
	assert.Equal(t, "Monitor flickers badly", got.Title)
	assert.Equal(t, "open", got.Status)
}

func TestReportValidationEnvelope(t *testing.T) {
	a := newAPI(t, setup{})
	_, alice := a.member("alice", model.RoleUser)

	code, res := a.do(http.MethodPost, "/api/reports", alice, echo.Map{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, res.Success)
	assert.Subset(t, res.fields(), []string{"office_id", "title", "description", "category"})

	rec := a.raw(http.MethodPost, "/api/reports", alice, []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"body"`)

	code, res = a.do(http.MethodGet, "/api/reports/abc", alice, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, []string{"id"}, res.fields())
}

func TestLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t, setup{})
	alice, aliceTok := a.member("alice", model.RoleUser)
	sam, samTok := a.member("sam", model.RoleServiceDesk)
	rep := a.fileReport(aliceTok)
	base := fmt.Sprintf("/api/reports/%d", rep.ID)

	code, _ := a.do(http.MethodPost, base+"/assign", aliceTok, echo.Map{})
	assert.Equal(t, http.StatusForbidden, code)

	code, res := a.do(http.MethodPost, base+"/assign", samTok, echo.Map{})
	require.Equal(t, http.StatusOK, code, res.Message)
	got := decodeData[reportData](t, res)
	assert.Equal(t, "in-progress", got.Status)
	require.NotNil(t, got.Assignee)
	assert.Equal(t, sam.ID, got.Assignee.ID)

	code, res = a.do(http.MethodPost, base+"/rate", aliceTok, echo.Map{"score": 4})
	assert.Equal(t, http.StatusBadRequest, code, "rating before resolution")

	code, res = a.do(http.MethodPost, base+"/resolve", samTok, echo.Map{"resolution": "Replaced the display cable."})
	require.Equal(t, http.StatusOK, code, res.Message)
	got = decodeData[reportData](t, res)
	assert.Equal(t, "resolved", got.Status)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, "Replaced the display cable.", got.Resolution.Description)

	code, res = a.do(http.MethodPost, base+"/rate", aliceTok, echo.Map{"score": 5, "comment": "quick fix"})
	require.Equal(t, http.StatusOK, code, res.Message)
	got = decodeData[reportData](t, res)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 5, got.Rating.Score)

	code, res = a.do(http.MethodPost, base+"/close", samTok, nil)
	require.Equal(t, http.StatusOK, code, res.Message)
	assert.Equal(t, "closed", decodeData[reportData](t, res).Status)

	code, res = a.do(http.MethodGet, base+"/history", aliceTok, nil)
	require.Equal(t, http.StatusOK, code)
	hist := decodeData[[]model.StatusChange](t, res)
	var statuses []model.ReportStatus
	for _, h := range hist {
		statuses = append(statuses, h.Status)
	}
	assert.Equal(t, []model.ReportStatus{model.StatusOpen, model.StatusInProgress, model.StatusResolved, model.StatusClosed}, statuses)
	assert.Equal(t, alice.ID, hist[0].ChangedBy)

	code, res = a.do(http.MethodGet, "/api/reports/stats", samTok, nil)
	require.Equal(t, http.StatusOK, code)
	stats := decodeData[model.ReportStats](t, res)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[model.StatusClosed])
	assert.InDelta(t, 5.0, stats.AverageRating, 0.001)

	assert.Equal(t, []string{"report.created", "report.assigned", "report.resolved", "report.rated", "report.closed"}, a.events.Types())
}

func TestDeleteReportAdminOnly(t *testing.T) {
	a := newAPI(t, setup{})
	_, alice := a.member("alice", model.RoleUser)
	_, root := a.member("root", model.RoleAdmin)
	rep := a.fileReport(alice)
	path := fmt.Sprintf("/api/reports/%d", rep.ID)

	code, _ := a.do(http.MethodDelete, path, alice, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(http.MethodDelete, path, root, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = a.do(http.MethodGet, path, root, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUserManagement(t *testing.T) {
	a := newAPI(t, setup{})
	alice, aliceTok := a.member("alice", model.RoleUser)
	_, samTok := a.member("sam", model.RoleServiceDesk)
	_, root := a.member("root", model.RoleAdmin)

	code, _ := a.do(http.MethodGet, "/api/users", aliceTok, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, res := a.do(http.MethodGet, "/api/users?role=user&limit=10", root, nil)
	require.Equal(t, http.StatusOK, code, res.Message)
	page := decodeData[struct {
		Items      []map[string]any `json:"items"`
		Pagination struct {
			Total int `json:"total"`
			Limit int `json:"limit"`
		} `json:"pagination"`
	}](t, res)
	assert.Equal(t, 1, page.Pagination.Total)
	assert.Equal(t, 10, page.Pagination.Limit)

	code, _ = a.do(http.MethodGet, "/api/users?active=maybe", root, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(http.MethodGet, "/api/users/staff", aliceTok, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, res = a.do(http.MethodGet, "/api/users/staff", samTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]map[string]any](t, res), 2)

	self := fmt.Sprintf("/api/users/%d", alice.ID)
	code, res = a.do(http.MethodPut, self, aliceTok, echo.Map{"department": "Finance", "role": "admin"})
	require.Equal(t, http.StatusOK, code, res.Message)
	me := decodeData[map[string]any](t, res)
	assert.Equal(t, "Finance", me["department"])
	assert.Equal(t, "user", me["role"])

	code, _ = a.do(http.MethodGet, self, samTok, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, res = a.do(http.MethodPost, "/api/users", root, echo.Map{
		"name": "Tess", "email": "tess@example.com", "password": "long-enough", "role": "servicedesk",
	})
	require.Equal(t, http.StatusCreated, code, res.Message)
	assert.Equal(t, "servicedesk", decodeData[map[string]any](t, res)["role"])

	code, _ = a.do(http.MethodDelete, self, root, nil)
	assert.Equal(t, http.StatusOK, code)
	code, res = a.do(http.MethodGet, "/api/auth/me", aliceTok, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "account_inactive", res.Code)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestOfficeReadsAreCachedAndPurged(t *testing.T) {
	_, rdb := newRedis(t)
	a := newAPI(t, setup{rdb: rdb})
	_, root := a.member("root", model.RoleAdmin)
	_, alice := a.member("alice", model.RoleUser)

	first := a.raw(http.MethodGet, "/api/offices", "", nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "HIT", a.raw(http.MethodGet, "/api/offices", "", nil).Header().Get("X-Cache"))

	code, _ := a.do(http.MethodPost, "/api/offices", alice, echo.Map{"name": "Branch", "code": "br"})
	assert.Equal(t, http.StatusForbidden, code)
	code, res := a.do(http.MethodPost, "/api/offices", root, echo.Map{"name": "Branch", "code": "br"})
	require.Equal(t, http.StatusCreated, code, res.Message)
	assert.Equal(t, "BR", decodeData[map[string]any](t, res)["code"])

	after := a.raw(http.MethodGet, "/api/offices", "", nil)
	assert.Equal(t, "MISS", after.Header().Get("X-Cache"))
	var body response
	require.NoError(t, json.Unmarshal(after.Body.Bytes(), &body))
	assert.Len(t, decodeData[[]map[string]any](t, body), 2)

	code, _ = a.do(http.MethodPost, "/api/offices", root, echo.Map{"name": "Other", "code": "HQ"})
	assert.Equal(t, http.StatusConflict, code)
}

func TestAuthEndpointsRateLimited(t *testing.T) {
	_, rdb := newRedis(t)
	a := newAPI(t, setup{rdb: rdb, limit: config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Minute,
		TTL: time.Hour, KeyStrategy: "ip_route", Prefix: "rl:auth",
	}})
	body := echo.Map{"email": "nobody@example.com", "password": "whatever1"}

	for i := 0; i < 2; i++ {
		code, _ := a.do(http.MethodPost, "/api/auth/login", "", body)
		assert.Equal(t, http.StatusUnauthorized, code)
	}
	code, res := a.do(http.MethodPost, "/api/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate_limited", res.Code)

	code, _ = a.do(http.MethodPost, "/api/auth/register", "", echo.Map{"name": "Zed", "email": "zed@example.com", "password": "password1"})
	assert.Equal(t, http.StatusCreated, code, "buckets are per route")
}
