package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskline/servicedesk/internal/apperr"
	"github.com/deskline/servicedesk/internal/logger"
	"github.com/deskline/servicedesk/internal/metrics"
	"github.com/deskline/servicedesk/internal/testutil"
	"github.com/deskline/servicedesk/internal/utils"
)

type fixture struct {
	store    *testutil.Store
	events   *testutil.Events
	jwt      *utils.TokenService
	metrics  *metrics.Metrics
	accounts *AccountService
	reports  *ReportService
	offices  *OfficeService
	purges   *countingPurger
}

type countingPurger struct{ n int }

func (p *countingPurger) Purge(context.Context) error {
	p.n++
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewStore()
	events := &testutil.Events{}
	jwt := utils.NewTokenService("test-secret", "servicedesk-api", "servicedesk-clients", 15*time.Minute, 7*24*time.Hour)
	m := metrics.New()
	log := logger.Discard()
	purges := &countingPurger{}
	return &fixture{
		store:    store,
		events:   events,
		jwt:      jwt,
		metrics:  m,
		purges:   purges,
		accounts: NewAccountService(store.Accounts(), store.Tokens(), store.Offices(), jwt, AccountConfig{BcryptCost: 4, MaxRefreshTokens: 5}, log, m),
		reports:  NewReportService(store.Reports(), store.Accounts(), store.Offices(), events, log, m),
		offices:  NewOfficeService(store.Offices(), purges, log),
	}
}

func requireKind(t *testing.T, err error, k apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, k, apperr.KindOf(err), err.Error())
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	requireKind(t, err, apperr.KindAuthentication)
	e, _ := apperr.As(err)
	assert.Equal(t, code, e.Code)
}

func fieldNames(err error) []string {
	e, ok := apperr.As(err)
	if !ok {
		return nil
	}
	var out []string
	for _, f := range e.Fields {
		out = append(out, f.Field)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

var ctx = context.Background()
