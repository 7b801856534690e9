// Package testutil provides in-memory stores that mirror the MySQL
// repositories closely enough for service and handler tests: the same
// sentinel errors, version checks on report saves, FIFO eviction and
// expiry of refresh tokens, and referential checks on delete.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deskline/servicedesk/internal/model"
	q "github.com/deskline/servicedesk/internal/queue"
	"github.com/deskline/servicedesk/internal/repository"
)

// TestPassword is the password of every account created by MustAccount.
const TestPassword = "password123"

// Store is the shared backing state.  Use the accessor methods to get
// the per-table store views.
type Store struct {
	mu       sync.Mutex
	seq      uint64
	accounts map[uint64]*model.Account
	tokens   []model.RefreshToken
	offices  map[uint64]*model.Office
	reports  map[uint64]*model.Report
}

func NewStore() *Store {
	return &Store{
		accounts: map[uint64]*model.Account{},
		offices:  map[uint64]*model.Office{},
		reports:  map[uint64]*model.Report{},
	}
}

func (s *Store) next() uint64 {
	s.seq++
	return s.seq
}

func (s *Store) Accounts() *Accounts { return &Accounts{s} }
func (s *Store) Tokens() *Tokens     { return &Tokens{s} }
func (s *Store) Offices() *Offices   { return &Offices{s} }
func (s *Store) Reports() *Reports   { return &Reports{s} }

// MustAccount inserts an active account with TestPassword.
func (s *Store) MustAccount(name, email string, role model.Role) *model.Account {
	a, err := model.NewAccount(name, email, TestPassword, role, 4)
	if err != nil {
		panic(err)
	}
	if err := s.Accounts().Create(context.Background(), a); err != nil {
		panic(err)
	}
	return a
}

// MustOffice inserts an active office.
func (s *Store) MustOffice(name, code string) *model.Office {
	o := &model.Office{Name: name, Code: code, City: "Amsterdam", IsActive: true}
	if err := s.Offices().Create(context.Background(), o); err != nil {
		panic(err)
	}
	return o
}

// LiveTokens counts the unexpired refresh tokens of accountID.
func (s *Store) LiveTokens(accountID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, t := range s.tokens {
		if t.AccountID == accountID && t.ExpiresAt.After(now) {
			n++
		}
	}
	return n
}

func cloneAccount(a *model.Account) *model.Account {
	cp := *a
	if a.Preferences != nil {
		cp.Preferences = make(map[string]string, len(a.Preferences))
		for k, v := range a.Preferences {
			cp.Preferences[k] = v
		}
	}
	if a.PreferredOfficeID != nil {
		id := *a.PreferredOfficeID
		cp.PreferredOfficeID = &id
	}
	return &cp
}

func cloneReport(r *model.Report) *model.Report {
	cp := *r
	if r.AssigneeID != nil {
		id := *r.AssigneeID
		cp.AssigneeID = &id
	}
	if r.Resolution != nil {
		res := *r.Resolution
		cp.Resolution = &res
	}
	if r.Rating != nil {
		rt := *r.Rating
		cp.Rating = &rt
	}
	cp.History = append([]model.StatusChange(nil), r.History...)
	cp.Attachments = append([]model.Attachment(nil), r.Attachments...)
	return &cp
}

func paginate[T any](items []T, p repository.Page) []T {
	if p.Limit <= 0 {
		return items
	}
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}

// Accounts implements the account store.
type Accounts struct{ s *Store }

func (a *Accounts) Create(_ context.Context, acct *model.Account) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	acct.Email = model.NormalizeEmail(acct.Email)
	for _, existing := range a.s.accounts {
		if existing.Email == acct.Email {
			return repository.ErrEmailExists
		}
	}
	now := time.Now().UTC()
	acct.ID = a.s.next()
	acct.CreatedAt, acct.UpdatedAt = now, now
	a.s.accounts[acct.ID] = cloneAccount(acct)
	return nil
}

func (a *Accounts) GetByID(_ context.Context, id uint64) (*model.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	acct, ok := a.s.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return cloneAccount(acct), nil
}

func (a *Accounts) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	email = model.NormalizeEmail(email)
	for _, acct := range a.s.accounts {
		if acct.Email == email {
			return cloneAccount(acct), nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (a *Accounts) List(_ context.Context, f repository.AccountFilter) ([]*model.Account, int, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	search := strings.ToLower(f.Search)
	var out []*model.Account
	for _, acct := range a.s.accounts {
		if len(f.Roles) > 0 && !containsRole(f.Roles, acct.Role) {
			continue
		}
		if f.Active != nil && acct.IsActive != *f.Active {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(acct.Name), search) && !strings.Contains(acct.Email, search) {
			continue
		}
		out = append(out, cloneAccount(acct))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, f.Page), len(out), nil
}

func containsRole(roles []model.Role, r model.Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}

func (a *Accounts) Update(_ context.Context, acct *model.Account) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, ok := a.s.accounts[acct.ID]; !ok {
		return repository.ErrAccountNotFound
	}
	acct.Email = model.NormalizeEmail(acct.Email)
	for id, existing := range a.s.accounts {
		if id != acct.ID && existing.Email == acct.Email {
			return repository.ErrEmailExists
		}
	}
	acct.UpdatedAt = time.Now().UTC()
	a.s.accounts[acct.ID] = cloneAccount(acct)
	return nil
}

func (a *Accounts) Delete(_ context.Context, id uint64) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, ok := a.s.accounts[id]; !ok {
		return repository.ErrAccountNotFound
	}
	for _, r := range a.s.reports {
		if r.CreatorID == id || (r.AssigneeID != nil && *r.AssigneeID == id) {
			return repository.ErrConflict
		}
	}
	delete(a.s.accounts, id)
	kept := a.s.tokens[:0]
	for _, t := range a.s.tokens {
		if t.AccountID != id {
			kept = append(kept, t)
		}
	}
	a.s.tokens = kept
	return nil
}

func (a *Accounts) CountActiveAdmins(context.Context) (int, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	n := 0
	for _, acct := range a.s.accounts {
		if acct.Role == model.RoleAdmin && acct.IsActive {
			n++
		}
	}
	return n, nil
}

// Tokens implements the refresh token store.
type Tokens struct{ s *Store }

func (t *Tokens) Add(_ context.Context, accountID uint64, hash string, exp time.Time, max int) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.addLocked(accountID, hash, exp, max)
	return nil
}

// addLocked drops expired rows, evicts the oldest rows of the account
// until one slot is free and appends the new one.
func (t *Tokens) addLocked(accountID uint64, hash string, exp time.Time, max int) {
	now := time.Now().UTC()
	var owned []int
	kept := t.s.tokens[:0]
	for _, tok := range t.s.tokens {
		if tok.AccountID == accountID && !tok.ExpiresAt.After(now) {
			continue
		}
		kept = append(kept, tok)
	}
	t.s.tokens = kept
	for i, tok := range t.s.tokens {
		if tok.AccountID == accountID {
			owned = append(owned, i)
		}
	}
	if max > 0 && len(owned) >= max {
		evict := map[int]bool{}
		for _, i := range owned[:len(owned)-max+1] {
			evict[i] = true
		}
		kept := make([]model.RefreshToken, 0, len(t.s.tokens))
		for i, tok := range t.s.tokens {
			if !evict[i] {
				kept = append(kept, tok)
			}
		}
		t.s.tokens = kept
	}
	t.s.tokens = append(t.s.tokens, model.RefreshToken{
		ID: t.s.next(), AccountID: accountID, TokenHash: hash, ExpiresAt: exp, CreatedAt: now,
	})
}

func (t *Tokens) Rotate(_ context.Context, oldHash, newHash string, exp time.Time, max int) (uint64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	now := time.Now().UTC()
	for i, tok := range t.s.tokens {
		if tok.TokenHash == oldHash && tok.ExpiresAt.After(now) {
			t.s.tokens = append(t.s.tokens[:i], t.s.tokens[i+1:]...)
			t.addLocked(tok.AccountID, newHash, exp, max)
			return tok.AccountID, nil
		}
	}
	return 0, repository.ErrRefreshNotFound
}

func (t *Tokens) Revoke(_ context.Context, accountID uint64, hash string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i, tok := range t.s.tokens {
		if tok.AccountID == accountID && tok.TokenHash == hash {
			t.s.tokens = append(t.s.tokens[:i], t.s.tokens[i+1:]...)
			return nil
		}
	}
	return repository.ErrRefreshNotFound
}

func (t *Tokens) RevokeAll(_ context.Context, accountID uint64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	kept := t.s.tokens[:0]
	for _, tok := range t.s.tokens {
		if tok.AccountID != accountID {
			kept = append(kept, tok)
		}
	}
	t.s.tokens = kept
	return nil
}

func (t *Tokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var n int64
	kept := t.s.tokens[:0]
	for _, tok := range t.s.tokens {
		if !tok.ExpiresAt.After(now) {
			n++
			continue
		}
		kept = append(kept, tok)
	}
	t.s.tokens = kept
	return n, nil
}

// Offices implements the office store.
type Offices struct{ s *Store }

func (o *Offices) Create(_ context.Context, off *model.Office) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	off.Code = strings.ToUpper(strings.TrimSpace(off.Code))
	for _, existing := range o.s.offices {
		if existing.Code == off.Code {
			return repository.ErrOfficeCodeExists
		}
	}
	now := time.Now().UTC()
	off.ID = o.s.next()
	off.CreatedAt, off.UpdatedAt = now, now
	cp := *off
	o.s.offices[off.ID] = &cp
	return nil
}

func (o *Offices) GetByID(_ context.Context, id uint64) (*model.Office, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	off, ok := o.s.offices[id]
	if !ok {
		return nil, repository.ErrOfficeNotFound
	}
	cp := *off
	return &cp, nil
}

func (o *Offices) List(_ context.Context, activeOnly bool) ([]*model.Office, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	out := []*model.Office{}
	for _, off := range o.s.offices {
		if activeOnly && !off.IsActive {
			continue
		}
		cp := *off
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (o *Offices) Update(_ context.Context, off *model.Office) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if _, ok := o.s.offices[off.ID]; !ok {
		return repository.ErrOfficeNotFound
	}
	off.Code = strings.ToUpper(strings.TrimSpace(off.Code))
	for id, existing := range o.s.offices {
		if id != off.ID && existing.Code == off.Code {
			return repository.ErrOfficeCodeExists
		}
	}
	off.UpdatedAt = time.Now().UTC()
	cp := *off
	o.s.offices[off.ID] = &cp
	return nil
}

func (o *Offices) Delete(_ context.Context, id uint64) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if _, ok := o.s.offices[id]; !ok {
		return repository.ErrOfficeNotFound
	}
	for _, r := range o.s.reports {
		if r.OfficeID == id {
			return repository.ErrConflict
		}
	}
	delete(o.s.offices, id)
	return nil
}

// Reports implements the report store.
type Reports struct{ s *Store }

func (r *Reports) Create(_ context.Context, rep *model.Report) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	rep.ID = r.s.next()
	rep.Version = 1
	rep.CreatedAt, rep.UpdatedAt = now, now
	r.assignChildIDs(rep)
	r.s.reports[rep.ID] = cloneReport(rep)
	return nil
}

func (r *Reports) assignChildIDs(rep *model.Report) {
	for i := range rep.History {
		if rep.History[i].ID == 0 {
			rep.History[i].ID = r.s.next()
		}
	}
	for i := range rep.Attachments {
		if rep.Attachments[i].ID == 0 {
			rep.Attachments[i].ID = r.s.next()
		}
	}
}

func (r *Reports) GetByID(_ context.Context, id uint64) (*model.Report, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rep, ok := r.s.reports[id]
	if !ok {
		return nil, repository.ErrReportNotFound
	}
	return cloneReport(rep), nil
}

func matches(rep *model.Report, f repository.ReportFilter) bool {
	if f.CreatorID != nil && rep.CreatorID != *f.CreatorID {
		return false
	}
	switch {
	case f.AssigneeID != nil && f.IncludeUnassigned:
		if rep.AssigneeID != nil && *rep.AssigneeID != *f.AssigneeID {
			return false
		}
	case f.AssigneeID != nil:
		if rep.AssigneeID == nil || *rep.AssigneeID != *f.AssigneeID {
			return false
		}
	case f.IncludeUnassigned:
		if rep.AssigneeID != nil {
			return false
		}
	}
	if f.Status != "" && rep.Status != f.Status {
		return false
	}
	if f.Priority != "" && rep.Priority != f.Priority {
		return false
	}
	if f.Category != "" && rep.Category != f.Category {
		return false
	}
	if f.OfficeID != 0 && rep.OfficeID != f.OfficeID {
		return false
	}
	return true
}

// List omits history and attachments, like the SQL repository.
func (r *Reports) List(_ context.Context, f repository.ReportFilter) ([]*model.Report, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Report
	for _, rep := range r.s.reports {
		if !matches(rep, f) {
			continue
		}
		cp := cloneReport(rep)
		cp.History, cp.Attachments = nil, nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, f.Page), len(out), nil
}

func (r *Reports) Save(_ context.Context, rep *model.Report) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.reports[rep.ID]
	if !ok || cur.Version != rep.Version {
		return repository.ErrStaleReport
	}
	r.assignChildIDs(rep)
	rep.Version++
	rep.UpdatedAt = time.Now().UTC()
	r.s.reports[rep.ID] = cloneReport(rep)
	return nil
}

func (r *Reports) Delete(_ context.Context, id uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.reports[id]; !ok {
		return repository.ErrReportNotFound
	}
	delete(r.s.reports, id)
	return nil
}

func (r *Reports) Stats(_ context.Context, f repository.ReportFilter) (*model.ReportStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stats := model.NewReportStats()
	sum := 0
	for _, rep := range r.s.reports {
		if !matches(rep, f) {
			continue
		}
		stats.Total++
		stats.ByStatus[rep.Status]++
		stats.ByPriority[rep.Priority]++
		stats.ByCategory[rep.Category]++
		if rep.Rating != nil {
			stats.RatedCount++
			sum += rep.Rating.Score
		}
	}
	if stats.RatedCount > 0 {
		stats.AverageRating = float64(sum) / float64(stats.RatedCount)
	}
	return stats, nil
}

// Events records published report events.  Set Err to make Publish fail.
type Events struct {
	mu  sync.Mutex
	evs []q.ReportEvent
	Err error
}

func (e *Events) Publish(_ context.Context, ev q.ReportEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return e.Err
	}
	e.evs = append(e.evs, ev)
	return nil
}

// Types returns the types of the recorded events in publish order.
func (e *Events) Types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.evs))
	for i, ev := range e.evs {
		out[i] = ev.Type
	}
	return out
}

// Last returns the most recent event.
func (e *Events) Last() q.ReportEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.evs) == 0 {
		return q.ReportEvent{}
	}
	return e.evs[len(e.evs)-1]
}
