//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"iter"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/domain/ports/adapter"
	"billing-service/internal/domain/ports/repository"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func rub(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newTestLogger creates a silent zerolog.Logger for use in tests.
// It writes to io.Discard to prevent logs from cluttering test output.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func monthlyPlan(id int64, recurring bool) *model.Plan {
	p, err := model.NewPlan(id, "basic", 1, model.DurationUnitMonth, recurring,
		model.Price{ID: id, PlanID: id, Currency: model.CurrencyRUB, Amount: rub("300")})
	if err != nil {
		panic(err)
	}
	return p
}

// =============================
// Repositories
// =============================

// ---- Payments ----

type MockPaymentRepo struct {
	mu     sync.Mutex
	nextID int64
	data   map[int64]*model.Payment

	UpdateFunc         func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	UpdateStatusIfFunc func(ctx context.Context, tx repository.Tx, id int64, from []model.PaymentStatus, to model.PaymentStatus) (bool, error)
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{data: map[int64]*model.Payment{}}
}

// Seed stores p as is and returns its id.
func (r *MockPaymentRepo) Seed(p *model.Payment) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	cp := *p
	r.data[p.ID] = &cp
	return p.ID
}

func (r *MockPaymentRepo) All() []*model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Payment, 0, len(r.data))
	for _, p := range r.data {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MockPaymentRepo) Get(id int64) *model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (r *MockPaymentRepo) extTakenLocked(ext *string, self int64) bool {
	if ext == nil {
		return false
	}
	for id, p := range r.data {
		if id != self && p.ExternalPaymentID != nil && *p.ExternalPaymentID == *ext {
			return true
		}
	}
	return false
}

func (r *MockPaymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.extTakenLocked(p.ExternalPaymentID, 0) {
		return domain.ErrAlreadyExists
	}
	r.nextID++
	p.ID = r.nextID
	cp := *p
	r.data[p.ID] = &cp
	return nil
}

func (r *MockPaymentRepo) Update(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.UpdateFunc != nil {
		return r.UpdateFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[p.ID]; !ok {
		return domain.ErrNotFound
	}
	if r.extTakenLocked(p.ExternalPaymentID, p.ID) {
		return domain.ErrAlreadyExists
	}
	cp := *p
	r.data[p.ID] = &cp
	return nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Payment, error) {
	if p := r.Get(id); p != nil {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.ExternalPaymentID != nil && *p.ExternalPaymentID == externalID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) match(p *model.Payment, f repository.PaymentFilter) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, p.Status) {
		return false
	}
	if f.ProviderID != 0 && p.PaymentProviderID != f.ProviderID {
		return false
	}
	if !f.CreatedFrom.IsZero() && p.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && !p.CreatedAt.Before(f.CreatedTo) {
		return false
	}
	return true
}

func (r *MockPaymentRepo) List(ctx context.Context, tx repository.Tx, f repository.PaymentFilter) ([]*model.Payment, error) {
	var out []*model.Payment
	for _, p := range r.All() {
		if r.match(p, f) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *MockPaymentRepo) ListExternalIDs(ctx context.Context, tx repository.Tx, f repository.PaymentFilter) ([]string, error) {
	ps, _ := r.List(ctx, tx, f)
	var out []string
	for _, p := range ps {
		if p.ExternalPaymentID != nil {
			out = append(out, *p.ExternalPaymentID)
		}
	}
	return out, nil
}

func (r *MockPaymentRepo) UpdateStatusIf(ctx context.Context, tx repository.Tx, id int64, from []model.PaymentStatus, to model.PaymentStatus) (bool, error) {
	if r.UpdateStatusIfFunc != nil {
		return r.UpdateStatusIfFunc(ctx, tx, id, from, to)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !slices.Contains(from, p.Status) {
		return false, nil
	}
	p.Status = to
	return true, nil
}

func (r *MockPaymentRepo) FindLastSucceededBySubscription(ctx context.Context, tx repository.Tx, subscriptionID int64) (*model.Payment, error) {
	var last *model.Payment
	for _, p := range r.All() {
		if p.SubscriptionID != nil && *p.SubscriptionID == subscriptionID &&
			p.Status == model.PaymentStatusSucceeded && p.PaymentMethodID != nil {
			if last == nil || !p.CreatedAt.Before(last.CreatedAt) {
				last = p
			}
		}
	}
	if last == nil {
		return nil, domain.ErrNotFound
	}
	return last, nil
}

func (r *MockPaymentRepo) FindLatestRenewal(ctx context.Context, tx repository.Tx, subscriptionID int64, since time.Time) (*model.Payment, error) {
	var last *model.Payment
	for _, p := range r.All() {
		if p.SubscriptionID != nil && *p.SubscriptionID == subscriptionID && !p.CreatedAt.Before(since) {
			if last == nil || p.ID > last.ID {
				last = p
			}
		}
	}
	if last == nil {
		return nil, domain.ErrNotFound
	}
	return last, nil
}

func (r *MockPaymentRepo) hasFinalRenewal(subscriptionID int64, since time.Time) bool {
	for _, p := range r.All() {
		if p.SubscriptionID == nil || *p.SubscriptionID != subscriptionID || p.CreatedAt.Before(since) {
			continue
		}
		if p.Status != model.PaymentStatusCreated && p.Status != model.PaymentStatusPending {
			return true
		}
	}
	return false
}

// ---- Subscriptions ----

type MockSubscriptionRepo struct {
	mu     sync.Mutex
	nextID int64
	data   map[int64]*model.Subscription
	locked []string

	// Plans and Payments back ListRenewalDue the way the SQL join does.
	Plans    *MockPlanRepo
	Payments *MockPaymentRepo

	ListRenewalDueFunc func(ctx context.Context, cutoff time.Time, limit int) ([]*model.Subscription, error)
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{data: map[int64]*model.Subscription{}}
}

func (r *MockSubscriptionRepo) Seed(s *model.Subscription) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	cp := *s
	r.data[s.ID] = &cp
	return s.ID
}

func (r *MockSubscriptionRepo) Get(id int64) *model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.data[id]; ok {
		cp := *s
		return &cp
	}
	return nil
}

func (r *MockSubscriptionRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// activeTakenLocked mirrors the unique partial index on (user_id) WHERE status = 'active'.
func (r *MockSubscriptionRepo) activeTakenLocked(s *model.Subscription) bool {
	if s.Status != model.SubscriptionStatusActive {
		return false
	}
	for id, o := range r.data {
		if id != s.ID && o.UserID == s.UserID && o.Status == model.SubscriptionStatusActive {
			return true
		}
	}
	return false
}

func (r *MockSubscriptionRepo) Create(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeTakenLocked(s) {
		return domain.ErrAlreadyExists
	}
	r.nextID++
	s.ID = r.nextID
	cp := *s
	r.data[s.ID] = &cp
	return nil
}

func (r *MockSubscriptionRepo) Update(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[s.ID]; !ok {
		return domain.ErrNotFound
	}
	if r.activeTakenLocked(s) {
		return domain.ErrAlreadyExists
	}
	cp := *s
	r.data[s.ID] = &cp
	return nil
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Subscription, error) {
	if s := r.Get(id); s != nil {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.data {
		if s.UserID == userID && s.Status == model.SubscriptionStatusActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) ListActiveEndedBefore(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.data {
		if s.Status == model.SubscriptionStatusActive && !s.EndedAt.After(cutoff) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.Before(out[j].EndedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockSubscriptionRepo) ListRenewalDue(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Subscription, error) {
	if r.ListRenewalDueFunc != nil {
		return r.ListRenewalDueFunc(ctx, cutoff, limit)
	}
	due, err := r.ListActiveEndedBefore(ctx, tx, cutoff, 0)
	if err != nil {
		return nil, err
	}
	var out []*model.Subscription
	for _, s := range due {
		if r.Plans != nil {
			plan, err := r.Plans.FindByID(ctx, tx, s.PlanID)
			if err != nil || !plan.IsRecurring {
				continue
			}
		}
		if r.Payments != nil && r.Payments.hasFinalRenewal(s.ID, s.EndedAt) {
			continue
		}
		out = append(out, s)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockSubscriptionRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked = append(r.locked, userID)
	return nil
}

// ---- Plans & providers ----

type MockPlanRepo struct {
	mu    sync.Mutex
	plans map[int64]*model.Plan
}

var _ repository.PlanRepository = (*MockPlanRepo)(nil)

func NewMockPlanRepo(plans ...*model.Plan) *MockPlanRepo {
	r := &MockPlanRepo{plans: map[int64]*model.Plan{}}
	for _, p := range plans {
		r.plans[p.ID] = p
	}
	return r
}

func (r *MockPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type MockProviderRepo struct {
	providers map[int64]*model.PaymentProvider
}

var _ repository.PaymentProviderRepository = (*MockProviderRepo)(nil)

func NewMockProviderRepo(ps ...*model.PaymentProvider) *MockProviderRepo {
	r := &MockProviderRepo{providers: map[int64]*model.PaymentProvider{}}
	for _, p := range ps {
		r.providers[p.ID] = p
	}
	return r
}

func (r *MockProviderRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.PaymentProvider, error) {
	if p, ok := r.providers[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockProviderRepo) FindByName(ctx context.Context, tx repository.Tx, name string) (*model.PaymentProvider, error) {
	for _, p := range r.providers {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

// ---- Tx manager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// =============================
// Adapters
// =============================

// ---- Gateway ----

type MockGateway struct {
	mu       sync.Mutex
	payments map[string]*model.ProviderPayment
	byKey    map[string]*model.ProviderPayment
	seq      int

	GetErr     map[string]error
	ListErr    error
	CreateFunc func(p adapter.CreatePaymentParams, key string) (*model.ProviderPayment, error)

	Pages   int // number of listing pages served
	Gets    []string
	Creates []string // idempotency keys
}

var _ adapter.PaymentGateway = (*MockGateway)(nil)

func NewMockGateway() *MockGateway {
	return &MockGateway{
		payments: map[string]*model.ProviderPayment{},
		byKey:    map[string]*model.ProviderPayment{},
		GetErr:   map[string]error{},
	}
}

func (g *MockGateway) Name() string { return "mock" }

func (g *MockGateway) Put(pp *model.ProviderPayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[pp.ID] = pp
}

func (g *MockGateway) GetPayment(ctx context.Context, id string) (*model.ProviderPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Gets = append(g.Gets, id)
	if err := g.GetErr[id]; err != nil {
		return nil, err
	}
	pp, ok := g.payments[id]
	if !ok {
		return nil, &domain.ProviderError{Provider: "mock", Op: "get", StatusCode: 404, Err: domain.ErrNotFound}
	}
	cp := *pp
	return &cp, nil
}

func (g *MockGateway) ListPayments(ctx context.Context, p adapter.ListParams) iter.Seq2[*model.ProviderPayment, error] {
	return func(yield func(*model.ProviderPayment, error) bool) {
		g.mu.Lock()
		if g.ListErr != nil {
			g.mu.Unlock()
			yield(nil, g.ListErr)
			return
		}
		var all []*model.ProviderPayment
		for _, pp := range g.payments {
			if p.Status != "" && pp.Status != p.Status {
				continue
			}
			if !p.CreatedGTE.IsZero() && pp.CreatedAt.Before(p.CreatedGTE) {
				continue
			}
			if !p.CreatedLT.IsZero() && !pp.CreatedAt.Before(p.CreatedLT) {
				continue
			}
			cp := *pp
			all = append(all, &cp)
		}
		g.mu.Unlock()
		sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

		size := p.Limit
		if size <= 0 {
			size = len(all) + 1
		}
		for start := 0; start < len(all); start += size {
			g.mu.Lock()
			g.Pages++
			g.mu.Unlock()
			end := min(start+size, len(all))
			for _, pp := range all[start:end] {
				if !yield(pp, nil) {
					return
				}
			}
		}
	}
}

func (g *MockGateway) CreatePayment(ctx context.Context, p adapter.CreatePaymentParams, key string) (*model.ProviderPayment, error) {
	g.mu.Lock()
	g.Creates = append(g.Creates, key)
	if pp, ok := g.byKey[key]; ok {
		cp := *pp
		g.mu.Unlock()
		return &cp, nil
	}
	g.mu.Unlock()

	var pp *model.ProviderPayment
	if g.CreateFunc != nil {
		var err error
		if pp, err = g.CreateFunc(p, key); err != nil {
			return nil, err
		}
	} else {
		pp = &model.ProviderPayment{Status: model.PaymentStatusPending, ConfirmationURL: "https://pay.example/" + key}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if pp.ID == "" {
		g.seq++
		pp.ID = "ext-" + uuid.NewString()
	}
	if pp.Amount.IsZero() {
		pp.Amount = p.Amount
	}
	if pp.Currency == "" {
		pp.Currency = p.Currency
	}
	pp.Metadata = p.Metadata
	if pp.CreatedAt.IsZero() {
		pp.CreatedAt = testNow
	}
	if pp.PaymentMethodID == "" && p.PaymentMethodID != "" {
		pp.PaymentMethodID = p.PaymentMethodID
		pp.MethodSaved = true
	}
	g.payments[pp.ID] = pp
	g.byKey[key] = pp
	cp := *pp
	return &cp, nil
}

type MockGatewayRegistry struct {
	gw adapter.PaymentGateway
}

func (r MockGatewayRegistry) ForProvider(ctx context.Context, providerID int64) (adapter.PaymentGateway, error) {
	if r.gw == nil {
		return nil, domain.ErrProviderNotFound
	}
	return r.gw, nil
}

// ---- Idempotency cache ----

type MockCache struct {
	mu     sync.Mutex
	data   map[string]string
	GetErr error
}

var _ adapter.IdempotencyCache = (*MockCache)(nil)

func NewMockCache() *MockCache { return &MockCache{data: map[string]string{}} }

func (c *MockCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetErr != nil {
		return "", false, c.GetErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *MockCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
	Locks int
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrLockNotAcquired
	}
	tok := uuid.NewString()
	l.held[key] = tok
	l.Locks++
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return domain.ErrLockNotAcquired
}
