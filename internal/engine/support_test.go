package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/motorline/auction-engine/pkg/types"
)

// fakeClock is a virtual clock. Advance moves time forward and fires due
// timers synchronously, so lifecycle tests assert exact extension and
// expiry behavior without real waiting.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 {
		d = 0
	}
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and fires every due timer in deadline order.
// Callbacks run on the caller's goroutine and may arm new timers, which
// fire too if already due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		t := c.takeNextDue()
		if t == nil {
			return
		}
		t.fn()
	}
}

func (c *fakeClock) takeNextDue() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due *fakeTimer
	for _, t := range c.timers {
		if t.stopped || t.at.After(c.now) {
			continue
		}
		if due == nil || t.at.Before(due.at) {
			due = t
		}
	}
	if due != nil {
		due.stopped = true
	}
	return due
}

// fakeDB is an in-memory stand-in for the persistent store. failNext
// makes the next write fail once, for rollback tests.
type fakeDB struct {
	mu       sync.Mutex
	auctions map[string]types.Auction
	bids     []types.Bid
	configs  map[string]types.AutoBidConfig
	failNext error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		auctions: make(map[string]types.Auction),
		configs:  make(map[string]types.AutoBidConfig),
	}
}

func (f *fakeDB) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

func (f *fakeDB) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeDB) Health() map[string]string { return map[string]string{"status": "up"} }
func (f *fakeDB) Close() error              { return nil }

func (f *fakeDB) LoadActiveAuctions(context.Context) ([]types.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Auction
	for _, a := range f.auctions {
		if !a.Status.Terminal() {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (f *fakeDB) LoadAutoBidConfigs(context.Context) ([]types.AutoBidConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.AutoBidConfig
	for _, c := range f.configs {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeDB) InsertAuction(_ context.Context, a types.Auction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.auctions[a.ID] = a.Clone()
	return nil
}

func (f *fakeDB) UpdateAuction(_ context.Context, a types.Auction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.auctions[a.ID] = a.Clone()
	return nil
}

func (f *fakeDB) CommitBid(_ context.Context, a types.Auction, b types.Bid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.auctions[a.ID] = a.Clone()
	f.bids = append(f.bids, b)
	return nil
}

func (f *fakeDB) SaveAutoBidConfig(_ context.Context, c types.AutoBidConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.configs[c.AuctionID+"/"+c.UserID] = c
	return nil
}

func (f *fakeDB) auction(id string) (types.Auction, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auctions[id]
	return a, ok
}

func (f *fakeDB) allBids() []types.Bid {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Bid(nil), f.bids...)
}

func (f *fakeDB) config(auctionID, userID string) (types.AutoBidConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.configs[auctionID+"/"+userID]
	return c, ok
}

type fakeFraud struct {
	mu       sync.Mutex
	approved bool
	err      error
	block    bool
	calls    int
}

func approveAll() *fakeFraud { return &fakeFraud{approved: true} }

func (f *fakeFraud) Evaluate(ctx context.Context, _ string, _ decimal.Decimal, _ time.Time) (FraudDecision, error) {
	f.mu.Lock()
	f.calls++
	block, approved, err := f.block, f.approved, f.err
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return FraudDecision{}, ctx.Err()
	}
	return FraudDecision{Approved: approved, RiskScore: 0.1}, err
}

type fakePayment struct {
	mu        sync.Mutex
	authErr   error
	captured  []string
	nextToken int
}

func (f *fakePayment) Authorize(_ context.Context, _ string, _ decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authErr != nil {
		return "", f.authErr
	}
	f.nextToken++
	return "tok-" + string(rune('0'+f.nextToken)), nil
}

func (f *fakePayment) Capture(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured = append(f.captured, token)
	return nil
}

type orderRecord struct {
	AuctionID string
	WinnerID  string
	Amount    decimal.Decimal
}

type fakeOrders struct {
	mu     sync.Mutex
	err    error
	orders []orderRecord
}

func (f *fakeOrders) CreateOrder(_ context.Context, auctionID, winnerID string, amount decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.orders = append(f.orders, orderRecord{AuctionID: auctionID, WinnerID: winnerID, Amount: amount})
	return "order-1", nil
}

func (f *fakeOrders) all() []orderRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orderRecord(nil), f.orders...)
}

type notification struct {
	UserID  string
	Kind    NotificationKind
	Message string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) Notify(userID string, kind NotificationKind, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{UserID: userID, Kind: kind, Message: message})
}

func (f *fakeNotifier) kindsFor(userID string) []NotificationKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []NotificationKind
	for _, n := range f.sent {
		if n.UserID == userID {
			out = append(out, n.Kind)
		}
	}
	return out
}

// testHarness bundles an engine with all of its fakes.
type testHarness struct {
	engine   *Engine
	db       *fakeDB
	clock    *fakeClock
	fraud    *fakeFraud
	payment  *fakePayment
	orders   *fakeOrders
	notifier *fakeNotifier
}

var testEpoch = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	h := &testHarness{
		db:       newFakeDB(),
		clock:    newFakeClock(testEpoch),
		fraud:    approveAll(),
		payment:  &fakePayment{},
		orders:   &fakeOrders{},
		notifier: &fakeNotifier{},
	}
	if cfg.ExternalCallTimeout == 0 {
		cfg.ExternalCallTimeout = 100 * time.Millisecond
	}
	h.engine = New(cfg, h.db, Collaborators{
		Fraud:    h.fraud,
		Payment:  h.payment,
		Orders:   h.orders,
		Notifier: h.notifier,
		Clock:    h.clock,
	})
	t.Cleanup(h.engine.Close)
	return h
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

// liveAuction creates an auction starting now and drives it live.
func (h *testHarness) liveAuction(t *testing.T, p CreateParams) types.Auction {
	t.Helper()
	if p.SellerID == "" {
		p.SellerID = "seller-1"
	}
	if p.ProductID == "" {
		p.ProductID = "car-1"
	}
	if p.StartTime.IsZero() {
		p.StartTime = h.clock.Now()
	}
	if p.EndTime.IsZero() {
		p.EndTime = p.StartTime.Add(10 * time.Minute)
	}
	a, err := h.engine.CreateAuction(context.Background(), p)
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	h.clock.Advance(0)
	live, err := h.engine.Auction(a.ID)
	if err != nil {
		t.Fatalf("Auction after start: %v", err)
	}
	return live
}
