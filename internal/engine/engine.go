package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/motorline/auction-engine/internal/database"
	"github.com/motorline/auction-engine/pkg/errors"
	"github.com/motorline/auction-engine/pkg/types"
)

// Config carries the engine's tunables.
type Config struct {
	// DefaultExtensionWindow and DefaultExtension apply to auctions
	// created without explicit anti-sniping settings.
	DefaultExtensionWindow time.Duration
	DefaultExtension       time.Duration

	// PaymentAuthThreshold is the amount at or above which a bid requires
	// an external payment authorization. Zero disables authorization.
	PaymentAuthThreshold decimal.Decimal

	// ExternalCallTimeout bounds fraud and payment calls made inside the
	// gate, so a slow collaborator delays bids on one auction only and
	// only briefly.
	ExternalCallTimeout time.Duration

	// EventBuffer is the default subscription buffer size.
	EventBuffer int
}

func (c *Config) fillDefaults() {
	if c.DefaultExtensionWindow <= 0 {
		c.DefaultExtensionWindow = 2 * time.Minute
	}
	if c.DefaultExtension <= 0 {
		c.DefaultExtension = 2 * time.Minute
	}
	if c.ExternalCallTimeout <= 0 {
		c.ExternalCallTimeout = 2 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
}

// Collaborators are the injected external services. Fraud, Payment,
// Orders, Notifier and Catalog may be nil, which disables the
// corresponding step.
type Collaborators struct {
	Fraud    FraudService
	Payment  PaymentService
	Orders   OrderService
	Notifier Notifier
	Catalog  Catalog
	Clock    Clock
}

// Engine is the real-time auction core. It owns the in-memory store of
// active auctions and serializes every mutation per auction through the
// store's gate. Construct one explicitly with New; there is no package
// singleton.
type Engine struct {
	cfg      Config
	db       database.Service
	payment  PaymentService
	orders   OrderService
	notifier Notifier
	catalog  Catalog
	clock    Clock

	store     *Store
	autobids  *autoBidBook
	validator *Validator
	sched     *scheduler
	events    *eventBus
}

func New(cfg Config, db database.Service, c Collaborators) *Engine {
	cfg.fillDefaults()
	if c.Clock == nil {
		c.Clock = NewClock()
	}
	e := &Engine{
		cfg:      cfg,
		db:       db,
		payment:  c.Payment,
		orders:   c.Orders,
		notifier: c.Notifier,
		catalog:  c.Catalog,
		clock:    c.Clock,

		store:     NewStore(),
		autobids:  newAutoBidBook(),
		validator: NewValidator(c.Fraud, cfg.ExternalCallTimeout),
		events:    newEventBus(),
	}
	e.sched = newScheduler(c.Clock,
		func(auctionID string) { e.fireStart(auctionID) },
		func(auctionID string) { e.fireEnd(auctionID) },
	)
	return e
}

// Start reconstructs the in-memory store from persistence and arms the
// lifecycle timers. Transitions that became overdue while the process was
// down fire immediately.
func (e *Engine) Start(ctx context.Context) error {
	auctions, err := e.db.LoadActiveAuctions(ctx)
	if err != nil {
		return fmt.Errorf("engine: failed to load active auctions: %w", err)
	}
	configs, err := e.db.LoadAutoBidConfigs(ctx)
	if err != nil {
		return fmt.Errorf("engine: failed to load auto-bid configs: %w", err)
	}

	for _, cfg := range configs {
		e.autobids.Put(cfg)
	}
	for _, a := range auctions {
		e.store.Add(a)
		switch a.Status {
		case types.StatusScheduled:
			e.sched.ScheduleStart(a.ID, a.StartTime)
		case types.StatusLive:
			e.sched.ScheduleEnd(a.ID, a.EndTime)
		}
	}
	log.Infof("Auction engine started with %d active auctions", len(auctions))
	return nil
}

// Close cancels all timers and closes the event stream. In-flight
// operations finish; no new transitions fire.
func (e *Engine) Close() {
	e.sched.Close()
	e.events.Close()
}

// SetNotifier installs the notification dispatcher. The transport usually
// depends on the engine too, so the notifier is attached after
// construction; call it before Start.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Subscribe attaches to the real-time change feed.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.events.Subscribe(e.cfg.EventBuffer)
}

// Auction returns a snapshot of one active auction.
func (e *Engine) Auction(auctionID string) (types.Auction, error) {
	a, ok := e.store.Snapshot(auctionID)
	if !ok {
		return types.Auction{}, errors.New(errors.ErrAuctionNotFound, "auction not found")
	}
	return a, nil
}

// ActiveAuctions returns snapshots of every scheduled and live auction.
func (e *Engine) ActiveAuctions() []types.Auction {
	return e.store.List()
}

// CreateParams describes a new auction. Zero anti-sniping settings fall
// back to the engine defaults.
type CreateParams struct {
	SellerID        string
	ProductID       string
	Type            types.AuctionType
	StartingPrice   decimal.Decimal
	ReservePrice    *decimal.Decimal
	BuyNowPrice     *decimal.Decimal
	IncrementAmount decimal.Decimal
	StartTime       time.Time
	EndTime         time.Time
	ExtensionWindow time.Duration
	Extension       time.Duration
}

// CreateAuction registers a new auction in scheduled state and arms its
// start timer. The product snapshot is fetched from the catalog once and
// never re-read.
func (e *Engine) CreateAuction(ctx context.Context, p CreateParams) (types.Auction, error) {
	if p.SellerID == "" || p.ProductID == "" {
		return types.Auction{}, errors.New(errors.ErrInvalidInput, "seller and product are required")
	}
	if p.Type == "" {
		p.Type = types.TypeEnglish
	}
	switch p.Type {
	case types.TypeEnglish, types.TypeDutch, types.TypeSealed, types.TypeVickrey:
	default:
		return types.Auction{}, errors.New(errors.ErrInvalidInput, "unknown auction type")
	}
	if !p.StartingPrice.IsPositive() {
		return types.Auction{}, errors.New(errors.ErrInvalidInput, "starting price must be positive")
	}
	if !p.IncrementAmount.IsPositive() {
		return types.Auction{}, errors.New(errors.ErrInvalidInput, "increment amount must be positive")
	}
	if !p.EndTime.After(p.StartTime) {
		return types.Auction{}, errors.New(errors.ErrInvalidInput, "end time must be after start time")
	}
	if p.BuyNowPrice != nil && p.BuyNowPrice.LessThanOrEqual(p.StartingPrice) {
		return types.Auction{}, errors.New(errors.ErrInvalidInput, "buy-now price must exceed the starting price")
	}
	if p.ExtensionWindow <= 0 {
		p.ExtensionWindow = e.cfg.DefaultExtensionWindow
	}
	if p.Extension <= 0 {
		p.Extension = e.cfg.DefaultExtension
	}

	product := types.ProductSnapshot{ProductID: p.ProductID}
	if e.catalog != nil {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.ExternalCallTimeout)
		snapshot, err := e.catalog.Snapshot(cctx, p.ProductID)
		cancel()
		if err != nil {
			return types.Auction{}, errors.Wrap(err, "failed to fetch product snapshot")
		}
		product = snapshot
	}

	now := e.clock.Now()
	a := types.Auction{
		ID:              uuid.NewString(),
		SellerID:        p.SellerID,
		Product:         product,
		Type:            p.Type,
		Status:          types.StatusScheduled,
		StartingPrice:   p.StartingPrice,
		CurrentPrice:    p.StartingPrice,
		ReservePrice:    p.ReservePrice,
		BuyNowPrice:     p.BuyNowPrice,
		IncrementAmount: p.IncrementAmount,
		StartTime:       p.StartTime,
		EndTime:         p.EndTime,
		ExtensionWindow: p.ExtensionWindow,
		Extension:       p.Extension,
		Watchers:        make(map[string]bool),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.db.InsertAuction(ctx, a); err != nil {
		return types.Auction{}, errors.Wrap(err, "failed to persist auction")
	}
	e.store.Add(a)
	e.sched.ScheduleStart(a.ID, a.StartTime)

	log.Debugf("Auction %s created for product %s, starts %s", a.ID, p.ProductID, a.StartTime)
	return a, nil
}

// Watch subscribes a user to auction notifications.
func (e *Engine) Watch(ctx context.Context, auctionID, userID string) error {
	if userID == "" {
		return errors.New(errors.ErrInvalidInput, "user is required")
	}
	return e.store.Update(auctionID, func(a *types.Auction) error {
		if a.Watchers[userID] {
			return nil
		}
		if a.Watchers == nil {
			a.Watchers = make(map[string]bool)
		}
		a.Watchers[userID] = true
		a.UpdatedAt = e.clock.Now()
		if err := e.db.UpdateAuction(ctx, *a); err != nil {
			return errors.Wrap(err, "failed to persist watcher")
		}
		return nil
	})
}

// Unwatch removes a user's subscription.
func (e *Engine) Unwatch(ctx context.Context, auctionID, userID string) error {
	return e.store.Update(auctionID, func(a *types.Auction) error {
		if !a.Watchers[userID] {
			return nil
		}
		delete(a.Watchers, userID)
		a.UpdatedAt = e.clock.Now()
		if err := e.db.UpdateAuction(ctx, *a); err != nil {
			return errors.Wrap(err, "failed to persist watcher removal")
		}
		return nil
	})
}

// ConfigureAutoBid creates or replaces a proxy-bid instruction and
// immediately lets it compete for the lead.
func (e *Engine) ConfigureAutoBid(ctx context.Context, auctionID, userID string, maxAmount decimal.Decimal, strategy types.IncrementStrategy) (types.AutoBidConfig, error) {
	if userID == "" {
		return types.AutoBidConfig{}, errors.New(errors.ErrInvalidInput, "user is required")
	}
	if !maxAmount.IsPositive() {
		return types.AutoBidConfig{}, errors.New(errors.ErrInvalidInput, "maximum amount must be positive")
	}
	if strategy == "" {
		strategy = types.StrategyMinimum
	}
	if strategy != types.StrategyMinimum && strategy != types.StrategyAggressive {
		return types.AutoBidConfig{}, errors.New(errors.ErrInvalidInput, "unknown increment strategy")
	}
	if _, ok := e.store.Snapshot(auctionID); !ok {
		return types.AutoBidConfig{}, errors.New(errors.ErrAuctionNotFound, "auction not found")
	}

	cfg := types.AutoBidConfig{
		AuctionID: auctionID,
		UserID:    userID,
		MaxAmount: maxAmount,
		Strategy:  strategy,
		IsActive:  true,
		CreatedAt: e.clock.Now(),
	}
	if err := e.db.SaveAutoBidConfig(ctx, cfg); err != nil {
		return types.AutoBidConfig{}, errors.Wrap(err, "failed to persist auto-bid config")
	}
	e.autobids.Put(cfg)

	e.runAutoBids(ctx, auctionID)
	return cfg, nil
}

// CancelAutoBid deactivates a user's proxy-bid instruction. Cancelling a
// configuration that does not exist is a caller bug.
func (e *Engine) CancelAutoBid(ctx context.Context, auctionID, userID string) error {
	cfg, ok := e.autobids.Get(auctionID, userID)
	if !ok || !cfg.IsActive {
		return errors.New(errors.ErrNoAutoBidConfig, "no active auto-bid configuration")
	}
	cfg, _ = e.autobids.Deactivate(auctionID, userID)
	if err := e.db.SaveAutoBidConfig(ctx, cfg); err != nil {
		return errors.Wrap(err, "failed to persist auto-bid cancellation")
	}
	return nil
}

// notify delivers a user notification outside the gate. Fire-and-forget:
// Notifier implementations must not block.
func (e *Engine) notify(userID string, kind NotificationKind, message string) {
	if e.notifier == nil || userID == "" {
		return
	}
	e.notifier.Notify(userID, kind, message)
}

// notifyWatchers fans a notification out to every watcher except one.
func (e *Engine) notifyWatchers(a types.Auction, exclude string, kind NotificationKind, message string) {
	for userID := range a.Watchers {
		if userID == exclude {
			continue
		}
		e.notify(userID, kind, message)
	}
}
