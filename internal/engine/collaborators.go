package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/motorline/auction-engine/pkg/types"
)

// FraudDecision is the outcome of a risk evaluation for one bid.
type FraudDecision struct {
	Approved  bool
	RiskScore float64
}

// FraudService screens bidders before a bid is accepted. Called
// synchronously inside the auction gate with a bounded timeout; a timeout
// or error is treated as a security hold, never as approval.
type FraudService interface {
	Evaluate(ctx context.Context, bidderID string, amount decimal.Decimal, at time.Time) (FraudDecision, error)
}

// PaymentService authorizes funds for bids above the configured threshold
// and captures the winning authorization at settlement.
type PaymentService interface {
	Authorize(ctx context.Context, bidderID string, amount decimal.Decimal) (string, error)
	Capture(ctx context.Context, token string) error
}

// OrderService records the sale once a winner is resolved. Failures are
// reported to the caller; the engine never retries settlement on its own.
type OrderService interface {
	CreateOrder(ctx context.Context, auctionID, winnerID string, amount decimal.Decimal) (string, error)
}

// NotificationKind identifies why a user is being notified.
type NotificationKind string

const (
	NotifyOutbid           NotificationKind = "outbid"
	NotifyNewBid           NotificationKind = "new_bid"
	NotifyAuctionLive      NotificationKind = "auction_live"
	NotifyAuctionExtended  NotificationKind = "auction_extended"
	NotifyAuctionCancelled NotificationKind = "auction_cancelled"
	NotifyReserveNotMet    NotificationKind = "reserve_not_met"
	NotifyWon              NotificationKind = "won"
	NotifySold             NotificationKind = "sold"
	NotifyAutoBidLimit     NotificationKind = "auto_bid_limit"
)

// Notifier delivers user-facing messages. Fire-and-forget: implementations
// must not block, and the engine never calls it while holding a gate.
type Notifier interface {
	Notify(userID string, kind NotificationKind, message string)
}

// Catalog supplies the product snapshot at auction creation. The snapshot
// is never re-read afterwards.
type Catalog interface {
	Snapshot(ctx context.Context, productID string) (types.ProductSnapshot, error)
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts scheduling so tests can drive lifecycle transitions with
// a virtual clock instead of real waiting.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// NewClock returns the wall clock.
func NewClock() Clock { return realClock{} }
