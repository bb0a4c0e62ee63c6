package engine

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/motorline/auction-engine/pkg/types"
)

// EventKind labels a change-feed entry.
type EventKind string

const (
	EventAuctionLive        EventKind = "auction_live"
	EventBidAccepted        EventKind = "bid_accepted"
	EventAuctionExtended    EventKind = "auction_extended"
	EventAuctionEnded       EventKind = "auction_ended"
	EventAuctionCancelled   EventKind = "auction_cancelled"
	EventReserveNotMet      EventKind = "reserve_not_met"
	EventAutoBidDeactivated EventKind = "auto_bid_deactivated"
)

// Event is one entry of the real-time change feed. Every accepted
// mutation publishes exactly one auction-level event so subscribers (UI,
// analytics) observe state without polling.
type Event struct {
	Kind      EventKind      `json:"kind"`
	AuctionID string         `json:"auctionId"`
	At        time.Time      `json:"at"`
	Auction   *types.Auction `json:"auction,omitempty"`
	Bid       *types.Bid     `json:"bid,omitempty"`
	UserID    string         `json:"userId,omitempty"`
}

// eventBus fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event and a warning is
// logged, keeping the gate and the schedulers free of slow consumers.
type eventBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan Event)}
}

// Subscribe registers a buffered subscription. The returned cancel
// function unregisters and closes the channel.
func (b *eventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *eventBus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Warnf("Event subscriber %d is lagging, dropped %s for auction %s", id, ev.Kind, ev.AuctionID)
		}
	}
}

func (b *eventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
