package engine

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/motorline/auction-engine/pkg/errors"
	"github.com/motorline/auction-engine/pkg/types"
)

// autoBidBook holds the proxy-bid configurations per auction in creation
// order. Configs are mutated only by the engine itself, so the book mutex
// is the single writer guard.
type autoBidBook struct {
	mu        sync.Mutex
	byAuction map[string][]*types.AutoBidConfig
}

func newAutoBidBook() *autoBidBook {
	return &autoBidBook{byAuction: make(map[string][]*types.AutoBidConfig)}
}

// Put creates or replaces the config for (auctionID, userID). A replaced
// config keeps its original position so creation order stays stable.
func (b *autoBidBook) Put(cfg types.AutoBidConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	configs := b.byAuction[cfg.AuctionID]
	for i, existing := range configs {
		if existing.UserID == cfg.UserID {
			configs[i] = &cfg
			return
		}
	}
	b.byAuction[cfg.AuctionID] = append(configs, &cfg)
}

// Get returns a copy of the config for (auctionID, userID).
func (b *autoBidBook) Get(auctionID, userID string) (types.AutoBidConfig, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cfg := range b.byAuction[auctionID] {
		if cfg.UserID == userID {
			return *cfg, true
		}
	}
	return types.AutoBidConfig{}, false
}

// Deactivate marks the config inactive and returns the updated copy.
func (b *autoBidBook) Deactivate(auctionID, userID string) (types.AutoBidConfig, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cfg := range b.byAuction[auctionID] {
		if cfg.UserID == userID {
			cfg.IsActive = false
			return *cfg, true
		}
	}
	return types.AutoBidConfig{}, false
}

// ActiveOrdered returns copies of the active configs in creation order.
func (b *autoBidBook) ActiveOrdered(auctionID string) []types.AutoBidConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.AutoBidConfig
	for _, cfg := range b.byAuction[auctionID] {
		if cfg.IsActive {
			out = append(out, *cfg)
		}
	}
	return out
}

// DropAuction discards all configs once the auction is terminal.
func (b *autoBidBook) DropAuction(auctionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byAuction, auctionID)
}

// runAutoBids resolves the proxy-bid cascade for one auction. Each round
// re-reads the auction snapshot, finds the first active config that does
// not already hold the high bid and submits its candidate through the
// regular gated bid path. Deliberately iterative: a work loop instead of
// recursion keeps the call stack flat no matter how long two configs
// outbid each other. Termination: the price strictly increases every
// round and every config has a finite maximum.
func (e *Engine) runAutoBids(ctx context.Context, auctionID string) {
	for {
		snapshot, ok := e.store.Snapshot(auctionID)
		if !ok || snapshot.Status != types.StatusLive {
			return
		}

		// Proxy bids respond to competition; they never open the bidding.
		highest := snapshot.HighestBid()
		if highest == nil {
			return
		}
		leaderID := highest.BidderID

		acted := false
		for _, cfg := range e.autobids.ActiveOrdered(auctionID) {
			if cfg.UserID == leaderID {
				continue
			}

			candidate := cfg.NextAmount(snapshot.CurrentPrice, snapshot.IncrementAmount)
			if candidate.GreaterThan(cfg.MaxAmount) {
				e.deactivateAutoBid(ctx, auctionID, cfg.UserID)
				continue
			}

			_, err := e.submitBid(ctx, auctionID, cfg.UserID, candidate, &cfg)
			if err != nil {
				if errors.Is(err, errors.ErrBidTooLow) {
					// A competing bid landed between snapshot and submit;
					// the next round recomputes against the new price.
					acted = true
					break
				}
				log.Warnf("Auto-bid for user %s on auction %s rejected: %v", cfg.UserID, auctionID, err)
				continue
			}
			acted = true
			break
		}

		if !acted {
			return
		}
	}
}

// deactivateAutoBid retires a config whose maximum would be exceeded,
// persists the change and notifies the owner. The config is never
// resurrected automatically.
func (e *Engine) deactivateAutoBid(ctx context.Context, auctionID, userID string) {
	cfg, ok := e.autobids.Deactivate(auctionID, userID)
	if !ok {
		return
	}
	if err := e.db.SaveAutoBidConfig(ctx, cfg); err != nil {
		log.Error("Failed to persist auto-bid deactivation", "auction", auctionID, "user", userID, "error", err)
	}
	e.events.Publish(Event{
		Kind:      EventAutoBidDeactivated,
		AuctionID: auctionID,
		At:        e.clock.Now(),
		UserID:    userID,
	})
	e.notify(userID, NotifyAutoBidLimit, "your auto-bid limit has been reached and auto-bidding was turned off")
}
