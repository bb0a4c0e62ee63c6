package engine

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/motorline/auction-engine/pkg/errors"
	"github.com/motorline/auction-engine/pkg/types"
)

// errNoTransition marks a timer firing against an auction that already
// left the expected state, e.g. an end timer racing a buy-now purchase.
var errNoTransition = stderrors.New("transition no longer applicable")

// fireStart is the scheduler callback for scheduled -> live.
func (e *Engine) fireStart(auctionID string) {
	if err := e.transitionToLive(context.Background(), auctionID); err != nil {
		if stderrors.Is(err, errNoTransition) || errors.Is(err, errors.ErrAuctionNotFound) {
			return
		}
		log.Error("Failed to open auction", "auction", auctionID, "error", err)
	}
}

// fireEnd is the scheduler callback for live -> ended.
func (e *Engine) fireEnd(auctionID string) {
	// Stop cannot retract a timer that already fired; a superseded timer
	// may still land here. The persisted deadline wins.
	if a, ok := e.store.Snapshot(auctionID); ok && e.clock.Now().Before(a.EndTime) {
		e.sched.ScheduleEnd(auctionID, a.EndTime)
		return
	}
	if _, err := e.transitionToEnded(context.Background(), auctionID); err != nil {
		if stderrors.Is(err, errNoTransition) || errors.Is(err, errors.ErrAuctionNotFound) {
			return
		}
		// Settlement and persistence failures surface here for the
		// operator; the engine never retries them on its own.
		log.Error("Failed to end auction", "auction", auctionID, "error", err)
	}
}

func (e *Engine) transitionToLive(ctx context.Context, auctionID string) error {
	var snapshot types.Auction
	err := e.store.Update(auctionID, func(a *types.Auction) error {
		if a.Status != types.StatusScheduled {
			return errNoTransition
		}
		a.Status = types.StatusLive
		a.UpdatedAt = e.clock.Now()
		if err := e.db.UpdateAuction(ctx, *a); err != nil {
			return errors.Wrap(err, "failed to persist live transition")
		}
		// Armed under the gate: a bid that extends the auction right after
		// it opens cannot be out-scheduled by this older deadline.
		e.sched.ScheduleEnd(a.ID, a.EndTime)
		snapshot = a.Clone()
		return nil
	})
	if err != nil {
		return err
	}

	e.events.Publish(Event{
		Kind:      EventAuctionLive,
		AuctionID: auctionID,
		At:        e.clock.Now(),
		Auction:   &snapshot,
	})
	e.notifyWatchers(snapshot, "", NotifyAuctionLive,
		fmt.Sprintf("bidding is open on %s", snapshot.Product.Title))
	log.Debugf("Auction %s is live until %s", auctionID, snapshot.EndTime)
	return nil
}

func (e *Engine) transitionToEnded(ctx context.Context, auctionID string) (types.Auction, error) {
	var snapshot types.Auction
	err := e.store.Update(auctionID, func(a *types.Auction) error {
		if a.Status != types.StatusLive {
			return errNoTransition
		}
		a.Status = types.StatusEnded
		if winnerID := resolveWinner(a); winnerID != "" {
			a.WinnerID = &winnerID
		}
		a.UpdatedAt = e.clock.Now()
		if err := e.db.UpdateAuction(ctx, *a); err != nil {
			return errors.Wrap(err, "failed to persist end transition")
		}
		snapshot = a.Clone()
		return nil
	})
	if err != nil {
		return types.Auction{}, err
	}

	if err := e.finishAuction(ctx, snapshot); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

// EndAuction ends a live auction immediately by operator action.
// Settlement failures are returned alongside the final auction state.
func (e *Engine) EndAuction(ctx context.Context, auctionID string) (types.Auction, error) {
	a, err := e.transitionToEnded(ctx, auctionID)
	if stderrors.Is(err, errNoTransition) {
		return types.Auction{}, errors.New(errors.ErrAuctionNotActive, "auction is not live")
	}
	return a, err
}

// CancelAuction cancels a scheduled or live auction. An auction that has
// collected bids must not be cancelled: that is a caller-checked
// precondition and violating it is an error, not a silent no-op.
func (e *Engine) CancelAuction(ctx context.Context, auctionID string) error {
	var snapshot types.Auction
	err := e.store.Update(auctionID, func(a *types.Auction) error {
		if len(a.Bids) > 0 {
			return errors.New(errors.ErrAuctionHasBids, "an auction with bids cannot be cancelled")
		}
		a.Status = types.StatusCancelled
		a.UpdatedAt = e.clock.Now()
		if err := e.db.UpdateAuction(ctx, *a); err != nil {
			return errors.Wrap(err, "failed to persist cancellation")
		}
		snapshot = a.Clone()
		return nil
	})
	if err != nil {
		return err
	}

	e.sched.Cancel(auctionID)
	e.store.Evict(auctionID)
	e.autobids.DropAuction(auctionID)

	e.events.Publish(Event{
		Kind:      EventAuctionCancelled,
		AuctionID: auctionID,
		At:        e.clock.Now(),
		Auction:   &snapshot,
	})
	e.notifyWatchers(snapshot, "", NotifyAuctionCancelled,
		fmt.Sprintf("the auction for %s was cancelled", snapshot.Product.Title))
	log.Infof("Auction %s cancelled", auctionID)
	return nil
}
