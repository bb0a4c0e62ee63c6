package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/motorline/auction-engine/pkg/errors"
	"github.com/motorline/auction-engine/pkg/types"
)

// bidOutcome collects everything the post-commit side effects need so
// they can run after the gate is released.
type bidOutcome struct {
	bid        types.Bid
	prevLeader string
	extended   bool
	snapshot   types.Auction
}

// PlaceBid runs an ordinary bid through validation and, on acceptance,
// resolves the auto-bid cascade it triggers. The returned bid is the
// caller's own; auto-bids placed in response are observable through the
// event stream.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (types.Bid, error) {
	if bidderID == "" {
		return types.Bid{}, errors.New(errors.ErrInvalidInput, "bidder is required")
	}
	bid, err := e.submitBid(ctx, auctionID, bidderID, amount, nil)
	if err != nil {
		return types.Bid{}, err
	}
	e.runAutoBids(ctx, auctionID)
	return bid, nil
}

// submitBid is the single gated path every bid takes, human or auto.
// Validation, payment authorization, the auction mutation and the durable
// write all happen while holding the auction's gate; the in-memory
// mutation commits only once persistence acknowledges.
func (e *Engine) submitBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, auto *types.AutoBidConfig) (types.Bid, error) {
	var out bidOutcome
	err := e.store.Update(auctionID, func(a *types.Auction) error {
		now := e.clock.Now()
		if err := e.validator.Validate(ctx, a, bidderID, amount, now); err != nil {
			return err
		}

		bid := types.Bid{
			ID:        uuid.NewString(),
			AuctionID: a.ID,
			BidderID:  bidderID,
			Amount:    amount,
			Timestamp: now,
			IsAutoBid: auto != nil,
		}
		if auto != nil {
			maxAmount := auto.MaxAmount
			bid.MaxAutoBid = &maxAmount
		}

		token, err := e.authorizePayment(ctx, bidderID, amount)
		if err != nil {
			return err
		}
		bid.PaymentToken = token

		if prev := a.HighestBid(); prev != nil {
			out.prevLeader = prev.BidderID
		}

		a.Bids = append(a.Bids, bid)
		a.CurrentPrice = amount
		a.HighestBidID = bid.ID
		a.BiddersCount++
		a.UpdatedAt = now

		// Anti-sniping: a bid landing inside the extension window pushes
		// the end time out. No cap on the number of extensions.
		if a.EndTime.Sub(now) < a.ExtensionWindow {
			a.EndTime = a.EndTime.Add(a.Extension)
			out.extended = true
		}

		if err := e.db.CommitBid(ctx, *a, bid); err != nil {
			return errors.Wrap(err, "failed to persist bid")
		}

		// Re-armed while the gate is still held: racing extensions replace
		// the timer in commit order, so the latest deadline always wins.
		if out.extended {
			e.sched.ScheduleEnd(a.ID, a.EndTime)
		}

		out.bid = bid
		out.snapshot = a.Clone()
		return nil
	})
	if err != nil {
		return types.Bid{}, err
	}

	e.events.Publish(Event{
		Kind:      EventBidAccepted,
		AuctionID: auctionID,
		At:        out.bid.Timestamp,
		Auction:   &out.snapshot,
		Bid:       &out.bid,
	})
	if out.extended {
		e.events.Publish(Event{
			Kind:      EventAuctionExtended,
			AuctionID: auctionID,
			At:        out.bid.Timestamp,
			Auction:   &out.snapshot,
		})
		e.notifyWatchers(out.snapshot, bidderID, NotifyAuctionExtended,
			fmt.Sprintf("auction for %s was extended to %s", out.snapshot.Product.Title, out.snapshot.EndTime.Format("15:04:05")))
	}
	if out.prevLeader != "" && out.prevLeader != bidderID {
		e.notify(out.prevLeader, NotifyOutbid, fmt.Sprintf("you have been outbid, the price is now %s", out.bid.Amount))
	}
	e.notifyWatchers(out.snapshot, bidderID, NotifyNewBid,
		fmt.Sprintf("new bid of %s on %s", out.bid.Amount, out.snapshot.Product.Title))

	return out.bid, nil
}

// BuyNow ends the auction immediately at the buy-now price. The purchase
// is recorded as a synthetic bid and the buyer becomes the winner with no
// reserve evaluation: the buy-now price satisfies the seller's minimum by
// construction.
func (e *Engine) BuyNow(ctx context.Context, auctionID, buyerID string) (types.Auction, error) {
	if buyerID == "" {
		return types.Auction{}, errors.New(errors.ErrInvalidInput, "buyer is required")
	}

	var snapshot types.Auction
	err := e.store.Update(auctionID, func(a *types.Auction) error {
		now := e.clock.Now()
		if a.Status != types.StatusLive {
			return errors.New(errors.ErrAuctionNotActive, "auction is not active")
		}
		if a.BuyNowPrice == nil {
			return errors.New(errors.ErrBuyNowUnavailable, "auction has no buy-now price")
		}
		if highest := a.HighestBid(); highest != nil && highest.BidderID == buyerID {
			return errors.New(errors.ErrInvalidInput, "you already hold the highest bid")
		}

		price := *a.BuyNowPrice
		bid := types.Bid{
			ID:        uuid.NewString(),
			AuctionID: a.ID,
			BidderID:  buyerID,
			Amount:    price,
			Timestamp: now,
		}
		token, err := e.authorizePayment(ctx, buyerID, price)
		if err != nil {
			return err
		}
		bid.PaymentToken = token

		winner := buyerID
		a.Bids = append(a.Bids, bid)
		a.CurrentPrice = price
		a.HighestBidID = bid.ID
		a.BiddersCount++
		a.Status = types.StatusEnded
		a.WinnerID = &winner
		a.UpdatedAt = now

		if err := e.db.CommitBid(ctx, *a, bid); err != nil {
			return errors.Wrap(err, "failed to persist buy-now purchase")
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

// authorizePayment obtains an external authorization for amounts at or
// above the configured threshold. Made inside the gate with a bounded
// timeout; a failure or timeout rejects the bid as a security hold rather
// than leaving it pending.
func (e *Engine) authorizePayment(ctx context.Context, bidderID string, amount decimal.Decimal) (string, error) {
	if e.payment == nil || !e.cfg.PaymentAuthThreshold.IsPositive() || amount.LessThan(e.cfg.PaymentAuthThreshold) {
		return "", nil
	}
	pctx, cancel := context.WithTimeout(ctx, e.cfg.ExternalCallTimeout)
	defer cancel()
	token, err := e.payment.Authorize(pctx, bidderID, amount)
	if err != nil {
		return "", errors.New(errors.ErrSecurityHold, "bid placed on security hold")
	}
	return token, nil
}
