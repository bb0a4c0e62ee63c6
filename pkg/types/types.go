package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the lifecycle state of an auction.
// Transitions: scheduled -> live -> ended | cancelled.
type AuctionStatus string

const (
	StatusScheduled AuctionStatus = "scheduled"
	StatusLive      AuctionStatus = "live"
	StatusEnded     AuctionStatus = "ended"
	StatusCancelled AuctionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s AuctionStatus) Terminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// AuctionType selects the bidding format. Only english ascending-bid
// auctions are resolvable by the engine; the other formats are stored
// but bids against them are rejected.
type AuctionType string

const (
	TypeEnglish AuctionType = "english"
	TypeDutch   AuctionType = "dutch"
	TypeSealed  AuctionType = "sealed"
	TypeVickrey AuctionType = "vickrey"
)

// IncrementStrategy controls how an auto-bid config advances the price.
type IncrementStrategy string

const (
	StrategyMinimum    IncrementStrategy = "minimum"    // currentPrice + 1 increment
	StrategyAggressive IncrementStrategy = "aggressive" // currentPrice + 2 increments
)

// ProductSnapshot is the read-only view of the vehicle being auctioned,
// fetched from the catalog once at auction creation and never re-read.
type ProductSnapshot struct {
	ProductID    string `json:"productId"`
	Title        string `json:"title"`
	Mileage      int    `json:"mileage"`
	FuelType     string `json:"fuelType"`
	Transmission string `json:"transmission"`
	CarBody      string `json:"carBody"`
	Color        string `json:"color"`
	Doors        int    `json:"doors"`
	Seats        int    `json:"seats"`
}

// Auction is the authoritative record of one sale. While the auction is
// scheduled or live the in-memory store owns it exclusively; every field
// mutation goes through the per-auction gate.
type Auction struct {
	ID       string          `json:"id"`
	SellerID string          `json:"sellerId"`
	Product  ProductSnapshot `json:"product"`
	Type     AuctionType     `json:"type"`
	Status   AuctionStatus   `json:"status"`

	StartingPrice   decimal.Decimal  `json:"startingPrice"`
	CurrentPrice    decimal.Decimal  `json:"currentPrice"`
	ReservePrice    *decimal.Decimal `json:"reservePrice,omitempty"`
	BuyNowPrice     *decimal.Decimal `json:"buyNowPrice,omitempty"`
	IncrementAmount decimal.Decimal  `json:"incrementAmount"`

	StartTime       time.Time     `json:"startDate"`
	EndTime         time.Time     `json:"endDate"`
	ExtensionWindow time.Duration `json:"extensionWindowSeconds"`
	Extension       time.Duration `json:"extensionSeconds"`

	// Bids is append-only, ordered by acceptance time.
	Bids         []Bid           `json:"bids"`
	HighestBidID string          `json:"highestBidId,omitempty"`
	BiddersCount int             `json:"biddersCount"`
	Watchers     map[string]bool `json:"watchers,omitempty"`
	WinnerID     *string         `json:"winnerId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HighestBid returns the most recently accepted bid, or nil if none.
func (a *Auction) HighestBid() *Bid {
	if a.HighestBidID == "" {
		return nil
	}
	for i := len(a.Bids) - 1; i >= 0; i-- {
		if a.Bids[i].ID == a.HighestBidID {
			return &a.Bids[i]
		}
	}
	return nil
}

// MinimumBid is the lowest amount the next ordinary bid may carry.
func (a *Auction) MinimumBid() decimal.Decimal {
	return a.CurrentPrice.Add(a.IncrementAmount)
}

// Clone returns a deep copy safe to mutate outside the gate.
func (a *Auction) Clone() Auction {
	c := *a
	c.Bids = append([]Bid(nil), a.Bids...)
	if a.Watchers != nil {
		c.Watchers = make(map[string]bool, len(a.Watchers))
		for id := range a.Watchers {
			c.Watchers[id] = a.Watchers[id]
		}
	}
	if a.ReservePrice != nil {
		v := *a.ReservePrice
		c.ReservePrice = &v
	}
	if a.BuyNowPrice != nil {
		v := *a.BuyNowPrice
		c.BuyNowPrice = &v
	}
	if a.WinnerID != nil {
		v := *a.WinnerID
		c.WinnerID = &v
	}
	return c
}

// Bid is an immutable accepted offer. Rejected bids are never stored.
type Bid struct {
	ID        string          `json:"id"`
	AuctionID string          `json:"auctionId"`
	BidderID  string          `json:"bidderId"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
	IsAutoBid bool            `json:"isAutoBid"`
	// MaxAutoBid mirrors the owning AutoBidConfig's ceiling at acceptance
	// time. Only set on auto-bids.
	MaxAutoBid *decimal.Decimal `json:"maxAutoBid,omitempty"`
	// PaymentToken is the external authorization reference for bids above
	// the payment threshold; captured at settlement.
	PaymentToken string `json:"paymentToken,omitempty"`
}

// AutoBidConfig is a standing proxy-bid instruction, keyed by
// (AuctionID, UserID). Deactivated by the engine once MaxAmount would be
// exceeded; never reactivated automatically.
type AutoBidConfig struct {
	AuctionID string            `json:"auctionId"`
	UserID    string            `json:"userId"`
	MaxAmount decimal.Decimal   `json:"maxAmount"`
	Strategy  IncrementStrategy `json:"incrementStrategy"`
	IsActive  bool              `json:"isActive"`
	CreatedAt time.Time         `json:"createdAt"`
}

// NextAmount computes the candidate bid for this config on top of the
// given current price.
func (c *AutoBidConfig) NextAmount(currentPrice, increment decimal.Decimal) decimal.Decimal {
	if c.Strategy == StrategyAggressive {
		return currentPrice.Add(increment).Add(increment)
	}
	return currentPrice.Add(increment)
}
