package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/motorline/auction-engine/pkg/errors"
	"github.com/motorline/auction-engine/pkg/types"
)

type Message struct {
	Type string          `json:"type"` // Type of the message (e.g., "bid", "watch")
	Data json.RawMessage `json:"data"` // Payload of the message
}

// ParseMessage validates and parses incoming messages.
func ParseMessage(rawMessage []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(rawMessage, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// HandleMessage routes the message based on its type.
func (h *AuctionHandler) HandleMessage(client *Client, rawMessage []byte) {
	if !client.RateLimiter.Allow() {
		log.Warnf("Rate limit exceeded for client %s", client.ID)
		client.send([]byte(errors.New(errors.ErrInvalidInput, "Rate limit exceeded").ToJSON()))
		return
	}

	msg, err := ParseMessage(rawMessage)
	if err != nil {
		log.Infof("Invalid message from client %s: %v", client.ID, err)
		client.send([]byte(errors.New(errors.ErrBadMessageFormat, "Invalid message format").ToJSON()))
		return
	}

	switch msg.Type {
	case "join":
		log.Debugf("Client %s joined the auction feed", client.ID)
	case "bid":
		h.handleBidMessage(client, msg.Data)
	case "buy_now":
		h.handleBuyNowMessage(client, msg.Data)
	case "auto_bid":
		h.handleAutoBidMessage(client, msg.Data)
	case "cancel_auto_bid":
		h.handleCancelAutoBidMessage(client, msg.Data)
	case "watch":
		h.handleWatchMessage(client, msg.Data, true)
	case "unwatch":
		h.handleWatchMessage(client, msg.Data, false)
	default:
		log.Warnf("Unknown message type: %s", msg.Type)
		client.send([]byte(errors.New(errors.ErrUnknownMessageType, "Unknown message type").ToJSON()))
	}
}

// reject sends the rejection back to the client, keeping the engine's
// code and computed minimum intact for display.
func (c *Client) reject(err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.New(errors.ErrInternalServer, "Internal server error")
	}
	c.send([]byte(appErr.ToJSON()))
}

func (c *Client) reply(messageType string, payload any) {
	raw, err := json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}{messageType, payload})
	if err != nil {
		log.Error("Error marshalling reply", "error", err)
		return
	}
	c.send(raw)
}

func (h *AuctionHandler) handleBidMessage(client *Client, data []byte) {
	var bidMsg struct {
		AuctionID string      `json:"auction_id"`
		Amount    json.Number `json:"amount"`
	}
	if err := json.Unmarshal(data, &bidMsg); err != nil {
		client.send([]byte(errors.New(errors.ErrBadMessageFormat, "Invalid bid message").ToJSON()))
		return
	}
	amount, err := decimal.NewFromString(bidMsg.Amount.String())
	if err != nil {
		client.send([]byte(errors.New(errors.ErrBadMessageFormat, "Invalid bid amount").ToJSON()))
		return
	}

	bid, err := h.engine.PlaceBid(context.Background(), bidMsg.AuctionID, client.ID, amount)
	if err != nil {
		client.reject(err)
		return
	}
	client.reply("bid_accepted", bid)
}

func (h *AuctionHandler) handleBuyNowMessage(client *Client, data []byte) {
	var buyMsg struct {
		AuctionID string `json:"auction_id"`
	}
	if err := json.Unmarshal(data, &buyMsg); err != nil {
		client.send([]byte(errors.New(errors.ErrBadMessageFormat, "Invalid buy-now message").ToJSON()))
		return
	}

	auction, err := h.engine.BuyNow(context.Background(), buyMsg.AuctionID, client.ID)
	if err != nil {
		client.reject(err)
		return
	}
	client.reply("purchase_complete", auction)
}

func (h *AuctionHandler) handleAutoBidMessage(client *Client, data []byte) {
	var autoMsg struct {
		AuctionID string      `json:"auction_id"`
		MaxAmount json.Number `json:"max_amount"`
		Strategy  string      `json:"strategy"`
	}
	if err := json.Unmarshal(data, &autoMsg); err != nil {
		client.send([]byte(errors.New(errors.ErrBadMessageFormat, "Invalid auto-bid message").ToJSON()))
		return
	}
	maxAmount, err := decimal.NewFromString(autoMsg.MaxAmount.String())
	if err != nil {
		client.send([]byte(errors.New(errors.ErrBadMessageFormat, "Invalid auto-bid amount").ToJSON()))
		return
	}

	cfg, err := h.engine.ConfigureAutoBid(context.Background(), autoMsg.AuctionID, client.ID, maxAmount, types.IncrementStrategy(autoMsg.Strategy))
	if err != nil {
		client.reject(err)
		return
	}
	client.reply("auto_bid_configured", cfg)
}

func (h *AuctionHandler) handleCancelAutoBidMessage(client *Client, data []byte) {
	var cancelMsg struct {
		AuctionID string `json:"auction_id"`
	}
	if err := json.Unmarshal(data, &cancelMsg); err != nil {
		client.send([]byte(errors.New(errors.ErrBadMessageFormat, "Invalid cancel message").ToJSON()))
		return
	}

	if err := h.engine.CancelAutoBid(context.Background(), cancelMsg.AuctionID, client.ID); err != nil {
		client.reject(err)
		return
	}
	client.reply("auto_bid_cancelled", cancelMsg.AuctionID)
}

func (h *AuctionHandler) handleWatchMessage(client *Client, data []byte, watch bool) {
	var watchMsg struct {
		AuctionID string `json:"auction_id"`
	}
	if err := json.Unmarshal(data, &watchMsg); err != nil {
		client.send([]byte(errors.New(errors.ErrBadMessageFormat, "Invalid watch message").ToJSON()))
		return
	}

	var err error
	if watch {
		err = h.engine.Watch(context.Background(), watchMsg.AuctionID, client.ID)
	} else {
		err = h.engine.Unwatch(context.Background(), watchMsg.AuctionID, client.ID)
	}
	if err != nil {
		client.reject(err)
		return
	}
	if watch {
		client.reply("watching", watchMsg.AuctionID)
	} else {
		client.reply("unwatched", watchMsg.AuctionID)
	}
}
