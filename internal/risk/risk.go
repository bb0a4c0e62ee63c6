package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/motorline/auction-engine/internal/engine"
)

// Client screens bidders against the marketplace risk service. It
// implements engine.FraudService; the engine bounds every call with its
// external-call timeout, so the client carries no timeout of its own.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string) *Client {
	return &Client{url: url, http: &http.Client{}}
}

func (c *Client) Evaluate(ctx context.Context, bidderID string, amount decimal.Decimal, at time.Time) (engine.FraudDecision, error) {
	payload, err := json.Marshal(struct {
		BidderID string          `json:"bidderId"`
		Amount   decimal.Decimal `json:"amount"`
		At       time.Time       `json:"at"`
	}{bidderID, amount, at})
	if err != nil {
		return engine.FraudDecision{}, fmt.Errorf("risk: error encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return engine.FraudDecision{}, fmt.Errorf("risk: error building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return engine.FraudDecision{}, fmt.Errorf("risk: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return engine.FraudDecision{}, fmt.Errorf("risk: service returned %s", resp.Status)
	}

	var decision struct {
		Approved  bool    `json:"approved"`
		RiskScore float64 `json:"riskScore"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return engine.FraudDecision{}, fmt.Errorf("risk: error decoding response: %w", err)
	}
	return engine.FraudDecision{Approved: decision.Approved, RiskScore: decision.RiskScore}, nil
}
