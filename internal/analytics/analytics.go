package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/segmentio/kafka-go"

	"github.com/motorline/auction-engine/internal/engine"
)

// Sink forwards the engine's change feed to Kafka so the analytics
// pipeline observes auction state without polling. Keyed by auction id,
// so one auction's events land on one partition in order.
type Sink struct {
	w *kafka.Writer
}

func NewSink(brokers []string, topic string) *Sink {
	return &Sink{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
			WriteTimeout: 5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (s *Sink) Close() error { return s.w.Close() }

// Run drains the event stream until the context is cancelled or the
// stream closes. Delivery is best-effort: a failed write is logged and
// dropped, never retried against the engine.
func (s *Sink) Run(ctx context.Context, events <-chan engine.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			value, err := json.Marshal(ev)
			if err != nil {
				log.Error("Error marshalling analytics event", "error", err)
				continue
			}
			err = s.w.WriteMessages(ctx, kafka.Message{
				Key:   []byte(ev.AuctionID),
				Value: value,
			})
			if err != nil {
				log.Warnf("Analytics write failed for auction %s: %v", ev.AuctionID, err)
			}
		}
	}
}
