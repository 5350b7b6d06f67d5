package nlp

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/soundprediction/anamnesis/pkg/types"
)

// BreakerConfig tunes the circuit breaker around a Client.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval between counter resets while closed, in seconds.
	Interval int
	// Timeout before an open breaker probes again, in seconds.
	Timeout int
	// ReadyToTripRatio is the failure ratio that opens the breaker.
	ReadyToTripRatio float64
}

// DefaultBreakerConfig trips after 60% failures and probes again after
// half a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      2,
		Interval:         60,
		Timeout:          30,
		ReadyToTripRatio: 0.6,
	}
}

var _ Client = (*BreakerClient)(nil)

// BreakerClient wraps a Client with a circuit breaker so a failing
// provider sheds load fast instead of stalling every ingestion worker.
type BreakerClient struct {
	client Client
	cb     *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps client with a circuit breaker.
func NewBreakerClient(client Client, cfg BreakerConfig, logger *slog.Logger) *BreakerClient {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        "nlp-" + client.Model(),
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.Interval) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && ratio >= cfg.ReadyToTripRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("language model breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerClient{client: client, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Chat implements Client.
func (c *BreakerClient) Chat(ctx context.Context, messages []types.Message) (*Response, error) {
	resp, err := c.cb.Execute(func() (any, error) {
		return c.client.Chat(ctx, messages)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*Response), nil
}

// ChatStructured implements Client.
func (c *BreakerClient) ChatStructured(ctx context.Context, messages []types.Message, schema Schema, out any) (*Response, error) {
	resp, err := c.cb.Execute(func() (any, error) {
		return c.client.ChatStructured(ctx, messages, schema, out)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*Response), nil
}

// Model implements Client.
func (c *BreakerClient) Model() string { return c.client.Model() }

// Close implements Client.
func (c *BreakerClient) Close() error { return c.client.Close() }
