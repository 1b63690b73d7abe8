package vrf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/potwheel/potwheel/worker/pkg/metrics"
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Oracle Oracle

	// Fulfillment polling bounds for a single attempt.
	MaxPollAttempts int
	PollDelay       time.Duration

	// Outer workflow retry bounds. Backoff before retry n is
	// BackoffUnit * 2^n.
	MaxWorkflowAttempts int
	BackoffUnit         time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Oracle == nil {
		return errors.New("oracle is required")
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 30
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = 5 * time.Second
	}
	if cfg.MaxWorkflowAttempts <= 0 {
		cfg.MaxWorkflowAttempts = 3
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Client runs the commit/await/reveal/consume randomness protocol against an
// oracle, retrying the whole sequence with a fresh randomness account when
// any phase fails.
type Client struct {
	log *slog.Logger
	cfg Config
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (c *Client) newRound() *Round {
	return &Round{
		log:             c.log,
		oracle:          c.cfg.Oracle,
		clock:           c.cfg.Clock,
		maxPollAttempts: c.cfg.MaxPollAttempts,
		pollDelay:       c.cfg.PollDelay,
	}
}

// ExecuteWorkflow runs the full protocol and returns the decoded random
// integer. Each attempt uses a fresh randomness account; partially-committed
// accounts from failed attempts are abandoned, not reused. Exhausting the
// attempt budget is fatal for the caller's round.
func (c *Client) ExecuteWorkflow(ctx context.Context) (uint64, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxWorkflowAttempts; attempt++ {
		if attempt > 1 {
			backoff := c.cfg.BackoffUnit * (1 << uint(attempt))
			c.log.Info("vrf: retrying workflow", "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-c.cfg.Clock.After(backoff):
			}
		}

		result, err := c.runOnce(ctx)
		if err == nil {
			metrics.VRFAttemptTotal.WithLabelValues("success").Inc()
			return result, nil
		}
		metrics.VRFAttemptTotal.WithLabelValues("failure").Inc()

		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		lastErr = err
		c.log.Warn("vrf: workflow attempt failed", "attempt", attempt, "error", err)
	}

	return 0, fmt.Errorf("randomness workflow failed after %d attempts: %w", c.cfg.MaxWorkflowAttempts, lastErr)
}

func (c *Client) runOnce(ctx context.Context) (uint64, error) {
	round := c.newRound()

	if err := round.Commit(ctx); err != nil {
		return 0, err
	}
	if err := round.AwaitFulfillment(ctx); err != nil {
		return 0, err
	}
	if err := round.Reveal(ctx); err != nil {
		return 0, err
	}
	return round.Consume(ctx)
}
