package vrf

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/potwheel/potwheel/worker/pkg/metrics"
)

var (
	// ErrOracleTimeout is returned when fulfillment polling exhausts its
	// attempts without observing a result.
	ErrOracleTimeout = errors.New("oracle fulfillment timed out")

	// ErrEmptyResult is returned when a supposedly fulfilled round still has
	// an all-zero result buffer at consume time.
	ErrEmptyResult = errors.New("oracle result buffer is empty")
)

// Phase is the state of one randomness round attempt.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCommitting
	PhaseAwaitingFulfillment
	PhaseRevealing
	PhaseConsumed
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCommitting:
		return "committing"
	case PhaseAwaitingFulfillment:
		return "awaiting_fulfillment"
	case PhaseRevealing:
		return "revealing"
	case PhaseConsumed:
		return "consumed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Oracle drives the on-chain side of the randomness protocol. Each method is
// synchronous: transaction-submitting methods return only once the
// transaction is confirmed.
type Oracle interface {
	// CreateAccount creates and funds a fresh randomness account.
	CreateAccount(ctx context.Context) (solana.PublicKey, error)
	// Commit requests randomness for the account.
	Commit(ctx context.Context, account solana.PublicKey) error
	// RoundData returns the raw result buffer of the account's current round.
	RoundData(ctx context.Context, account solana.PublicKey) ([]byte, error)
	// Reveal settles the fulfilled round on-chain.
	Reveal(ctx context.Context, account solana.PublicKey) error
}

// Round is the transient state of a single randomness attempt:
// Idle -> Committing -> AwaitingFulfillment -> Revealing -> Consumed, with
// Failed terminal from any non-terminal phase. A Round is never reused; a
// failed attempt abandons its randomness account and the next attempt starts
// from a fresh one.
type Round struct {
	log    *slog.Logger
	oracle Oracle
	clock  clockwork.Clock

	maxPollAttempts int
	pollDelay       time.Duration

	phase   Phase
	account solana.PublicKey
	result  uint64
}

func (r *Round) Phase() Phase { return r.phase }

func (r *Round) fail(err error) error {
	r.phase = PhaseFailed
	return err
}

// Commit creates a fresh randomness account and issues the commit
// transaction.
func (r *Round) Commit(ctx context.Context) error {
	if r.phase != PhaseIdle {
		return r.fail(fmt.Errorf("commit called in phase %s", r.phase))
	}
	r.phase = PhaseCommitting

	account, err := r.oracle.CreateAccount(ctx)
	if err != nil {
		return r.fail(fmt.Errorf("failed to create randomness account: %w", err))
	}
	r.account = account

	if err := r.oracle.Commit(ctx, account); err != nil {
		return r.fail(fmt.Errorf("failed to commit randomness request: %w", err))
	}

	r.log.Debug("vrf: committed", "account", account.String())
	r.phase = PhaseAwaitingFulfillment
	return nil
}

// AwaitFulfillment polls the oracle's round data until a non-zero result
// buffer appears, bounded by maxPollAttempts with pollDelay between polls.
func (r *Round) AwaitFulfillment(ctx context.Context) error {
	if r.phase != PhaseAwaitingFulfillment {
		return r.fail(fmt.Errorf("await called in phase %s", r.phase))
	}

	for attempt := 1; attempt <= r.maxPollAttempts; attempt++ {
		metrics.OraclePollTotal.Inc()

		buf, err := r.oracle.RoundData(ctx, r.account)
		if err != nil {
			r.log.Debug("vrf: round data poll failed", "attempt", attempt, "error", err)
		} else if !allZero(buf) {
			r.log.Debug("vrf: fulfilled", "account", r.account.String(), "attempts", attempt)
			r.phase = PhaseRevealing
			return nil
		}

		select {
		case <-ctx.Done():
			return r.fail(ctx.Err())
		case <-r.clock.After(r.pollDelay):
		}
	}

	return r.fail(fmt.Errorf("%w: %s after %d polls", ErrOracleTimeout, r.account, r.maxPollAttempts))
}

// Reveal settles the round on-chain.
func (r *Round) Reveal(ctx context.Context) error {
	if r.phase != PhaseRevealing {
		return r.fail(fmt.Errorf("reveal called in phase %s", r.phase))
	}
	if err := r.oracle.Reveal(ctx, r.account); err != nil {
		return r.fail(fmt.Errorf("failed to reveal randomness: %w", err))
	}
	return nil
}

// Consume reads the fulfilled result buffer and decodes it into an integer.
// The oracle's result is wider than needed; the protocol truncates to the
// first 8 bytes.
func (r *Round) Consume(ctx context.Context) (uint64, error) {
	if r.phase != PhaseRevealing {
		return 0, r.fail(fmt.Errorf("consume called in phase %s", r.phase))
	}

	buf, err := r.oracle.RoundData(ctx, r.account)
	if err != nil {
		return 0, r.fail(fmt.Errorf("failed to read result buffer: %w", err))
	}
	if len(buf) < 8 || allZero(buf) {
		return 0, r.fail(ErrEmptyResult)
	}

	r.result = binary.LittleEndian.Uint64(buf[:8])
	r.phase = PhaseConsumed
	return r.result, nil
}

func allZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
