package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/potwheel/potwheel/worker/pkg/feeclaim"
	"github.com/potwheel/potwheel/worker/pkg/lottery"
	"github.com/potwheel/potwheel/worker/pkg/metrics"
	"github.com/potwheel/potwheel/worker/pkg/store"
)

// ClaimMonitor accumulates claimable fees into the pot.
type ClaimMonitor interface {
	CheckAndClaim(ctx context.Context) (feeclaim.Result, error)
}

// TraderSource returns the round's eligible traders with their volumes.
type TraderSource interface {
	TopTraders(ctx context.Context, marketID string) ([]lottery.TraderVolume, error)
}

// RandomnessSource runs the full commit/poll/reveal/consume workflow and
// returns one verified random value.
type RandomnessSource interface {
	ExecuteWorkflow(ctx context.Context) (uint64, error)
}

// PayoutRunner executes payout, swap, and burn for a decided winner. It owns
// round finalization through the shared RoundState.
type PayoutRunner interface {
	Run(ctx context.Context, winner string, potLamports uint64) (*lottery.Receipt, error)
}

// StatusStore mirrors the in-memory round state for external readers.
type StatusStore interface {
	UpsertStatus(ctx context.Context, status store.Status) error
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	MarketID     string
	TickInterval time.Duration

	State      *RoundState
	Claims     ClaimMonitor
	Traders    TraderSource
	Randomness RandomnessSource
	Payout     PayoutRunner
	Status     StatusStore
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.MarketID == "" {
		return errors.New("market id is required")
	}
	if cfg.State == nil {
		return errors.New("round state is required")
	}
	if cfg.Claims == nil {
		return errors.New("claim monitor is required")
	}
	if cfg.Traders == nil {
		return errors.New("trader source is required")
	}
	if cfg.Randomness == nil {
		return errors.New("randomness source is required")
	}
	if cfg.Payout == nil {
		return errors.New("payout runner is required")
	}
	if cfg.Status == nil {
		return errors.New("status store is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Engine drives the round lifecycle on a fixed tick: check and claim fees,
// and once the pot crosses the threshold, run one lottery round end to end.
type Engine struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Start ticks immediately and then on every interval until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.log.Info("engine: starting", "market", e.cfg.MarketID, "interval", e.cfg.TickInterval)

	e.safeTick(ctx)

	ticker := e.cfg.Clock.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine: stopping", "market", e.cfg.MarketID)
			return
		case <-ticker.Chan():
			e.safeTick(ctx)
		}
	}
}

// safeTick keeps a panicking collaborator from killing the scheduler loop.
func (e *Engine) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TickTotal.WithLabelValues("panic").Inc()
			e.log.Error("engine: tick panicked", "panic", r)
		}
	}()
	if err := e.Tick(ctx); err != nil {
		metrics.TickTotal.WithLabelValues("error").Inc()
		e.log.Error("engine: tick failed", "error", err)
		return
	}
	metrics.TickTotal.WithLabelValues("ok").Inc()
}

// Tick runs one scheduler pass. A tick that finds a round already in flight
// or a pot below threshold is a normal, successful tick.
func (e *Engine) Tick(ctx context.Context) error {
	if e.cfg.State.IsRunning() {
		e.log.Debug("engine: round in flight, skipping tick", "market", e.cfg.MarketID)
		return nil
	}

	result, err := e.cfg.Claims.CheckAndClaim(ctx)
	switch {
	case errors.Is(err, feeclaim.ErrNoPositions), errors.Is(err, feeclaim.ErrNoMatchingPositions):
		e.cfg.State.SetPot(0)
		e.mirrorStatus(ctx)
		e.log.Debug("engine: no claimable positions, pot reset", "market", e.cfg.MarketID)
		return nil
	case err != nil:
		e.mirrorStatus(ctx)
		return fmt.Errorf("claim check failed: %w", err)
	}

	e.cfg.State.SetPot(result.PotLamports)
	if !result.Proceed {
		e.mirrorStatus(ctx)
		e.log.Debug("engine: pot below threshold",
			"market", e.cfg.MarketID,
			"pot_lamports", result.PotLamports)
		return nil
	}

	if !e.cfg.State.Begin() {
		// The running check at the top makes this unreachable in the single
		// scheduler loop, but the guard is what the invariant rests on.
		e.mirrorStatus(ctx)
		return nil
	}
	e.mirrorStatus(ctx)

	start := e.cfg.Clock.Now()
	receipt, err := e.runRound(ctx, result.PotLamports)
	if err != nil {
		metrics.RoundTotal.WithLabelValues("failure").Inc()
		e.cfg.State.FinishRound()
		e.mirrorStatus(ctx)
		return err
	}
	if receipt == nil {
		// No eligible traders. The round never ran; the pot was reset.
		e.mirrorStatus(ctx)
		return nil
	}

	metrics.RoundTotal.WithLabelValues("success").Inc()
	metrics.RoundDuration.Observe(e.cfg.Clock.Since(start).Seconds())
	e.mirrorStatus(ctx)

	e.log.Info("engine: round complete",
		"market", e.cfg.MarketID,
		"winner", receipt.WinnerAddress,
		"pot_lamports", receipt.PotSizeLamports,
		"payout_tx", receipt.PayoutTxID,
		"burn_tx", receipt.BurnTxID)
	return nil
}

// runRound executes one round against a pot that already crossed the
// threshold. A nil receipt with a nil error means the round was abandoned
// because no traders were eligible.
func (e *Engine) runRound(ctx context.Context, potLamports uint64) (*lottery.Receipt, error) {
	traders, err := e.cfg.Traders.TopTraders(ctx, e.cfg.MarketID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch traders: %w", err)
	}
	if len(traders) == 0 {
		metrics.RoundTotal.WithLabelValues("no_traders").Inc()
		e.cfg.State.FinishRound()
		e.log.Warn("engine: no eligible traders, abandoning round", "market", e.cfg.MarketID)
		return nil, nil
	}

	randomValue, err := e.cfg.Randomness.ExecuteWorkflow(ctx)
	if err != nil {
		return nil, fmt.Errorf("randomness workflow failed: %w", err)
	}

	winner, err := lottery.SelectWinner(traders, randomValue)
	if err != nil {
		return nil, fmt.Errorf("winner selection failed: %w", err)
	}
	e.log.Info("engine: winner selected",
		"market", e.cfg.MarketID,
		"winner", winner.Trader.Wallet,
		"winner_index", winner.Index,
		"random_value", randomValue,
		"traders", len(traders))

	receipt, err := e.cfg.Payout.Run(ctx, winner.Trader.Wallet, potLamports)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// mirrorStatus pushes the current round state to the store. A mirror failure
// is logged but never fails the tick; the in-memory state stays authoritative.
func (e *Engine) mirrorStatus(ctx context.Context) {
	isRunning, pot := e.cfg.State.Snapshot()
	err := e.cfg.Status.UpsertStatus(ctx, store.Status{
		MarketID:        e.cfg.MarketID,
		IsRunning:       isRunning,
		PotSizeLamports: pot,
		UpdatedAt:       e.cfg.Clock.Now(),
	})
	if err != nil {
		e.log.Warn("engine: status mirror failed", "error", err)
	}
}
