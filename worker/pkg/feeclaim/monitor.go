package feeclaim

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/potwheel/potwheel/worker/pkg/metrics"
)

var (
	// ErrNoPositions means the worker holds no claimable positions at all.
	ErrNoPositions = errors.New("no claimable positions")

	// ErrNoMatchingPositions means positions exist but none belong to the
	// configured market. Both conditions reset the pot: a stale position set
	// must not leave a non-zero pot lying around.
	ErrNoMatchingPositions = errors.New("no positions match market")
)

// TxSubmitter submits a signed transaction and waits for confirmation.
type TxSubmitter interface {
	WorkerPublicKey() solana.PublicKey
	SubmitAndConfirm(ctx context.Context, tx *solana.Transaction, extraSigners ...solana.PrivateKey) (solana.Signature, error)
}

// ClaimFailure records one claim transaction that could not be confirmed.
type ClaimFailure struct {
	Position Position
	Err      error
}

// Outcome is the typed result of the claim execution phase. Partial failure
// is deliberate policy: a failed claim transaction is skipped, not allowed to
// abort the remaining positions or the round.
type Outcome struct {
	Confirmed []solana.Signature
	Failed    []ClaimFailure
}

// Result is what one CheckAndClaim pass decided.
type Result struct {
	// Proceed is true when the pot crossed the threshold and claim execution
	// ran; the round should continue even if some sub-claims failed.
	Proceed bool

	// PotLamports is the computed pre-claim sum across matching positions.
	// It is recorded even below threshold for observability, and it is the
	// value the pot is set to when Proceed is true (not the amount actually
	// confirmed on-chain).
	PotLamports uint64

	Outcome Outcome
}

type MonitorConfig struct {
	Logger     *slog.Logger
	Source     PositionSource
	Chain      TxSubmitter
	MarketMint solana.PublicKey
	// Threshold is the minimum pot size in lamports that triggers a round.
	// The comparison is >=, not >.
	Threshold uint64
}

func (cfg *MonitorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("position source is required")
	}
	if cfg.Chain == nil {
		return errors.New("chain client is required")
	}
	if cfg.MarketMint.IsZero() {
		return errors.New("market mint is required")
	}
	if cfg.Threshold == 0 {
		return errors.New("threshold is required")
	}
	return nil
}

// Monitor discovers claimable fees for the configured market and executes
// claims once the accumulated sum reaches the threshold.
type Monitor struct {
	log *slog.Logger
	cfg MonitorConfig
}

func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// CheckAndClaim queries claimable positions, sums the claimable amounts for
// the market, and, if the sum reaches the threshold, submits and confirms
// each claim transaction independently. ErrNoPositions and
// ErrNoMatchingPositions tell the caller to reset the pot and skip the round;
// they are policy outcomes, not faults.
func (m *Monitor) CheckAndClaim(ctx context.Context) (Result, error) {
	owner := m.cfg.Chain.WorkerPublicKey()

	positions, err := m.cfg.Source.ListClaimablePositions(ctx, owner)
	if err != nil {
		return Result{}, err
	}
	if len(positions) == 0 {
		return Result{}, ErrNoPositions
	}

	matching := positions[:0:0]
	for _, pos := range positions {
		if pos.TokenMint == m.cfg.MarketMint {
			matching = append(matching, pos)
		}
	}
	if len(matching) == 0 {
		return Result{}, ErrNoMatchingPositions
	}

	var sum uint64
	for _, pos := range matching {
		sum += pos.Claimable()
	}

	if sum < m.cfg.Threshold {
		m.log.Debug("feeclaim: below threshold",
			"pot_lamports", sum,
			"threshold", m.cfg.Threshold,
			"positions", len(matching))
		return Result{Proceed: false, PotLamports: sum}, nil
	}

	m.log.Info("feeclaim: threshold reached, claiming fees",
		"pot_lamports", sum,
		"positions", len(matching))

	var outcome Outcome
	for _, pos := range matching {
		txs, err := m.cfg.Source.BuildClaimTxs(ctx, owner, pos)
		if err != nil {
			m.log.Error("feeclaim: failed to build claim transactions",
				"position", pos.Account.String(), "error", err)
			metrics.ClaimTxTotal.WithLabelValues("build_failed").Inc()
			outcome.Failed = append(outcome.Failed, ClaimFailure{Position: pos, Err: err})
			continue
		}

		for _, tx := range txs {
			sig, err := m.cfg.Chain.SubmitAndConfirm(ctx, tx)
			if err != nil {
				// Skip this transaction, keep going. Prefer attempting a
				// round over stalling indefinitely.
				m.log.Error("feeclaim: claim transaction failed",
					"position", pos.Account.String(), "error", err)
				metrics.ClaimTxTotal.WithLabelValues("failed").Inc()
				outcome.Failed = append(outcome.Failed, ClaimFailure{Position: pos, Err: err})
				continue
			}
			metrics.ClaimTxTotal.WithLabelValues("confirmed").Inc()
			outcome.Confirmed = append(outcome.Confirmed, sig)
		}
	}

	return Result{Proceed: true, PotLamports: sum, Outcome: outcome}, nil
}
