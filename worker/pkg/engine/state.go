package engine

import (
	"sync"

	"github.com/potwheel/potwheel/worker/pkg/metrics"
)

// RoundState is the single process-wide pot/run state. It is owned by the
// engine and handed to the two components that finalize or fund it (the fee
// claim step through the engine, the payout pipeline through FinishRound).
// The running flag is the sole concurrency guard for rounds: ticks are
// serialized, so a plain mutex-protected flag is enough.
type RoundState struct {
	mu              sync.Mutex
	isRunning       bool
	potSizeLamports uint64
}

func NewRoundState() *RoundState {
	return &RoundState{}
}

// Begin marks a round as running. It returns false when a round is already
// in flight, in which case the caller must not start another.
func (s *RoundState) Begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return false
	}
	s.isRunning = true
	return true
}

// FinishRound clears the running flag and resets the pot. Safe to call more
// than once; the second call is a no-op on an already-clean state.
func (s *RoundState) FinishRound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isRunning = false
	s.potSizeLamports = 0
	metrics.PotSizeLamports.Set(0)
}

func (s *RoundState) SetPot(lamports uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.potSizeLamports = lamports
	metrics.PotSizeLamports.Set(float64(lamports))
}

func (s *RoundState) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Snapshot returns the current run flag and pot size as one consistent pair.
func (s *RoundState) Snapshot() (bool, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning, s.potSizeLamports
}
