package feeclaim

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	workertesting "github.com/potwheel/potwheel/utils/pkg/testing"
)

var (
	testMarketMint = solana.PublicKey{0xAA}
	otherMint      = solana.PublicKey{0xBB}
)

type mockSource struct {
	listFunc  func(context.Context, solana.PublicKey) ([]Position, error)
	buildFunc func(context.Context, solana.PublicKey, Position) ([]*solana.Transaction, error)
}

func (m *mockSource) ListClaimablePositions(ctx context.Context, owner solana.PublicKey) ([]Position, error) {
	return m.listFunc(ctx, owner)
}

func (m *mockSource) BuildClaimTxs(ctx context.Context, owner solana.PublicKey, pos Position) ([]*solana.Transaction, error) {
	if m.buildFunc != nil {
		return m.buildFunc(ctx, owner, pos)
	}
	return []*solana.Transaction{{}}, nil
}

type mockSubmitter struct {
	submitFunc func(context.Context, *solana.Transaction) (solana.Signature, error)
	submitted  int
}

func (m *mockSubmitter) WorkerPublicKey() solana.PublicKey {
	return solana.PublicKey{0x01}
}

func (m *mockSubmitter) SubmitAndConfirm(ctx context.Context, tx *solana.Transaction, extra ...solana.PrivateKey) (solana.Signature, error) {
	m.submitted++
	if m.submitFunc != nil {
		return m.submitFunc(ctx, tx)
	}
	return solana.Signature{byte(m.submitted)}, nil
}

func testMonitor(t *testing.T, source PositionSource, chain TxSubmitter, threshold uint64) *Monitor {
	t.Helper()
	m, err := NewMonitor(MonitorConfig{
		Logger:     workertesting.NewLogger(),
		Source:     source,
		Chain:      chain,
		MarketMint: testMarketMint,
		Threshold:  threshold,
	})
	require.NoError(t, err)
	return m
}

func TestPotwheel_FeeClaim_NoPositions(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		listFunc: func(context.Context, solana.PublicKey) ([]Position, error) {
			return nil, nil
		},
	}
	m := testMonitor(t, source, &mockSubmitter{}, 1000)

	_, err := m.CheckAndClaim(context.Background())
	require.ErrorIs(t, err, ErrNoPositions)
}

func TestPotwheel_FeeClaim_NoMatchingPositions(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		listFunc: func(context.Context, solana.PublicKey) ([]Position, error) {
			return []Position{
				{Account: solana.PublicKey{2}, TokenMint: otherMint, Kind: KindVirtual, ClaimableLamports: 5000},
			}, nil
		},
	}
	m := testMonitor(t, source, &mockSubmitter{}, 1000)

	_, err := m.CheckAndClaim(context.Background())
	require.ErrorIs(t, err, ErrNoMatchingPositions)
}

func TestPotwheel_FeeClaim_BelowThreshold(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		listFunc: func(context.Context, solana.PublicKey) ([]Position, error) {
			return []Position{
				{Account: solana.PublicKey{2}, TokenMint: testMarketMint, Kind: KindVirtual, ClaimableLamports: 300},
				{Account: solana.PublicKey{3}, TokenMint: testMarketMint, Kind: KindDAMM, ClaimableLamports: 400},
			}, nil
		},
	}
	chain := &mockSubmitter{}
	m := testMonitor(t, source, chain, 1000)

	res, err := m.CheckAndClaim(context.Background())
	require.NoError(t, err)
	require.False(t, res.Proceed)
	require.Equal(t, uint64(700), res.PotLamports, "sub-threshold sum is still recorded for observability")
	require.Zero(t, chain.submitted, "no transactions may be submitted below threshold")
}

func TestPotwheel_FeeClaim_ExactThresholdTriggers(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		listFunc: func(context.Context, solana.PublicKey) ([]Position, error) {
			return []Position{
				{Account: solana.PublicKey{2}, TokenMint: testMarketMint, Kind: KindVirtual, ClaimableLamports: 1000},
			}, nil
		},
	}
	chain := &mockSubmitter{}
	m := testMonitor(t, source, chain, 1000)

	res, err := m.CheckAndClaim(context.Background())
	require.NoError(t, err)
	require.True(t, res.Proceed, "pot exactly at threshold must trigger")
	require.Equal(t, uint64(1000), res.PotLamports)
	require.Equal(t, 1, chain.submitted)
	require.Len(t, res.Outcome.Confirmed, 1)
	require.Empty(t, res.Outcome.Failed)
}

func TestPotwheel_FeeClaim_CustomFeeVaultShare(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		listFunc: func(context.Context, solana.PublicKey) ([]Position, error) {
			return []Position{
				// 2_000_000 * 2500bps / 10_000 = 500_000
				{Account: solana.PublicKey{2}, TokenMint: testMarketMint, Kind: KindCustomFeeVault, VaultBalance: 2_000_000, FeeShareBps: 2500},
				{Account: solana.PublicKey{3}, TokenMint: testMarketMint, Kind: KindVirtual, ClaimableLamports: 500_000},
			}, nil
		},
	}
	chain := &mockSubmitter{}
	m := testMonitor(t, source, chain, 1_000_000)

	res, err := m.CheckAndClaim(context.Background())
	require.NoError(t, err)
	require.True(t, res.Proceed)
	require.Equal(t, uint64(1_000_000), res.PotLamports)
}

func TestPotwheel_FeeClaim_PartialFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		listFunc: func(context.Context, solana.PublicKey) ([]Position, error) {
			return []Position{
				{Account: solana.PublicKey{2}, TokenMint: testMarketMint, Kind: KindVirtual, ClaimableLamports: 600},
				{Account: solana.PublicKey{3}, TokenMint: testMarketMint, Kind: KindVirtual, ClaimableLamports: 600},
				{Account: solana.PublicKey{4}, TokenMint: testMarketMint, Kind: KindVirtual, ClaimableLamports: 600},
			}, nil
		},
	}
	chain := &mockSubmitter{}
	chain.submitFunc = func(context.Context, *solana.Transaction) (solana.Signature, error) {
		if chain.submitted == 2 {
			return solana.Signature{}, errors.New("confirmation timed out")
		}
		return solana.Signature{byte(chain.submitted)}, nil
	}
	m := testMonitor(t, source, chain, 1000)

	res, err := m.CheckAndClaim(context.Background())
	require.NoError(t, err)
	require.True(t, res.Proceed, "partial claim failure must still signal proceed")
	require.Equal(t, uint64(1800), res.PotLamports, "pot records the pre-claim computed sum")
	require.Equal(t, 3, chain.submitted)
	require.Len(t, res.Outcome.Confirmed, 2)
	require.Len(t, res.Outcome.Failed, 1)
}

func TestPotwheel_FeeClaim_PositionClaimable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pos  Position
		want uint64
	}{
		{"virtual", Position{Kind: KindVirtual, ClaimableLamports: 123}, 123},
		{"damm", Position{Kind: KindDAMM, ClaimableLamports: 456}, 456},
		{"vault full share", Position{Kind: KindCustomFeeVault, VaultBalance: 1000, FeeShareBps: 10_000}, 1000},
		{"vault half share", Position{Kind: KindCustomFeeVault, VaultBalance: 1000, FeeShareBps: 5000}, 500},
		{"vault rounds down", Position{Kind: KindCustomFeeVault, VaultBalance: 999, FeeShareBps: 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.pos.Claimable())
		})
	}
}
