package chain

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	workertesting "github.com/potwheel/potwheel/utils/pkg/testing"
)

type mockRPC struct {
	getLatestBlockhashFunc      func(context.Context, solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	sendTransactionFunc         func(context.Context, *solana.Transaction, solanarpc.TransactionOpts) (solana.Signature, error)
	getSignatureStatusesFunc    func(context.Context, bool, ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
	getTokenAccountBalanceFunc  func(context.Context, solana.PublicKey, solanarpc.CommitmentType) (*solanarpc.GetTokenAccountBalanceResult, error)
	getAccountInfoFunc          func(context.Context, solana.PublicKey) (*solanarpc.GetAccountInfoResult, error)
	getMinBalanceRentExemptFunc func(context.Context, uint64, solanarpc.CommitmentType) (uint64, error)
}

func (m *mockRPC) GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error) {
	if m.getLatestBlockhashFunc != nil {
		return m.getLatestBlockhashFunc(ctx, commitment)
	}
	return &solanarpc.GetLatestBlockhashResult{
		Value: &solanarpc.LatestBlockhashResult{Blockhash: solana.Hash{1}},
	}, nil
}

func (m *mockRPC) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error) {
	if m.sendTransactionFunc != nil {
		return m.sendTransactionFunc(ctx, tx, opts)
	}
	return solana.Signature{1}, nil
}

func (m *mockRPC) GetSignatureStatuses(ctx context.Context, history bool, sigs ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
	if m.getSignatureStatusesFunc != nil {
		return m.getSignatureStatusesFunc(ctx, history, sigs...)
	}
	return &solanarpc.GetSignatureStatusesResult{
		Value: []*solanarpc.SignatureStatusesResult{
			{ConfirmationStatus: solanarpc.ConfirmationStatusConfirmed},
		},
	}, nil
}

func (m *mockRPC) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetTokenAccountBalanceResult, error) {
	if m.getTokenAccountBalanceFunc != nil {
		return m.getTokenAccountBalanceFunc(ctx, account, commitment)
	}
	return &solanarpc.GetTokenAccountBalanceResult{
		Value: &solanarpc.UiTokenAmount{Amount: "0", Decimals: 6},
	}, nil
}

func (m *mockRPC) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
	if m.getAccountInfoFunc != nil {
		return m.getAccountInfoFunc(ctx, account)
	}
	return &solanarpc.GetAccountInfoResult{}, nil
}

func (m *mockRPC) GetMinimumBalanceForRentExemption(ctx context.Context, size uint64, commitment solanarpc.CommitmentType) (uint64, error) {
	if m.getMinBalanceRentExemptFunc != nil {
		return m.getMinBalanceRentExemptFunc(ctx, size, commitment)
	}
	return 890_880, nil
}

func testClient(t *testing.T, rpc RPC) *Client {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	c, err := New(Config{
		Logger:          workertesting.NewLogger(),
		Clock:           clockwork.NewRealClock(),
		RPC:             rpc,
		WorkerKey:       key,
		ConfirmAttempts: 3,
		ConfirmDelay:    time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestPotwheel_Chain_SubmitAndConfirm_ConfirmsAfterPolling(t *testing.T) {
	t.Parallel()

	polls := 0
	rpc := &mockRPC{
		getSignatureStatusesFunc: func(context.Context, bool, ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
			polls++
			if polls < 3 {
				return &solanarpc.GetSignatureStatusesResult{
					Value: []*solanarpc.SignatureStatusesResult{nil},
				}, nil
			}
			return &solanarpc.GetSignatureStatusesResult{
				Value: []*solanarpc.SignatureStatusesResult{
					{ConfirmationStatus: solanarpc.ConfirmationStatusFinalized},
				},
			}, nil
		},
	}
	c := testClient(t, rpc)

	ctx := context.Background()
	ix := system.NewTransferInstruction(1, c.WorkerPublicKey(), solana.PublicKey{2}).Build()
	tx, err := c.NewTransaction(ctx, ix)
	require.NoError(t, err)

	sig, err := c.SubmitAndConfirm(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, solana.Signature{1}, sig)
	require.Equal(t, 3, polls)
}

func TestPotwheel_Chain_SubmitAndConfirm_TimesOut(t *testing.T) {
	t.Parallel()

	rpc := &mockRPC{
		getSignatureStatusesFunc: func(context.Context, bool, ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
			return &solanarpc.GetSignatureStatusesResult{
				Value: []*solanarpc.SignatureStatusesResult{nil},
			}, nil
		},
	}
	c := testClient(t, rpc)

	ctx := context.Background()
	ix := system.NewTransferInstruction(1, c.WorkerPublicKey(), solana.PublicKey{2}).Build()
	tx, err := c.NewTransaction(ctx, ix)
	require.NoError(t, err)

	_, err = c.SubmitAndConfirm(ctx, tx)
	require.ErrorIs(t, err, ErrConfirmTimeout)
}

func TestPotwheel_Chain_SubmitAndConfirm_OnChainFailure(t *testing.T) {
	t.Parallel()

	rpc := &mockRPC{
		getSignatureStatusesFunc: func(context.Context, bool, ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
			return &solanarpc.GetSignatureStatusesResult{
				Value: []*solanarpc.SignatureStatusesResult{
					{Err: map[string]any{"InstructionError": []any{0, "Custom"}}},
				},
			}, nil
		},
	}
	c := testClient(t, rpc)

	ctx := context.Background()
	ix := system.NewTransferInstruction(1, c.WorkerPublicKey(), solana.PublicKey{2}).Build()
	tx, err := c.NewTransaction(ctx, ix)
	require.NoError(t, err)

	_, err = c.SubmitAndConfirm(ctx, tx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed on-chain")
}

func TestPotwheel_Chain_TokenBalance(t *testing.T) {
	t.Parallel()

	rpc := &mockRPC{
		getTokenAccountBalanceFunc: func(context.Context, solana.PublicKey, solanarpc.CommitmentType) (*solanarpc.GetTokenAccountBalanceResult, error) {
			return &solanarpc.GetTokenAccountBalanceResult{
				Value: &solanarpc.UiTokenAmount{Amount: "123456789", Decimals: 9},
			}, nil
		},
	}
	c := testClient(t, rpc)

	amount, decimals, err := c.TokenBalance(context.Background(), solana.PublicKey{3})
	require.NoError(t, err)
	require.Equal(t, uint64(123_456_789), amount)
	require.Equal(t, uint8(9), decimals)
}
