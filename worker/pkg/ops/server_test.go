package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	workertesting "github.com/potwheel/potwheel/utils/pkg/testing"
	"github.com/potwheel/potwheel/worker/pkg/lottery"
)

type mockState struct {
	running bool
	pot     uint64
}

func (m *mockState) Snapshot() (bool, uint64) { return m.running, m.pot }

type mockReceipts struct {
	receipt *lottery.Receipt
	err     error
}

func (m *mockReceipts) LastReceipt(context.Context, string) (*lottery.Receipt, error) {
	return m.receipt, m.err
}

func testServer(t *testing.T, state StateReader, receipts ReceiptReader, ready func(context.Context) error) *Server {
	t.Helper()
	s, err := New(Config{
		Logger:   workertesting.NewLogger(),
		Addr:     "127.0.0.1:0",
		MarketID: "mkt1",
		State:    state,
		Receipts: receipts,
		Ready:    ready,
	})
	require.NoError(t, err)
	return s
}

func TestPotwheel_Ops_Healthz(t *testing.T) {
	t.Parallel()

	s := testServer(t, &mockState{}, &mockReceipts{}, nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPotwheel_Ops_Readyz_DependencyFailure(t *testing.T) {
	t.Parallel()

	s := testServer(t, &mockState{}, &mockReceipts{}, func(context.Context) error {
		return errors.New("postgres unreachable")
	})
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPotwheel_Ops_Statusz(t *testing.T) {
	t.Parallel()

	receipt := lottery.NewReceipt("mkt1", 2_000_000_000, "winner-wallet",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	receipt.PayoutTxID = "payout-sig"

	s := testServer(t, &mockState{running: true, pot: 1_500_000_000}, &mockReceipts{receipt: receipt}, nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statusz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "mkt1", resp.MarketID)
	require.True(t, resp.IsRunning)
	require.Equal(t, uint64(1_500_000_000), resp.PotSizeLamports)
	require.NotNil(t, resp.LastReceipt)
	require.Equal(t, "winner-wallet", resp.LastReceipt.WinnerAddress)
}

func TestPotwheel_Ops_Statusz_ReceiptErrorStillServesSnapshot(t *testing.T) {
	t.Parallel()

	s := testServer(t, &mockState{pot: 7}, &mockReceipts{err: errors.New("db down")}, nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statusz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, uint64(7), resp.PotSizeLamports)
	require.Nil(t, resp.LastReceipt)
}

func TestPotwheel_Ops_Metrics(t *testing.T) {
	t.Parallel()

	s := testServer(t, &mockState{}, &mockReceipts{}, nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
