package lottery

import (
	"time"

	"github.com/google/uuid"
)

// Receipt records one successfully completed round. It is immutable once
// written; the persistence layer owns it after InsertReceipt.
type Receipt struct {
	ID              string    `json:"id"`
	MarketID        string    `json:"market_id"`
	PotSizeLamports uint64    `json:"pot_size_lamports"`
	WinnerAddress   string    `json:"winner_address"`
	PayoutTxID      string    `json:"payout_tx_id"`
	SwapTxID        string    `json:"swap_tx_id"`
	BurnTxID        string    `json:"burn_tx_id,omitempty"`
	BurnAmountRaw   uint64    `json:"burn_amount_raw"`
	BurnDecimals    uint8     `json:"burn_decimals"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewReceipt builds a receipt with a fresh ID and the given completion time.
func NewReceipt(marketID string, potSizeLamports uint64, winner string, now time.Time) *Receipt {
	return &Receipt{
		ID:              uuid.NewString(),
		MarketID:        marketID,
		PotSizeLamports: potSizeLamports,
		WinnerAddress:   winner,
		Timestamp:       now.UTC(),
	}
}
