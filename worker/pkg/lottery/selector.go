package lottery

import (
	"errors"
	"math"
)

// ErrNoTraders is returned when a draw is requested with no eligible traders.
// Callers are expected to check for an empty trader list before requesting
// randomness, so hitting this is a programming error rather than a data one.
var ErrNoTraders = errors.New("no traders eligible for draw")

// TraderVolume is one wallet's aggregated USD trade volume over the
// qualification window.
type TraderVolume struct {
	Wallet    string
	VolumeUSD float64
}

// Winner is the outcome of a weighted draw.
type Winner struct {
	Trader TraderVolume
	Index  int
}

// Weight returns the draw weight for a recorded USD volume. Volumes are
// floored to whole dollars and clamped to a minimum of 1 so every trader has
// a non-zero chance regardless of how small their volume is.
func Weight(volumeUSD float64) uint64 {
	w := math.Floor(volumeUSD)
	if w < 1 {
		return 1
	}
	return uint64(w)
}

// SelectWinner deterministically picks a volume-weighted winner from traders
// using randomValue. It is a standard cumulative-distribution draw: the input
// order decides which trader owns which sub-range of [0, totalWeight) but not
// the probability any trader wins. Identical inputs always produce identical
// output.
func SelectWinner(traders []TraderVolume, randomValue uint64) (Winner, error) {
	if len(traders) == 0 {
		return Winner{}, ErrNoTraders
	}

	var totalWeight uint64
	for _, tr := range traders {
		totalWeight += Weight(tr.VolumeUSD)
	}

	selection := randomValue % totalWeight

	var cumulative uint64
	for i, tr := range traders {
		cumulative += Weight(tr.VolumeUSD)
		if selection < cumulative {
			return Winner{Trader: tr, Index: i}, nil
		}
	}

	// Unreachable with integer weights, but fall back to the last trader
	// rather than failing the round.
	last := len(traders) - 1
	return Winner{Trader: traders[last], Index: last}, nil
}
