package core

import (
	"math"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestBidMeetsFloor(t *testing.T) {
	tests := []struct {
		name       string
		bidPrice   float64
		floorPrice float64
		expected   bool
	}{
		{"bid above floor", 3.0, 2.5, true},
		{"bid at floor", 2.5, 2.5, true},
		{"bid below floor", 2.0, 2.5, false},
		{"zero floor - always passes", 1.0, 0.0, true},
		{"zero floor with zero bid", 0.0, 0.0, true},
		{"negative bid below floor", -1.0, 2.5, false},
		{"decimal precision edge case - passes", 2.499999999, 2.5, true},
		{"decimal precision edge case - fails", 2.4999, 2.5, false},
		{"very small difference - passes", 2.5001, 2.5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := BidMeetsFloor(tt.bidPrice, tt.floorPrice)
			check.Equal(t, tt.expected, result)
		})
	}
}

func TestEnforceBidFloor(t *testing.T) {
	bids := []Bid{
		{DSPID: "DSP_1", Price: 1.0},
		{DSPID: "DSP_2", Price: 0.05},
		{DSPID: "DSP_3", Price: 0.1},
	}

	eligible, rejected := EnforceBidFloor(bids, 0.1)

	check.Equal(t, 2, len(eligible))
	check.Equal(t, "DSP_1", eligible[0].DSPID)
	check.Equal(t, "DSP_3", eligible[1].DSPID)
	check.Equal(t, 1, len(rejected))
	check.Equal(t, "DSP_2", rejected[0].DSPID)
}

func TestSettlementPrice(t *testing.T) {
	t.Run("inverts runner-up ecpm through winner rates", func(t *testing.T) {
		// (6.0 + 0.01) / (1000 * 0.02 * 0.05) = 6.01
		price, err := SettlementPrice(6.0, 0.02, 0.05)
		check.NoError(t, err)
		check.Equal(t, 6.01, price)
	})

	t.Run("zero runner-up ecpm yields the nudge alone", func(t *testing.T) {
		price, err := SettlementPrice(0, 0.02, 0.05)
		check.NoError(t, err)
		check.Equal(t, 0.01, price)
	})

	t.Run("zero predicted ctr is an input error", func(t *testing.T) {
		_, err := SettlementPrice(6.0, 0, 0.05)
		check.Error(t, err)
	})

	t.Run("zero predicted cvr is an input error", func(t *testing.T) {
		_, err := SettlementPrice(6.0, 0.02, 0)
		check.Error(t, err)
	})

	t.Run("negative runner-up ecpm is an input error", func(t *testing.T) {
		_, err := SettlementPrice(-1.0, 0.02, 0.05)
		check.Error(t, err)
	})

	t.Run("result is always finite", func(t *testing.T) {
		price, err := SettlementPrice(123456.789, 0.0001, 0.0001)
		check.NoError(t, err)
		check.True(t, !math.IsInf(price, 0) && !math.IsNaN(price))
	})
}

func TestEffectiveCPM(t *testing.T) {
	tests := []struct {
		name          string
		price         float64
		pctr          float64
		pcvr          float64
		qualityFactor float64
		expected      float64
	}{
		{"full quality", 10.0, 0.02, 0.05, 1.0, 10.0},
		{"halved by quality", 10.0, 0.02, 0.05, 0.5, 5.0},
		{"zero quality zeroes the score", 10.0, 0.02, 0.05, 0.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveCPM(tt.price, tt.pctr, tt.pcvr, tt.qualityFactor)
			check.True(t, math.Abs(got-tt.expected) < 1e-9)
		})
	}
}
