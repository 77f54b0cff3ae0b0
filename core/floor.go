package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const monetaryPrecision int32 = 4 // 4 decimal places for CPM values (0.0001 precision)

// BidMeetsFloor returns true if the bid price meets or exceeds the floor price.
// Uses decimal arithmetic with monetaryPrecision to avoid floating-point errors.
func BidMeetsFloor(bidPrice, floorPrice float64) bool {
	bidPriceDecimal := decimal.NewFromFloat(bidPrice).Round(monetaryPrecision)
	floorDecimal := decimal.NewFromFloat(floorPrice).Round(monetaryPrecision)

	return bidPriceDecimal.GreaterThanOrEqual(floorDecimal)
}

// EnforceBidFloor filters bids against a single floor price.
// Returns eligible bids and the bids that were rejected.
func EnforceBidFloor(bids []Bid, floorPrice float64) (eligible []Bid, rejected []Bid) {
	eligible = make([]Bid, 0, len(bids))
	rejected = make([]Bid, 0)

	for _, bid := range bids {
		if BidMeetsFloor(bid.Price, floorPrice) {
			eligible = append(eligible, bid)
		} else {
			rejected = append(rejected, bid)
		}
	}

	return eligible, rejected
}

// secondPriceNudge is added to the runner-up eCPM so the winner pays just
// above the price at which it would have lost.
const secondPriceNudge = 0.01

// SettlementPrice inverts the runner-up's effective CPM back into a bid-level
// price using the winner's own predicted rates:
//
//	price = (second_ecpm + 0.01) / (1000 × winner_pctr × winner_pcvr)
//
// The winner's quality factor deliberately does not appear here: quality
// discounts the ranking score, not the clearing price. Uses decimal
// arithmetic rounded to monetaryPrecision.
func SettlementPrice(secondECPM, winnerPCTR, winnerPCVR float64) (float64, error) {
	if winnerPCTR <= 0 || winnerPCVR <= 0 {
		return 0, fmt.Errorf("settlement price requires positive predicted rates, got pctr=%v pcvr=%v", winnerPCTR, winnerPCVR)
	}
	if secondECPM < 0 {
		return 0, fmt.Errorf("settlement price requires non-negative runner-up ecpm, got %v", secondECPM)
	}

	numerator := decimal.NewFromFloat(secondECPM).Add(decimal.NewFromFloat(secondPriceNudge))
	denominator := decimal.NewFromInt(1000).
		Mul(decimal.NewFromFloat(winnerPCTR)).
		Mul(decimal.NewFromFloat(winnerPCVR))

	price, _ := numerator.Div(denominator).Round(monetaryPrecision).Float64()
	return price, nil
}

// EffectiveCPM computes the quality-adjusted ranking score for a bid:
//
//	ecpm = bid_price × pctr × pcvr × q_factor × 1000
//
// Pass qualityFactor 1.0 for the raw (unadjusted) eCPM.
func EffectiveCPM(bidPrice, pctr, pcvr, qualityFactor float64) float64 {
	return bidPrice * pctr * pcvr * qualityFactor * 1000
}
