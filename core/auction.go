package core

import (
	"fmt"
	"sort"
)

// Scorer computes a traffic-quality factor for a request. Satisfied by
// *QualityScorer; an interface so the engine can run with a fixed or mocked
// scorer.
type Scorer interface {
	Score(req *Request) (float64, QualityDetail)
}

// AuctionEngine ranks competing bids by quality-adjusted effective CPM and
// settles the winner's price under generalized-second-price rules.
type AuctionEngine struct {
	scorer     Scorer
	floorPrice float64
}

// NewAuctionEngine builds the engine. scorer may be nil, in which case every
// bid gets quality factor 1.0. floorPrice is the clearing price for a
// single-bid auction.
func NewAuctionEngine(scorer Scorer, floorPrice float64) (*AuctionEngine, error) {
	if floorPrice < 0 {
		return nil, fmt.Errorf("floor price must be non-negative, got %v", floorPrice)
	}
	return &AuctionEngine{scorer: scorer, floorPrice: floorPrice}, nil
}

// Run executes the auction:
//
//  1. Attach a quality factor to each bid that lacks one (at most one scorer
//     call per bid per auction).
//  2. Compute effective CPM (quality-adjusted) and raw eCPM per bid.
//  3. Rank by effective CPM descending; ties keep input order.
//  4. Settle: a lone bid clears at the floor price; otherwise the winner pays
//     the runner-up's eCPM inverted through its own predicted rates, clamped
//     so it never pays more than it bid.
//
// Returns (nil, nil) for an empty bid set: no bids is an outcome, not an
// error. Invalid bid numerics are an input error.
func (e *AuctionEngine) Run(bids []Bid, req *Request) (*Settlement, error) {
	if len(bids) == 0 {
		return nil, nil
	}

	for i := range bids {
		b := &bids[i]
		if b.Price <= 0 {
			return nil, fmt.Errorf("bid from %s has non-positive price %v", b.DSPID, b.Price)
		}
		if b.PCTR <= 0 || b.PCTR > 1 {
			return nil, fmt.Errorf("bid from %s has predicted CTR outside (0, 1]: %v", b.DSPID, b.PCTR)
		}
		if b.PCVR <= 0 || b.PCVR > 1 {
			return nil, fmt.Errorf("bid from %s has predicted CVR outside (0, 1]: %v", b.DSPID, b.PCVR)
		}

		if !b.scored {
			if e.scorer != nil {
				factor, _ := e.scorer.Score(req)
				b.QualityFactor = factor
			} else {
				b.QualityFactor = 1.0
			}
			b.scored = true
		}

		b.EffectiveCPM = EffectiveCPM(b.Price, b.PCTR, b.PCVR, b.QualityFactor)
		b.RawECPM = EffectiveCPM(b.Price, b.PCTR, b.PCVR, 1.0)
	}

	ranked := make([]Bid, len(bids))
	copy(ranked, bids)
	// Stable sort: equal effective CPMs keep input order, first-seen wins.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].EffectiveCPM > ranked[j].EffectiveCPM
	})

	winner := ranked[0]

	var price, secondBestBid, secondBestECPM float64
	if len(ranked) == 1 {
		// No runner-up to derive a clearing price from.
		price = e.floorPrice
		secondBestBid = e.floorPrice
		secondBestECPM = 0
	} else {
		secondBestECPM = ranked[1].EffectiveCPM
		secondBestBid = ranked[1].Price
		derived, err := SettlementPrice(secondBestECPM, winner.PCTR, winner.PCVR)
		if err != nil {
			return nil, err
		}
		price = derived
	}

	// A winner never pays more than it bid, even when the nudged second-price
	// inversion lands above it.
	if price > winner.Price {
		price = winner.Price
	}

	saved := winner.Price - price

	return &Settlement{
		Winner:         winner,
		Price:          price,
		SavedAmount:    saved,
		SecondBestBid:  secondBestBid,
		SecondBestECPM: secondBestECPM,
		TotalBids:      len(ranked),
		Ranked:         ranked,
		WinnerBidHash:  ComputeBidHash(req.ID, winner.DSPID, winner.Price),
		SettlementHash: ComputeSettlementHash(req.ID, winner.DSPID, price, saved),
	}, nil
}
