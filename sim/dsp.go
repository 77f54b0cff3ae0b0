package sim

import (
	"fmt"
	"math"
	"time"

	"github.com/cloudx-io/whitebox-exchange/core"
	"github.com/cloudx-io/whitebox-exchange/trace"
)

// BiddingStrategy turns a click-through score into a bid price. Register new
// strategies rather than modifying existing ones.
type BiddingStrategy interface {
	Name() string
	CalculateBid(req *core.Request, ctrScore float64, now time.Time) (price float64, vars map[string]any, reasoning string)
}

// CTRBiddingStrategy bids base price × CTR score × multiplier, where the
// multiplier rewards iOS traffic (×1.2) and prime-time hours 9-11 and 19-22
// (×1.15).
type CTRBiddingStrategy struct {
	BasePrice float64
}

func (s *CTRBiddingStrategy) Name() string { return "CTRBasedBidding" }

func (s *CTRBiddingStrategy) CalculateBid(req *core.Request, ctrScore float64, now time.Time) (float64, map[string]any, string) {
	hour := now.Hour()
	multiplier := 1.0
	var boosts []string

	if req.Platform == core.PlatformIOS {
		multiplier *= 1.2
		boosts = append(boosts, "iOS platform boost 1.2")
	}
	if (hour >= 9 && hour <= 11) || (hour >= 19 && hour <= 22) {
		multiplier *= 1.15
		boosts = append(boosts, fmt.Sprintf("prime-time (hour %d) boost 1.15", hour))
	}

	price := s.BasePrice * ctrScore * multiplier

	boostText := "no boosts, base multiplier 1.0"
	if len(boosts) > 0 {
		boostText = boosts[0]
		for _, b := range boosts[1:] {
			boostText += "; " + b
		}
	}
	vars := map[string]any{
		"base_price":    s.BasePrice,
		"ctr_score":     ctrScore,
		"multiplier":    multiplier,
		"final_bid":     price,
		"platform":      req.Platform,
		"hour":          hour,
		"strategy_name": s.Name(),
	}
	reasoning := fmt.Sprintf("Base price %.4f × CTR score %.4f × multiplier %.4f = %.4f. %s",
		s.BasePrice, ctrScore, multiplier, price, boostText)
	return price, vars, reasoning
}

// DSPConfig configures one demand-side bidder.
type DSPConfig struct {
	ID       string
	Strategy BiddingStrategy
	// Estimator supplies deferred-conversion estimates on the restricted
	// platform. Nil disables SKAN estimation.
	Estimator *core.SKANEstimator
	Rand      core.RandSource
	// Now is injectable for deterministic hour-dependent tests.
	Now func() time.Time
}

// DSP is a demand-side bidder: it estimates click and conversion
// probabilities for a request and produces a bid through its strategy.
type DSP struct {
	id        string
	logger    *trace.Logger
	strategy  BiddingStrategy
	estimator *core.SKANEstimator
	rnd       core.RandSource
	now       func() time.Time
}

func NewDSP(logger *trace.Logger, cfg DSPConfig) (*DSP, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("dsp requires an id")
	}
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("dsp %s requires a bidding strategy", cfg.ID)
	}
	if cfg.Rand == nil {
		return nil, fmt.Errorf("dsp %s requires a random source", cfg.ID)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &DSP{
		id:        cfg.ID,
		logger:    logger,
		strategy:  cfg.Strategy,
		estimator: cfg.Estimator,
		rnd:       cfg.Rand,
		now:       cfg.Now,
	}, nil
}

// Bid produces one bid for the request. pCTR is sampled from [0.1%, 5%);
// pCVR comes from the SKAN estimator on the restricted platform, otherwise
// from [1%, 10%).
func (d *DSP) Bid(req *core.Request) (core.Bid, bool) {
	pctr := 0.001 + d.rnd.Float64()*0.049

	var pcvr float64
	var skanDetail core.SKANDetail
	skanUsed := false
	if d.estimator != nil {
		if estimated, detail, ok := d.estimator.Estimate(req); ok {
			pcvr = estimated
			skanDetail = detail
			skanUsed = true
		}
	}
	if !skanUsed {
		pcvr = 0.01 + d.rnd.Float64()*0.09
	}

	now := d.now()
	ctrScore := d.ctrScore(req, pctr, now)

	vars := map[string]any{
		"dsp_id":    d.id,
		"ctr_score": ctrScore,
		"pctr":      pctr,
		"pcvr":      pcvr,
		"platform":  req.Platform,
		"hour":      now.Hour(),
	}
	reasoning := fmt.Sprintf("DSP %s estimates: pCTR %.2f%%, pCVR %.2f%%, CTR score %.4f (platform %s, hour %d)",
		d.id, pctr*100, pcvr*100, ctrScore, req.Platform, now.Hour())
	if skanUsed {
		vars["skan_optimized"] = true
		vars["conversion_value"] = skanDetail.ConversionValue
		vars["skan_confidence"] = skanDetail.Confidence
		reasoning = fmt.Sprintf("DSP %s estimates: pCTR %.2f%%, pCVR %.2f%% (SKAN estimate, confidence %.1f%%), CTR score %.4f (platform %s, hour %d)",
			d.id, pctr*100, pcvr*100, skanDetail.Confidence*100, ctrScore, req.Platform, now.Hour())
	}
	d.logger.Decision(trace.Record{
		RequestID:         req.ID,
		Node:              trace.NodeDemand,
		Action:            "CTR_ESTIMATION",
		Decision:          trace.DecisionPass,
		ReasonCode:        trace.ReasonCTRCalculated,
		InternalVariables: vars,
		Reasoning:         reasoning,
		PCTR:              trace.Float(pctr),
		PCVR:              trace.Float(pcvr),
	})

	price, bidVars, bidReasoning := d.strategy.CalculateBid(req, ctrScore, now)
	d.logger.Decision(trace.Record{
		RequestID:         req.ID,
		Node:              trace.NodeDemand,
		Action:            "BID_CALCULATION",
		Decision:          trace.DecisionPass,
		ReasonCode:        trace.ReasonBidCalculated,
		InternalVariables: bidVars,
		Reasoning:         bidReasoning,
	})

	d.logger.Decision(trace.Record{
		RequestID:  req.ID,
		Node:       trace.NodeDemand,
		Action:     "BID_SUBMITTED",
		Decision:   trace.DecisionPass,
		ReasonCode: trace.ReasonBidSubmitted,
		InternalVariables: map[string]any{
			"dsp_id":    d.id,
			"bid_price": price,
			"pctr":      pctr,
			"pcvr":      pcvr,
		},
		Reasoning: fmt.Sprintf("DSP %s submits bid %.4f", d.id, price),
	})

	return core.Bid{
		DSPID: d.id,
		Price: price,
		PCTR:  pctr,
		PCVR:  pcvr,
	}, true
}

// ctrScore normalizes pCTR into a [0, 1] score (5% maps to 1.0) with platform
// and prime-time adjustments.
func (d *DSP) ctrScore(req *core.Request, pctr float64, now time.Time) float64 {
	score := math.Min(pctr/0.05, 1.0)

	switch req.Platform {
	case core.PlatformIOS:
		score *= 1.1
	case core.PlatformAndroid:
		// no adjustment
	default:
		score *= 0.9
	}

	hour := now.Hour()
	if (hour >= 9 && hour <= 11) || (hour >= 19 && hour <= 22) {
		score *= 1.05
	}
	return score
}
