package core

import (
	"fmt"

	"github.com/cloudx-io/whitebox-exchange/trace"
)

// Bidder is a demand-side collaborator: given a request it may produce one
// bid. ok is false when the bidder declines to participate.
type Bidder interface {
	Bid(req *Request) (bid Bid, ok bool)
}

// ExchangeConfig configures per-request orchestration.
type ExchangeConfig struct {
	// FloorPrice gates bids before they enter the auction and is the clearing
	// price for single-bid auctions. Default 0.1.
	FloorPrice float64
	// MaxLatencyMS is the latency gate applied after bid collection. Default 100.
	MaxLatencyMS float64
}

// Exchange composes the decision pipeline per request: admission filters, bid
// collection, the latency gate, quality-adjusted ranking and second-price
// settlement, with one trace record per decision point.
type Exchange struct {
	logger *trace.Logger
	chain  *FilterChain
	engine *AuctionEngine
	cfg    ExchangeConfig
}

func NewExchange(logger *trace.Logger, chain *FilterChain, engine *AuctionEngine, cfg ExchangeConfig) (*Exchange, error) {
	if cfg.FloorPrice == 0 {
		cfg.FloorPrice = 0.1
	}
	if cfg.MaxLatencyMS == 0 {
		cfg.MaxLatencyMS = 100
	}
	if cfg.FloorPrice < 0 {
		return nil, fmt.Errorf("floor price must be non-negative, got %v", cfg.FloorPrice)
	}
	if cfg.MaxLatencyMS < 0 {
		return nil, fmt.Errorf("max latency must be non-negative, got %v", cfg.MaxLatencyMS)
	}
	if logger == nil {
		return nil, fmt.Errorf("exchange requires a trace logger")
	}
	if engine == nil {
		return nil, fmt.Errorf("exchange requires an auction engine")
	}
	return &Exchange{logger: logger, chain: chain, engine: engine, cfg: cfg}, nil
}

// Resolve runs one request through the full pipeline and returns its terminal
// outcome. Negative outcomes are REJECT decisions with a reason code, never
// errors: every rejection is itself an auditable decision.
func (x *Exchange) Resolve(req *Request, bidders []Bidder) *Result {
	x.logger.Decision(trace.Record{
		RequestID:  req.ID,
		Node:       trace.NodeExchange,
		Action:     "REQUEST_RECEIVED",
		Decision:   trace.DecisionPass,
		ReasonCode: trace.ReasonRequestAccepted,
		InternalVariables: map[string]any{
			"device_id":  req.DeviceID,
			"app_id":     req.AppID,
			"app_name":   req.AppName,
			"platform":   req.Platform,
			"ad_size":    req.AdSize.String(),
			"latency_ms": req.LatencyMS,
		},
		Reasoning: "Exchange received an ad request from the supply side",
	})

	// Collect bids; bids below the floor never enter ranking.
	var bids []Bid
	belowFloor := 0
	for _, bidder := range bidders {
		bid, ok := bidder.Bid(req)
		if !ok {
			continue
		}
		if !BidMeetsFloor(bid.Price, x.cfg.FloorPrice) {
			belowFloor++
			continue
		}
		bids = append(bids, bid)
	}

	// Latency gate runs after collection so the trace can attribute the
	// highest forgone eCPM to the timeout.
	if req.LatencyMS > x.cfg.MaxLatencyMS {
		maxForgone := 0.0
		for _, b := range bids {
			if ecpm := EffectiveCPM(b.Price, b.PCTR, b.PCVR, 1.0); ecpm > maxForgone {
				maxForgone = ecpm
			}
		}
		x.logger.Decision(trace.Record{
			RequestID:  req.ID,
			Node:       trace.NodeExchange,
			Action:     "LATENCY_CHECK",
			Decision:   trace.DecisionReject,
			ReasonCode: trace.ReasonLatencyTimeout,
			InternalVariables: map[string]any{
				"latency_ms":         req.LatencyMS,
				"timeout_threshold":  x.cfg.MaxLatencyMS,
				"max_potential_ecpm": maxForgone,
				"total_bids":         len(bids),
			},
			Reasoning: fmt.Sprintf("Latency %.1fms exceeds the %.0fms threshold, request timed out; highest forgone eCPM: %.4f",
				req.LatencyMS, x.cfg.MaxLatencyMS, maxForgone),
			LatencyMS: trace.Float(req.LatencyMS),
		})
		return &Result{
			RequestID:      req.ID,
			Status:         StatusRejected,
			Reason:         trace.ReasonLatencyTimeout,
			BidCount:       len(bids),
			MaxForgoneECPM: maxForgone,
		}
	}

	if len(bids) == 0 {
		x.logger.Decision(trace.Record{
			RequestID:  req.ID,
			Node:       trace.NodeExchange,
			Action:     "BID_COLLECTION",
			Decision:   trace.DecisionReject,
			ReasonCode: trace.ReasonNoValidBids,
			InternalVariables: map[string]any{
				"bidders":     len(bidders),
				"below_floor": belowFloor,
				"floor_price": x.cfg.FloorPrice,
			},
			Reasoning: fmt.Sprintf("No valid bids: %d bidders, %d below the %.4f floor", len(bidders), belowFloor, x.cfg.FloorPrice),
		})
		return &Result{
			RequestID: req.ID,
			Status:    StatusRejected,
			Reason:    trace.ReasonNoValidBids,
		}
	}

	// Probe the admission chain with the highest bid as representative.
	highest := bids[0]
	for _, b := range bids[1:] {
		if b.Price > highest.Price {
			highest = b
		}
	}
	if x.chain != nil && x.chain.Len() > 0 {
		passed, filterName, reason := x.chain.Apply(req, highest.Price)
		if !passed {
			x.logger.Decision(trace.Record{
				RequestID:  req.ID,
				Node:       trace.NodeExchange,
				Action:     "FINAL_DECISION",
				Decision:   trace.DecisionReject,
				ReasonCode: reason,
				InternalVariables: map[string]any{
					"rejected_by": filterName,
					"probe_bid":   highest.Price,
				},
				Reasoning: fmt.Sprintf("Request rejected by %s, reason: %s", filterName, reason),
			})
			return &Result{
				RequestID: req.ID,
				Status:    StatusRejected,
				Reason:    reason,
				BidCount:  len(bids),
			}
		}
		x.logger.Decision(trace.Record{
			RequestID:  req.ID,
			Node:       trace.NodeExchange,
			Action:     "FINAL_DECISION",
			Decision:   trace.DecisionPass,
			ReasonCode: trace.ReasonAllFiltersPassed,
			InternalVariables: map[string]any{
				"filters_count": x.chain.Len(),
			},
			Reasoning: fmt.Sprintf("All %d admission filters passed, request accepted", x.chain.Len()),
		})
	}

	settlement, err := x.engine.Run(bids, req)
	if err != nil || settlement == nil {
		vars := map[string]any{"total_bids": len(bids)}
		reasoning := "Auction failed to produce a winner"
		if err != nil {
			vars["error"] = err.Error()
			reasoning = fmt.Sprintf("Auction failed: %v", err)
		}
		x.logger.Decision(trace.Record{
			RequestID:         req.ID,
			Node:              trace.NodeExchange,
			Action:            "AUCTION_RESULT",
			Decision:          trace.DecisionReject,
			ReasonCode:        trace.ReasonAuctionFailed,
			InternalVariables: vars,
			Reasoning:         reasoning,
		})
		return &Result{
			RequestID: req.ID,
			Status:    StatusRejected,
			Reason:    trace.ReasonAuctionFailed,
			BidCount:  len(bids),
		}
	}

	winner := settlement.Winner
	x.logger.Decision(trace.Record{
		RequestID:  req.ID,
		Node:       trace.NodeExchange,
		Action:     "AUCTION_RESULT",
		Decision:   trace.DecisionPass,
		ReasonCode: trace.ReasonAuctionWon,
		InternalVariables: map[string]any{
			"winner_dsp":          winner.DSPID,
			"winner_bid":          winner.Price,
			"winner_ecpm":         winner.EffectiveCPM,
			"winner_raw_ecpm":     winner.RawECPM,
			"winner_pctr":         winner.PCTR,
			"winner_pcvr":         winner.PCVR,
			"winner_q_factor":     winner.QualityFactor,
			"second_best_bid":     settlement.SecondBestBid,
			"second_highest_ecpm": settlement.SecondBestECPM,
			"actual_paid_price":   settlement.Price,
			"saved_amount":        settlement.SavedAmount,
			"total_bids":          settlement.TotalBids,
			"latency_ms":          req.LatencyMS,
			"winner_bid_hash":     settlement.WinnerBidHash,
			"settlement_hash":     settlement.SettlementHash,
			"all_bids":            settlement.Ranked,
		},
		Reasoning: fmt.Sprintf(
			"Auction settled: %s wins with eCPM %.4f (bid %.4f), runner-up eCPM %.4f, pays %.4f under second-price rules, saving %.4f",
			winner.DSPID, winner.EffectiveCPM, winner.Price, settlement.SecondBestECPM, settlement.Price, settlement.SavedAmount),
		PCTR:            trace.Float(winner.PCTR),
		PCVR:            trace.Float(winner.PCVR),
		ECPM:            trace.Float(winner.EffectiveCPM),
		LatencyMS:       trace.Float(req.LatencyMS),
		SecondBestBid:   trace.Float(settlement.SecondBestBid),
		ActualPaidPrice: trace.Float(settlement.Price),
		SavedAmount:     trace.Float(settlement.SavedAmount),
	})

	return &Result{
		RequestID:  req.ID,
		Status:     StatusAccepted,
		Reason:     trace.ReasonAuctionWon,
		Settlement: settlement,
		BidCount:   len(bids),
	}
}
