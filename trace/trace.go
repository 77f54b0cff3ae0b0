// Package trace defines the whitebox trace contract: one immutable record per
// decision point, written to an append-only sink. Every internal variable that
// influenced a decision is captured alongside a human-readable rationale, so
// the full pipeline can be audited offline from the trace stream alone.
package trace

import (
	"fmt"
	"math"
	"time"
)

// Node identifies which side of the exchange emitted a record.
type Node string

const (
	NodeSupply   Node = "SSP"
	NodeExchange Node = "ADX"
	NodeDemand   Node = "DSP"
)

// Decision is the outcome class of a decision point.
type Decision string

const (
	DecisionPass    Decision = "PASS"
	DecisionReject  Decision = "REJECT"
	DecisionWarning Decision = "WARNING"
)

// Reason codes form a closed vocabulary. Audit tooling matches on these
// strings exactly, so they must never be reworded.
const (
	ReasonBidAboveFloor     = "BID_ABOVE_FLOOR"
	ReasonBidBelowFloor     = "BID_BELOW_FLOOR"
	ReasonInBlacklist       = "IN_BLACKLIST"
	ReasonNotInBlacklist    = "NOT_IN_BLACKLIST"
	ReasonSizeMatched       = "SIZE_MATCHED"
	ReasonSizeMismatch      = "SIZE_MISMATCH"
	ReasonLatencyOK         = "LATENCY_OK"
	ReasonLatencyTimeout    = "LATENCY_TIMEOUT"
	ReasonCreativeCompliant = "CREATIVE_COMPLIANT"
	ReasonCreativeMismatch  = "CREATIVE_MISMATCH"
	ReasonFloorPriceHigh    = "FLOOR_PRICE_HIGH"
	ReasonQualityScored     = "QUALITY_SCORED"
	ReasonSKANEstimated     = "SKAN_PCVR_ESTIMATED"
	ReasonRequestCreated    = "REQUEST_CREATED"
	ReasonRequestAccepted   = "REQUEST_ACCEPTED"
	ReasonAllFiltersPassed  = "ALL_FILTERS_PASSED"
	ReasonAuctionWon        = "AUCTION_WON"
	ReasonNoValidBids       = "NO_VALID_BIDS"
	ReasonAuctionFailed     = "AUCTION_FAILED"
	ReasonCTRCalculated     = "CTR_CALCULATED"
	ReasonBidCalculated     = "BID_CALCULATED"
	ReasonBidSubmitted      = "BID_SUBMITTED"
)

var knownReasons = map[string]bool{
	ReasonBidAboveFloor:     true,
	ReasonBidBelowFloor:     true,
	ReasonInBlacklist:       true,
	ReasonNotInBlacklist:    true,
	ReasonSizeMatched:       true,
	ReasonSizeMismatch:      true,
	ReasonLatencyOK:         true,
	ReasonLatencyTimeout:    true,
	ReasonCreativeCompliant: true,
	ReasonCreativeMismatch:  true,
	ReasonFloorPriceHigh:    true,
	ReasonQualityScored:     true,
	ReasonSKANEstimated:     true,
	ReasonRequestCreated:    true,
	ReasonRequestAccepted:   true,
	ReasonAllFiltersPassed:  true,
	ReasonAuctionWon:        true,
	ReasonNoValidBids:       true,
	ReasonAuctionFailed:     true,
	ReasonCTRCalculated:     true,
	ReasonBidCalculated:     true,
	ReasonBidSubmitted:      true,
}

// KnownReason reports whether code belongs to the closed reason vocabulary.
func KnownReason(code string) bool {
	return knownReasons[code]
}

// Record is an immutable snapshot of one decision point. Optional numeric
// fields are pointers: absent means "not applicable", never zero.
type Record struct {
	RequestID         string         `json:"request_id"`
	Timestamp         time.Time      `json:"timestamp"`
	Node              Node           `json:"node"`
	Action            string         `json:"action"`
	Decision          Decision       `json:"decision"`
	ReasonCode        string         `json:"reason_code"`
	InternalVariables map[string]any `json:"internal_variables"`
	Reasoning         string         `json:"reasoning"`

	PCTR            *float64 `json:"pctr,omitempty"`
	PCVR            *float64 `json:"pcvr,omitempty"`
	ECPM            *float64 `json:"ecpm,omitempty"`
	LatencyMS       *float64 `json:"latency_ms,omitempty"`
	SecondBestBid   *float64 `json:"second_best_bid,omitempty"`
	ActualPaidPrice *float64 `json:"actual_paid_price,omitempty"`
	SavedAmount     *float64 `json:"saved_amount,omitempty"`
}

// Float wraps a value for an optional record field.
func Float(v float64) *float64 {
	return &v
}

// Validate checks the structural invariants a sink relies on: a correlation
// key, a populated enum triple, and optional numerics that are finite when set.
func (r *Record) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("trace record missing request_id")
	}
	if r.Node != NodeSupply && r.Node != NodeExchange && r.Node != NodeDemand {
		return fmt.Errorf("trace record has unknown node %q", r.Node)
	}
	if r.Decision != DecisionPass && r.Decision != DecisionReject && r.Decision != DecisionWarning {
		return fmt.Errorf("trace record has unknown decision %q", r.Decision)
	}
	if r.ReasonCode == "" {
		return fmt.Errorf("trace record missing reason_code")
	}
	optionals := map[string]*float64{
		"pctr":              r.PCTR,
		"pcvr":              r.PCVR,
		"ecpm":              r.ECPM,
		"latency_ms":        r.LatencyMS,
		"second_best_bid":   r.SecondBestBid,
		"actual_paid_price": r.ActualPaidPrice,
		"saved_amount":      r.SavedAmount,
	}
	for name, v := range optionals {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return fmt.Errorf("trace record field %s is not finite: %v", name, *v)
		}
	}
	return nil
}
