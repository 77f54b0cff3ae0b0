package core

import (
	"fmt"

	"github.com/cloudx-io/whitebox-exchange/trace"
)

// Outcome is the result of evaluating one admission filter.
type Outcome struct {
	Passed     bool
	ReasonCode string
	Variables  map[string]any
	Reasoning  string
}

// Filter is one admission predicate. Evaluate must be free of side effects:
// the chain owns trace emission, which is what makes short-circuiting safe
// (a filter that never runs leaves no trace).
type Filter interface {
	Name() string
	// Action is the stage tag recorded on every trace record this filter produces.
	Action() string
	Evaluate(req *Request, bidPrice float64) Outcome
}

// FilterChain evaluates filters strictly in registration order and
// short-circuits on the first rejection. Every invocation, pass or reject,
// emits exactly one trace record.
type FilterChain struct {
	filters []Filter
	logger  *trace.Logger
}

func NewFilterChain(logger *trace.Logger, filters ...Filter) *FilterChain {
	return &FilterChain{logger: logger, filters: filters}
}

// Add registers a filter at the end of the chain.
func (c *FilterChain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Len returns the number of registered filters.
func (c *FilterChain) Len() int {
	return len(c.filters)
}

// Apply runs the chain against a request and a candidate bid price. Returns
// whether every filter passed and, on rejection, the rejecting filter's name
// and reason code.
func (c *FilterChain) Apply(req *Request, bidPrice float64) (passed bool, filterName, reasonCode string) {
	for _, f := range c.filters {
		out := f.Evaluate(req, bidPrice)

		decision := trace.DecisionPass
		if !out.Passed {
			decision = trace.DecisionReject
		}
		c.logger.Decision(trace.Record{
			RequestID:         req.ID,
			Node:              trace.NodeExchange,
			Action:            f.Action(),
			Decision:          decision,
			ReasonCode:        out.ReasonCode,
			InternalVariables: out.Variables,
			Reasoning:         out.Reasoning,
		})

		if !out.Passed {
			return false, f.Name(), out.ReasonCode
		}
	}
	return true, "", trace.ReasonAllFiltersPassed
}

// FloorPriceFilter passes bids at or above a configured floor price.
type FloorPriceFilter struct {
	floorPrice float64
}

func NewFloorPriceFilter(floorPrice float64) (*FloorPriceFilter, error) {
	if floorPrice < 0 {
		return nil, fmt.Errorf("floor price must be non-negative, got %v", floorPrice)
	}
	return &FloorPriceFilter{floorPrice: floorPrice}, nil
}

func (f *FloorPriceFilter) Name() string   { return "FloorPriceFilter" }
func (f *FloorPriceFilter) Action() string { return "FLOOR_PRICE_CHECK" }

func (f *FloorPriceFilter) Evaluate(req *Request, bidPrice float64) Outcome {
	vars := map[string]any{
		"bid_price":   bidPrice,
		"floor_price": f.floorPrice,
		"filter_name": f.Name(),
	}
	if BidMeetsFloor(bidPrice, f.floorPrice) {
		return Outcome{
			Passed:     true,
			ReasonCode: trace.ReasonBidAboveFloor,
			Variables:  vars,
			Reasoning:  fmt.Sprintf("Bid %.4f meets floor price %.4f, passing floor filter", bidPrice, f.floorPrice),
		}
	}
	return Outcome{
		Passed:     false,
		ReasonCode: trace.ReasonBidBelowFloor,
		Variables:  vars,
		Reasoning:  fmt.Sprintf("Bid %.4f is below floor price %.4f, rejected by floor filter", bidPrice, f.floorPrice),
	}
}

// BlacklistFilter rejects requests whose device or app ID is blacklisted.
// Membership is exact-match and case-sensitive.
type BlacklistFilter struct {
	blacklist map[string]bool
}

func NewBlacklistFilter(entries []string) *BlacklistFilter {
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		set[e] = true
	}
	return &BlacklistFilter{blacklist: set}
}

func (f *BlacklistFilter) Name() string   { return "BlacklistFilter" }
func (f *BlacklistFilter) Action() string { return "BLACKLIST_CHECK" }

func (f *BlacklistFilter) Evaluate(req *Request, bidPrice float64) Outcome {
	vars := map[string]any{
		"device_id":      req.DeviceID,
		"app_id":         req.AppID,
		"blacklist_size": len(f.blacklist),
		"filter_name":    f.Name(),
	}
	if f.blacklist[req.DeviceID] || f.blacklist[req.AppID] {
		return Outcome{
			Passed:     false,
			ReasonCode: trace.ReasonInBlacklist,
			Variables:  vars,
			Reasoning:  fmt.Sprintf("Device %s or app %s is blacklisted, rejecting request", req.DeviceID, req.AppID),
		}
	}
	return Outcome{
		Passed:     true,
		ReasonCode: trace.ReasonNotInBlacklist,
		Variables:  vars,
		Reasoning:  fmt.Sprintf("Device %s and app %s are not blacklisted", req.DeviceID, req.AppID),
	}
}

// SizeMatchFilter passes only requests whose slot size equals the required
// size exactly. No partial or proportional matching.
type SizeMatchFilter struct {
	required AdSize
}

func NewSizeMatchFilter(required AdSize) (*SizeMatchFilter, error) {
	if required.Width <= 0 || required.Height <= 0 {
		return nil, fmt.Errorf("required ad size must have positive dimensions, got %s", required)
	}
	return &SizeMatchFilter{required: required}, nil
}

func (f *SizeMatchFilter) Name() string   { return "SizeMatchFilter" }
func (f *SizeMatchFilter) Action() string { return "SIZE_MATCH_CHECK" }

func (f *SizeMatchFilter) Evaluate(req *Request, bidPrice float64) Outcome {
	vars := map[string]any{
		"ad_size":       req.AdSize.String(),
		"required_size": f.required.String(),
		"filter_name":   f.Name(),
	}
	if req.AdSize == f.required {
		return Outcome{
			Passed:     true,
			ReasonCode: trace.ReasonSizeMatched,
			Variables:  vars,
			Reasoning:  fmt.Sprintf("Ad size %s matches required size %s", req.AdSize, f.required),
		}
	}
	return Outcome{
		Passed:     false,
		ReasonCode: trace.ReasonSizeMismatch,
		Variables:  vars,
		Reasoning:  fmt.Sprintf("Ad size %s does not match required size %s", req.AdSize, f.required),
	}
}

// LatencyTimeoutFilter rejects requests whose measured latency exceeds the
// allowed budget.
type LatencyTimeoutFilter struct {
	maxLatencyMS float64
}

func NewLatencyTimeoutFilter(maxLatencyMS float64) (*LatencyTimeoutFilter, error) {
	if maxLatencyMS <= 0 {
		return nil, fmt.Errorf("max latency must be positive, got %v", maxLatencyMS)
	}
	return &LatencyTimeoutFilter{maxLatencyMS: maxLatencyMS}, nil
}

func (f *LatencyTimeoutFilter) Name() string   { return "LatencyTimeoutFilter" }
func (f *LatencyTimeoutFilter) Action() string { return "LATENCY_CHECK" }

func (f *LatencyTimeoutFilter) Evaluate(req *Request, bidPrice float64) Outcome {
	vars := map[string]any{
		"latency_ms":     req.LatencyMS,
		"max_latency_ms": f.maxLatencyMS,
		"filter_name":    f.Name(),
	}
	if req.LatencyMS <= f.maxLatencyMS {
		return Outcome{
			Passed:     true,
			ReasonCode: trace.ReasonLatencyOK,
			Variables:  vars,
			Reasoning:  fmt.Sprintf("Latency %.1fms is within the %.0fms budget", req.LatencyMS, f.maxLatencyMS),
		}
	}
	return Outcome{
		Passed:     false,
		ReasonCode: trace.ReasonLatencyTimeout,
		Variables:  vars,
		Reasoning:  fmt.Sprintf("Latency %.1fms exceeds the %.0fms budget, request timed out", req.LatencyMS, f.maxLatencyMS),
	}
}

// CompliancePredicate reports whether a request's creative is compliant.
// Production deployments supply a real content check here.
type CompliancePredicate func(req *Request) bool

// CreativeComplianceFilter is a stand-in for a real compliance check. With no
// predicate injected it passes with probability (1 - rejectionRate).
type CreativeComplianceFilter struct {
	rejectionRate float64
	check         CompliancePredicate
	rnd           RandSource
}

// NewCreativeComplianceFilter builds the filter. check may be nil, in which
// case compliance is sampled from rnd (nil rnd falls back to the default
// crypto-backed source).
func NewCreativeComplianceFilter(rejectionRate float64, check CompliancePredicate, rnd RandSource) (*CreativeComplianceFilter, error) {
	if rejectionRate < 0 || rejectionRate > 1 {
		return nil, fmt.Errorf("rejection rate must be in [0, 1], got %v", rejectionRate)
	}
	if rnd == nil {
		rnd = defaultRandSource
	}
	return &CreativeComplianceFilter{rejectionRate: rejectionRate, check: check, rnd: rnd}, nil
}

func (f *CreativeComplianceFilter) Name() string   { return "CreativeComplianceFilter" }
func (f *CreativeComplianceFilter) Action() string { return "CREATIVE_COMPLIANCE_CHECK" }

func (f *CreativeComplianceFilter) Evaluate(req *Request, bidPrice float64) Outcome {
	var compliant bool
	if f.check != nil {
		compliant = f.check(req)
	} else {
		compliant = f.rnd.Float64() > f.rejectionRate
	}
	vars := map[string]any{
		"is_compliant":   compliant,
		"rejection_rate": f.rejectionRate,
		"filter_name":    f.Name(),
	}
	if compliant {
		return Outcome{
			Passed:     true,
			ReasonCode: trace.ReasonCreativeCompliant,
			Variables:  vars,
			Reasoning:  "Creative passed the compliance check",
		}
	}
	return Outcome{
		Passed:     false,
		ReasonCode: trace.ReasonCreativeMismatch,
		Variables:  vars,
		Reasoning:  "Creative failed the compliance check, rejected",
	}
}

// FloorPriceHighFilter attributes lost revenue to an overly high floor: it
// rejects like a floor filter but records the price gap for loss analysis.
type FloorPriceHighFilter struct {
	floorPrice float64
}

func NewFloorPriceHighFilter(floorPrice float64) (*FloorPriceHighFilter, error) {
	if floorPrice < 0 {
		return nil, fmt.Errorf("floor price must be non-negative, got %v", floorPrice)
	}
	return &FloorPriceHighFilter{floorPrice: floorPrice}, nil
}

func (f *FloorPriceHighFilter) Name() string   { return "FloorPriceHighFilter" }
func (f *FloorPriceHighFilter) Action() string { return "FLOOR_PRICE_HIGH_CHECK" }

func (f *FloorPriceHighFilter) Evaluate(req *Request, bidPrice float64) Outcome {
	priceGap := 0.0
	if bidPrice < f.floorPrice {
		priceGap = f.floorPrice - bidPrice
	}
	vars := map[string]any{
		"bid_price":   bidPrice,
		"floor_price": f.floorPrice,
		"price_gap":   priceGap,
		"filter_name": f.Name(),
	}
	if BidMeetsFloor(bidPrice, f.floorPrice) {
		return Outcome{
			Passed:     true,
			ReasonCode: trace.ReasonBidAboveFloor,
			Variables:  vars,
			Reasoning:  fmt.Sprintf("Bid %.4f clears floor price %.4f, no revenue loss attributed", bidPrice, f.floorPrice),
		}
	}
	return Outcome{
		Passed:     false,
		ReasonCode: trace.ReasonFloorPriceHigh,
		Variables:  vars,
		Reasoning:  fmt.Sprintf("Bid %.4f is below floor price %.4f; the floor may be set too high, forgoing %.4f of potential revenue", bidPrice, f.floorPrice, priceGap),
	}
}
