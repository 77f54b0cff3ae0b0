package core

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudx-io/whitebox-exchange/trace"
)

// Fraud feature names recorded in quality details and trace records.
const (
	FeatureAddressConcentration = "ADDRESS_CONCENTRATION"
	FeatureCoordinateFixation   = "COORDINATE_FIXATION"
)

// residualFeatures are the synthetic fraud signals the residual stochastic
// feature picks from. They stand in for fraud dimensions the two modeled
// features do not cover.
var residualFeatures = []string{
	"DEVICE_FINGERPRINT_ANOMALY",
	"BEHAVIOR_PATTERN_ANOMALY",
	"TIME_DISTRIBUTION_ANOMALY",
}

const (
	addressWindow          = 5 * time.Minute
	addressCountThreshold  = 10
	addressPenalty         = 0.5
	coordinateHistoryLimit = 20
	coordinateMinSamples   = 5
	coordinateVarianceMin  = 100.0 // px², below this the click position is suspiciously fixed
	coordinatePenalty      = 0.6
	highRiskThreshold      = 0.5
)

// Signal carries the behavioral inputs for one scoring call: the request's
// network address and one interaction coordinate.
type Signal struct {
	Address string
	ClickX  int
	ClickY  int
}

// SignalSource supplies behavioral signals for a request. Production
// implementations read them from the request context; the default simulates
// them.
type SignalSource interface {
	Sample(req *Request) Signal
}

// simulatedSignalSource fabricates addresses in a small 192.168.0.0/16 pool
// and click coordinates on a 1080x1920 screen.
type simulatedSignalSource struct {
	rnd RandSource
}

func (s simulatedSignalSource) Sample(req *Request) Signal {
	return Signal{
		Address: fmt.Sprintf("192.168.%d.%d", 1+s.rnd.Intn(10), 1+s.rnd.Intn(255)),
		ClickX:  s.rnd.Intn(1081),
		ClickY:  s.rnd.Intn(1921),
	}
}

// QualityConfig configures the scorer. Zero values select the defaults.
type QualityConfig struct {
	// ResidualRate is the base probability of the residual stochastic fraud
	// feature. Default 0.15.
	ResidualRate float64
	// ResidualPenaltyMin/Max bound the sampled residual penalty multiplier.
	// Defaults 0.3 and 0.7.
	ResidualPenaltyMin float64
	ResidualPenaltyMax float64

	// Signals, Rand and Now are injectable for testing and for production
	// signal sources. Nil selects simulated signals, the crypto-backed random
	// source, and the wall clock.
	Signals SignalSource
	Rand    RandSource
	Now     func() time.Time
}

// QualityDetail is the per-call scoring breakdown.
type QualityDetail struct {
	Factor     float64  `json:"q_factor"`
	Features   []string `json:"fraud_features"`
	Address    string   `json:"ip_address"`
	ClickX     int      `json:"click_x"`
	ClickY     int      `json:"click_y"`
	IsHighRisk bool     `json:"is_high_risk"`
}

// QualityScorer computes a multiplicative traffic-quality coefficient from
// behavioral signals. It is stateful: every call updates the per-address
// observation window and the per-(device,app) coordinate history, so an
// instance must be the single writer of its own maps. All mutation happens
// under one mutex, which also serializes concurrent scoring across requests.
type QualityScorer struct {
	mu sync.Mutex

	logger  *trace.Logger
	signals SignalSource
	rnd     RandSource
	now     func() time.Time

	residualRate       float64
	residualPenaltyMin float64
	residualPenaltyMax float64

	addressSeen  map[string][]time.Time
	clickHistory map[string][][2]int
}

func NewQualityScorer(logger *trace.Logger, cfg QualityConfig) (*QualityScorer, error) {
	if cfg.ResidualRate == 0 {
		cfg.ResidualRate = 0.15
	}
	if cfg.ResidualPenaltyMin == 0 && cfg.ResidualPenaltyMax == 0 {
		cfg.ResidualPenaltyMin, cfg.ResidualPenaltyMax = 0.3, 0.7
	}
	if cfg.ResidualRate < 0 || cfg.ResidualRate > 1 {
		return nil, fmt.Errorf("residual rate must be in [0, 1], got %v", cfg.ResidualRate)
	}
	if cfg.ResidualPenaltyMin <= 0 || cfg.ResidualPenaltyMax > 1 || cfg.ResidualPenaltyMin > cfg.ResidualPenaltyMax {
		return nil, fmt.Errorf("residual penalty range must satisfy 0 < min <= max <= 1, got [%v, %v]",
			cfg.ResidualPenaltyMin, cfg.ResidualPenaltyMax)
	}
	if cfg.Rand == nil {
		cfg.Rand = defaultRandSource
	}
	if cfg.Signals == nil {
		cfg.Signals = simulatedSignalSource{rnd: cfg.Rand}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &QualityScorer{
		logger:             logger,
		signals:            cfg.Signals,
		rnd:                cfg.Rand,
		now:                cfg.Now,
		residualRate:       cfg.ResidualRate,
		residualPenaltyMin: cfg.ResidualPenaltyMin,
		residualPenaltyMax: cfg.ResidualPenaltyMax,
		addressSeen:        make(map[string][]time.Time),
		clickHistory:       make(map[string][][2]int),
	}, nil
}

// Score computes the quality factor for a request. The factor starts at 1.0,
// each triggered fraud feature multiplies a penalty in, and the result is
// clamped to [0, 1]. Emits one QUALITY_SCORE trace record per call.
func (s *QualityScorer) Score(req *Request) (float64, QualityDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig := s.signals.Sample(req)
	now := s.now()

	factor := 1.0
	var features []string

	if s.observeAddress(sig.Address, now) > addressCountThreshold {
		features = append(features, FeatureAddressConcentration)
		factor *= addressPenalty
	}

	if s.observeClick(req, sig) {
		features = append(features, FeatureCoordinateFixation)
		factor *= coordinatePenalty
	}

	// The residual feature only fires when neither modeled feature did, so it
	// never double-counts traffic already flagged.
	if len(features) == 0 && s.rnd.Float64() < s.residualRate {
		features = append(features, residualFeatures[s.rnd.Intn(len(residualFeatures))])
		factor *= s.residualPenaltyMin + s.rnd.Float64()*(s.residualPenaltyMax-s.residualPenaltyMin)
	}

	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}

	detail := QualityDetail{
		Factor:     factor,
		Features:   features,
		Address:    sig.Address,
		ClickX:     sig.ClickX,
		ClickY:     sig.ClickY,
		IsHighRisk: factor < highRiskThreshold,
	}

	decision := trace.DecisionPass
	if detail.IsHighRisk {
		decision = trace.DecisionWarning
	}
	featureText := "none"
	if len(features) > 0 {
		featureText = strings.Join(features, ", ")
	}
	s.logger.Decision(trace.Record{
		RequestID:  req.ID,
		Node:       trace.NodeExchange,
		Action:     "QUALITY_SCORE",
		Decision:   decision,
		ReasonCode: trace.ReasonQualityScored,
		InternalVariables: map[string]any{
			"q_factor":       factor,
			"fraud_features": features,
			"ip_address":     sig.Address,
			"click_x":        sig.ClickX,
			"click_y":        sig.ClickY,
			"is_high_risk":   detail.IsHighRisk,
		},
		Reasoning: fmt.Sprintf("Traffic quality scored: q_factor=%.2f, detected features: %s", factor, featureText),
	})

	return factor, detail
}

// observeAddress records an observation for the address, evicts entries older
// than the trailing window, and returns the resulting count.
func (s *QualityScorer) observeAddress(address string, now time.Time) int {
	cutoff := now.Add(-addressWindow)
	kept := s.addressSeen[address][:0]
	for _, ts := range s.addressSeen[address] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	s.addressSeen[address] = kept
	return len(kept)
}

// observeClick appends the coordinate to the (device, app) history, truncates
// it to the last coordinateHistoryLimit entries, and reports whether the
// history shows a fixated click position.
func (s *QualityScorer) observeClick(req *Request, sig Signal) bool {
	key := req.DeviceID + "_" + req.AppID
	history := append(s.clickHistory[key], [2]int{sig.ClickX, sig.ClickY})
	if len(history) > coordinateHistoryLimit {
		history = history[len(history)-coordinateHistoryLimit:]
	}
	s.clickHistory[key] = history

	if len(history) < coordinateMinSamples {
		return false
	}
	xVar := populationVariance(history, 0)
	yVar := populationVariance(history, 1)
	return xVar < coordinateVarianceMin || yVar < coordinateVarianceMin
}

func populationVariance(coords [][2]int, axis int) float64 {
	mean := 0.0
	for _, c := range coords {
		mean += float64(c[axis])
	}
	mean /= float64(len(coords))

	variance := 0.0
	for _, c := range coords {
		d := float64(c[axis]) - mean
		variance += d * d
	}
	return variance / float64(len(coords))
}
