package core

import (
	"fmt"
	"math"
	"sync"

	"github.com/cloudx-io/whitebox-exchange/trace"
)

// conversionBuckets is the size of the SKAN conversion-value domain [0, 63].
const conversionBuckets = 64

// maxBusinessValue is the dollar value mapped to the top conversion bucket.
const maxBusinessValue = 10.0

// ConversionModel is a probability mass function over the discrete
// conversion-value domain. It always sums to 1.0 within floating-point
// tolerance. Reads take a consistent snapshot under a read lock so sampling
// never observes a half-applied update.
type ConversionModel struct {
	mu   sync.RWMutex
	mass [conversionBuckets]float64
}

// NewConversionModel builds the fixed monotonically-shaped prior: heavier
// mass on low conversion values, lighter on high ones. Three linearly
// decaying bands — low (0-20, 60%), mid (21-40, 30%), high (41-63, 10%) —
// renormalized once at construction and never re-derived.
func NewConversionModel() *ConversionModel {
	m := &ConversionModel{}
	for v := 0; v <= 20; v++ {
		m.mass[v] = 0.6 / 21 * (1 - float64(v)/21*0.5)
	}
	for v := 21; v <= 40; v++ {
		m.mass[v] = 0.3 / 20 * (1 - float64(v-21)/20*0.3)
	}
	for v := 41; v <= 63; v++ {
		m.mass[v] = 0.1 / 23 * (1 - float64(v-41)/23*0.2)
	}
	m.normalizeLocked()
	return m
}

// normalizeLocked rescales the distribution to sum to 1. Caller holds mu.
func (m *ConversionModel) normalizeLocked() {
	total := 0.0
	for _, p := range m.mass {
		total += p
	}
	for v := range m.mass {
		m.mass[v] /= total
	}
}

// Mass returns the probability mass of one bucket.
func (m *ConversionModel) Mass(v int) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v < 0 || v >= conversionBuckets {
		return 0
	}
	return m.mass[v]
}

// Sum returns the total probability mass, which should always be 1.0 within
// floating-point tolerance.
func (m *ConversionModel) Sum() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, p := range m.mass {
		total += p
	}
	return total
}

// snapshot copies the distribution under a read lock so sampling works on a
// consistent view even while an update is in flight.
func (m *ConversionModel) snapshot() [conversionBuckets]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mass
}

// Update applies the online exponential-moving-average rule to one bucket and
// renormalizes:
//
//	new_mass[v] = old_mass[v]·(1−weight) + weight
func (m *ConversionModel) Update(v int, weight float64) error {
	if v < 0 || v >= conversionBuckets {
		return fmt.Errorf("conversion value must be in [0, %d], got %d", conversionBuckets-1, v)
	}
	if weight <= 0 || weight >= 1 {
		return fmt.Errorf("update weight must be in (0, 1), got %v", weight)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mass[v] = m.mass[v]*(1-weight) + weight
	m.normalizeLocked()
	return nil
}

// BusinessValue maps a conversion-value bucket to its business value in
// dollars: a fixed linear ramp from $0 at bucket 0 to $10 at bucket 63.
func BusinessValue(v int) float64 {
	if v < 0 || v >= conversionBuckets {
		return 0
	}
	return float64(v) / float64(conversionBuckets-1) * maxBusinessValue
}

// SKANDetail is the per-estimate breakdown.
type SKANDetail struct {
	ConversionValue    int     `json:"conversion_value"`
	BusinessValue      float64 `json:"business_value"`
	BaseCVR            float64 `json:"base_pcvr"`
	AdjustedCVR        float64 `json:"adjusted_pcvr"`
	Confidence         float64 `json:"confidence"`
	HistoricalMass     float64 `json:"historical_prob"`
	PostbackDelayHours float64 `json:"postback_delay_hours"`
}

// SKANConfig configures the estimator. The zero value restricts estimation to
// iOS and uses the crypto-backed random source.
type SKANConfig struct {
	// Platform is the restricted-attribution platform the estimator applies
	// to. Default PlatformIOS.
	Platform Platform
	Rand     RandSource
}

// SKANEstimator estimates a deferred conversion probability for traffic on a
// restricted-attribution platform, where conversions arrive late and coarse
// and must be modeled probabilistically instead of measured.
type SKANEstimator struct {
	logger   *trace.Logger
	model    *ConversionModel
	platform Platform
	rnd      RandSource
}

func NewSKANEstimator(logger *trace.Logger, cfg SKANConfig) *SKANEstimator {
	if cfg.Platform == "" {
		cfg.Platform = PlatformIOS
	}
	if cfg.Rand == nil {
		cfg.Rand = defaultRandSource
	}
	return &SKANEstimator{
		logger:   logger,
		model:    NewConversionModel(),
		platform: cfg.Platform,
		rnd:      cfg.Rand,
	}
}

// Model exposes the underlying conversion model for online updates.
func (e *SKANEstimator) Model() *ConversionModel {
	return e.model
}

// Estimate returns a predicted conversion rate for requests on the restricted
// platform. ok is false for every other platform; the caller must substitute
// an external estimate.
//
// The estimate samples a conversion-value bucket from the model, interpolates
// a base CVR between 1% and 10% across the bucket domain, and shrinks it
// toward the base by a confidence derived from the bucket's historical mass.
func (e *SKANEstimator) Estimate(req *Request) (pcvr float64, detail SKANDetail, ok bool) {
	if req.Platform != e.platform {
		return 0, SKANDetail{}, false
	}

	v := e.sampleConversionValue()
	mass := e.model.Mass(v)

	baseCVR := 0.01 + float64(v)/float64(conversionBuckets-1)*0.09
	confidence := math.Min(1.0, mass*10)
	adjustedCVR := baseCVR * (0.7 + 0.3*confidence)

	// Simulated attribution delay, informational only.
	delayHours := 24 + e.rnd.Float64()*24

	detail = SKANDetail{
		ConversionValue:    v,
		BusinessValue:      BusinessValue(v),
		BaseCVR:            baseCVR,
		AdjustedCVR:        adjustedCVR,
		Confidence:         confidence,
		HistoricalMass:     mass,
		PostbackDelayHours: delayHours,
	}

	e.logger.Decision(trace.Record{
		RequestID:  req.ID,
		Node:       trace.NodeExchange,
		Action:     "SKAN_OPTIMIZATION",
		Decision:   trace.DecisionPass,
		ReasonCode: trace.ReasonSKANEstimated,
		InternalVariables: map[string]any{
			"conversion_value":     v,
			"business_value":       detail.BusinessValue,
			"base_pcvr":            baseCVR,
			"adjusted_pcvr":        adjustedCVR,
			"confidence":           confidence,
			"historical_prob":      mass,
			"postback_delay_hours": delayHours,
		},
		Reasoning: fmt.Sprintf(
			"SKAN estimate: conversion value %d, business value $%.2f, predicted pCVR %.2f%%, confidence %.1f%%, postback delay %.1f hours",
			v, detail.BusinessValue, adjustedCVR*100, confidence*100, delayHours),
		PCVR: trace.Float(adjustedCVR),
	})

	return adjustedCVR, detail, true
}

// sampleConversionValue draws a bucket by inverse-CDF sampling over a
// consistent snapshot of the distribution: accumulate masses in ascending
// bucket order and return the first bucket whose cumulative mass reaches the
// uniform draw. Falls back to the midpoint bucket if rounding leaves the
// cumulative sum short of 1.
func (e *SKANEstimator) sampleConversionValue() int {
	r := e.rnd.Float64()
	mass := e.model.snapshot()
	cumulative := 0.0
	for v, p := range mass {
		cumulative += p
		if cumulative >= r {
			return v
		}
	}
	return midpointBucket
}

// midpointBucket is the inverse-CDF fallback when floating-point rounding
// leaves the cumulative sum just short of the drawn value.
const midpointBucket = 31
