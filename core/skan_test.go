package core

import (
	"math"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/whitebox-exchange/trace"
)

const massTolerance = 1e-9

func TestConversionModel_PriorSumsToOne(t *testing.T) {
	model := NewConversionModel()
	check.True(t, math.Abs(model.Sum()-1.0) < massTolerance)
}

func TestConversionModel_PriorShape(t *testing.T) {
	model := NewConversionModel()

	// Heavier mass at low conversion values, lighter at high ones.
	check.True(t, model.Mass(0) > model.Mass(40))
	check.True(t, model.Mass(0) > model.Mass(63))

	// Mass decays within each band.
	check.True(t, model.Mass(0) > model.Mass(20))
	check.True(t, model.Mass(21) > model.Mass(40))
	check.True(t, model.Mass(41) > model.Mass(63))

	// Every bucket carries some mass.
	for v := 0; v < 64; v++ {
		check.True(t, model.Mass(v) > 0)
	}
}

func TestConversionModel_UpdateKeepsMassNormalized(t *testing.T) {
	model := NewConversionModel()
	before := model.Mass(42)

	for i := 0; i < 10; i++ {
		assert.NoError(t, model.Update(42, 0.1))
		check.True(t, math.Abs(model.Sum()-1.0) < massTolerance)
	}

	// Repeated observations of one value raise its mass.
	check.True(t, model.Mass(42) > before)
}

func TestConversionModel_UpdateValidation(t *testing.T) {
	model := NewConversionModel()

	check.Error(t, model.Update(-1, 0.1))
	check.Error(t, model.Update(64, 0.1))
	check.Error(t, model.Update(10, 0))
	check.Error(t, model.Update(10, 1))
}

func TestBusinessValue(t *testing.T) {
	check.Equal(t, 0.0, BusinessValue(0))
	check.Equal(t, 10.0, BusinessValue(63))
	check.True(t, BusinessValue(31) < BusinessValue(32)) // monotonic
	check.Equal(t, 0.0, BusinessValue(-1))
	check.Equal(t, 0.0, BusinessValue(64))
}

func newTestEstimator(rnd RandSource) (*SKANEstimator, *trace.MemorySink) {
	sink := trace.NewMemorySink()
	return NewSKANEstimator(trace.NewLogger(sink), SKANConfig{Rand: rnd}), sink
}

func TestSKANEstimator_RestrictedPlatformOnly(t *testing.T) {
	estimator, _ := newTestEstimator(&mockRandSource{floats: []float64{0.5, 0.5}})

	req := testRequest()
	req.Platform = PlatformAndroid
	_, _, ok := estimator.Estimate(req)
	check.False(t, ok)

	req.Platform = PlatformOther
	_, _, ok = estimator.Estimate(req)
	check.False(t, ok)

	req.Platform = PlatformIOS
	_, _, ok = estimator.Estimate(req)
	check.True(t, ok)
}

func TestSKANEstimator_InverseCDFSampling(t *testing.T) {
	t.Run("tiny draw selects the first bucket", func(t *testing.T) {
		estimator, _ := newTestEstimator(&mockRandSource{floats: []float64{1e-12, 0.5}})
		req := testRequest()
		req.Platform = PlatformIOS

		_, detail, ok := estimator.Estimate(req)
		assert.True(t, ok)
		check.Equal(t, 0, detail.ConversionValue)
	})

	t.Run("draw near one selects a high bucket", func(t *testing.T) {
		estimator, _ := newTestEstimator(&mockRandSource{floats: []float64{0.9999999, 0.5}})
		req := testRequest()
		req.Platform = PlatformIOS

		_, detail, ok := estimator.Estimate(req)
		assert.True(t, ok)
		check.True(t, detail.ConversionValue >= 41)
	})
}

func TestSKANEstimator_EstimateFormula(t *testing.T) {
	estimator, sink := newTestEstimator(&mockRandSource{floats: []float64{1e-12, 0.5}})
	req := testRequest()
	req.Platform = PlatformIOS

	pcvr, detail, ok := estimator.Estimate(req)
	assert.True(t, ok)

	// Bucket 0: base CVR is the 1% lower bound.
	check.Equal(t, 0, detail.ConversionValue)
	check.Equal(t, 0.01, detail.BaseCVR)
	check.Equal(t, 0.0, detail.BusinessValue)

	mass := estimator.Model().Mass(0)
	wantConfidence := math.Min(1.0, mass*10)
	check.Equal(t, wantConfidence, detail.Confidence)
	check.Equal(t, 0.01*(0.7+0.3*wantConfidence), detail.AdjustedCVR)
	check.Equal(t, pcvr, detail.AdjustedCVR)

	// Simulated postback delay: 24 + 0.5×24 = 36 hours.
	check.Equal(t, 36.0, detail.PostbackDelayHours)

	records := sink.ByRequest(req.ID)
	assert.Equal(t, 1, len(records))
	check.Equal(t, trace.ReasonSKANEstimated, records[0].ReasonCode)
	assert.NotNil(t, records[0].PCVR)
	check.Equal(t, pcvr, *records[0].PCVR)
}

func TestSKANEstimator_DelayWithinAttributionWindow(t *testing.T) {
	for _, draw := range []float64{0.0, 0.25, 0.75, 0.999} {
		estimator, _ := newTestEstimator(&mockRandSource{floats: []float64{0.5, draw}})
		req := testRequest()
		req.Platform = PlatformIOS

		_, detail, ok := estimator.Estimate(req)
		assert.True(t, ok)
		check.True(t, detail.PostbackDelayHours >= 24 && detail.PostbackDelayHours < 48)
	}
}

func TestSKANEstimator_CustomRestrictedPlatform(t *testing.T) {
	sink := trace.NewMemorySink()
	estimator := NewSKANEstimator(trace.NewLogger(sink), SKANConfig{
		Platform: PlatformAndroid,
		Rand:     &mockRandSource{floats: []float64{0.5, 0.5}},
	})

	req := testRequest()
	req.Platform = PlatformAndroid
	_, _, ok := estimator.Estimate(req)
	check.True(t, ok)

	req.Platform = PlatformIOS
	_, _, ok = estimator.Estimate(req)
	check.False(t, ok)
}
