package core

import (
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/whitebox-exchange/trace"
)

// stubFilter records whether it ran and returns a canned outcome.
type stubFilter struct {
	name    string
	outcome Outcome
	calls   int
}

func (f *stubFilter) Name() string   { return f.name }
func (f *stubFilter) Action() string { return f.name + "_CHECK" }
func (f *stubFilter) Evaluate(req *Request, bidPrice float64) Outcome {
	f.calls++
	return f.outcome
}

func testRequest() *Request {
	return &Request{
		ID:        "req-1",
		DeviceID:  "device_001",
		AppID:     "app_001",
		AppName:   "Demo App",
		Platform:  PlatformAndroid,
		AdSize:    AdSize{Width: 320, Height: 50},
		LatencyMS: 80,
	}
}

func TestFilterChain_ShortCircuit(t *testing.T) {
	sink := trace.NewMemorySink()
	logger := trace.NewLogger(sink)

	failing := &stubFilter{
		name:    "FailingFilter",
		outcome: Outcome{Passed: false, ReasonCode: trace.ReasonSizeMismatch, Reasoning: "rejected"},
	}
	later := &stubFilter{
		name:    "LaterFilter",
		outcome: Outcome{Passed: true, ReasonCode: trace.ReasonLatencyOK, Reasoning: "passed"},
	}
	chain := NewFilterChain(logger, failing, later)

	passed, filterName, reason := chain.Apply(testRequest(), 1.0)

	check.False(t, passed)
	check.Equal(t, "FailingFilter", filterName)
	check.Equal(t, trace.ReasonSizeMismatch, reason)

	// The later filter never ran and left no trace.
	check.Equal(t, 1, failing.calls)
	check.Equal(t, 0, later.calls)
	records := sink.ByRequest("req-1")
	assert.Equal(t, 1, len(records))
	check.Equal(t, trace.DecisionReject, records[0].Decision)
}

func TestFilterChain_AllPass(t *testing.T) {
	sink := trace.NewMemorySink()
	logger := trace.NewLogger(sink)

	a := &stubFilter{name: "A", outcome: Outcome{Passed: true, ReasonCode: trace.ReasonLatencyOK}}
	b := &stubFilter{name: "B", outcome: Outcome{Passed: true, ReasonCode: trace.ReasonSizeMatched}}
	chain := NewFilterChain(logger, a, b)

	passed, _, reason := chain.Apply(testRequest(), 1.0)

	check.True(t, passed)
	check.Equal(t, trace.ReasonAllFiltersPassed, reason)
	check.Equal(t, 1, a.calls)
	check.Equal(t, 1, b.calls)
	// One record per invocation, in registration order.
	check.Equal(t, []string{trace.ReasonLatencyOK, trace.ReasonSizeMatched}, sink.Reasons("req-1"))
}

func TestFilterChain_Add(t *testing.T) {
	chain := NewFilterChain(trace.NewLogger(trace.NewMemorySink()))
	check.Equal(t, 0, chain.Len())
	chain.Add(&stubFilter{name: "A", outcome: Outcome{Passed: true, ReasonCode: trace.ReasonLatencyOK}})
	check.Equal(t, 1, chain.Len())
}

func TestFloorPriceFilter(t *testing.T) {
	f, err := NewFloorPriceFilter(0.1)
	assert.NoError(t, err)

	t.Run("bid above floor passes", func(t *testing.T) {
		out := f.Evaluate(testRequest(), 1.0)
		check.True(t, out.Passed)
		check.Equal(t, trace.ReasonBidAboveFloor, out.ReasonCode)
		check.Equal(t, 1.0, out.Variables["bid_price"])
	})

	t.Run("bid below floor rejected", func(t *testing.T) {
		out := f.Evaluate(testRequest(), 0.05)
		check.False(t, out.Passed)
		check.Equal(t, trace.ReasonBidBelowFloor, out.ReasonCode)
	})

	t.Run("negative floor rejected at construction", func(t *testing.T) {
		_, err := NewFloorPriceFilter(-0.1)
		check.Error(t, err)
	})
}

func TestBlacklistFilter(t *testing.T) {
	f := NewBlacklistFilter([]string{"device_bad", "app_bad"})

	t.Run("clean request passes", func(t *testing.T) {
		out := f.Evaluate(testRequest(), 1.0)
		check.True(t, out.Passed)
		check.Equal(t, trace.ReasonNotInBlacklist, out.ReasonCode)
	})

	t.Run("blacklisted device rejected", func(t *testing.T) {
		req := testRequest()
		req.DeviceID = "device_bad"
		out := f.Evaluate(req, 1.0)
		check.False(t, out.Passed)
		check.Equal(t, trace.ReasonInBlacklist, out.ReasonCode)
	})

	t.Run("blacklisted app rejected", func(t *testing.T) {
		req := testRequest()
		req.AppID = "app_bad"
		out := f.Evaluate(req, 1.0)
		check.False(t, out.Passed)
	})

	t.Run("membership is case-sensitive", func(t *testing.T) {
		req := testRequest()
		req.DeviceID = "DEVICE_BAD"
		out := f.Evaluate(req, 1.0)
		check.True(t, out.Passed)
	})
}

func TestSizeMatchFilter(t *testing.T) {
	f, err := NewSizeMatchFilter(AdSize{Width: 320, Height: 50})
	assert.NoError(t, err)

	t.Run("exact match passes", func(t *testing.T) {
		out := f.Evaluate(testRequest(), 1.0)
		check.True(t, out.Passed)
		check.Equal(t, trace.ReasonSizeMatched, out.ReasonCode)
	})

	t.Run("mismatch rejected - no proportional matching", func(t *testing.T) {
		req := testRequest()
		req.AdSize = AdSize{Width: 640, Height: 100}
		out := f.Evaluate(req, 1.0)
		check.False(t, out.Passed)
		check.Equal(t, trace.ReasonSizeMismatch, out.ReasonCode)
	})

	t.Run("empty size rejected at construction", func(t *testing.T) {
		_, err := NewSizeMatchFilter(AdSize{})
		check.Error(t, err)
	})
}

func TestLatencyTimeoutFilter(t *testing.T) {
	f, err := NewLatencyTimeoutFilter(100)
	assert.NoError(t, err)

	t.Run("latency within budget passes", func(t *testing.T) {
		out := f.Evaluate(testRequest(), 1.0)
		check.True(t, out.Passed)
		check.Equal(t, trace.ReasonLatencyOK, out.ReasonCode)
	})

	t.Run("latency over budget rejected", func(t *testing.T) {
		req := testRequest()
		req.LatencyMS = 150
		out := f.Evaluate(req, 1.0)
		check.False(t, out.Passed)
		check.Equal(t, trace.ReasonLatencyTimeout, out.ReasonCode)
	})

	t.Run("latency at budget passes", func(t *testing.T) {
		req := testRequest()
		req.LatencyMS = 100
		out := f.Evaluate(req, 1.0)
		check.True(t, out.Passed)
	})

	t.Run("non-positive budget rejected at construction", func(t *testing.T) {
		_, err := NewLatencyTimeoutFilter(0)
		check.Error(t, err)
	})
}

func TestCreativeComplianceFilter(t *testing.T) {
	t.Run("injected predicate replaces randomness", func(t *testing.T) {
		f, err := NewCreativeComplianceFilter(0.5, func(req *Request) bool {
			return req.AppID != "app_bad"
		}, nil)
		assert.NoError(t, err)

		out := f.Evaluate(testRequest(), 1.0)
		check.True(t, out.Passed)
		check.Equal(t, trace.ReasonCreativeCompliant, out.ReasonCode)

		req := testRequest()
		req.AppID = "app_bad"
		out = f.Evaluate(req, 1.0)
		check.False(t, out.Passed)
		check.Equal(t, trace.ReasonCreativeMismatch, out.ReasonCode)
	})

	t.Run("sampled compliance respects the rejection rate", func(t *testing.T) {
		f, err := NewCreativeComplianceFilter(0.1, nil, &mockRandSource{floats: []float64{0.95, 0.05}})
		assert.NoError(t, err)

		check.True(t, f.Evaluate(testRequest(), 1.0).Passed)  // 0.95 > 0.1
		check.False(t, f.Evaluate(testRequest(), 1.0).Passed) // 0.05 <= 0.1
	})

	t.Run("rate outside [0,1] rejected at construction", func(t *testing.T) {
		_, err := NewCreativeComplianceFilter(1.5, nil, nil)
		check.Error(t, err)
	})
}

func TestFloorPriceHighFilter(t *testing.T) {
	f, err := NewFloorPriceHighFilter(2.0)
	assert.NoError(t, err)

	t.Run("bid clearing the floor passes", func(t *testing.T) {
		out := f.Evaluate(testRequest(), 2.5)
		check.True(t, out.Passed)
		check.Equal(t, trace.ReasonBidAboveFloor, out.ReasonCode)
		check.Equal(t, 0.0, out.Variables["price_gap"])
	})

	t.Run("bid under the floor attributes the revenue gap", func(t *testing.T) {
		out := f.Evaluate(testRequest(), 1.5)
		check.False(t, out.Passed)
		check.Equal(t, trace.ReasonFloorPriceHigh, out.ReasonCode)
		check.Equal(t, 0.5, out.Variables["price_gap"])
	})
}
