// Package sim provides the collaborators the core engine treats as external:
// a supply-side request generator, demand-side bidders with pluggable bidding
// strategies, and a concurrent auction runner. Everything here produces the
// inputs the engine consumes; none of it is decision logic.
package sim

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/whitebox-exchange/core"
	"github.com/cloudx-io/whitebox-exchange/trace"
)

// RequestSpec describes the fixed attributes of a synthetic request.
type RequestSpec struct {
	DeviceID string
	AppID    string
	AppName  string
	Platform core.Platform
	AdSize   core.AdSize
}

// RequestSource plays the supply side: it mints requests with fresh IDs and
// simulated processing latency, and emits the REQUEST_CREATED trace record.
type RequestSource struct {
	logger *trace.Logger
	rnd    core.RandSource
}

func NewRequestSource(logger *trace.Logger, rnd core.RandSource) *RequestSource {
	return &RequestSource{logger: logger, rnd: rnd}
}

// Generate builds one request from the spec. Latency is sampled uniformly
// from [50, 150) ms.
func (s *RequestSource) Generate(spec RequestSpec) *core.Request {
	req := &core.Request{
		ID:        uuid.NewString(),
		DeviceID:  spec.DeviceID,
		AppID:     spec.AppID,
		AppName:   spec.AppName,
		Platform:  spec.Platform,
		AdSize:    spec.AdSize,
		LatencyMS: 50 + s.rnd.Float64()*100,
	}

	s.logger.Decision(trace.Record{
		RequestID:  req.ID,
		Node:       trace.NodeSupply,
		Action:     "REQUEST_GENERATED",
		Decision:   trace.DecisionPass,
		ReasonCode: trace.ReasonRequestCreated,
		InternalVariables: map[string]any{
			"device_id":  req.DeviceID,
			"app_id":     req.AppID,
			"app_name":   req.AppName,
			"platform":   req.Platform,
			"ad_size":    req.AdSize.String(),
			"latency_ms": req.LatencyMS,
			"timestamp":  time.Now().Format(time.RFC3339),
		},
		Reasoning: fmt.Sprintf("SSP generated ad request: device %s, app %s (%s), platform %s, size %s, latency %.1fms",
			req.DeviceID, req.AppName, req.AppID, req.Platform, req.AdSize, req.LatencyMS),
		LatencyMS: trace.Float(req.LatencyMS),
	})

	return req
}
