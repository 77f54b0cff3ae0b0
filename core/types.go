// Package core implements the decision-and-auction engine: the admission
// filter chain, the traffic-quality scorer, the SKAN conversion estimator,
// and the quality-adjusted second-price auction, orchestrated per request.
package core

import "fmt"

// Platform is the supply-side operating system class.
type Platform string

const (
	PlatformIOS     Platform = "IOS"
	PlatformAndroid Platform = "ANDROID"
	PlatformOther   Platform = "OTHER"
)

// AdSize is a creative slot size in pixels.
type AdSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s AdSize) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Request is one supply-side opportunity. Immutable after creation; read by
// every downstream stage.
type Request struct {
	ID        string   `json:"request_id"`
	DeviceID  string   `json:"device_id"`
	AppID     string   `json:"app_id"`
	AppName   string   `json:"app_name"`
	Platform  Platform `json:"platform"`
	AdSize    AdSize   `json:"ad_size"`
	LatencyMS float64  `json:"latency_ms"`
}

// Bid is one demand-side offer for one request. The auction engine attaches
// QualityFactor and the eCPM fields exactly once; the bid is read-only after
// that.
type Bid struct {
	DSPID string  `json:"dsp_id"`
	Price float64 `json:"bid_price"`
	PCTR  float64 `json:"pctr"`
	PCVR  float64 `json:"pcvr"`

	QualityFactor float64 `json:"q_factor"`
	EffectiveCPM  float64 `json:"ecpm"`
	RawECPM       float64 `json:"raw_ecpm"`

	// scored marks that a quality factor is already attached, guaranteeing at
	// most one scorer call per bid per auction.
	scored bool
}

// SetQualityFactor attaches a precomputed quality factor, so the auction
// engine will not invoke its scorer for this bid.
func (b *Bid) SetQualityFactor(factor float64) {
	b.QualityFactor = factor
	b.scored = true
}

// Settlement is the resolved outcome of one auction under second-price rules.
type Settlement struct {
	Winner         Bid     `json:"winner"`
	Price          float64 `json:"actual_paid_price"`
	SavedAmount    float64 `json:"saved_amount"`
	SecondBestBid  float64 `json:"second_best_bid"`
	SecondBestECPM float64 `json:"second_highest_ecpm"`
	TotalBids      int     `json:"total_bids"`
	Ranked         []Bid   `json:"all_bids"`
	WinnerBidHash  string  `json:"winner_bid_hash"`
	SettlementHash string  `json:"settlement_hash"`
}

// Status is the terminal state of one request.
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// Result is the terminal outcome of resolving one request.
type Result struct {
	RequestID      string      `json:"request_id"`
	Status         Status      `json:"status"`
	Reason         string      `json:"reason"`
	Settlement     *Settlement `json:"settlement,omitempty"`
	BidCount       int         `json:"bid_count"`
	MaxForgoneECPM float64     `json:"max_forgone_ecpm,omitempty"`
}
