package sim

import (
	"fmt"
	"sync"

	"github.com/cloudx-io/whitebox-exchange/core"
)

// Summary aggregates the terminal outcomes of a simulation run.
type Summary struct {
	Requests int
	Accepted int
	Rejected int
	Reasons  map[string]int
	// TotalPaid and TotalSaved sum the settled prices and second-price
	// savings across accepted requests.
	TotalPaid  float64
	TotalSaved float64
}

// Runner drives many requests through the exchange concurrently. Each request
// is processed end to end by one goroutine; a semaphore bounds the number in
// flight. The scorer and estimator behind the exchange serialize their own
// state, so workers share them safely.
type Runner struct {
	exchange *core.Exchange
	source   *RequestSource
	bidders  []core.Bidder
	workers  int
}

func NewRunner(exchange *core.Exchange, source *RequestSource, bidders []core.Bidder, workers int) (*Runner, error) {
	if exchange == nil || source == nil {
		return nil, fmt.Errorf("runner requires an exchange and a request source")
	}
	if workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workers)
	}
	return &Runner{exchange: exchange, source: source, bidders: bidders, workers: workers}, nil
}

// Run resolves one request per spec and returns the aggregated summary.
func (r *Runner) Run(specs []RequestSpec) Summary {
	summary := Summary{Reasons: make(map[string]int)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	semaphore := make(chan struct{}, r.workers)
	for _, spec := range specs {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(spec RequestSpec) {
			defer wg.Done()
			defer func() { <-semaphore }()

			req := r.source.Generate(spec)
			result := r.exchange.Resolve(req, r.bidders)

			mu.Lock()
			defer mu.Unlock()
			summary.Requests++
			summary.Reasons[result.Reason]++
			if result.Status == core.StatusAccepted {
				summary.Accepted++
				if result.Settlement != nil {
					summary.TotalPaid += result.Settlement.Price
					summary.TotalSaved += result.Settlement.SavedAmount
				}
			} else {
				summary.Rejected++
			}
		}(spec)
	}
	wg.Wait()

	return summary
}
