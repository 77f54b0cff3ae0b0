// Package validation audits a persisted whitebox trace stream offline: it
// verifies that every record uses the closed reason-code vocabulary, that
// records for one request appear in causal order, and that numeric fields
// respect the trace contract.
package validation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cloudx-io/whitebox-exchange/trace"
)

// Issue describes one contract violation found in a trace log.
type Issue struct {
	Line      int    `json:"line"`
	RequestID string `json:"request_id,omitempty"`
	Problem   string `json:"problem"`
}

// AuditReport summarizes one audit pass over a trace log.
type AuditReport struct {
	Records  int     `json:"records"`
	Requests int     `json:"requests"`
	Issues   []Issue `json:"issues"`
}

// OK reports whether the audited log satisfies the trace contract.
func (r *AuditReport) OK() bool {
	return len(r.Issues) == 0
}

// AuditTraceLog reads a JSON-lines trace stream and checks every record
// against the trace contract. Malformed lines and contract violations are
// reported as issues; only a read failure is an error.
func AuditTraceLog(reader io.Reader) (*AuditReport, error) {
	report := &AuditReport{}
	lastSeen := make(map[string]time.Time)

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec trace.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			report.Issues = append(report.Issues, Issue{
				Line:    line,
				Problem: fmt.Sprintf("malformed record: %v", err),
			})
			continue
		}
		report.Records++

		if err := rec.Validate(); err != nil {
			report.Issues = append(report.Issues, Issue{
				Line:      line,
				RequestID: rec.RequestID,
				Problem:   err.Error(),
			})
		}

		if rec.ReasonCode != "" && !trace.KnownReason(rec.ReasonCode) {
			report.Issues = append(report.Issues, Issue{
				Line:      line,
				RequestID: rec.RequestID,
				Problem:   fmt.Sprintf("reason code %q is outside the closed vocabulary", rec.ReasonCode),
			})
		}

		for _, check := range []struct {
			name  string
			value *float64
		}{
			{"pctr", rec.PCTR},
			{"pcvr", rec.PCVR},
			{"ecpm", rec.ECPM},
			{"latency_ms", rec.LatencyMS},
			{"second_best_bid", rec.SecondBestBid},
			{"actual_paid_price", rec.ActualPaidPrice},
			{"saved_amount", rec.SavedAmount},
		} {
			if check.value != nil && *check.value < 0 {
				report.Issues = append(report.Issues, Issue{
					Line:      line,
					RequestID: rec.RequestID,
					Problem:   fmt.Sprintf("field %s is negative: %v", check.name, *check.value),
				})
			}
		}

		if rec.RequestID != "" {
			if prev, seen := lastSeen[rec.RequestID]; seen {
				if rec.Timestamp.Before(prev) {
					report.Issues = append(report.Issues, Issue{
						Line:      line,
						RequestID: rec.RequestID,
						Problem: fmt.Sprintf("record timestamp %s precedes an earlier record at %s for the same request",
							rec.Timestamp.Format(time.RFC3339Nano), prev.Format(time.RFC3339Nano)),
					})
				}
			} else {
				report.Requests++
			}
			lastSeen[rec.RequestID] = rec.Timestamp
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace log: %w", err)
	}

	return report, nil
}
