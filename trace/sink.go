package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Sink is an append-only destination for trace records. Append must be safe
// for concurrent use; records appended from one goroutine stay in order, which
// preserves per-request causal ordering (one request is processed by a single
// goroutine end to end).
type Sink interface {
	Append(rec Record) error
}

// LineSink writes one self-contained JSON record per line.
type LineSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{w: w}
}

func (s *LineSink) Append(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal trace record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append trace record: %w", err)
	}
	return nil
}

// CBORSink writes records as a CBOR sequence. CBOR items are self-delimiting,
// so no line framing is needed.
type CBORSink struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

func NewCBORSink(w io.Writer) *CBORSink {
	return &CBORSink{enc: cbor.NewEncoder(w)}
}

func (s *CBORSink) Append(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to append trace record: %w", err)
	}
	return nil
}

// MemorySink retains records in memory for inspection in tests.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything appended so far, in order.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// ByRequest returns the records for one request ID, in append order.
func (s *MemorySink) ByRequest(requestID string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if rec.RequestID == requestID {
			out = append(out, rec)
		}
	}
	return out
}

// Reasons returns the reason-code sequence for one request ID.
func (s *MemorySink) Reasons(requestID string) []string {
	var out []string
	for _, rec := range s.ByRequest(requestID) {
		out = append(out, rec.ReasonCode)
	}
	return out
}

// Logger stamps and appends decision records. A failed append is logged and
// swallowed: a rejected decision is still a decision, and the pipeline never
// fails a request because its audit trail hiccupped.
type Logger struct {
	sink Sink
	now  func() time.Time
}

func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink, now: time.Now}
}

// NewLoggerAt is NewLogger with an injectable clock, for deterministic tests.
func NewLoggerAt(sink Sink, now func() time.Time) *Logger {
	return &Logger{sink: sink, now: now}
}

// Decision stamps rec with the current time and appends it.
func (l *Logger) Decision(rec Record) {
	rec.Timestamp = l.now()
	if err := l.sink.Append(rec); err != nil {
		log.Printf("ERROR: Failed to append trace record (request %s, action %s): %v", rec.RequestID, rec.Action, err)
	}
}
