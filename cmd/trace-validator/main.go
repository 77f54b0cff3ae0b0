package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudx-io/whitebox-exchange/validation"
)

// plainTextHandler is a simple slog handler that writes plain text to stdout
// without timestamps or log levels - appropriate for CLI output
type plainTextHandler struct{}

func (*plainTextHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (*plainTextHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(os.Stdout, r.Message)
	return err
}

func (h *plainTextHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *plainTextHandler) WithGroup(_ string) slog.Handler {
	return h
}

var logger = slog.New(&plainTextHandler{})

func main() {
	// Define CLI flags
	var (
		logPath      = flag.String("log", "", "Path to whitebox trace log (JSON lines, required)")
		outputFormat = flag.String("format", "text", "Output format: text or json")
		help         = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	// Show help
	if *help || *logPath == "" {
		showUsage()
		if *logPath == "" {
			os.Exit(1)
		}
		os.Exit(0)
	}

	file, err := os.Open(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening trace log: %v\n", err)
		os.Exit(2)
	}
	defer file.Close()

	report, err := validation.AuditTraceLog(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Audit error: %v\n", err)
		os.Exit(2)
	}

	// Output results
	if *outputFormat == "json" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding report: %v\n", err)
			os.Exit(2)
		}
		fmt.Println(string(data))
	} else {
		logger.Info(fmt.Sprintf("Audited %d records across %d requests", report.Records, report.Requests))
		if report.OK() {
			logger.Info("Trace log satisfies the whitebox contract")
		} else {
			logger.Info(fmt.Sprintf("Found %d issue(s):", len(report.Issues)))
			for _, issue := range report.Issues {
				if issue.RequestID != "" {
					logger.Info(fmt.Sprintf("  line %d (request %s): %s", issue.Line, issue.RequestID, issue.Problem))
				} else {
					logger.Info(fmt.Sprintf("  line %d: %s", issue.Line, issue.Problem))
				}
			}
		}
	}

	if !report.OK() {
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`trace-validator - audit a whitebox trace log

Usage:
  trace-validator -log <path> [-format text|json]

Checks every record against the trace contract: closed reason-code
vocabulary, per-request causal ordering, and finite, non-negative
numeric fields.

Exit codes:
  0  log satisfies the contract
  1  contract violations found
  2  could not read or parse the log`)
}
