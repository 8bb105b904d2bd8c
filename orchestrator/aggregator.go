package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// OverallStatus classifies an aggregated batch result.
type OverallStatus string

const (
	// StatusSuccess means every task in the batch succeeded.
	StatusSuccess OverallStatus = "success"
	// StatusPartial means some tasks succeeded and some failed.
	StatusPartial OverallStatus = "partial"
	// StatusFailed means every task in the batch failed.
	StatusFailed OverallStatus = "failed"
	// StatusTimeout means the batch-level runner timed out before
	// producing per-task outcomes.
	StatusTimeout OverallStatus = "timeout"
	// StatusError means the batch-level runner itself failed.
	StatusError OverallStatus = "error"
	// StatusEmpty means the batch contained no tasks.
	StatusEmpty OverallStatus = "empty"
)

// AggregatedResult is the unified outcome of one batch.
type AggregatedResult struct {
	Status       OverallStatus          `json:"status"`
	TotalCount   int                    `json:"total_count"`
	SuccessCount int                    `json:"success_count"`
	FailedCount  int                    `json:"failed_count"`
	Outcomes     []*TaskOutcome         `json:"outcomes"`
	Summary      string                 `json:"summary"`
	Errors       []string               `json:"errors,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Elapsed      time.Duration          `json:"elapsed"`
}

// OutputFormat selects the rendering of an aggregated result.
type OutputFormat string

const (
	// FormatStructured renders a machine-readable JSON record.
	FormatStructured OutputFormat = "structured"
	// FormatReport renders a human-readable multi-section report.
	FormatReport OutputFormat = "report"
)

// Aggregator folds per-task outcomes into one classified result.
type Aggregator struct {
	logger *slog.Logger
}

// NewAggregator creates a result aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	return &Aggregator{logger: logger}
}

// Aggregate classifies the batch result. Counts always satisfy
// SuccessCount + FailedCount == TotalCount, and Status is success only
// when every task of a non-empty batch succeeded.
func (a *Aggregator) Aggregate(batch *BatchResult) (*AggregatedResult, error) {
	if batch == nil {
		return nil, fmt.Errorf("%w: nil batch result", ErrAggregationInput)
	}
	for _, outcome := range batch.Outcomes {
		if outcome == nil {
			return nil, fmt.Errorf("%w: nil task outcome", ErrAggregationInput)
		}
	}

	result := &AggregatedResult{
		TotalCount: len(batch.Outcomes),
		Outcomes:   batch.Outcomes,
		Metadata:   map[string]interface{}{"mode": string(batch.Mode)},
	}
	if len(batch.KindBreakdown) > 0 {
		kinds := make(map[string]int, len(batch.KindBreakdown))
		for kind, count := range batch.KindBreakdown {
			kinds[string(kind)] = count
		}
		result.Metadata["kind_breakdown"] = kinds
	}

	var elapsed time.Duration
	for _, outcome := range batch.Outcomes {
		if outcome.Success {
			result.SuccessCount++
		} else {
			result.FailedCount++
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: %s", outcome.Worker, outcome.Err))
		}
		if outcome.Elapsed > elapsed {
			elapsed = outcome.Elapsed
		}
	}
	result.Elapsed = elapsed

	switch {
	case result.TotalCount == 0:
		result.Status = StatusEmpty
	case result.FailedCount == 0:
		result.Status = StatusSuccess
	case result.SuccessCount == 0:
		result.Status = StatusFailed
	default:
		result.Status = StatusPartial
	}
	result.Summary = a.MergeResults(batch.Outcomes, true)

	a.logger.Debug("aggregator: batch classified",
		"status", result.Status,
		"total", result.TotalCount,
		"failed", result.FailedCount)
	return result, nil
}

// AggregateFailure builds an AggregatedResult for a batch that failed
// before producing per-task outcomes, classified as timeout or error.
func (a *Aggregator) AggregateFailure(err error, timedOut bool) *AggregatedResult {
	status := StatusError
	if timedOut {
		status = StatusTimeout
	}
	result := &AggregatedResult{
		Status:  status,
		Summary: fmt.Sprintf("batch execution failed: %v", err),
	}
	if err != nil {
		result.Errors = []string{err.Error()}
	}
	return result
}

// MergeResults concatenates successful payloads. With dedupe enabled,
// payloads that repeat an earlier payload exactly are dropped; matching
// is literal text only.
func (a *Aggregator) MergeResults(outcomes []*TaskOutcome, dedupe bool) string {
	var parts []string
	seen := make(map[string]bool)
	for _, outcome := range outcomes {
		if outcome == nil || !outcome.Success || outcome.Result == "" {
			continue
		}
		if dedupe {
			key := strings.TrimSpace(outcome.Result)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		parts = append(parts, outcome.Result)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// FormatForOutput renders the result without mutating it. Structured
// output is a JSON record; report output is a readable multi-section
// summary. Calling it twice on the same result yields identical text.
func (a *Aggregator) FormatForOutput(result *AggregatedResult, format OutputFormat) string {
	if result == nil {
		return ""
	}

	if format == FormatStructured {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			a.logger.Error("aggregator: failed to marshal result", "error", err)
			return fmt.Sprintf(`{"status":%q,"error":"marshal failed"}`, result.Status)
		}
		return string(data)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Batch result: %s\n", result.Status)
	fmt.Fprintf(&b, "Tasks: %d total, %d succeeded, %d failed\n",
		result.TotalCount, result.SuccessCount, result.FailedCount)

	if len(result.Outcomes) > 0 {
		b.WriteString("\nPer-task status:\n")
		for i, outcome := range result.Outcomes {
			mark := "ok"
			detail := outcome.Result
			if !outcome.Success {
				mark = "failed"
				detail = outcome.Err
			}
			detail = truncate(detail, 80)
			fmt.Fprintf(&b, "  %d. [%s] %s (%s): %s\n",
				i+1, mark, outcome.Worker, outcome.Elapsed.Round(time.Millisecond), detail)
		}
	}

	if result.Summary != "" {
		b.WriteString("\nSummary:\n")
		b.WriteString(result.Summary)
		b.WriteString("\n")
	}
	return b.String()
}
