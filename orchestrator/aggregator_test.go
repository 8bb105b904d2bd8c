package orchestrator

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func outcome(worker string, success bool, payload string) *TaskOutcome {
	o := &TaskOutcome{Worker: worker, Success: success, Elapsed: 10 * time.Millisecond}
	if success {
		o.Result = payload
	} else {
		o.Err = payload
	}
	return o
}

func TestAggregator_Statuses(t *testing.T) {
	agg := NewAggregator(slog.Default())

	tests := []struct {
		name     string
		outcomes []*TaskOutcome
		want     OverallStatus
	}{
		{"all succeed", []*TaskOutcome{
			outcome("a", true, "one"),
			outcome("b", true, "two"),
		}, StatusSuccess},
		{"mixed", []*TaskOutcome{
			outcome("a", true, "one"),
			outcome("b", false, "boom"),
		}, StatusPartial},
		{"all fail", []*TaskOutcome{
			outcome("a", false, "boom"),
			outcome("b", false, "bang"),
		}, StatusFailed},
		{"empty batch", nil, StatusEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := agg.Aggregate(&BatchResult{Mode: ModeParallel, Outcomes: tt.outcomes})
			if err != nil {
				t.Fatalf("Aggregate: unexpected error: %v", err)
			}
			if result.Status != tt.want {
				t.Errorf("Status: expected %s, got %s", tt.want, result.Status)
			}
			// The counting invariant holds for every aggregated result.
			if result.SuccessCount+result.FailedCount != result.TotalCount {
				t.Errorf("invariant violated: %d + %d != %d",
					result.SuccessCount, result.FailedCount, result.TotalCount)
			}
		})
	}
}

func TestAggregator_EmptyIsNotSuccess(t *testing.T) {
	agg := NewAggregator(slog.Default())

	result, err := agg.Aggregate(&BatchResult{Mode: ModeSequential})
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalCount != 0 {
		t.Errorf("TotalCount: expected 0, got %d", result.TotalCount)
	}
	if result.Status == StatusSuccess {
		t.Error("an empty batch must not classify as success")
	}
}

func TestAggregator_MalformedInput(t *testing.T) {
	agg := NewAggregator(slog.Default())

	if _, err := agg.Aggregate(nil); !errors.Is(err, ErrAggregationInput) {
		t.Errorf("nil batch: expected ErrAggregationInput, got %v", err)
	}

	_, err := agg.Aggregate(&BatchResult{Outcomes: []*TaskOutcome{nil}})
	if !errors.Is(err, ErrAggregationInput) {
		t.Errorf("nil outcome: expected ErrAggregationInput, got %v", err)
	}
}

func TestAggregator_AggregateFailure(t *testing.T) {
	agg := NewAggregator(slog.Default())

	result := agg.AggregateFailure(errors.New("runner collapsed"), false)
	if result.Status != StatusError {
		t.Errorf("Status: expected error, got %s", result.Status)
	}

	result = agg.AggregateFailure(errors.New("batch deadline"), true)
	if result.Status != StatusTimeout {
		t.Errorf("Status: expected timeout, got %s", result.Status)
	}
}

func TestAggregator_MergeResultsDedupe(t *testing.T) {
	agg := NewAggregator(slog.Default())

	outcomes := []*TaskOutcome{
		outcome("a", true, "the answer is 42"),
		outcome("b", true, "the answer is 42"),
		outcome("c", true, "something else"),
		outcome("d", false, "ignored failure"),
	}

	merged := agg.MergeResults(outcomes, true)
	if strings.Count(merged, "the answer is 42") != 1 {
		t.Errorf("dedupe should keep exactly one literal copy, got: %q", merged)
	}
	if !strings.Contains(merged, "something else") {
		t.Error("distinct payloads must survive the merge")
	}
	if strings.Contains(merged, "ignored failure") {
		t.Error("failed outcomes must not contribute to the merge")
	}

	kept := agg.MergeResults(outcomes, false)
	if strings.Count(kept, "the answer is 42") != 2 {
		t.Errorf("without dedupe both copies remain, got: %q", kept)
	}
}

func TestAggregator_FormatIdempotent(t *testing.T) {
	agg := NewAggregator(slog.Default())

	result, err := agg.Aggregate(&BatchResult{
		Mode: ModeParallel,
		Outcomes: []*TaskOutcome{
			outcome("a", true, "done"),
			outcome("b", false, "exploded"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, format := range []OutputFormat{FormatStructured, FormatReport} {
		first := agg.FormatForOutput(result, format)
		second := agg.FormatForOutput(result, format)
		if first != second {
			t.Errorf("%s: FormatForOutput is not idempotent", format)
		}
		if first == "" {
			t.Errorf("%s: expected non-empty output", format)
		}
	}
}

func TestAggregator_ReportFormat(t *testing.T) {
	agg := NewAggregator(slog.Default())

	result, err := agg.Aggregate(&BatchResult{
		Mode: ModeSequential,
		Outcomes: []*TaskOutcome{
			outcome("coder", true, "wrote the function"),
			outcome("tester", false, "assertion failed"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	report := agg.FormatForOutput(result, FormatReport)
	for _, want := range []string{"partial", "2 total", "1 succeeded", "1 failed", "coder", "tester"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestAggregator_ReportTruncatesOnRuneBoundary(t *testing.T) {
	agg := NewAggregator(slog.Default())

	result, err := agg.Aggregate(&BatchResult{
		Mode: ModeSequential,
		Outcomes: []*TaskOutcome{
			outcome("analyst", true, strings.Repeat("统计结果", 30)),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	report := agg.FormatForOutput(result, FormatReport)
	if !utf8.ValidString(report) {
		t.Error("long multi-byte detail must not be cut mid-rune")
	}
}
