package evaluation

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
)

// scriptedLLM returns canned judgments keyed by the criterion named in the
// prompt, and records the temperature of every call.
type scriptedLLM struct {
	replies      map[string]string
	errs         map[string]error
	temperatures []float64
}

func (s *scriptedLLM) Generate(_ context.Context, _, _, prompt string, temperature float64, _ int) (string, error) {
	s.temperatures = append(s.temperatures, temperature)
	for criterion, reply := range s.replies {
		if strings.HasPrefix(prompt, "Criterion: "+criterion) {
			if err := s.errs[criterion]; err != nil {
				return "", err
			}
			return reply, nil
		}
	}
	return `{"score": 0.8, "reasoning": "fine"}`, nil
}

func (s *scriptedLLM) CreateEmbedding(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestEvaluatePassesAboveThreshold(t *testing.T) {
	llm := &scriptedLLM{replies: map[string]string{}}
	e := NewEvaluator(llm, "judge-model", 0.7, quietLogger())

	report := e.Evaluate(context.Background(), "a solid comment", "context")
	if !report.Passed {
		t.Fatalf("expected pass, got %+v", report)
	}
	if report.Mean != 0.8 {
		t.Fatalf("expected mean 0.8, got %f", report.Mean)
	}
	if len(report.Scores) != len(Criteria) {
		t.Fatalf("expected %d scores, got %d", len(Criteria), len(report.Scores))
	}
	for i, cs := range report.Scores {
		if cs.Criterion != Criteria[i] {
			t.Fatalf("criterion order broken at %d: %s", i, cs.Criterion)
		}
	}
}

func TestEvaluateUsesTemperatureZero(t *testing.T) {
	llm := &scriptedLLM{replies: map[string]string{}}
	e := NewEvaluator(llm, "judge-model", 0.7, quietLogger())
	e.Evaluate(context.Background(), "draft", "context")

	if len(llm.temperatures) != len(Criteria) {
		t.Fatalf("expected %d calls, got %d", len(Criteria), len(llm.temperatures))
	}
	for _, temp := range llm.temperatures {
		if temp != 0 {
			t.Fatalf("judgment made at temperature %f", temp)
		}
	}
}

func TestEvaluateRepeatsIdentically(t *testing.T) {
	llm := &scriptedLLM{replies: map[string]string{
		"tone_consistency": `{"score": 0.9, "reasoning": "matches the voice"}`,
		"data_usage":       `{"score": 0.7, "reasoning": "uses the figures"}`,
		"authenticity":     `{"score": 0.8, "reasoning": "reads human"}`,
		"relevance":        `{"score": 0.6, "reasoning": "drifts a little"}`,
	}}
	e := NewEvaluator(llm, "judge-model", 0.7, quietLogger())

	first := e.Evaluate(context.Background(), "draft", "context")
	second := e.Evaluate(context.Background(), "draft", "context")

	if first.Mean != second.Mean || first.Passed != second.Passed {
		t.Fatalf("repeat evaluation diverged: %+v vs %+v", first, second)
	}
	if len(first.Scores) != len(second.Scores) {
		t.Fatalf("score counts differ: %d vs %d", len(first.Scores), len(second.Scores))
	}
	for i := range first.Scores {
		if first.Scores[i] != second.Scores[i] {
			t.Fatalf("criterion %d diverged: %+v vs %+v", i, first.Scores[i], second.Scores[i])
		}
	}
}

func TestEvaluateFailedCriterionScoresZero(t *testing.T) {
	llm := &scriptedLLM{
		replies: map[string]string{
			"tone_consistency": `{"score": 1.0}`,
			"data_usage":       `{"score": 1.0}`,
			"authenticity":     `{"score": 1.0}`,
			"relevance":        `{"score": 1.0}`,
		},
		errs: map[string]error{"relevance": errors.New("judge unavailable")},
	}
	e := NewEvaluator(llm, "judge-model", 0.8, quietLogger())

	report := e.Evaluate(context.Background(), "draft", "context")
	if report.Mean != 0.75 {
		t.Fatalf("expected mean 0.75, got %f", report.Mean)
	}
	if report.Passed {
		t.Fatal("expected failure with one zeroed criterion at threshold 0.8")
	}
	last := report.Scores[len(report.Scores)-1]
	if last.Criterion != "relevance" || last.Err == "" || last.Score != 0 {
		t.Fatalf("failed criterion not recorded: %+v", last)
	}
}

func TestParseScoreToleratesFencedOutput(t *testing.T) {
	score, reasoning, err := parseScore("```json\n{\"score\": 0.9, \"reasoning\": \"good\"}\n```")
	if err != nil {
		t.Fatalf("parseScore: %v", err)
	}
	if score != 0.9 || reasoning != "good" {
		t.Fatalf("unexpected parse: %f %q", score, reasoning)
	}
}

func TestParseScoreRejectsGarbage(t *testing.T) {
	if _, _, err := parseScore("the comment is great"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestClamp(t *testing.T) {
	for _, tc := range []struct{ in, want float64 }{{-1, 0}, {0.5, 0.5}, {2, 1}} {
		if got := clamp(tc.in); got != tc.want {
			t.Fatalf("clamp(%f) = %f, want %f", tc.in, got, tc.want)
		}
	}
}
