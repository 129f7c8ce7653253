package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/pressagent/provider"
)

// Criteria are scored in this fixed order on every run. Order matters only
// for reproducibility of logs and reports, not for the final score.
var Criteria = []string{"tone_consistency", "data_usage", "authenticity", "relevance"}

var criterionPrompts = map[string]string{
	"tone_consistency": "Does the comment match the subject's configured tone, style and personality?",
	"data_usage":       "Does the comment incorporate the supporting data and research naturally and credibly?",
	"authenticity":     "Does the comment sound like a real person rather than corporate boilerplate?",
	"relevance":        "Does the comment directly and comprehensively address the journalist's question?",
}

// CriterionScore is one criterion's result. Err is set when the judgment
// call itself failed, in which case Score is 0.
type CriterionScore struct {
	Criterion string  `json:"criterion"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
	Err       string  `json:"error,omitempty"`
}

// Report is the full evaluation outcome for one draft.
type Report struct {
	Scores    []CriterionScore `json:"criteria"`
	Mean      float64          `json:"overall_score"`
	Threshold float64          `json:"threshold"`
	Passed    bool             `json:"passed"`
}

// Evaluator scores drafts against the fixed criteria using an LLM judge at
// temperature zero, so identical inputs evaluate identically.
type Evaluator struct {
	llm       provider.Provider
	model     string
	threshold float64
	logger    *log.Logger
}

// NewEvaluator creates an evaluator with the given pass threshold.
func NewEvaluator(llm provider.Provider, model string, threshold float64, logger *log.Logger) *Evaluator {
	if threshold <= 0 {
		threshold = 0.7
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EVAL] ", log.LstdFlags)
	}
	return &Evaluator{llm: llm, model: model, threshold: threshold, logger: logger}
}

const judgeSystem = `You are a strict quality judge for media comments.
Score the comment on the single criterion you are given, from 0.0 to 1.0.
Respond ONLY with valid JSON: {"score": <float>, "reasoning": "<one sentence>"}
Do not include any other text.`

// Evaluate scores the draft on every criterion in order. A failed judgment
// contributes a zero score and an error record instead of failing the whole
// evaluation; the draft simply becomes harder to pass.
func (e *Evaluator) Evaluate(ctx context.Context, draft, requestContext string) Report {
	report := Report{Threshold: e.threshold}

	var total float64
	for _, criterion := range Criteria {
		cs := CriterionScore{Criterion: criterion}
		prompt := fmt.Sprintf("Criterion: %s\n%s\n\nREQUEST CONTEXT:\n%s\n\nCOMMENT:\n%s",
			criterion, criterionPrompts[criterion], requestContext, draft)

		out, err := e.llm.Generate(ctx, e.model, judgeSystem, prompt, 0, 0)
		if err != nil {
			cs.Err = err.Error()
			e.logger.Printf("criterion %s judgment failed: %v", criterion, err)
		} else if score, reasoning, perr := parseScore(out); perr != nil {
			cs.Err = perr.Error()
			e.logger.Printf("criterion %s returned unparseable judgment: %v", criterion, perr)
		} else {
			cs.Score = clamp(score)
			cs.Reasoning = reasoning
		}
		total += cs.Score
		report.Scores = append(report.Scores, cs)
	}

	report.Mean = total / float64(len(Criteria))
	report.Passed = report.Mean >= e.threshold
	return report
}

// parseScore extracts the JSON judgment, tolerating fenced or prefixed
// output from the model.
func parseScore(out string) (float64, string, error) {
	out = strings.TrimSpace(out)
	if i := strings.Index(out, "{"); i > 0 {
		out = out[i:]
	}
	if i := strings.LastIndex(out, "}"); i >= 0 {
		out = out[:i+1]
	}
	var parsed struct {
		Score     float64 `json:"score"`
		Reasoning string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return 0, "", fmt.Errorf("parse judgment: %w", err)
	}
	return parsed.Score, parsed.Reasoning, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
