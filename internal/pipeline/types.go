package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/pressagent/internal/evaluation"
	"github.com/mohammad-safakhou/pressagent/internal/memory"
	"github.com/mohammad-safakhou/pressagent/internal/profile"
	"github.com/mohammad-safakhou/pressagent/internal/rag"
	"github.com/mohammad-safakhou/pressagent/internal/research"
)

// Request is the immutable input of one pipeline run. Optional fields are
// empty strings at the JSON boundary and are dropped from the cache key, so
// an absent field can never alias a present one.
type Request struct {
	SourceText        string `json:"source_text"`
	Question          string `json:"question"`
	TopicID           string `json:"topic_identifier"`
	SubjectID         string `json:"subject_identifier"`
	SourceURL         string `json:"source_url,omitempty"`
	ContactName       string `json:"contact_name,omitempty"`
	OverrideRecipient string `json:"override_recipient,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
}

// Validate checks the required fields.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.SourceText) == "":
		return fmt.Errorf("source_text is required")
	case strings.TrimSpace(r.Question) == "":
		return fmt.Errorf("question is required")
	case strings.TrimSpace(r.TopicID) == "":
		return fmt.Errorf("topic_identifier is required")
	case strings.TrimSpace(r.SubjectID) == "":
		return fmt.Errorf("subject_identifier is required")
	}
	return nil
}

// CacheFields returns the fields participating in the cache key. The source
// URL and contact name shape the generated output, so they are included when
// set. The override recipient and session id only affect delivery and
// short-term memory, never the output, so they stay out of the key.
func (r Request) CacheFields() map[string]string {
	return map[string]string{
		"source_text":        r.SourceText,
		"question":           r.Question,
		"topic_identifier":   r.TopicID,
		"subject_identifier": r.SubjectID,
		"source_url":         r.SourceURL,
		"contact_name":       r.ContactName,
	}
}

// Stage names the pipeline's state machine positions. Stages only advance.
type Stage string

const (
	StageInit          Stage = "init"
	StageContextLoaded Stage = "context_loaded"
	StageResearchDone  Stage = "research_done"
	StageDrafted       Stage = "drafted"
	StageRefined       Stage = "refined"
	StageEvaluated     Stage = "evaluated"
	StagePersisted     Stage = "persisted"
	StageComplete      Stage = "complete"
	StageFailed        Stage = "failed"
)

// Outcome tags how a stage finished.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeFallback Outcome = "fallback"
	OutcomeFatal    Outcome = "fatal"
)

// Error classes. Critical failures abort the run; recoverable and transient
// failures are accumulated and the run continues on a fallback.
const (
	ClassCritical    = "critical"
	ClassRecoverable = "recoverable"
	ClassTransient   = "transient"
)

// ErrorRecord is one accumulated non-fatal failure (or the single critical
// failure of an aborted run).
type ErrorRecord struct {
	Stage   Stage  `json:"stage"`
	Class   string `json:"class"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// State is the accumulator threaded through the stage functions. Stage
// functions receive it by value and return a new one; nothing mutates a
// state another stage already saw.
type State struct {
	Request    Request
	Stage      Stage
	Profile    profile.Profile
	History    []memory.Turn
	Context    []rag.Document
	Embedding  []float32
	Research   []research.Finding
	Draft      string
	Final      string
	Evaluation evaluation.Report
	Errors     []ErrorRecord
}

// withError returns a copy of the state with one more error appended.
func (s State) withError(stage Stage, class, code string, err error) State {
	s.Errors = append(append([]ErrorRecord(nil), s.Errors...), ErrorRecord{
		Stage:   stage,
		Class:   class,
		Code:    code,
		Message: err.Error(),
	})
	return s
}

// StageResult is the tagged outcome of one stage function.
type StageResult struct {
	State   State
	Outcome Outcome
	Err     error
}

// Event is pushed to the observer channel on every stage transition.
type Event struct {
	Stage   Stage         `json:"stage"`
	Outcome Outcome       `json:"outcome"`
	Elapsed time.Duration `json:"elapsed"`
	Error   string        `json:"error,omitempty"`
}

// ContextDocument is the response-facing summary of one retrieved document.
type ContextDocument struct {
	Store   string  `json:"store"`
	Title   string  `json:"title,omitempty"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Response is the outbound payload of one run, cached verbatim on success.
type Response struct {
	Success            bool               `json:"success"`
	FinalOutput        string             `json:"final_output"`
	IntermediateOutput string             `json:"intermediate_output,omitempty"`
	Context            []ContextDocument  `json:"context,omitempty"`
	Research           []research.Finding `json:"research,omitempty"`
	Evaluation         *evaluation.Report `json:"evaluation,omitempty"`
	Errors             []ErrorRecord      `json:"errors"`
	CurrentStage       Stage              `json:"current_stage"`
	Cached             bool               `json:"cached"`
	Timestamp          time.Time          `json:"timestamp"`
}

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "..."
}
