package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mohammad-safakhou/pressagent/config"
	"github.com/mohammad-safakhou/pressagent/internal/cache"
	"github.com/mohammad-safakhou/pressagent/internal/evaluation"
	"github.com/mohammad-safakhou/pressagent/internal/memory"
	"github.com/mohammad-safakhou/pressagent/internal/profile"
	"github.com/mohammad-safakhou/pressagent/internal/rag"
	"github.com/mohammad-safakhou/pressagent/internal/research"
)

type fakeLLM struct {
	draftText  string
	refineText string
	draftErr   error
	refineErr  error
	embedErr   error
	calls      int
}

func (f *fakeLLM) Generate(_ context.Context, model, _, _ string, _ float64, _ int) (string, error) {
	f.calls++
	switch model {
	case "draft-model":
		return f.draftText, f.draftErr
	case "refine-model":
		return f.refineText, f.refineErr
	}
	return "", errors.New("unknown model " + model)
}

func (f *fakeLLM) CreateEmbedding(context.Context, []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return [][]float32{{0.1, 0.2, 0.3}}, nil
}

type fakeProfiles struct {
	prof profile.Profile
	err  error
}

func (f *fakeProfiles) Load(string) (profile.Profile, error) { return f.prof, f.err }

type fakeRetriever struct {
	docs []rag.Document
	errs map[string]error
}

func (f *fakeRetriever) Retrieve(context.Context, rag.Query) rag.Result {
	errs := f.errs
	if errs == nil {
		errs = map[string]error{}
	}
	return rag.Result{Documents: f.docs, Errors: errs}
}

type fakeRunner struct {
	outcomes []research.Outcome
	runs     int
}

func (f *fakeRunner) Run(context.Context, []research.Task) []research.Outcome {
	f.runs++
	return f.outcomes
}

type fakeJudge struct {
	report evaluation.Report
	calls  int
}

func (f *fakeJudge) Evaluate(context.Context, string, string) evaluation.Report {
	f.calls++
	return f.report
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (f *fakeNotifier) SendComment(to, _, _, _ string) error {
	f.sent = append(f.sent, to)
	return f.err
}

type noopTask struct{ name string }

func (n *noopTask) Name() string { return n.name }

func (n *noopTask) Run(context.Context) (research.Finding, error) {
	return research.Finding{}, nil
}

func (n *noopTask) Fallback() research.Finding { return research.Finding{Task: n.name} }

func (n *noopTask) Timeout() time.Duration { return 0 }

func passingReport() evaluation.Report {
	return evaluation.Report{
		Scores: []evaluation.CriterionScore{
			{Criterion: "tone_consistency", Score: 0.9},
			{Criterion: "data_usage", Score: 0.9},
			{Criterion: "authenticity", Score: 0.9},
			{Criterion: "relevance", Score: 0.9},
		},
		Mean: 0.9, Threshold: 0.7, Passed: true,
	}
}

func failingReport() evaluation.Report {
	r := passingReport()
	for i := range r.Scores {
		r.Scores[i].Score = 0.5
	}
	r.Mean, r.Passed = 0.5, false
	return r
}

func testRequest() Request {
	return Request{
		SourceText: "Acme posted record earnings.",
		Question:   "How does Acme view this quarter?",
		TopicID:    "The Daily",
		SubjectID:  "Acme Corp",
	}
}

type fixture struct {
	llm      *fakeLLM
	runner   *fakeRunner
	judge    *fakeJudge
	notifier *fakeNotifier
	longterm *memory.InMemoryLongTerm
	sessions *memory.SessionManager
	cache    *cache.MemoryCache
}

func newFixture() *fixture {
	return &fixture{
		llm:      &fakeLLM{draftText: "draft comment", refineText: "final comment"},
		runner:   &fakeRunner{},
		judge:    &fakeJudge{report: passingReport()},
		notifier: &fakeNotifier{},
		longterm: memory.NewInMemoryLongTerm(),
		sessions: memory.NewSessionManager(1000),
		cache:    cache.NewMemoryCache(time.Minute),
	}
}

func (f *fixture) orchestrator(opts Options) *Orchestrator {
	if opts.Draft.Name == "" {
		opts.Draft = config.ModelConfig{Name: "draft-model", Temperature: 0.7}
	}
	if opts.Refine.Name == "" {
		opts.Refine = config.ModelConfig{Name: "refine-model", Temperature: 0.9}
	}
	if opts.TaskBuilder == nil {
		opts.TaskBuilder = func(Request, profile.Profile) []research.Task {
			return []research.Task{&noopTask{name: "outlet_research"}}
		}
	}
	return NewOrchestrator(Deps{
		Cache:     f.cache,
		Profiles:  &fakeProfiles{prof: profile.Profile{Name: "Acme Corp", Tone: "measured"}},
		Sessions:  f.sessions,
		LongTerm:  f.longterm,
		Retriever: &fakeRetriever{docs: []rag.Document{{Store: "history", Content: "prior comment"}}},
		FanOut:    f.runner,
		LLM:       f.llm,
		Evaluator: f.judge,
		Notifier:  f.notifier,
		Logger:    log.New(io.Discard, "", 0),
	}, opts)
}

func TestRunCompleteFlow(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(Options{EvaluationEnabled: true})

	resp, err := o.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !resp.Success || resp.CurrentStage != StageComplete {
		t.Fatalf("expected complete run: %+v", resp)
	}
	if resp.FinalOutput != "final comment" || resp.IntermediateOutput != "draft comment" {
		t.Fatalf("unexpected outputs: %q / %q", resp.FinalOutput, resp.IntermediateOutput)
	}
	if len(resp.Errors) != 0 {
		t.Fatalf("expected no errors, got %+v", resp.Errors)
	}
	if resp.Evaluation == nil || !resp.Evaluation.Passed {
		t.Fatalf("evaluation missing or failed: %+v", resp.Evaluation)
	}
	if len(resp.Context) != 1 || resp.Context[0].Store != "history" {
		t.Fatalf("context summaries missing: %+v", resp.Context)
	}
}

func TestSecondIdenticalRequestServedFromCache(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(Options{CacheEnabled: true, CacheTTL: time.Minute, EvaluationEnabled: true})

	first, err := o.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Cached {
		t.Fatal("first run must miss the cache")
	}

	second, err := o.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Cached {
		t.Fatal("second identical run must hit the cache")
	}
	if second.FinalOutput != first.FinalOutput {
		t.Fatalf("cached output differs: %q vs %q", second.FinalOutput, first.FinalOutput)
	}
	if f.runner.runs != 1 || f.judge.calls != 1 {
		t.Fatalf("cache hit re-invoked pipeline: research=%d eval=%d", f.runner.runs, f.judge.calls)
	}
}

func TestMissingProfileIsCritical(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(Options{CacheEnabled: true, CacheTTL: time.Minute})
	o.deps.Profiles = &fakeProfiles{err: profile.ErrNotFound}

	resp, err := o.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Success || resp.CurrentStage != StageFailed {
		t.Fatalf("expected failed run: %+v", resp)
	}
	if resp.FinalOutput != "" {
		t.Fatalf("failed run produced output: %q", resp.FinalOutput)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Class != ClassCritical || resp.Errors[0].Code != "profile_missing" {
		t.Fatalf("critical error not recorded: %+v", resp.Errors)
	}
	if f.runner.runs != 0 || f.llm.calls != 0 {
		t.Fatal("stages ran after critical failure")
	}

	// failed runs are never cached
	resp2, _ := o.Run(context.Background(), testRequest())
	if resp2.Cached {
		t.Fatal("failed response was cached")
	}
}

func TestGatedPersistence(t *testing.T) {
	ctx := context.Background()

	f := newFixture()
	o := f.orchestrator(Options{EvaluationEnabled: true})
	if _, err := o.Run(ctx, testRequest()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	recs, _ := f.longterm.Search(ctx, memory.Query{Embedding: []float32{0.1, 0.2, 0.3}, TopK: 10})
	if len(recs) != 1 || recs[0].Content != "final comment" {
		t.Fatalf("passed output not archived: %+v", recs)
	}

	f2 := newFixture()
	f2.judge.report = failingReport()
	o2 := f2.orchestrator(Options{EvaluationEnabled: true})
	resp, err := o2.Run(ctx, testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !resp.Success {
		t.Fatal("a failed quality gate must not fail the run")
	}
	if resp.Evaluation == nil || resp.Evaluation.Passed {
		t.Fatalf("expected passed=false: %+v", resp.Evaluation)
	}
	recs, _ = f2.longterm.Search(ctx, memory.Query{Embedding: []float32{0.1, 0.2, 0.3}, TopK: 10})
	if len(recs) != 0 {
		t.Fatalf("gated output leaked into long-term memory: %+v", recs)
	}
}

func TestResearchFallbackKeepsRunComplete(t *testing.T) {
	f := newFixture()
	f.runner.outcomes = []research.Outcome{
		{Finding: research.Finding{Task: "outlet_research", Content: "coverage summary"}},
		{
			Finding: research.Finding{Task: "supporting_data", Content: "No supporting data available.", Fallback: true},
			Code:    research.CodeTimeout,
			Err:     context.DeadlineExceeded,
		},
	}
	o := f.orchestrator(Options{EvaluationEnabled: true})

	resp, err := o.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !resp.Success || resp.FinalOutput == "" {
		t.Fatalf("degraded run did not complete: %+v", resp)
	}
	if len(resp.Research) != 2 {
		t.Fatalf("expected all findings present, got %d", len(resp.Research))
	}
	var found bool
	for _, e := range resp.Errors {
		if e.Class == ClassTransient && e.Code == "research_timeout:supporting_data" {
			found = true
		}
	}
	if !found {
		t.Fatalf("timeout not recorded as transient: %+v", resp.Errors)
	}
}

func TestRefineFailureFallsBackToDraft(t *testing.T) {
	f := newFixture()
	f.llm.refineErr = errors.New("model overloaded")
	o := f.orchestrator(Options{EvaluationEnabled: true})

	resp, err := o.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.FinalOutput != "draft comment" {
		t.Fatalf("expected fallback to draft, got %q", resp.FinalOutput)
	}
	var recorded bool
	for _, e := range resp.Errors {
		if e.Code == "refine_failed" {
			recorded = true
		}
	}
	if !recorded {
		t.Fatalf("refine failure not recorded: %+v", resp.Errors)
	}
}

func TestDraftFailureIsNotCached(t *testing.T) {
	f := newFixture()
	f.llm.draftErr = errors.New("model down")
	o := f.orchestrator(Options{CacheEnabled: true, CacheTTL: time.Minute})

	resp, err := o.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !resp.Success || resp.FinalOutput != "" {
		t.Fatalf("expected degraded complete run: %+v", resp)
	}

	resp2, _ := o.Run(context.Background(), testRequest())
	if resp2.Cached {
		t.Fatal("empty output was cached")
	}
}

func TestSessionMemoryAcrossRuns(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(Options{})

	req := testRequest()
	req.SessionID = "sess-1"
	if _, err := o.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}

	buf, ok := f.sessions.Peek("sess-1")
	if !ok {
		t.Fatal("session buffer not created")
	}
	turns := buf.Turns()
	if len(turns) != 2 || turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Fatalf("unexpected session turns: %+v", turns)
	}
}

func TestNotifierFailureIsRecoverable(t *testing.T) {
	f := newFixture()
	f.notifier.err = errors.New("smtp down")
	o := f.orchestrator(Options{DefaultRecipient: "pr@acme.test"})

	resp, err := o.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !resp.Success {
		t.Fatal("notification failure must not fail the run")
	}
	var recorded bool
	for _, e := range resp.Errors {
		if e.Code == "notify_failed" {
			recorded = true
		}
	}
	if !recorded {
		t.Fatalf("notify failure not recorded: %+v", resp.Errors)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0] != "pr@acme.test" {
		t.Fatalf("unexpected recipients: %v", f.notifier.sent)
	}
}

func TestOverrideRecipientWins(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(Options{DefaultRecipient: "pr@acme.test"})

	req := testRequest()
	req.OverrideRecipient = "journalist@daily.test"
	if _, err := o.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0] != "journalist@daily.test" {
		t.Fatalf("override recipient ignored: %v", f.notifier.sent)
	}
}

func TestStageEventsEmittedInOrder(t *testing.T) {
	f := newFixture()
	events := make(chan Event, 16)
	o := f.orchestrator(Options{EvaluationEnabled: true})
	o.deps.Events = events

	if _, err := o.Run(context.Background(), testRequest()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(events)

	want := []Stage{StageContextLoaded, StageResearchDone, StageDrafted, StageRefined, StageEvaluated, StagePersisted}
	var got []Stage
	for e := range events {
		got = append(got, e.Stage)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event order broken: %v", got)
		}
	}
}

func TestInvalidRequestRejected(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(Options{})

	req := testRequest()
	req.SubjectID = ""
	if _, err := o.Run(context.Background(), req); err == nil {
		t.Fatal("expected validation error")
	}
	if f.llm.calls != 0 {
		t.Fatal("invalid request reached the pipeline")
	}
}
