package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/pressagent/config"
	"github.com/mohammad-safakhou/pressagent/internal/cache"
	"github.com/mohammad-safakhou/pressagent/internal/evaluation"
	"github.com/mohammad-safakhou/pressagent/internal/memory"
	"github.com/mohammad-safakhou/pressagent/internal/notify"
	"github.com/mohammad-safakhou/pressagent/internal/profile"
	"github.com/mohammad-safakhou/pressagent/internal/rag"
	"github.com/mohammad-safakhou/pressagent/internal/research"
	"github.com/mohammad-safakhou/pressagent/internal/telemetry"
	"github.com/mohammad-safakhou/pressagent/provider"
)

// ProfileLoader is the slice of the profile manager the pipeline needs.
type ProfileLoader interface {
	Load(subject string) (profile.Profile, error)
}

// Retriever is the context-augmentation dependency.
type Retriever interface {
	Retrieve(ctx context.Context, q rag.Query) rag.Result
}

// ResearchRunner joins a set of research tasks.
type ResearchRunner interface {
	Run(ctx context.Context, tasks []research.Task) []research.Outcome
}

// Judge scores a finished draft.
type Judge interface {
	Evaluate(ctx context.Context, draft, requestContext string) evaluation.Report
}

// TaskBuilder produces the research tasks for one request.
type TaskBuilder func(req Request, prof profile.Profile) []research.Task

// Deps are the external collaborators of the orchestrator.
type Deps struct {
	Cache     cache.Cache
	Profiles  ProfileLoader
	Sessions  *memory.SessionManager
	LongTerm  memory.LongTerm
	Retriever Retriever
	FanOut    ResearchRunner
	LLM       provider.Provider
	Evaluator Judge
	Notifier  notify.Notifier
	Metrics   *telemetry.Metrics
	Logger    *log.Logger
	// Events receives one event per stage transition. Sends never block;
	// a slow observer just misses events.
	Events chan<- Event
}

// Options are the tunables of the orchestrator.
type Options struct {
	CacheEnabled bool
	CacheTTL     time.Duration
	CachePrefix  string
	// ContextTopK is the retrieval query default; sources registered with
	// their own top-k override it.
	ContextTopK       int
	Draft             config.ModelConfig
	Refine            config.ModelConfig
	EvaluationEnabled bool
	DefaultRecipient  string
	TaskBuilder       TaskBuilder
}

// Orchestrator drives one request through the staged pipeline. It is safe
// for concurrent use; every run carries its own state.
type Orchestrator struct {
	deps Deps
	opts Options
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	if opts.ContextTopK <= 0 {
		opts.ContextTopK = 3
	}
	if opts.CachePrefix == "" {
		opts.CachePrefix = "pressagent:comment:"
	}
	if opts.TaskBuilder == nil {
		opts.TaskBuilder = func(Request, profile.Profile) []research.Task { return nil }
	}
	return &Orchestrator{deps: deps, opts: opts}
}

// Run executes the pipeline for one request. The returned error is non-nil
// only for invalid requests; every downstream failure is reported inside
// the response.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	key := cache.Fingerprint(o.opts.CachePrefix, req.CacheFields())
	if o.opts.CacheEnabled {
		if resp, ok := o.lookupCache(ctx, key); ok {
			return resp, nil
		}
	}

	state := State{Request: req, Stage: StageInit}
	steps := []struct {
		to Stage
		fn func(context.Context, State) StageResult
	}{
		{StageContextLoaded, o.loadContext},
		{StageResearchDone, o.runResearch},
		{StageDrafted, o.draft},
		{StageRefined, o.refine},
		{StageEvaluated, o.evaluate},
		{StagePersisted, o.persist},
	}

	for _, step := range steps {
		start := time.Now()
		res := step.fn(ctx, state)
		elapsed := time.Since(start)

		event := Event{Stage: step.to, Outcome: res.Outcome, Elapsed: elapsed}
		if res.Err != nil {
			event.Error = res.Err.Error()
		}
		o.emit(event)
		if o.deps.Metrics != nil {
			o.deps.Metrics.ObserveStage(string(step.to), string(res.Outcome), elapsed)
		}

		state = res.State
		if res.Outcome == OutcomeFatal {
			state.Stage = StageFailed
			o.deps.Logger.Printf("run aborted at %s: %v", step.to, res.Err)
			if o.deps.Metrics != nil {
				o.deps.Metrics.PipelineRuns.WithLabelValues(string(StageFailed)).Inc()
			}
			return o.assemble(state), nil
		}
		state.Stage = step.to
	}

	state.Stage = StageComplete
	resp := o.assemble(state)

	// Cached only on a complete run with real output. Failed or empty
	// results must recompute next time.
	if o.opts.CacheEnabled && resp.FinalOutput != "" {
		if payload, err := json.Marshal(resp); err == nil {
			if err := o.deps.Cache.Set(ctx, key, string(payload), o.opts.CacheTTL); err != nil {
				o.deps.Logger.Printf("cache write failed: %v", err)
			}
		}
	}

	if o.deps.Metrics != nil {
		o.deps.Metrics.PipelineRuns.WithLabelValues(string(StageComplete)).Inc()
	}
	return resp, nil
}

func (o *Orchestrator) lookupCache(ctx context.Context, key string) (Response, bool) {
	payload, found, err := o.deps.Cache.Get(ctx, key)
	if err != nil {
		o.deps.Logger.Printf("cache lookup failed: %v", err)
		return Response{}, false
	}
	if o.deps.Metrics != nil {
		result := "miss"
		if found {
			result = "hit"
		}
		o.deps.Metrics.CacheRequests.WithLabelValues(result).Inc()
	}
	if !found {
		return Response{}, false
	}
	var resp Response
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		o.deps.Logger.Printf("cache entry unreadable, recomputing: %v", err)
		return Response{}, false
	}
	resp.Cached = true
	return resp, true
}

func (o *Orchestrator) emit(e Event) {
	if o.deps.Events == nil {
		return
	}
	select {
	case o.deps.Events <- e:
	default:
	}
}

func (o *Orchestrator) assemble(s State) Response {
	resp := Response{
		Success:            s.Stage == StageComplete,
		FinalOutput:        s.Final,
		IntermediateOutput: s.Draft,
		Research:           s.Research,
		Errors:             s.Errors,
		CurrentStage:       s.Stage,
		Timestamp:          time.Now().UTC(),
	}
	if resp.Errors == nil {
		resp.Errors = []ErrorRecord{}
	}
	for _, doc := range s.Context {
		resp.Context = append(resp.Context, ContextDocument{
			Store:   doc.Store,
			Title:   doc.Title,
			Snippet: snippet(doc.Content),
			Score:   doc.Score,
		})
	}
	if len(s.Evaluation.Scores) > 0 {
		report := s.Evaluation
		resp.Evaluation = &report
	}
	return resp
}

// loadContext resolves the profile, reads session history, embeds the query
// and fans out to the retrieval stores. A missing profile is the pipeline's
// only critical failure; everything else degrades.
func (o *Orchestrator) loadContext(ctx context.Context, s State) StageResult {
	prof, err := o.deps.Profiles.Load(s.Request.SubjectID)
	if err != nil {
		s = s.withError(StageContextLoaded, ClassCritical, "profile_missing", err)
		return StageResult{State: s, Outcome: OutcomeFatal, Err: err}
	}
	s.Profile = prof

	if s.Request.SessionID != "" && o.deps.Sessions != nil {
		if buf, ok := o.deps.Sessions.Peek(s.Request.SessionID); ok {
			s.History = buf.Turns()
		}
	}

	outcome := OutcomeOK
	var stageErr error

	queryText := s.Request.Question + "\n" + s.Request.SourceText
	if o.deps.LLM != nil {
		vecs, err := o.deps.LLM.CreateEmbedding(ctx, []string{queryText})
		if err != nil || len(vecs) == 0 {
			if err == nil {
				err = errors.New("empty embedding response")
			}
			s = s.withError(StageContextLoaded, ClassRecoverable, "embedding_failed", err)
			outcome, stageErr = OutcomeFallback, err
		} else {
			s.Embedding = vecs[0]
		}
	}

	if o.deps.Retriever != nil {
		res := o.deps.Retriever.Retrieve(ctx, rag.Query{
			Text:      queryText,
			Embedding: s.Embedding,
			Subject:   s.Request.SubjectID,
			Outlet:    s.Request.TopicID,
			TopK:      o.opts.ContextTopK,
		})
		s.Context = res.Documents
		for store, err := range res.Errors {
			class := ClassRecoverable
			if errors.Is(err, context.DeadlineExceeded) {
				class = ClassTransient
			}
			s = s.withError(StageContextLoaded, class, "retrieval_failed:"+store, err)
			outcome, stageErr = OutcomeFallback, err
		}
	}

	return StageResult{State: s, Outcome: outcome, Err: stageErr}
}

// runResearch fans out the request's research tasks and folds fallbacks
// into the error list.
func (o *Orchestrator) runResearch(ctx context.Context, s State) StageResult {
	tasks := o.opts.TaskBuilder(s.Request, s.Profile)
	if len(tasks) == 0 || o.deps.FanOut == nil {
		return StageResult{State: s, Outcome: OutcomeOK}
	}

	outcome := OutcomeOK
	var stageErr error
	for _, out := range o.deps.FanOut.Run(ctx, tasks) {
		s.Research = append(s.Research, out.Finding)
		if out.Err != nil {
			class := ClassRecoverable
			if out.Code == research.CodeTimeout {
				class = ClassTransient
			}
			s = s.withError(StageResearchDone, class, out.Code+":"+out.Finding.Task, out.Err)
			outcome, stageErr = OutcomeFallback, out.Err
			if o.deps.Metrics != nil {
				o.deps.Metrics.ResearchFallbacks.WithLabelValues(out.Finding.Task, out.Code).Inc()
			}
		}
	}
	return StageResult{State: s, Outcome: outcome, Err: stageErr}
}

// draft produces the first full comment. A generation failure leaves the
// draft empty; the run completes degraded and is never cached.
func (o *Orchestrator) draft(ctx context.Context, s State) StageResult {
	out, err := o.deps.LLM.Generate(ctx, o.opts.Draft.Name, drafterSystem, buildDraftPrompt(s),
		o.opts.Draft.Temperature, o.opts.Draft.MaxTokens)
	if err != nil {
		s = s.withError(StageDrafted, ClassRecoverable, "draft_failed", err)
		return StageResult{State: s, Outcome: OutcomeFallback, Err: err}
	}
	s.Draft = out
	return StageResult{State: s, Outcome: OutcomeOK}
}

// refine polishes the draft, falling back to the unrefined draft.
func (o *Orchestrator) refine(ctx context.Context, s State) StageResult {
	if s.Draft == "" {
		return StageResult{State: s, Outcome: OutcomeOK}
	}
	out, err := o.deps.LLM.Generate(ctx, o.opts.Refine.Name, refinerSystem, buildRefinePrompt(s),
		o.opts.Refine.Temperature, o.opts.Refine.MaxTokens)
	if err != nil {
		s.Final = s.Draft
		s = s.withError(StageRefined, ClassRecoverable, "refine_failed", err)
		return StageResult{State: s, Outcome: OutcomeFallback, Err: err}
	}
	s.Final = out
	return StageResult{State: s, Outcome: OutcomeOK}
}

// evaluate runs the quality gate. Scoring failures surface as recoverable
// errors with the affected criteria at zero; the run itself proceeds.
func (o *Orchestrator) evaluate(ctx context.Context, s State) StageResult {
	if !o.opts.EvaluationEnabled || s.Final == "" || o.deps.Evaluator == nil {
		return StageResult{State: s, Outcome: OutcomeOK}
	}

	report := o.deps.Evaluator.Evaluate(ctx, s.Final, evaluationContext(s))
	s.Evaluation = report
	if o.deps.Metrics != nil {
		o.deps.Metrics.EvaluationScores.Observe(report.Mean)
	}

	outcome := OutcomeOK
	var stageErr error
	for _, cs := range report.Scores {
		if cs.Err != "" {
			err := fmt.Errorf("criterion %s: %s", cs.Criterion, cs.Err)
			s = s.withError(StageEvaluated, ClassRecoverable, "evaluation_failed", err)
			outcome, stageErr = OutcomeFallback, err
		}
	}
	return StageResult{State: s, Outcome: outcome, Err: stageErr}
}

// persist appends to session memory, archives the output when the quality
// gate passed, and notifies the recipient. All failures here are
// recoverable: the comment already exists.
func (o *Orchestrator) persist(ctx context.Context, s State) StageResult {
	outcome := OutcomeOK
	var stageErr error

	if s.Request.SessionID != "" && o.deps.Sessions != nil && s.Final != "" {
		buf := o.deps.Sessions.Get(s.Request.SessionID)
		buf.Append("user", s.Request.Question)
		buf.Append("assistant", s.Final)
	}

	// The quality gate: only evaluator-approved comments enter long-term
	// memory.
	if s.Evaluation.Passed && s.Final != "" && o.deps.LongTerm != nil && len(s.Embedding) > 0 {
		_, err := o.deps.LongTerm.Store(ctx, memory.Record{
			Subject:   s.Request.SubjectID,
			Outlet:    s.Request.TopicID,
			Topic:     s.Request.Question,
			Content:   s.Final,
			Embedding: s.Embedding,
		})
		if err != nil {
			s = s.withError(StagePersisted, ClassRecoverable, "memory_write_failed", err)
			outcome, stageErr = OutcomeFallback, err
		}
	}

	if o.deps.Notifier != nil && s.Final != "" {
		recipient := s.Request.OverrideRecipient
		if recipient == "" {
			recipient = s.Profile.ContactEmail
		}
		if recipient == "" {
			recipient = o.opts.DefaultRecipient
		}
		if recipient != "" {
			if err := o.deps.Notifier.SendComment(recipient, s.Request.SubjectID, s.Request.TopicID, s.Final); err != nil {
				s = s.withError(StagePersisted, ClassRecoverable, "notify_failed", err)
				outcome, stageErr = OutcomeFallback, err
			}
		}
	}

	return StageResult{State: s, Outcome: outcome, Err: stageErr}
}
