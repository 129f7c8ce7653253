package research

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Error codes attached to failed research tasks. A timeout is transient,
// anything else recoverable.
const (
	CodeTimeout = "research_timeout"
	CodeFailed  = "research_failed"
)

// Finding is the output of one research task. Fallback findings carry the
// task's static placeholder text when the task itself failed.
type Finding struct {
	Task     string   `json:"task"`
	Content  string   `json:"content"`
	Sources  []string `json:"sources,omitempty"`
	Fallback bool     `json:"fallback"`
}

// Task is a single independent research unit.
type Task interface {
	Name() string
	Run(ctx context.Context) (Finding, error)
	// Fallback is used in place of the result when Run fails or times out.
	Fallback() Finding
	// Timeout bounds Run. Zero means the fan-out default applies.
	Timeout() time.Duration
}

// Outcome pairs a finding with the failure that produced its fallback, if
// any. Code is empty on success.
type Outcome struct {
	Finding Finding
	Code    string
	Err     error
}

// FanOut runs independent research tasks concurrently, each under its own
// timeout. It always joins on every task and returns outcomes in the order
// the tasks were given, so downstream prompts stay deterministic.
type FanOut struct {
	timeout time.Duration
	logger  *log.Logger
}

// NewFanOut creates a fan-out with the given default per-task timeout. Tasks
// that report their own timeout override it.
func NewFanOut(timeout time.Duration, logger *log.Logger) *FanOut {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	return &FanOut{timeout: timeout, logger: logger}
}

// Run executes all tasks and never returns an error: a failed task degrades
// to its fallback finding with the failure recorded in the outcome.
func (f *FanOut) Run(ctx context.Context, tasks []Task) []Outcome {
	outcomes := make([]Outcome, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			timeout := task.Timeout()
			if timeout <= 0 {
				timeout = f.timeout
			}
			tctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			finding, err := task.Run(tctx)
			if err != nil {
				code := CodeFailed
				if errors.Is(err, context.DeadlineExceeded) || tctx.Err() != nil {
					code = CodeTimeout
				}
				f.logger.Printf("task %s failed after %v (%s): %v", task.Name(), time.Since(start), code, err)
				fb := task.Fallback()
				fb.Fallback = true
				outcomes[i] = Outcome{Finding: fb, Code: code, Err: err}
				return
			}
			finding.Task = task.Name()
			outcomes[i] = Outcome{Finding: finding}
			f.logger.Printf("task %s completed in %v", task.Name(), time.Since(start))
		}(i, task)
	}
	wg.Wait()

	return outcomes
}
