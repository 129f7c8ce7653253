package research

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"
)

type stubTask struct {
	name    string
	text    string
	err     error
	delay   time.Duration
	timeout time.Duration
}

func (s *stubTask) Name() string { return s.name }

func (s *stubTask) Timeout() time.Duration { return s.timeout }

func (s *stubTask) Run(ctx context.Context) (Finding, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Finding{}, ctx.Err()
		}
	}
	if s.err != nil {
		return Finding{}, s.err
	}
	return Finding{Content: s.text}, nil
}

func (s *stubTask) Fallback() Finding {
	return Finding{Task: s.name, Content: "fallback for " + s.name}
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestFanOutPreservesTaskOrder(t *testing.T) {
	f := NewFanOut(time.Second, quietLogger())
	outcomes := f.Run(context.Background(), []Task{
		&stubTask{name: "a", text: "first", delay: 30 * time.Millisecond},
		&stubTask{name: "b", text: "second"},
		&stubTask{name: "c", text: "third", delay: 10 * time.Millisecond},
	})

	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	want := []string{"first", "second", "third"}
	for i, o := range outcomes {
		if o.Finding.Content != want[i] {
			t.Fatalf("order broken at %d: got %q want %q", i, o.Finding.Content, want[i])
		}
		if o.Code != "" {
			t.Fatalf("unexpected failure code: %s", o.Code)
		}
	}
	if outcomes[0].Finding.Task != "a" {
		t.Fatalf("task name not set: %+v", outcomes[0].Finding)
	}
}

func TestFanOutFallbackOnFailure(t *testing.T) {
	f := NewFanOut(time.Second, quietLogger())
	outcomes := f.Run(context.Background(), []Task{
		&stubTask{name: "broken", err: errors.New("search down")},
		&stubTask{name: "ok", text: "fine"},
	})

	if outcomes[0].Code != CodeFailed {
		t.Fatalf("expected %s, got %q", CodeFailed, outcomes[0].Code)
	}
	if !outcomes[0].Finding.Fallback || outcomes[0].Finding.Content != "fallback for broken" {
		t.Fatalf("fallback not applied: %+v", outcomes[0].Finding)
	}
	if outcomes[1].Code != "" || outcomes[1].Finding.Content != "fine" {
		t.Fatalf("healthy task affected: %+v", outcomes[1])
	}
}

func TestFanOutHonorsTaskTimeout(t *testing.T) {
	f := NewFanOut(10*time.Millisecond, quietLogger())
	outcomes := f.Run(context.Background(), []Task{
		&stubTask{name: "slow-fetch", text: "article body", delay: 50 * time.Millisecond, timeout: 500 * time.Millisecond},
		&stubTask{name: "default", text: "never", delay: 50 * time.Millisecond},
	})

	if outcomes[0].Code != "" || outcomes[0].Finding.Content != "article body" {
		t.Fatalf("task with its own timeout was cut off: %+v", outcomes[0])
	}
	if outcomes[1].Code != CodeTimeout {
		t.Fatalf("expected default timeout to apply, got %+v", outcomes[1])
	}
}

func TestFanOutTimeoutIsTransient(t *testing.T) {
	f := NewFanOut(20*time.Millisecond, quietLogger())
	start := time.Now()
	outcomes := f.Run(context.Background(), []Task{
		&stubTask{name: "slow", text: "never", delay: time.Second},
	})
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("fan-out waited past the task timeout")
	}
	if outcomes[0].Code != CodeTimeout {
		t.Fatalf("expected %s, got %q", CodeTimeout, outcomes[0].Code)
	}
	if !outcomes[0].Finding.Fallback {
		t.Fatalf("expected fallback finding: %+v", outcomes[0].Finding)
	}
}
