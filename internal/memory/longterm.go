package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one archived comment kept for similarity recall. Records are
// append-only: nothing in the service updates or deletes them.
type Record struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Outlet    string    `json:"outlet"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	Score     float64   `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Query selects records by embedding similarity with optional exact-match
// filters on subject and outlet.
type Query struct {
	Embedding []float32
	Subject   string
	Outlet    string
	TopK      int
}

// LongTerm is the similarity-searchable archive of accepted comments.
type LongTerm interface {
	Store(ctx context.Context, rec Record) (string, error)
	Search(ctx context.Context, q Query) ([]Record, error)
}

// InMemoryLongTerm keeps records in process and ranks by cosine similarity.
// It backs local runs and tests; production uses the Postgres store.
type InMemoryLongTerm struct {
	mu      sync.RWMutex
	records []Record
}

// NewInMemoryLongTerm creates an empty in-process archive.
func NewInMemoryLongTerm() *InMemoryLongTerm {
	return &InMemoryLongTerm{}
}

func (m *InMemoryLongTerm) Store(_ context.Context, rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return rec.ID, nil
}

func (m *InMemoryLongTerm) Search(_ context.Context, q Query) ([]Record, error) {
	if q.TopK <= 0 {
		q.TopK = 3
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var scored []Record
	for _, rec := range m.records {
		if q.Subject != "" && rec.Subject != q.Subject {
			continue
		}
		if q.Outlet != "" && rec.Outlet != q.Outlet {
			continue
		}
		rec.Score = cosine(q.Embedding, rec.Embedding)
		scored = append(scored, rec)
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].CreatedAt.After(scored[j].CreatedAt)
	})
	if len(scored) > q.TopK {
		scored = scored[:q.TopK]
	}
	return scored, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
