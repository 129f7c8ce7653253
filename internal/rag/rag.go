package rag

import (
	"context"
	"sync"
	"time"
)

// Store label order also fixes merge priority: history first, then
// knowledge, then examples.
const (
	StoreHistory   = "history"
	StoreKnowledge = "knowledge"
	StoreExamples  = "examples"
)

// Document is one retrieved context item, tagged with its source store.
type Document struct {
	Store   string  `json:"store"`
	ID      string  `json:"id"`
	Title   string  `json:"title,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Query carries everything a store may need: the raw text for keyword
// stores and the embedding for vector stores.
type Query struct {
	Text      string
	Embedding []float32
	Subject   string
	Outlet    string
	TopK      int
}

// Store is a single labeled retrieval source.
type Store interface {
	Name() string
	Retrieve(ctx context.Context, q Query) ([]Document, error)
}

// Result is the merged retrieval output. Errors holds per-store failures;
// a failed store contributes nothing but never fails the retrieval.
type Result struct {
	Documents []Document
	Errors    map[string]error
}

// Source binds a store to its own retrieval limits. A zero TopK keeps the
// query's TopK; a zero Timeout falls back to the retriever default.
type Source struct {
	Store   Store
	TopK    int
	Timeout time.Duration
}

// Retriever queries every registered source concurrently and merges results
// in registration order, so higher-priority stores always come first no
// matter which store answered last.
type Retriever struct {
	sources []Source
	timeout time.Duration
}

// NewRetriever creates a retriever over the given sources. defaultTimeout
// bounds any source that does not carry its own.
func NewRetriever(defaultTimeout time.Duration, sources ...Source) *Retriever {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &Retriever{sources: sources, timeout: defaultTimeout}
}

// Retrieve fans the query out to every source and joins on all of them.
// Each source is queried under its own timeout and top-k.
func (r *Retriever) Retrieve(ctx context.Context, q Query) Result {
	type answer struct {
		docs []Document
		err  error
	}
	answers := make([]answer, len(r.sources))

	var wg sync.WaitGroup
	for i, src := range r.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			sq := q
			if src.TopK > 0 {
				sq.TopK = src.TopK
			}
			timeout := src.Timeout
			if timeout <= 0 {
				timeout = r.timeout
			}
			sctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			docs, err := src.Store.Retrieve(sctx, sq)
			answers[i] = answer{docs: docs, err: err}
		}(i, src)
	}
	wg.Wait()

	res := Result{Errors: map[string]error{}}
	for i, src := range r.sources {
		name := src.Store.Name()
		if answers[i].err != nil {
			res.Errors[name] = answers[i].err
			continue
		}
		for _, d := range answers[i].docs {
			d.Store = name
			res.Documents = append(res.Documents, d)
		}
	}
	return res
}
