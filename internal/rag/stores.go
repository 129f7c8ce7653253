package rag

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/pressagent/internal/memory"
	"github.com/mohammad-safakhou/pressagent/internal/store"
)

// HistoryStore retrieves previously accepted comments from long-term memory.
// A nil Memory backend makes the store a no-op.
type HistoryStore struct {
	Memory memory.LongTerm
}

func (h *HistoryStore) Name() string { return StoreHistory }

func (h *HistoryStore) Retrieve(ctx context.Context, q Query) ([]Document, error) {
	if h.Memory == nil || len(q.Embedding) == 0 {
		return nil, nil
	}
	recs, err := h.Memory.Search(ctx, memory.Query{
		Embedding: q.Embedding,
		Subject:   q.Subject,
		Outlet:    q.Outlet,
		TopK:      q.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("history search: %w", err)
	}
	docs := make([]Document, 0, len(recs))
	for _, rec := range recs {
		docs = append(docs, Document{
			ID:      rec.ID,
			Title:   rec.Topic,
			Content: rec.Content,
			Score:   rec.Score,
		})
	}
	return docs, nil
}

// KnowledgeSearcher is the slice of the Postgres store the knowledge store
// needs, kept narrow so tests can stub it.
type KnowledgeSearcher interface {
	SearchKnowledge(ctx context.Context, vector []float32, topK int) ([]store.KnowledgeDocument, error)
}

// KnowledgeStore retrieves reference documents from the knowledge base.
type KnowledgeStore struct {
	Searcher KnowledgeSearcher
}

func (k *KnowledgeStore) Name() string { return StoreKnowledge }

func (k *KnowledgeStore) Retrieve(ctx context.Context, q Query) ([]Document, error) {
	if k.Searcher == nil || len(q.Embedding) == 0 {
		return nil, nil
	}
	docs, err := k.Searcher.SearchKnowledge(ctx, q.Embedding, q.TopK)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, Document{
			ID:      d.ID,
			Title:   d.Title,
			Content: d.Content,
			Score:   1 - d.Distance,
		})
	}
	return out, nil
}
