package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
)

// ExamplesStore keeps sample comments in an in-memory BM25 index. The corpus
// is small and static, loaded once from a directory of text files.
type ExamplesStore struct {
	mu    sync.RWMutex
	index bleve.Index
	texts map[string]string
}

// NewExamplesStore creates an empty in-memory examples index.
func NewExamplesStore() (*ExamplesStore, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &ExamplesStore{index: index, texts: make(map[string]string)}, nil
}

// LoadDir indexes every .txt and .md file in dir, keyed by filename.
func (e *ExamplesStore) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".txt" && ext != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return count, err
		}
		id := strings.TrimSuffix(entry.Name(), ext)
		if err := e.Add(id, string(data)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Add indexes one example comment.
func (e *ExamplesStore) Add(id, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts[id] = text
	return e.index.Index(id, map[string]string{"text": text})
}

func (e *ExamplesStore) Name() string { return StoreExamples }

func (e *ExamplesStore) Retrieve(_ context.Context, q Query) ([]Document, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	query := bleve.NewQueryStringQuery(q.Text)
	searchReq := bleve.NewSearchRequestOptions(query, q.TopK, 0, false)
	res, err := e.index.Search(searchReq)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Document
	for _, hit := range res.Hits {
		out = append(out, Document{
			ID:      hit.ID,
			Content: e.texts[hit.ID],
			Score:   hit.Score,
		})
		if len(out) >= q.TopK {
			break
		}
	}
	return out, nil
}
