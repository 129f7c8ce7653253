package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/pressagent/internal/memory"
)

func TestStoreComment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	rec := memory.Record{
		Subject:   "Acme Corp",
		Outlet:    "The Daily",
		Topic:     "earnings",
		Content:   "Acme is pleased with the quarter.",
		Embedding: []float32{0.1, 0.2},
	}

	query := regexp.QuoteMeta(`
INSERT INTO comment_memory (subject, outlet, topic, content, embedding, created_at)
VALUES ($1,$2,$3,$4,$5::vector,NOW())
RETURNING id
`)
	rows := sqlmock.NewRows([]string{"id"}).AddRow("rec-1")
	mock.ExpectQuery(query).
		WithArgs(rec.Subject, rec.Outlet, rec.Topic, rec.Content, "[0.1,0.2]").
		WillReturnRows(rows)

	id, err := st.Store(context.Background(), rec)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if id != "rec-1" {
		t.Fatalf("unexpected id: %s", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreCommentRequiresEmbedding(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	if _, err := st.Store(context.Background(), memory.Record{Content: "no vector"}); err == nil {
		t.Fatal("expected error for missing embedding")
	}
}

func TestSearchComments(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
SELECT id, subject, outlet, topic, content, created_at, embedding <=> $1::vector AS distance
FROM comment_memory
WHERE ($2 = '' OR subject = $2)
  AND ($3 = '' OR outlet = $3)
ORDER BY embedding <=> $1::vector, created_at DESC
LIMIT $4
`)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "subject", "outlet", "topic", "content", "created_at", "distance"}).
		AddRow("rec-1", "Acme Corp", "The Daily", "earnings", "prior comment", now, 0.15)
	mock.ExpectQuery(query).
		WithArgs("[0.1,0.2]", "Acme Corp", "", 3).
		WillReturnRows(rows)

	results, err := st.Search(context.Background(), memory.Query{
		Embedding: []float32{0.1, 0.2},
		Subject:   "Acme Corp",
		TopK:      3,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != "rec-1" || results[0].Content != "prior comment" {
		t.Fatalf("unexpected result: %+v", results[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertKnowledge(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
INSERT INTO knowledge_documents (title, content, tags, embedding, created_at)
VALUES ($1,$2,$3,$4::vector,NOW())
RETURNING id
`)
	rows := sqlmock.NewRows([]string{"id"}).AddRow("doc-1")
	mock.ExpectQuery(query).
		WithArgs("style guide", "Keep comments short.", `{"style"}`, "[0.3,0.4]").
		WillReturnRows(rows)

	id, err := st.InsertKnowledge(context.Background(), KnowledgeDocument{
		Title:   "style guide",
		Content: "Keep comments short.",
		Tags:    []string{"style"},
		Vector:  []float32{0.3, 0.4},
	})
	if err != nil {
		t.Fatalf("InsertKnowledge: %v", err)
	}
	if id != "doc-1" {
		t.Fatalf("unexpected id: %s", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchKnowledge(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
SELECT id, title, content, created_at, embedding <=> $1::vector AS distance
FROM knowledge_documents
ORDER BY embedding <=> $1::vector, created_at DESC
LIMIT $2
`)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "title", "content", "created_at", "distance"}).
		AddRow("doc-1", "style guide", "Keep comments short.", now, 0.2)
	mock.ExpectQuery(query).
		WithArgs("[0.3,0.4]", 2).
		WillReturnRows(rows)

	results, err := st.SearchKnowledge(context.Background(), []float32{0.3, 0.4}, 2)
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(results) != 1 || results[0].Title != "style guide" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
