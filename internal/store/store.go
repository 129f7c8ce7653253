package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/pressagent/internal/memory"
)

// Store wraps the Postgres connection used for users, archived comments and
// the knowledge base. Embeddings live in pgvector columns.
type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions indicates the expected length of semantic vectors stored in pgvector columns.
const DefaultEmbeddingDimensions = 1536

// KnowledgeDocument is a stored reference document with its embedding.
type KnowledgeDocument struct {
	ID        string
	Title     string
	Content   string
	Tags      []string
	Vector    []float32
	Distance  float64
	CreatedAt time.Time
}

// New constructs the Store from an explicit Postgres DSN.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Store archives an accepted comment with its embedding. It implements the
// long-term memory interface; rows are append-only.
func (s *Store) Store(ctx context.Context, rec memory.Record) (string, error) {
	if len(rec.Embedding) == 0 {
		return "", fmt.Errorf("embedding vector required")
	}
	vectorLiteral, err := encodeVectorLiteral(rec.Embedding)
	if err != nil {
		return "", err
	}
	var id string
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO comment_memory (subject, outlet, topic, content, embedding, created_at)
VALUES ($1,$2,$3,$4,$5::vector,NOW())
RETURNING id
`, rec.Subject, rec.Outlet, rec.Topic, rec.Content, vectorLiteral).Scan(&id)
	return id, err
}

// Search returns the closest archived comments for the supplied embedding,
// optionally filtered by subject and outlet. Ties on distance fall to the
// most recent row.
func (s *Store) Search(ctx context.Context, q memory.Query) ([]memory.Record, error) {
	if len(q.Embedding) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if q.TopK <= 0 {
		q.TopK = 3
	}
	vecLiteral, err := encodeVectorLiteral(q.Embedding)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, subject, outlet, topic, content, created_at, embedding <=> $1::vector AS distance
FROM comment_memory
WHERE ($2 = '' OR subject = $2)
  AND ($3 = '' OR outlet = $3)
ORDER BY embedding <=> $1::vector, created_at DESC
LIMIT $4
`, vecLiteral, q.Subject, q.Outlet, q.TopK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []memory.Record
	for rows.Next() {
		var (
			rec      memory.Record
			distance float64
		)
		if err := rows.Scan(&rec.ID, &rec.Subject, &rec.Outlet, &rec.Topic, &rec.Content, &rec.CreatedAt, &distance); err != nil {
			return nil, err
		}
		rec.Score = 1 - distance
		results = append(results, rec)
	}
	return results, rows.Err()
}

// InsertKnowledge stores a reference document for retrieval.
func (s *Store) InsertKnowledge(ctx context.Context, doc KnowledgeDocument) (string, error) {
	if len(doc.Vector) == 0 {
		return "", fmt.Errorf("embedding vector required")
	}
	vectorLiteral, err := encodeVectorLiteral(doc.Vector)
	if err != nil {
		return "", err
	}
	var id string
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO knowledge_documents (title, content, tags, embedding, created_at)
VALUES ($1,$2,$3,$4::vector,NOW())
RETURNING id
`, doc.Title, doc.Content, tagsLiteral(doc.Tags), vectorLiteral).Scan(&id)
	return id, err
}

// SearchKnowledge returns the closest knowledge documents for the vector.
func (s *Store) SearchKnowledge(ctx context.Context, vector []float32, topK int) ([]KnowledgeDocument, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 3
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, title, content, created_at, embedding <=> $1::vector AS distance
FROM knowledge_documents
ORDER BY embedding <=> $1::vector, created_at DESC
LIMIT $2
`, vecLiteral, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []KnowledgeDocument
	for rows.Next() {
		var doc KnowledgeDocument
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.CreatedAt, &doc.Distance); err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	return results, rows.Err()
}

// Counts groups table sizes for the operational stats endpoint.
type Counts struct {
	Comments  int64 `json:"comments"`
	Knowledge int64 `json:"knowledge"`
}

// CountRows returns the row totals used by the stats endpoint.
func (s *Store) CountRows(ctx context.Context) (Counts, error) {
	var c Counts
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM comment_memory`).Scan(&c.Comments); err != nil {
		return c, err
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_documents`).Scan(&c.Knowledge); err != nil {
		return c, err
	}
	return c, nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func tagsLiteral(tags []string) string {
	if len(tags) == 0 {
		return "{}"
	}
	escaped := make([]string, len(tags))
	for i, t := range tags {
		escaped[i] = `"` + strings.ReplaceAll(t, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(escaped, ",") + "}"
}
