package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"
)

// SQLiteStore keeps embeddings as JSON arrays in the vectors table and
// scores them in Go, since modernc.org/sqlite cannot load vector
// extensions. Every search scans the whole collection.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore returns a store on db. If logger is nil, the default slog
// logger is used.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, logger: logger}
}

func (s *SQLiteStore) Upsert(ctx context.Context, doc Document) error {
	if doc.ID == "" || doc.Collection == "" {
		return errors.New("vector: document needs an id and a collection")
	}
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("vector: document %s has no embedding", doc.ID)
	}

	var dims int
	err := s.db.QueryRowContext(ctx,
		"SELECT dims FROM vectors WHERE collection = ? AND id != ? LIMIT 1",
		doc.Collection, doc.ID).Scan(&dims)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("vector sqlite: read dims: %w", err)
	case dims != len(doc.Embedding):
		return fmt.Errorf("%w: collection %s has %d, got %d", ErrDimensionMismatch, doc.Collection, dims, len(doc.Embedding))
	}

	emb, err := json.Marshal(doc.Embedding)
	if err != nil {
		return fmt.Errorf("vector sqlite: marshal embedding: %w", err)
	}
	meta := []byte("{}")
	if len(doc.Metadata) > 0 {
		if meta, err = json.Marshal(doc.Metadata); err != nil {
			return fmt.Errorf("vector sqlite: marshal metadata: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vectors (id, collection, content, metadata, embedding, dims, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			dims = excluded.dims,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Collection, doc.Content, string(meta), string(emb), len(doc.Embedding),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("vector sqlite: upsert %s/%s: %w", doc.Collection, doc.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, vec []float32, collection string, topK int, threshold float64) ([]Result, error) {
	if topK <= 0 || len(vec) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, content, metadata, embedding FROM vectors WHERE collection = ? AND dims = ?",
		collection, len(vec))
	if err != nil {
		return nil, fmt.Errorf("vector sqlite: query %s: %w", collection, err)
	}
	defer rows.Close()

	var hits []Result
	for rows.Next() {
		var (
			r        Result
			metaJSON string
			embJSON  string
			emb      []float32
		)
		if err := rows.Scan(&r.ID, &r.Content, &metaJSON, &embJSON); err != nil {
			return nil, fmt.Errorf("vector sqlite: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(embJSON), &emb); err != nil {
			s.logger.Warn("vector sqlite: skip malformed embedding", "collection", collection, "id", r.ID, "err", err)
			continue
		}
		r.Score = cosineSimilarity(vec, emb)
		if r.Score < threshold {
			continue
		}
		if metaJSON != "" && metaJSON != "{}" {
			if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
				s.logger.Warn("vector sqlite: ignore malformed metadata", "id", r.ID, "err", err)
			}
		}
		hits = append(hits, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector sqlite: iterate: %w", err)
	}

	slices.SortStableFunc(hits, func(a, b Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// cosineSimilarity is 0 for mismatched, empty or zero-magnitude vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
