package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/forge/internal/observability"
	"github.com/harun/forge/pkg/chunker"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// EmbeddingCache stores vectors by content hash.
type EmbeddingCache interface {
	Get(ctx context.Context, model string, hashes []string) (map[string][]float32, error)
	Put(ctx context.Context, model string, vectors map[string][]float32) error
	Close() error
}

// SQLiteEmbeddingCache persists embeddings in a sqlite table.
type SQLiteEmbeddingCache struct {
	db *sql.DB
}

// NewSQLiteEmbeddingCache opens or creates the cache database at path.
func NewSQLiteEmbeddingCache(path string) (*SQLiteEmbeddingCache, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT NOT NULL,
			model TEXT NOT NULL,
			embedding BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (content_hash, model)
		);
		CREATE INDEX IF NOT EXISTS idx_cache_created ON embedding_cache(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteEmbeddingCache{db: db}, nil
}

// Get returns the cached vectors found among hashes.
func (c *SQLiteEmbeddingCache) Get(ctx context.Context, model string, hashes []string) (map[string][]float32, error) {
	found := make(map[string][]float32)
	if len(hashes) == 0 {
		return found, nil
	}

	// sqlite caps bound parameters per statement
	const batch = 500
	for start := 0; start < len(hashes); start += batch {
		end := start + batch
		if end > len(hashes) {
			end = len(hashes)
		}
		part := hashes[start:end]

		args := make([]any, 0, len(part)+1)
		args = append(args, model)
		for _, h := range part {
			args = append(args, h)
		}
		query := "SELECT content_hash, embedding FROM embedding_cache WHERE model = ? AND content_hash IN (?" +
			strings.Repeat(",?", len(part)-1) + ")"

		rows, err := c.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query cache: %w", err)
		}
		for rows.Next() {
			var hash string
			var blob []byte
			if err := rows.Scan(&hash, &blob); err != nil {
				rows.Close()
				return nil, err
			}
			var vec []float32
			if err := json.Unmarshal(blob, &vec); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to unmarshal cached embedding: %w", err)
			}
			found[hash] = vec
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	return found, nil
}

// Put stores vectors in one transaction.
func (c *SQLiteEmbeddingCache) Put(ctx context.Context, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for hash, vec := range vectors {
		blob, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO embedding_cache (content_hash, model, embedding, dimension, created_at) VALUES (?, ?, ?, ?, ?)",
			hash, model, blob, len(vec), now,
		); err != nil {
			return fmt.Errorf("failed to cache embedding: %w", err)
		}
	}

	return tx.Commit()
}

// Close closes the database.
func (c *SQLiteEmbeddingCache) Close() error {
	return c.db.Close()
}

// CachedEmbedder consults a cache before calling the inner provider and
// only sends misses upstream. Cache errors are logged and bypassed.
type CachedEmbedder struct {
	inner  EmbeddingProvider
	cache  EmbeddingCache
	model  string
	logger zerolog.Logger
}

// NewCachedEmbedder wraps inner with cache. model namespaces cache entries.
func NewCachedEmbedder(inner EmbeddingProvider, cache EmbeddingCache, model string, logger zerolog.Logger) *CachedEmbedder {
	observability.EnsureRegistered()
	return &CachedEmbedder{inner: inner, cache: cache, model: model, logger: logger}
}

func (p *CachedEmbedder) Dimension() int {
	return p.inner.Dimension()
}

func (p *CachedEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (p *CachedEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = chunker.Hash(t)
	}

	cached, err := p.cache.Get(ctx, p.model, hashes)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Embedding cache read failed")
		cached = map[string][]float32{}
	}

	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, h := range hashes {
		if v, ok := cached[h]; ok && len(v) == p.inner.Dimension() {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, texts[i])
		missIdx = append(missIdx, i)
	}
	observability.RecordEmbeddingCache(len(texts)-len(missTexts), len(missTexts))

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := p.inner.GenerateEmbeddings(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(fresh), len(missTexts))
	}

	toStore := make(map[string][]float32, len(fresh))
	for j, i := range missIdx {
		out[i] = fresh[j]
		toStore[hashes[i]] = fresh[j]
	}
	if err := p.cache.Put(ctx, p.model, toStore); err != nil {
		p.logger.Warn().Err(err).Msg("Embedding cache write failed")
	}

	return out, nil
}
