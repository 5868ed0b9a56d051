package vectorindex

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

var registerVec sync.Once

var memoryDBSeq atomic.Uint64

// SQLiteVec is an exact k-NN index backed by a sqlite-vec vec0 table in a
// private in-memory database.
type SQLiteVec struct {
	mu        sync.RWMutex
	db        *sql.DB
	dimension int
	count     int
}

// NewSQLiteVec opens a fresh in-memory vector table.
func NewSQLiteVec(dimension int) (*SQLiteVec, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("sqlite-vec index needs a positive dimension, got %d", dimension)
	}
	registerVec.Do(sqlite_vec.Auto)

	dsn := fmt.Sprintf("file:vecindex%d?mode=memory&cache=shared", memoryDBSeq.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	// One connection keeps every statement on the same in-memory database.
	db.SetMaxOpenConns(1)

	schema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE vectors USING vec0(
			embedding float[%d] distance_metric=cosine
		);
	`, dimension)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create vector table: %w", err)
	}

	return &SQLiteVec{db: db, dimension: dimension}, nil
}

// Len returns the number of indexed vectors.
func (s *SQLiteVec) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Keys returns every indexed key in ascending order.
func (s *SQLiteVec) Keys() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT rowid FROM vectors ORDER BY rowid")
	if err != nil {
		return nil
	}
	defer rows.Close()

	var keys []uint64
	for rows.Next() {
		var key int64
		if err := rows.Scan(&key); err != nil {
			return keys
		}
		keys = append(keys, uint64(key))
	}
	return keys
}

// Close closes the database.
func (s *SQLiteVec) Close() error {
	return s.db.Close()
}

// BulkInsert writes all vectors in one transaction.
func (s *SQLiteVec) BulkInsert(keys []uint64, vectors [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateBatch(keys, vectors, s.dimension, s.exists); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO vectors(rowid, embedding) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, key := range keys {
		blob, err := sqlite_vec.SerializeFloat32(vectors[i])
		if err != nil {
			return fmt.Errorf("failed to serialize vector %d: %w", key, err)
		}
		if _, err := stmt.Exec(int64(key), blob); err != nil {
			return fmt.Errorf("failed to insert vector %d: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit vectors: %w", err)
	}
	s.count += len(keys)
	return nil
}

func (s *SQLiteVec) exists(key uint64) bool {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM vectors WHERE rowid = ?", int64(key)).Scan(&one)
	return err == nil
}

// Query scans every vector and returns the k closest.
func (s *SQLiteVec) Query(vector []float32, k int) ([]uint64, []float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || s.count == 0 {
		return nil, nil, nil
	}
	if len(vector) != s.dimension {
		return nil, nil, fmt.Errorf("%w: query has %d values, want %d", ErrDimensionMismatch, len(vector), s.dimension)
	}

	embeddingJSON, err := json.Marshal(vector)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal query vector: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT rowid, vec_distance_cosine(embedding, ?) AS distance
		FROM vectors
		ORDER BY distance ASC, rowid ASC
		LIMIT ?
	`, string(embeddingJSON), k)
	if err != nil {
		return nil, nil, fmt.Errorf("vector query failed: %w", err)
	}
	defer rows.Close()

	var keys []uint64
	var dists []float32
	for rows.Next() {
		var key int64
		var distance float64
		if err := rows.Scan(&key, &distance); err != nil {
			return nil, nil, err
		}
		keys = append(keys, uint64(key))
		dists = append(dists, float32(distance))
	}
	return keys, dists, rows.Err()
}
