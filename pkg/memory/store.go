package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/forge/internal/observability"
	"github.com/harun/forge/internal/tracing"
	"github.com/harun/forge/pkg/chunker"
	"github.com/harun/forge/pkg/vectorindex"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds memory store configuration
type Config struct {
	Embedder     EmbeddingProvider
	IndexFactory vectorindex.Factory // nil selects HNSW with default parameters
	Logger       zerolog.Logger
}

type project struct {
	id          string
	collections map[Kind]*collection
	createdAt   time.Time
	updatedAt   time.Time
}

// Store owns every project's collections.
type Store struct {
	mu       sync.RWMutex
	projects map[string]*project
	embedder EmbeddingProvider
	factory  vectorindex.Factory
	logger   zerolog.Logger
	now      func() time.Time
}

// NewStore creates an empty memory store
func NewStore(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.Embedder == nil {
		return nil, errors.New("embedding provider is required")
	}
	factory := cfg.IndexFactory
	if factory == nil {
		factory = func(dimension int) (vectorindex.Index, error) {
			return vectorindex.NewHNSW(vectorindex.HNSWConfig{Dimension: dimension}), nil
		}
	}

	return &Store{
		projects: make(map[string]*project),
		embedder: cfg.Embedder,
		factory:  factory,
		logger:   cfg.Logger,
		now:      time.Now,
	}, nil
}

// Ingest embeds chunks in one provider call and appends them to the
// (projectID, kind) collection. An empty slice is a no-op.
func (s *Store) Ingest(ctx context.Context, projectID string, kind Kind, chunks []Chunk) error {
	if !kind.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if projectID == "" {
		return errors.New("project id is required")
	}
	if len(chunks) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"forge.memory",
		"memory.ingest",
		attribute.String("project_id", projectID),
		attribute.String("collection", string(kind)),
		attribute.Int("chunks", len(chunks)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()
	now := s.now()

	prepared, err := prepareChunks(projectID, kind, chunks, now)
	if err != nil {
		tracing.Fail(span, err)
		return err
	}

	texts := make([]string, len(prepared))
	for i, c := range prepared {
		texts[i] = c.Content
	}
	vectors, err := s.embed(ctx, texts)
	if err != nil {
		tracing.Fail(span, err)
		return err
	}

	coll, err := s.collectionFor(projectID, kind, len(vectors[0]), now)
	if err != nil {
		tracing.Fail(span, err)
		return err
	}
	if err := coll.add(prepared, vectors, now); err != nil {
		err = fmt.Errorf("failed to index %s chunks: %w", kind, err)
		tracing.Fail(span, err)
		return err
	}

	s.touch(projectID, now)
	observability.RecordIngest(string(kind), len(prepared), time.Since(start))
	logger.Debug().
		Str("project_id", projectID).
		Str("collection", string(kind)).
		Int("chunks", len(prepared)).
		Dur("duration", time.Since(start)).
		Msg("Chunks ingested")
	return nil
}

// prepareChunks validates chunks and fills ids, hashes and timestamps.
func prepareChunks(projectID string, kind Kind, chunks []Chunk, now time.Time) ([]Chunk, error) {
	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			return nil, fmt.Errorf("%w: chunk %d has empty content", ErrInvalidChunk, i)
		}
		if kind == KindCode && c.Metadata.LineStart >= c.Metadata.LineEnd {
			return nil, fmt.Errorf("%w: chunk %d has line range [%d, %d)", ErrInvalidChunk, i, c.Metadata.LineStart, c.Metadata.LineEnd)
		}
		if c.ID == "" {
			id, err := gonanoid.New()
			if err != nil {
				return nil, fmt.Errorf("failed to generate chunk id: %w", err)
			}
			c.ID = id
		}
		if c.ContentHash == "" {
			c.ContentHash = chunker.Hash(c.Content)
		}
		if c.Metadata.CreatedAt.IsZero() {
			c.Metadata.CreatedAt = now
		}
		c.ProjectID = projectID
		c.Kind = kind
		out[i] = c
	}
	return out, nil
}

func (s *Store) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := s.embedder.GenerateEmbeddings(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("got %d embeddings for %d texts", len(vectors), len(texts))
	}
	observability.RecordEmbeddingRequest(err == nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
	return vectors, nil
}

// collectionFor returns the collection, creating project and index on
// first use.
func (s *Store) collectionFor(projectID string, kind Kind, dimension int, now time.Time) (*collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		p = &project{
			id:          projectID,
			collections: make(map[Kind]*collection),
			createdAt:   now,
			updatedAt:   now,
		}
		s.projects[projectID] = p
	}

	if c, ok := p.collections[kind]; ok {
		return c, nil
	}

	index, err := s.factory(dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s index: %w", kind, err)
	}
	c := newCollection(kind, index, now)
	p.collections[kind] = c
	return c, nil
}

func (s *Store) touch(projectID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[projectID]; ok {
		p.updatedAt = now
	}
}

func (s *Store) lookup(projectID string, kind Kind) *collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil
	}
	return p.collections[kind]
}

// SearchCollection returns up to k chunks of one collection ordered by
// descending similarity. A missing collection yields no results.
func (s *Store) SearchCollection(ctx context.Context, projectID string, kind Kind, query string, k int) ([]SearchResult, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"forge.memory",
		"memory.search_collection",
		attribute.String("project_id", projectID),
		attribute.String("collection", string(kind)),
		attribute.Int("k", k),
	)
	defer span.End()

	coll := s.lookup(projectID, kind)
	if coll == nil || k <= 0 {
		return []SearchResult{}, nil
	}

	start := time.Now()
	results, err := s.searchCollection(ctx, coll, query, k)
	observability.RecordSearch(string(kind), time.Since(start), err == nil)
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	return results, nil
}

// SearchCode searches the project's code collection.
func (s *Store) SearchCode(ctx context.Context, projectID, query string, k int) ([]SearchResult, error) {
	return s.SearchCollection(ctx, projectID, KindCode, query, k)
}

func (s *Store) searchCollection(ctx context.Context, coll *collection, query string, k int) ([]SearchResult, error) {
	logger := tracing.LoggerFromContext(ctx, s.logger)

	vectors, err := s.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	hits, err := coll.query(vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("index query failed: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		if !h.found {
			observability.RecordIndexInconsistency(string(coll.kind))
			logger.Warn().
				Err(ErrIndexInconsistency).
				Str("collection", string(coll.kind)).
				Uint64("key", h.key).
				Msg("Dropping search hit")
			continue
		}
		results = append(results, SearchResult{
			Chunk:      h.chunk,
			Kind:       coll.kind,
			Similarity: vectorindex.Similarity(h.distance),
		})
	}

	sortBySimilarity(results)
	return results, nil
}

func sortBySimilarity(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
}

// searchOutcome is the result of a secondary search; a failed outcome
// contributes no results to the merge.
type searchOutcome struct {
	kind    Kind
	results []SearchResult
	err     error
}

func (o searchOutcome) merged() []SearchResult {
	if o.err != nil {
		return nil
	}
	return o.results
}

// SearchProject searches code with budget k and prompts and structure with
// budget ceil(k/3) each, then merges by similarity and truncates to k. Only
// a failure of the code search is returned.
func (s *Store) SearchProject(ctx context.Context, projectID, query string, k int) ([]SearchResult, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"forge.memory",
		"memory.search_project",
		attribute.String("project_id", projectID),
		attribute.Int("k", k),
	)
	defer span.End()

	if k <= 0 {
		return []SearchResult{}, nil
	}
	logger := tracing.LoggerFromContext(ctx, s.logger)

	merged, err := s.SearchCollection(ctx, projectID, KindCode, query, k)
	if err != nil {
		tracing.Fail(span, err)
		return nil, fmt.Errorf("code search failed: %w", err)
	}

	secondary := (k + 2) / 3
	for _, kind := range []Kind{KindPrompts, KindStructure} {
		results, err := s.SearchCollection(ctx, projectID, kind, query, secondary)
		outcome := searchOutcome{kind: kind, results: results, err: err}
		if outcome.err != nil {
			logger.Warn().Err(outcome.err).Str("collection", string(kind)).Msg("Secondary search failed")
		}
		merged = append(merged, outcome.merged()...)
	}

	sortBySimilarity(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// Stats derives counts from the project's live collections.
func (s *Store) Stats(projectID string) ProjectStats {
	stats := ProjectStats{ProjectID: projectID}
	colls := make([]*collection, 0, len(Kinds))

	s.mu.RLock()
	if p, ok := s.projects[projectID]; ok {
		for _, c := range p.collections {
			colls = append(colls, c)
		}
		stats.CreatedAt = p.createdAt
		stats.UpdatedAt = p.updatedAt
	}
	s.mu.RUnlock()

	for _, c := range colls {
		n := c.size()
		switch c.kind {
		case KindCode:
			stats.Code = n
		case KindPrompts:
			stats.Prompts = n
		case KindStructure:
			stats.Structure = n
		}
	}
	stats.TotalChunks = stats.Code + stats.Prompts + stats.Structure
	return stats
}

// DeleteProject drops every collection of the project. Deleting an unknown
// project is a no-op.
func (s *Store) DeleteProject(projectID string) error {
	s.mu.Lock()
	p, ok := s.projects[projectID]
	delete(s.projects, projectID)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	var errs []error
	for kind, c := range p.collections {
		observability.RecordCollectionDropped(string(kind), c.size())
		if err := c.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s index: %w", kind, err))
		}
	}
	s.logger.Info().Str("project_id", projectID).Msg("Project deleted")
	return errors.Join(errs...)
}

// Projects returns known project ids in sorted order.
func (s *Store) Projects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.projects))
	for id := range s.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Collection returns a read-only view of one collection.
func (s *Store) Collection(projectID string, kind Kind) (CollectionView, bool) {
	c := s.lookup(projectID, kind)
	if c == nil {
		return CollectionView{}, false
	}
	return CollectionView{c: c}, true
}

// Close releases every index.
func (s *Store) Close() error {
	var errs []error
	for _, id := range s.Projects() {
		if err := s.DeleteProject(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
