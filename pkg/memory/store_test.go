package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/harun/forge/pkg/vectorindex"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) (*Store, *MockEmbeddingProvider) {
	t.Helper()
	embedder := NewMockEmbeddingProvider(256)
	store, err := NewStore(Config{
		Embedder: embedder,
		Logger:   zerolog.New(io.Discard),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, embedder
}

func codeChunk(i int, content string) Chunk {
	return Chunk{
		Content: content,
		Metadata: Metadata{
			Filename:  fmt.Sprintf("file%d.go", i),
			Language:  "go",
			LineStart: 0,
			LineEnd:   10,
		},
	}
}

func textChunks(n int, prefix string) []Chunk {
	chunks := make([]Chunk, n)
	for i := range chunks {
		chunks[i] = codeChunk(i, fmt.Sprintf("%s item %d handles request number %d", prefix, i, i))
	}
	return chunks
}

func assertCorrespondence(t *testing.T, store *Store, projectID string, kind Kind) {
	t.Helper()
	view, ok := store.Collection(projectID, kind)
	require.True(t, ok)
	assert.Equal(t, view.Keys(), view.IndexKeys())
	assert.Equal(t, view.Len(), view.IndexLen())
	for _, key := range view.IndexKeys() {
		_, found := view.Get(key)
		assert.True(t, found, "index key %d has no chunk", key)
	}
}

func TestNewStoreRequiresEmbedder(t *testing.T) {
	_, err := NewStore(Config{})
	assert.Error(t, err)
}

func TestIngestEmptyIsNoop(t *testing.T) {
	store, embedder := createTestStore(t)

	require.NoError(t, store.Ingest(context.Background(), "p", KindCode, nil))
	assert.Equal(t, 0, embedder.Calls())
	assert.Empty(t, store.Projects())
	assert.Equal(t, 0, store.Stats("p").TotalChunks)
}

func TestIngestFillsChunkFields(t *testing.T) {
	store, embedder := createTestStore(t)

	require.NoError(t, store.Ingest(context.Background(), "p", KindCode, textChunks(3, "alpha")))
	assert.Equal(t, 1, embedder.Calls(), "one batch call per ingest")
	assertCorrespondence(t, store, "p", KindCode)

	view, _ := store.Collection("p", KindCode)
	chunk, ok := view.Get(view.Keys()[0])
	require.True(t, ok)
	assert.NotEmpty(t, chunk.ID)
	assert.Len(t, chunk.ContentHash, 64)
	assert.Equal(t, "p", chunk.ProjectID)
	assert.Equal(t, KindCode, chunk.Kind)
	assert.False(t, chunk.Metadata.CreatedAt.IsZero())
}

func TestIngestRejectsInvalidChunks(t *testing.T) {
	store, embedder := createTestStore(t)
	ctx := context.Background()

	err := store.Ingest(ctx, "p", KindCode, []Chunk{{Content: "   ", Metadata: Metadata{LineEnd: 1}}})
	assert.ErrorIs(t, err, ErrInvalidChunk)

	err = store.Ingest(ctx, "p", KindCode, []Chunk{{Content: "x", Metadata: Metadata{LineStart: 4, LineEnd: 4}}})
	assert.ErrorIs(t, err, ErrInvalidChunk)

	err = store.Ingest(ctx, "p", Kind("docs"), textChunks(1, "x"))
	assert.ErrorIs(t, err, ErrUnknownKind)

	// Structure chunks carry no line range.
	require.NoError(t, store.Ingest(ctx, "p", KindStructure, []Chunk{{Content: "tree"}}))
	assert.Equal(t, 1, embedder.Calls())
}

func TestIngestProviderFailure(t *testing.T) {
	store, embedder := createTestStore(t)
	embedder.FailAfter(0)

	err := store.Ingest(context.Background(), "p", KindCode, textChunks(2, "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.ErrorIs(t, err, errMockProvider)
	assert.Equal(t, 0, store.Stats("p").TotalChunks)
}

func TestSearchCollectionOrdering(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	chunks := []Chunk{
		codeChunk(0, "func parseConfig reads the config file from disk"),
		codeChunk(1, "func renderTemplate writes html output for the browser"),
		codeChunk(2, "func openSocket dials the remote tcp server"),
		codeChunk(3, "config loader merges env overrides into the config file"),
	}
	require.NoError(t, store.Ingest(ctx, "p", KindCode, chunks))

	results, err := store.SearchCollection(ctx, "p", KindCode, "parseConfig reads config", 4)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, "file0.go", results[0].Chunk.Metadata.Filename)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
	for _, r := range results {
		assert.Equal(t, KindCode, r.Kind)
		assert.LessOrEqual(t, r.Similarity, 1.0+1e-6)
	}
}

func TestSearchCollectionMissingIsEmpty(t *testing.T) {
	store, embedder := createTestStore(t)

	results, err := store.SearchCollection(context.Background(), "ghost", KindCode, "anything", 5)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, 0, embedder.Calls())

	results, err = store.SearchProject(context.Background(), "ghost", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchCodeIgnoresOtherCollections(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ingest(ctx, "p", KindCode, []Chunk{codeChunk(0, "func parseConfig reads the config file from disk")}))
	require.NoError(t, store.Ingest(ctx, "p", KindPrompts, textChunks(3, "parseConfig reads config")))

	results, err := store.SearchCode(ctx, "p", "parseConfig reads config", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, KindCode, results[0].Kind)
}

func TestSearchProjectBudget(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ingest(ctx, "p", KindCode, textChunks(10, "shared")))
	require.NoError(t, store.Ingest(ctx, "p", KindPrompts, []Chunk{
		{Content: "shared item 0 handles request number 0"},
		{Content: "shared item 1 handles request number 1"},
		{Content: "shared item 2 handles request number 2"},
		{Content: "shared item 3 handles request number 3"},
		{Content: "shared item 4 handles request number 4"},
	}))
	require.NoError(t, store.Ingest(ctx, "p", KindStructure, []Chunk{
		{Content: "shared item 0 handles request number 0"},
		{Content: "shared item 5 handles request number 5"},
		{Content: "shared item 6 handles request number 6"},
		{Content: "shared item 7 handles request number 7"},
	}))

	for _, k := range []int{1, 3, 4, 6, 9, 30} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			results, err := store.SearchProject(ctx, "p", "shared item handles request", k)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(results), k)

			perKind := map[Kind]int{}
			for i, r := range results {
				perKind[r.Kind]++
				if i > 0 {
					assert.GreaterOrEqual(t, results[i-1].Similarity, r.Similarity)
				}
			}
			budget := (k + 2) / 3
			assert.LessOrEqual(t, perKind[KindPrompts], budget)
			assert.LessOrEqual(t, perKind[KindStructure], budget)
		})
	}

	results, err := store.SearchProject(ctx, "p", "shared", 30)
	require.NoError(t, err)
	// code 10 of 10, prompts 5 of budget 10, structure 4 of budget 10
	assert.Len(t, results, 19)
}

func TestSearchProjectSwallowsSecondaryFailures(t *testing.T) {
	store, embedder := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ingest(ctx, "p", KindCode, textChunks(3, "code")))
	require.NoError(t, store.Ingest(ctx, "p", KindPrompts, []Chunk{{Content: "prompt text"}}))
	require.NoError(t, store.Ingest(ctx, "p", KindStructure, []Chunk{{Content: "tree text"}}))

	// The code search succeeds; prompts and structure fail.
	embedder.FailAfter(1)
	results, err := store.SearchProject(ctx, "p", "code item", 6)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, KindCode, r.Kind)
	}
}

func TestSearchProjectCodeFailureIsFatal(t *testing.T) {
	store, embedder := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ingest(ctx, "p", KindCode, textChunks(3, "code")))
	embedder.FailAfter(0)

	_, err := store.SearchProject(ctx, "p", "code", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailure)

	_, err = store.SearchCollection(ctx, "p", KindCode, "code", 3)
	assert.ErrorIs(t, err, ErrProviderFailure)
}

func TestSearchDropsInconsistentKeys(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ingest(ctx, "p", KindCode, textChunks(3, "code")))
	coll := store.lookup("p", KindCode)
	coll.mu.Lock()
	delete(coll.chunks, 2)
	coll.mu.Unlock()

	results, err := store.SearchCollection(ctx, "p", KindCode, "code item", 3)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestStatsAdditive(t *testing.T) {
	a := textChunks(4, "a")
	b := textChunks(3, "b")
	ctx := context.Background()

	split, _ := createTestStore(t)
	require.NoError(t, split.Ingest(ctx, "p", KindCode, a))
	require.NoError(t, split.Ingest(ctx, "p", KindCode, b))
	require.NoError(t, split.Ingest(ctx, "p", KindPrompts, []Chunk{{Content: "hi"}}))

	joined, _ := createTestStore(t)
	require.NoError(t, joined.Ingest(ctx, "p", KindCode, append(append([]Chunk{}, a...), b...)))
	require.NoError(t, joined.Ingest(ctx, "p", KindPrompts, []Chunk{{Content: "hi"}}))

	s1, s2 := split.Stats("p"), joined.Stats("p")
	assert.Equal(t, 7, s1.Code)
	assert.Equal(t, 1, s1.Prompts)
	assert.Equal(t, 8, s1.TotalChunks)
	assert.Equal(t, s1.Code, s2.Code)
	assert.Equal(t, s1.Prompts, s2.Prompts)
	assert.Equal(t, s1.Structure, s2.Structure)
	assert.Equal(t, s1.TotalChunks, s2.TotalChunks)
	assert.Equal(t, 7, s1.Count(KindCode))
	assert.False(t, s1.UpdatedAt.Before(s1.CreatedAt))

	assertCorrespondence(t, split, "p", KindCode)
}

func TestDeleteProject(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ingest(ctx, "p", KindCode, textChunks(2, "x")))
	require.NoError(t, store.Ingest(ctx, "q", KindCode, textChunks(2, "y")))
	assert.Equal(t, []string{"p", "q"}, store.Projects())

	require.NoError(t, store.DeleteProject("p"))
	require.NoError(t, store.DeleteProject("p"))
	assert.Equal(t, []string{"q"}, store.Projects())
	assert.Equal(t, 0, store.Stats("p").TotalChunks)

	_, ok := store.Collection("p", KindCode)
	assert.False(t, ok)

	results, err := store.SearchCollection(ctx, "p", KindCode, "x", 2)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestConcurrentIngestSameCollection(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			assert.NoError(t, store.Ingest(ctx, "p", KindCode, textChunks(5, fmt.Sprintf("g%d", g))))
		}(g)
	}
	for g := 0; g < 5; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.SearchCollection(ctx, "p", KindCode, "item", 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, store.Stats("p").Code)
	assertCorrespondence(t, store, "p", KindCode)
}

func TestStatsDuringCollectionCreation(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, kind := range Kinds {
		wg.Add(1)
		go func(kind Kind) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				projectID := fmt.Sprintf("p%d", i)
				assert.NoError(t, store.Ingest(ctx, projectID, kind, textChunks(1, string(kind))))
			}
		}(kind)
	}
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				stats := store.Stats(fmt.Sprintf("p%d", i))
				assert.LessOrEqual(t, stats.TotalChunks, 3)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		stats := store.Stats(fmt.Sprintf("p%d", i))
		assert.Equal(t, 1, stats.Code)
		assert.Equal(t, 1, stats.Prompts)
		assert.Equal(t, 1, stats.Structure)
		assert.Equal(t, 3, stats.TotalChunks)
	}
}

func TestStoreWithSQLiteVecBackend(t *testing.T) {
	factory, err := vectorindex.NewFactory(vectorindex.Params{Backend: "sqlite-vec"})
	require.NoError(t, err)

	store, err := NewStore(Config{
		Embedder:     NewHashEmbedder(32),
		IndexFactory: factory,
		Logger:       zerolog.New(io.Discard),
	})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Ingest(ctx, "p", KindCode, textChunks(5, "vec")))
	assertCorrespondence(t, store, "p", KindCode)

	results, err := store.SearchCollection(ctx, "p", KindCode, "vec item 3 handles request number 3", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "file3.go", results[0].Chunk.Metadata.Filename)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("prompt")
	require.NoError(t, err)
	assert.Equal(t, KindPrompts, k)

	_, err = ParseKind("docs")
	assert.True(t, errors.Is(err, ErrUnknownKind))
}
