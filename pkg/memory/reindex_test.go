package memory

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReindexerValidatesSchedule(t *testing.T) {
	ingester, _ := createTestIngester(t, nil)

	_, err := NewReindexer(ReindexerConfig{Ingester: ingester, Schedule: "every tuesday"})
	assert.Error(t, err)

	_, err = NewReindexer(ReindexerConfig{Schedule: "@hourly"})
	assert.Error(t, err)

	r, err := NewReindexer(ReindexerConfig{Ingester: ingester, Schedule: "*/5 * * * *", Logger: zerolog.New(io.Discard)})
	require.NoError(t, err)
	r.Start()
	r.Stop()
}

func TestReindexerRunOnce(t *testing.T) {
	root := createTestProject(t)
	ingester, _ := createTestIngester(t, nil)
	ctx := context.Background()

	before, err := ingester.EmbedProject(ctx, "sample", root)
	require.NoError(t, err)

	r, err := NewReindexer(ReindexerConfig{Ingester: ingester, Schedule: "@daily", Logger: zerolog.New(io.Discard)})
	require.NoError(t, err)
	r.Register("sample", root)
	r.Register("broken", filepath.Join(t.TempDir(), "missing"))

	reports := r.RunOnce(ctx)
	require.Len(t, reports, 1)
	assert.Equal(t, "sample", reports[0].ProjectID)
	assert.Equal(t, before.CodeChunks+2, ingester.Store().Stats("sample").TotalChunks, "reindex replaces rather than appends")

	r.Unregister("sample")
	r.Unregister("broken")
	assert.Empty(t, r.RunOnce(ctx))
}
