package conversation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLog(t *testing.T) (*Log, string) {
	dir := t.TempDir()
	l, err := New(dir, zerolog.Nop())
	require.NoError(t, err)
	return l, dir
}

func TestValidateSessionKey(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		shouldErr bool
	}{
		{"valid key", "test-session", false},
		{"empty key", "", true},
		{"path traversal", "../etc/passwd", true},
		{"forward slash", "test/session", true},
		{"backslash", "test\\session", true},
		{"null byte", "test\x00session", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionKey(tt.key)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAppendAndLoad(t *testing.T) {
	l, _ := setupTestLog(t)
	ctx := context.Background()

	first, err := l.Append(ctx, "s1", Turn{Role: "user", Content: "build a CLI"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())

	_, err = l.Append(ctx, "s1", Turn{Role: "assistant", Content: "1. scaffold"})
	require.NoError(t, err)

	turns, err := l.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, first.ID, turns[0].ID)
	assert.Equal(t, "1. scaffold", turns[1].Content)
}

func TestAppendValidation(t *testing.T) {
	l, _ := setupTestLog(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "s1", Turn{Content: "x"})
	assert.Error(t, err)
	_, err = l.Append(ctx, "s1", Turn{Role: "user", Content: "  "})
	assert.Error(t, err)
	_, err = l.Append(ctx, "../x", Turn{Role: "user", Content: "x"})
	assert.Error(t, err)
}

func TestLoadMissingSession(t *testing.T) {
	l, _ := setupTestLog(t)
	turns, err := l.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestLastN(t *testing.T) {
	l, _ := setupTestLog(t)
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		_, err := l.Append(ctx, "s", Turn{Role: "user", Content: fmt.Sprintf("turn %d", i)})
		require.NoError(t, err)
	}

	turns, err := l.LastN(ctx, "s", 10)
	require.NoError(t, err)
	require.Len(t, turns, 10)
	assert.Equal(t, "turn 5", turns[0].Content)
	assert.Equal(t, "turn 14", turns[9].Content)

	turns, err = l.LastN(ctx, "s", 100)
	require.NoError(t, err)
	assert.Len(t, turns, 15)
}

func TestLoadSkipsCorruptLinesAndRepair(t *testing.T) {
	l, dir := setupTestLog(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "s", Turn{Role: "user", Content: "hello"})
	require.NoError(t, err)

	f, err := os.OpenFile(filepath.Join(dir, "s.jsonl"), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	turns, err := l.Load(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, turns, 1)

	n, err := l.Repair(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(filepath.Join(dir, "s.jsonl"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "not json")
}

func TestDeleteAndList(t *testing.T) {
	l, _ := setupTestLog(t)
	ctx := context.Background()

	for _, s := range []string{"b", "a"} {
		_, err := l.Append(ctx, s, Turn{Role: "user", Content: "x"})
		require.NoError(t, err)
	}

	sessions, err := l.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, sessions)

	require.NoError(t, l.Delete(ctx, "a"))
	require.NoError(t, l.Delete(ctx, "a"))

	sessions, err = l.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, sessions)
}

func TestConcurrentAppends(t *testing.T) {
	l, _ := setupTestLog(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Append(ctx, "s", Turn{Role: "user", Content: fmt.Sprintf("m%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	turns, err := l.Load(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, turns, 20)
}
