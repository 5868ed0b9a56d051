package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan(t *testing.T) {
	text := `Here is the plan:
1. Create the HTTP server
2.   Add request logging
  3. Write tests
- not a step
4.
10. Ship it`

	assert.Equal(t, []string{
		"Create the HTTP server",
		"Add request logging",
		"Write tests",
		"Ship it",
	}, ParsePlan(text))

	assert.Empty(t, ParsePlan("I cannot help with that."))
}

func TestParseFiles(t *testing.T) {
	text := "Sure.\n\nFILENAME: cmd/app/main.go\n```go\npackage main\n\nfunc main() {}\n```\n\n" +
		"**FILENAME:** `internal/util.go`\n```\npackage internal\n```\n" +
		"FILENAME: cmd/app/main.go\n```go\npackage main // v2\n```\n"

	files := ParseFiles(text)
	require.Len(t, files, 2)
	assert.Equal(t, "cmd/app/main.go", files[0].Path)
	assert.Equal(t, "package main // v2\n", files[0].Content)
	assert.Equal(t, "internal/util.go", files[1].Path)
	assert.Equal(t, "package internal\n", files[1].Content)
}

func TestParseFilesSkipsBadBlocks(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no fence", "FILENAME: a.go\npackage a\n"},
		{"unterminated", "FILENAME: a.go\n```go\npackage a\n"},
		{"absolute path", "FILENAME: /etc/passwd\n```\nroot\n```\n"},
		{"escaping path", "FILENAME: ../../x.go\n```\nx\n```\n"},
		{"header without fence before next header", "FILENAME: a.go\ntext\nFILENAME: /abs\n```\nx\n```\n"},
		{"no headers", "```go\npackage a\n```\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, ParseFiles(tt.text))
		})
	}
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a/b.go", "a/b.go", true},
		{"./a/../b.go", "b.go", true},
		{"`a.go`", "a.go", true},
		{`dir\file.go`, "dir/file.go", true},
		{"C:/x.go", "", false},
		{"..", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := cleanPath(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestIsApproved(t *testing.T) {
	assert.True(t, IsApproved("APPROVED"))
	assert.True(t, IsApproved("Looks good, approved."))
	assert.False(t, IsApproved("Needs changes: missing tests"))
	assert.False(t, IsApproved(""))
}
