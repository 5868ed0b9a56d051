package memory

import (
	"fmt"
	"time"
)

// Kind names a collection within a project.
type Kind string

const (
	KindCode      Kind = "code"
	KindPrompts   Kind = "prompts"
	KindStructure Kind = "structure"
)

// Kinds lists every collection kind in search order.
var Kinds = []Kind{KindCode, KindPrompts, KindStructure}

// ParseKind accepts a kind name; "prompt" is an alias for prompts.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "code":
		return KindCode, nil
	case "prompt", "prompts":
		return KindPrompts, nil
	case "structure":
		return KindStructure, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

func (k Kind) valid() bool {
	return k == KindCode || k == KindPrompts || k == KindStructure
}

// Chunk is an immutable fragment stored in a collection.
type Chunk struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	Kind        Kind     `json:"kind"`
	Content     string   `json:"content"`
	ContentHash string   `json:"content_hash"`
	Metadata    Metadata `json:"metadata"`
}

// Metadata describes where a chunk came from. Line ranges are zero-based
// and half-open.
type Metadata struct {
	Filename      string    `json:"filename,omitempty"`
	Language      string    `json:"language,omitempty"`
	LineStart     int       `json:"line_start"`
	LineEnd       int       `json:"line_end"`
	Dependencies  []string  `json:"dependencies"`
	ParentSymbols []string  `json:"parent_symbols"`
	CreatedAt     time.Time `json:"created_at"`

	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Turn      int    `json:"turn,omitempty"`
}

// SearchResult pairs a chunk with its similarity to the query.
type SearchResult struct {
	Chunk      Chunk   `json:"chunk"`
	Kind       Kind    `json:"kind"`
	Similarity float64 `json:"similarity"`
}

// ProjectStats is derived from the live collections of one project.
type ProjectStats struct {
	ProjectID   string    `json:"project_id"`
	Code        int       `json:"code"`
	Prompts     int       `json:"prompts"`
	Structure   int       `json:"structure"`
	TotalChunks int       `json:"total_chunks"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Count returns the chunk count for kind.
func (s ProjectStats) Count(kind Kind) int {
	switch kind {
	case KindCode:
		return s.Code
	case KindPrompts:
		return s.Prompts
	case KindStructure:
		return s.Structure
	}
	return 0
}
