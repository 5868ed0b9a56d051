package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/forge/internal/tracing"
	"github.com/harun/forge/pkg/chunker"
	"github.com/harun/forge/pkg/conversation"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// ConversationTurns is how many trailing turns EmbedConversation reads.
	ConversationTurns = 10
	// treeDepth limits the directory listing chunk.
	treeDepth = 4
)

// ConversationSource supplies recent turns of a session.
type ConversationSource interface {
	LastN(ctx context.Context, sessionKey string, n int) ([]conversation.Turn, error)
}

// IngesterConfig configures an Ingester
type IngesterConfig struct {
	Store         *Store
	Conversations ConversationSource
	Logger        zerolog.Logger
}

// Ingester turns source trees and conversations into memory chunks.
// Project embeds of the same project id run one at a time.
type Ingester struct {
	store         *Store
	conversations ConversationSource
	logger        zerolog.Logger

	projectLocks map[string]*sync.Mutex
	locksMu      sync.Mutex
}

// NewIngester creates an Ingester
func NewIngester(cfg IngesterConfig) *Ingester {
	return &Ingester{
		store:         cfg.Store,
		conversations: cfg.Conversations,
		logger:        cfg.Logger,
		projectLocks:  make(map[string]*sync.Mutex),
	}
}

func (in *Ingester) projectLock(projectID string) *sync.Mutex {
	in.locksMu.Lock()
	defer in.locksMu.Unlock()

	if lock, exists := in.projectLocks[projectID]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	in.projectLocks[projectID] = lock
	return lock
}

// Store returns the underlying memory store.
func (in *Ingester) Store() *Store {
	return in.store
}

// IngestReport summarises one EmbedProject call.
type IngestReport struct {
	ProjectID       string        `json:"project_id"`
	FilesScanned    int           `json:"files_scanned"`
	FilesSkipped    int           `json:"files_skipped"`
	FilesChunked    int           `json:"files_chunked"`
	CodeChunks      int           `json:"code_chunks"`
	StructureChunks int           `json:"structure_chunks"`
	Duration        time.Duration `json:"duration"`
}

// EmbedProject chunks every recognised source file under dir into the
// code collection and adds a directory tree and a file-type summary to
// the structure collection.
func (in *Ingester) EmbedProject(ctx context.Context, projectID, dir string) (IngestReport, error) {
	lock := in.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	return in.embedProject(ctx, projectID, dir)
}

func (in *Ingester) embedProject(ctx context.Context, projectID, dir string) (IngestReport, error) {
	ctx = tracing.WithProjectID(ctx, projectID)
	ctx, span := tracing.StartSpan(
		ctx,
		"forge.memory",
		"memory.embed_project",
		attribute.String("project_id", projectID),
		attribute.String("dir", dir),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, in.logger)

	start := time.Now()
	report := IngestReport{ProjectID: projectID}

	var codeChunks []Chunk
	var paths []string
	types := make(map[string]int)

	stats, err := chunker.Walk(dir, func(f chunker.SourceFile) error {
		paths = append(paths, f.RelPath)
		if f.Language == "" {
			types["other"]++
			return nil
		}
		types[f.Language]++

		results := chunker.Chunk(f.Content, f.Language)
		if len(results) > 0 {
			report.FilesChunked++
		}
		for _, r := range results {
			codeChunks = append(codeChunks, Chunk{
				Content:     r.Content,
				ContentHash: r.ContentHash,
				Metadata: Metadata{
					Filename:      f.RelPath,
					Language:      r.Language,
					LineStart:     r.LineStart,
					LineEnd:       r.LineEnd,
					Dependencies:  r.Dependencies,
					ParentSymbols: r.ParentSymbols,
				},
			})
		}
		return nil
	})
	report.FilesScanned = stats.Files
	report.FilesSkipped = stats.Skipped
	if err != nil {
		tracing.Fail(span, err)
		return report, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	if err := in.store.Ingest(ctx, projectID, KindCode, codeChunks); err != nil {
		tracing.Fail(span, err)
		return report, err
	}
	report.CodeChunks = len(codeChunks)

	structure := []Chunk{
		{Content: DirectoryTree(paths, treeDepth), Metadata: Metadata{Filename: "(tree)"}},
		{Content: FileTypeSummary(types), Metadata: Metadata{Filename: "(file types)"}},
	}
	if err := in.store.Ingest(ctx, projectID, KindStructure, structure); err != nil {
		tracing.Fail(span, err)
		return report, err
	}
	report.StructureChunks = len(structure)
	report.Duration = time.Since(start)

	logger.Info().
		Int("files", report.FilesScanned).
		Int("skipped", report.FilesSkipped).
		Int("code_chunks", report.CodeChunks).
		Dur("duration", report.Duration).
		Msg("Project embedded")
	return report, nil
}

// EmbedConversation stores the last ConversationTurns turns of a session
// as prompt chunks, one per turn. It returns the number of chunks stored.
func (in *Ingester) EmbedConversation(ctx context.Context, projectID, sessionID string) (int, error) {
	if in.conversations == nil {
		return 0, errors.New("no conversation source configured")
	}
	ctx = tracing.WithSessionID(tracing.WithProjectID(ctx, projectID), sessionID)
	ctx, span := tracing.StartSpan(
		ctx,
		"forge.memory",
		"memory.embed_conversation",
		attribute.String("project_id", projectID),
		attribute.String("session_id", sessionID),
	)
	defer span.End()

	turns, err := in.conversations.LastN(ctx, sessionID, ConversationTurns)
	if err != nil {
		tracing.Fail(span, err)
		return 0, fmt.Errorf("failed to load conversation: %w", err)
	}

	chunks := make([]Chunk, 0, len(turns))
	for i, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Content: t.Content,
			Metadata: Metadata{
				Role:      t.Role,
				SessionID: sessionID,
				Turn:      i,
				CreatedAt: t.Timestamp,
			},
		})
	}

	if err := in.store.Ingest(ctx, projectID, KindPrompts, chunks); err != nil {
		tracing.Fail(span, err)
		return 0, err
	}
	return len(chunks), nil
}

// Reembed drops the project and embeds dir again. Overlapping calls for
// the same project are serialised, so the project ends up holding exactly
// one embed of dir.
func (in *Ingester) Reembed(ctx context.Context, projectID, dir string) (IngestReport, error) {
	lock := in.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	if err := in.store.DeleteProject(projectID); err != nil {
		return IngestReport{ProjectID: projectID}, err
	}
	return in.embedProject(ctx, projectID, dir)
}

// DirectoryTree renders slash-separated paths as an indented tree, sorted,
// with directories below depth collapsed.
func DirectoryTree(paths []string, depth int) string {
	var b strings.Builder
	b.WriteString("Project structure:\n")
	if len(paths) == 0 {
		b.WriteString("(empty)\n")
		return b.String()
	}

	seen := make(map[string]bool)
	var lines []string
	for _, p := range paths {
		parts := strings.Split(p, "/")
		for i := range parts {
			if i >= depth {
				break
			}
			prefix := strings.Join(parts[:i+1], "/")
			if seen[prefix] {
				continue
			}
			seen[prefix] = true
			name := parts[i]
			if i < len(parts)-1 {
				name += "/"
			}
			lines = append(lines, prefix+"\x00"+strings.Repeat("  ", i)+name)
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		b.WriteString(l[strings.IndexByte(l, 0)+1:])
		b.WriteByte('\n')
	}
	return b.String()
}

// FileTypeSummary renders per-language file counts, most common first.
func FileTypeSummary(counts map[string]int) string {
	type entry struct {
		lang  string
		count int
	}
	entries := make([]entry, 0, len(counts))
	total := 0
	for lang, n := range counts {
		entries = append(entries, entry{lang, n})
		total += n
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count == entries[j].count {
			return entries[i].lang < entries[j].lang
		}
		return entries[i].count > entries[j].count
	})

	var b strings.Builder
	fmt.Fprintf(&b, "File types (%d files):\n", total)
	for _, e := range entries {
		noun := "files"
		if e.count == 1 {
			noun = "file"
		}
		fmt.Fprintf(&b, "%s: %d %s\n", e.lang, e.count, noun)
	}
	return b.String()
}
