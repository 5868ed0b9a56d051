// Package conversation persists conversation turns as one JSONL file per
// session.
//
// Invariants:
// - Session keys never escape the log directory.
// - Writes to one session are serialized; reads skip corrupt lines.
package conversation

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/forge/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Turn is a single conversation message
type Turn struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// entry is one JSONL line
type entry struct {
	SessionKey string `json:"sessionKey"`
	Turn       Turn   `json:"turn"`
}

// Log manages conversation persistence using JSONL format
type Log struct {
	dir        string
	logger     zerolog.Logger
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// New creates a Log rooted at dir, creating it if needed.
func New(dir string, logger zerolog.Logger) (*Log, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".forge", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	return &Log{
		dir:        dir,
		logger:     logger,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// ValidateSessionKey rejects keys that could escape the log directory.
func ValidateSessionKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(sessionKey, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(sessionKey, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (l *Log) path(sessionKey string) string {
	return filepath.Join(l.dir, sessionKey+".jsonl")
}

func (l *Log) writeLock(sessionKey string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()

	if lock, exists := l.writeLocks[sessionKey]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	l.writeLocks[sessionKey] = lock
	return lock
}

// Append writes turn to the session, filling ID and Timestamp when empty.
func (l *Log) Append(ctx context.Context, sessionKey string, turn Turn) (Turn, error) {
	ctx = tracing.WithSessionID(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"forge.conversation",
		"conversation.append",
		attribute.String("session_id", sessionKey),
		attribute.String("role", turn.Role),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, l.logger)

	if err := ValidateSessionKey(sessionKey); err != nil {
		tracing.Fail(span, err)
		return Turn{}, err
	}
	if turn.Role == "" {
		return Turn{}, fmt.Errorf("turn role cannot be empty")
	}
	if strings.TrimSpace(turn.Content) == "" {
		return Turn{}, fmt.Errorf("turn content cannot be empty")
	}
	if turn.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return Turn{}, fmt.Errorf("failed to generate turn id: %w", err)
		}
		turn.ID = id
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	lock := l.writeLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(l.path(sessionKey), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		tracing.Fail(span, err)
		return Turn{}, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(entry{SessionKey: sessionKey, Turn: turn})
	if err != nil {
		tracing.Fail(span, err)
		return Turn{}, fmt.Errorf("failed to marshal turn: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		tracing.Fail(span, err)
		return Turn{}, fmt.Errorf("failed to write turn: %w", err)
	}
	if err := file.Sync(); err != nil {
		tracing.Fail(span, err)
		return Turn{}, fmt.Errorf("failed to sync file: %w", err)
	}

	logger.Debug().Str("role", turn.Role).Msg("Turn appended")
	return turn, nil
}

// Load returns every valid turn of the session in file order. A missing
// session yields no turns.
func (l *Log) Load(ctx context.Context, sessionKey string) ([]Turn, error) {
	ctx = tracing.WithSessionID(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"forge.conversation",
		"conversation.load",
		attribute.String("session_id", sessionKey),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, l.logger)

	if err := ValidateSessionKey(sessionKey); err != nil {
		tracing.Fail(span, err)
		return nil, err
	}

	file, err := os.Open(l.path(sessionKey))
	if os.IsNotExist(err) {
		return []Turn{}, nil
	}
	if err != nil {
		tracing.Fail(span, err)
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	turns := []Turn{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if e.Turn.Role == "" || e.Turn.Content == "" {
			logger.Warn().Int("line", lineNum).Msg("Invalid entry, skipping")
			continue
		}
		turns = append(turns, e.Turn)
	}

	if err := scanner.Err(); err != nil {
		tracing.Fail(span, err)
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return turns, nil
}

// LastN returns the final n turns of the session, oldest first.
func (l *Log) LastN(ctx context.Context, sessionKey string, n int) ([]Turn, error) {
	turns, err := l.Load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns, nil
}

// Delete removes the session file.
func (l *Log) Delete(ctx context.Context, sessionKey string) error {
	if err := ValidateSessionKey(sessionKey); err != nil {
		return err
	}

	lock := l.writeLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(l.path(sessionKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	logger := tracing.LoggerFromContext(tracing.WithSessionID(ctx, sessionKey), l.logger)
	logger.Info().Msg("Session deleted")
	return nil
}

// List returns the known session keys in sorted order.
func (l *Log) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	sessions := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(e.Name(), ".jsonl"))
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Repair rewrites the session without its corrupt lines.
func (l *Log) Repair(ctx context.Context, sessionKey string) (int, error) {
	turns, err := l.Load(ctx, sessionKey)
	if err != nil {
		return 0, err
	}

	lock := l.writeLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := l.path(sessionKey)
	tempPath := sessionPath + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, t := range turns {
		data, err := json.Marshal(entry{SessionKey: sessionKey, Turn: t})
		if err == nil {
			_, err = file.Write(append(data, '\n'))
		}
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return 0, fmt.Errorf("failed to write entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to replace session file: %w", err)
	}

	l.logger.Info().Str("session_id", sessionKey).Int("turns", len(turns)).Msg("Session repaired")
	return len(turns), nil
}
