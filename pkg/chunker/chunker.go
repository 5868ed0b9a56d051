// Package chunker splits source files into symbol-bounded chunks with line
// ranges and best-effort dependency and symbol hints.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

const (
	// MinChunkLines is the minimum distance between accepted boundaries.
	MinChunkLines = 5
	// MaxBoundaries caps the symbol boundaries accepted per file.
	MaxBoundaries = 10
	// MinChunkChars drops boundary chunks whose trimmed text is shorter.
	MinChunkChars = 50
	// WindowLines is the fallback window size for unknown languages.
	WindowLines = 20
	// MaxHints caps dependencies and parent symbols per chunk.
	MaxHints = 3
	// MaxFileSize is the largest file the walker will read.
	MaxFileSize = 1 << 20
)

// ChunkResult is one fragment of a file. Lines are zero-based and
// half-open: the chunk holds lines [LineStart, LineEnd).
type ChunkResult struct {
	Content       string
	ContentHash   string
	Language      string
	LineStart     int
	LineEnd       int
	Dependencies  []string
	ParentSymbols []string
}

// Hash returns the hex sha256 digest of content.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Chunk splits content written in language into ordered chunks.
//
// Languages with a boundary pattern are cut at symbol boundaries and short
// chunks are dropped. Other languages use fixed windows and keep every
// window that is not blank; the fallback path applies no length filter.
func Chunk(content, language string) []ChunkResult {
	lines := splitLines(content)
	if len(lines) == 0 {
		return nil
	}

	if re, ok := boundaries[language]; ok {
		return chunkBoundaries(content, lines, language, re.FindAllStringIndex(content, -1))
	}
	return chunkWindows(lines, language)
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func chunkBoundaries(content string, lines []string, language string, matches [][]int) []ChunkResult {
	starts := lineOffsets(lines)
	cuts := []int{0}

	for _, m := range matches {
		if len(cuts)-1 >= MaxBoundaries {
			break
		}
		line := lineAt(starts, m[0])
		if line >= cuts[len(cuts)-1]+MinChunkLines {
			cuts = append(cuts, line)
		}
	}
	cuts = append(cuts, len(lines))

	var results []ChunkResult
	for i := 0; i+1 < len(cuts); i++ {
		text := strings.Join(lines[cuts[i]:cuts[i+1]], "\n")
		if len(strings.TrimSpace(text)) < MinChunkChars {
			continue
		}
		results = append(results, newChunk(text, language, cuts[i], cuts[i+1]))
	}
	return results
}

func chunkWindows(lines []string, language string) []ChunkResult {
	var results []ChunkResult
	for start := 0; start < len(lines); start += WindowLines {
		end := start + WindowLines
		if end > len(lines) {
			end = len(lines)
		}
		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		results = append(results, newChunk(text, language, start, end))
	}
	return results
}

func newChunk(text, language string, start, end int) ChunkResult {
	return ChunkResult{
		Content:       text,
		ContentHash:   Hash(text),
		Language:      language,
		LineStart:     start,
		LineEnd:       end,
		Dependencies:  ExtractDependencies(text, language),
		ParentSymbols: ExtractSymbols(text),
	}
}

// lineOffsets returns the byte offset at which each line starts.
func lineOffsets(lines []string) []int {
	offsets := make([]int, len(lines))
	pos := 0
	for i, l := range lines {
		offsets[i] = pos
		pos += len(l) + 1
	}
	return offsets
}

// lineAt converts a byte offset to a zero-based line number.
func lineAt(offsets []int, offset int) int {
	return sort.Search(len(offsets), func(i int) bool { return offsets[i] > offset }) - 1
}

// ExtractDependencies returns up to MaxHints imported modules, or nil.
func ExtractDependencies(text, language string) []string {
	var deps []string
	seen := make(map[string]bool)
	add := func(dep string) bool {
		dep = strings.TrimSpace(dep)
		if dep != "" && !seen[dep] {
			seen[dep] = true
			deps = append(deps, dep)
		}
		return len(deps) == MaxHints
	}

	if language == "go" {
		for _, block := range goImportBlock.FindAllStringSubmatch(text, -1) {
			for _, m := range quoted.FindAllStringSubmatch(block[1], -1) {
				if add(m[1]) {
					return deps
				}
			}
		}
	}
	for _, re := range dependencyPatterns[language] {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if add(m[1]) {
				return deps
			}
		}
	}
	return deps
}

// ExtractSymbols returns up to MaxHints declared symbol names, or nil.
func ExtractSymbols(text string) []string {
	var symbols []string
	seen := make(map[string]bool)
	for _, m := range symbolPattern.FindAllStringSubmatch(text, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		symbols = append(symbols, m[1])
		if len(symbols) == MaxHints {
			break
		}
	}
	return symbols
}
