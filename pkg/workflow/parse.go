package workflow

import (
	"path"
	"regexp"
	"strings"
)

var (
	planLine     = regexp.MustCompile(`^\s*\d+\.\s*(.*\S)\s*$`)
	filenameLine = regexp.MustCompile(`(?i)^\s*[*_#]*\s*FILENAME:\s*[*_]*\s*(.+?)\s*$`)
)

// ParsePlan returns the descriptions of lines that start with "<n>.".
func ParsePlan(text string) []string {
	var steps []string
	for _, line := range strings.Split(text, "\n") {
		m := planLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		steps = append(steps, m[1])
	}
	return steps
}

// ParseFiles extracts "FILENAME: <path>" headers each followed by a fenced
// block. A header without a fence, an unterminated fence or an unsafe path
// is skipped. Repeated paths keep the last block.
func ParseFiles(text string) []File {
	lines := strings.Split(text, "\n")
	var files []File
	index := make(map[string]int)

	for i := 0; i < len(lines); i++ {
		m := filenameLine.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		p, ok := cleanPath(m[1])

		// find the opening fence before the next header
		open := -1
		for j := i + 1; j < len(lines); j++ {
			if filenameLine.MatchString(lines[j]) {
				break
			}
			if strings.HasPrefix(strings.TrimSpace(lines[j]), "```") {
				open = j
				break
			}
		}
		if open < 0 {
			continue
		}

		end := -1
		for j := open + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "```" {
				end = j
				break
			}
		}
		if end < 0 {
			break
		}
		i = end

		if !ok {
			continue
		}
		f := File{Path: p, Content: strings.Join(lines[open+1:end], "\n") + "\n"}
		if at, seen := index[p]; seen {
			files[at] = f
			continue
		}
		index[p] = len(files)
		files = append(files, f)
	}
	return files
}

// cleanPath normalises a model-supplied path and rejects absolute paths and
// paths that leave the output root.
func cleanPath(raw string) (string, bool) {
	p := strings.Trim(strings.TrimSpace(raw), "`*\"'")
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") || (len(p) > 1 && p[1] == ':') {
		return "", false
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}

// IsApproved reports whether a review response approves the work.
func IsApproved(review string) bool {
	return strings.Contains(strings.ToUpper(review), "APPROVED")
}
