package chunker

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SkipDirs lists directory names that are never descended into.
var SkipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".idea":        true,
	".vscode":      true,
	".next":        true,
	"coverage":     true,
	"bin":          true,
	"obj":          true,
}

// SourceFile is a file found by Walk. Content is only loaded for files
// with a recognised language.
type SourceFile struct {
	Path     string
	RelPath  string
	Language string
	Size     int64
	Content  string
}

// WalkStats counts what Walk saw.
type WalkStats struct {
	Files   int
	Skipped int
}

// Walk visits every regular file under root outside SkipDirs. Oversized and
// unreadable files are counted as skipped and never reach fn.
func Walk(root string, fn func(SourceFile) error) (WalkStats, error) {
	var stats WalkStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			stats.Skipped++
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && SkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > MaxFileSize {
			stats.Skipped++
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			stats.Skipped++
			return nil
		}

		file := SourceFile{
			Path:    path,
			RelPath: filepath.ToSlash(rel),
			Size:    info.Size(),
		}
		if lang, ok := DetectLanguage(path); ok {
			data, err := os.ReadFile(path)
			if err != nil {
				stats.Skipped++
				return nil
			}
			file.Language = lang
			file.Content = string(data)
		}

		stats.Files++
		return fn(file)
	})

	return stats, err
}

// IsSkippedPath reports whether any element of rel is a skipped directory.
func IsSkippedPath(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if SkipDirs[part] {
			return true
		}
	}
	return false
}
