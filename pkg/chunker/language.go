package chunker

import (
	"path/filepath"
	"regexp"
	"strings"
)

// languages maps lower-cased file extensions to language names.
var languages = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".cxx":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".kts":   "kotlin",
	".scala": "scala",
	".html":  "html",
	".htm":   "html",
	".css":   "css",
	".scss":  "css",
	".sql":   "sql",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".md":    "markdown",
}

// DetectLanguage returns the language for path, or false when the
// extension is not recognised.
func DetectLanguage(path string) (string, bool) {
	lang, ok := languages[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// boundaries holds the symbol-boundary pattern per language. Languages
// without an entry are split into fixed windows.
var boundaries = map[string]*regexp.Regexp{
	"go":         regexp.MustCompile(`(?m)^(func|type)\s`),
	"python":     regexp.MustCompile(`(?m)^\s*(async\s+def|def|class)\s`),
	"javascript": regexp.MustCompile(`(?m)^\s*(export\s+)?(default\s+)?(async\s+)?(function|class)\b`),
	"typescript": regexp.MustCompile(`(?m)^\s*(export\s+)?(default\s+)?(abstract\s+)?(async\s+)?(function|class|interface|enum)\b`),
	"java":       regexp.MustCompile(`(?m)^\s*(public|private|protected)?\s*(static\s+)?(final\s+)?(abstract\s+)?(class|interface|enum|record)\s`),
	"rust":       regexp.MustCompile(`(?m)^\s*(pub(\([a-z]+\))?\s+)?(async\s+)?(fn|struct|enum|impl|trait|mod)\s`),
	"c":          regexp.MustCompile(`(?m)^(struct|enum|union|typedef)\s`),
	"cpp":        regexp.MustCompile(`(?m)^\s*(class|struct|namespace|template)\b`),
	"csharp":     regexp.MustCompile(`(?m)^\s*(public|private|protected|internal)?\s*(static\s+)?(partial\s+)?(class|interface|struct|enum|record)\s`),
	"ruby":       regexp.MustCompile(`(?m)^\s*(def|class|module)\s`),
	"php":        regexp.MustCompile(`(?m)^\s*(abstract\s+|final\s+)?(public\s+|private\s+|protected\s+)?(static\s+)?(function|class|interface|trait)\s`),
	"swift":      regexp.MustCompile(`(?m)^\s*(public\s+|private\s+|internal\s+)?(func|class|struct|enum|protocol|extension)\s`),
	"kotlin":     regexp.MustCompile(`(?m)^\s*(data\s+|sealed\s+|open\s+)?(fun|class|interface|object)\s`),
	"scala":      regexp.MustCompile(`(?m)^\s*(case\s+)?(def|class|object|trait)\s`),
}

// HasBoundaryPattern reports whether language is split on symbol boundaries.
func HasBoundaryPattern(language string) bool {
	_, ok := boundaries[language]
	return ok
}

var dependencyPatterns = map[string][]*regexp.Regexp{
	"go": {regexp.MustCompile(`(?m)^import\s+(?:[\w.]+\s+)?"([^"]+)"`)},
	"python": {
		regexp.MustCompile(`(?m)^\s*from\s+([\w.]+)\s+import`),
		regexp.MustCompile(`(?m)^\s*import\s+([\w.]+)`),
	},
	"javascript": {
		regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`),
		regexp.MustCompile(`(?m)^\s*import\s+(?:[^'"]*\s+from\s+)?['"]([^'"]+)['"]`),
	},
	"typescript": {
		regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`),
		regexp.MustCompile(`(?m)^\s*import\s+(?:[^'"]*\s+from\s+)?['"]([^'"]+)['"]`),
	},
	"java":   {regexp.MustCompile(`(?m)^\s*import\s+(?:static\s+)?([\w.*]+)\s*;`)},
	"kotlin": {regexp.MustCompile(`(?m)^\s*import\s+([\w.*]+)`)},
	"scala":  {regexp.MustCompile(`(?m)^\s*import\s+([\w.*{}, ]+)`)},
	"rust":   {regexp.MustCompile(`(?m)^\s*(?:pub\s+)?use\s+([\w:]+)`)},
	"c":      {regexp.MustCompile(`(?m)^\s*#include\s*[<"]([^>"]+)[>"]`)},
	"cpp":    {regexp.MustCompile(`(?m)^\s*#include\s*[<"]([^>"]+)[>"]`)},
	"csharp": {regexp.MustCompile(`(?m)^\s*using\s+([\w.]+)\s*;`)},
	"ruby":   {regexp.MustCompile(`(?m)^\s*require(?:_relative)?\s+['"]([^'"]+)['"]`)},
	"php":    {regexp.MustCompile(`(?m)^\s*(?:use|require_once|include_once|require|include)\s+['"]?([\w\\/.]+)`)},
	"swift":  {regexp.MustCompile(`(?m)^\s*import\s+(\w+)`)},
}

var (
	goImportBlock = regexp.MustCompile(`(?s)import\s*\(([^)]*)\)`)
	quoted        = regexp.MustCompile(`"([^"]+)"`)
)

var symbolPattern = regexp.MustCompile(`\b(?:def|class|function|func|fn|struct|impl|interface|trait|module|enum|object|fun|protocol)\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`)
