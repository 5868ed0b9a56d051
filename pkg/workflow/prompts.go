package workflow

import (
	"fmt"
	"strings"

	"github.com/harun/forge/pkg/memory"
)

// MemoryUnavailable replaces retrieved context when memory lookup fails.
const MemoryUnavailable = "Memory context unavailable."

const planSystemPrompt = `You are a senior software engineer planning an implementation.
Break the request into a short numbered list of concrete steps, one per line,
formatted as "1. <step>". Each step should produce one or more source files.
Output only the list.`

const generateSystemPrompt = `You are a senior software engineer writing production code.
For every file you create or change, output a line "FILENAME: <relative path>"
followed by the complete file content in a fenced code block.
Do not output partial files.`

const reviewSystemPrompt = `You are a meticulous code reviewer.
Review the files for correctness, completeness and consistency with the plan.
If the work is acceptable reply with the single word APPROVED followed by any
remarks. Otherwise list the problems that must be fixed.`

func planPrompt(request string) string {
	return fmt.Sprintf("Request:\n%s\n\nWrite the numbered implementation plan.", request)
}

func generatePrompt(s State, step int, stepContext, projectContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\n", s.UserRequest)

	b.WriteString("Plan:\n")
	for i, p := range s.Plan {
		marker := " "
		if i == step {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s %d. %s\n", marker, i+1, p)
	}

	fmt.Fprintf(&b, "\nCurrent step (%d of %d):\n%s\n", step+1, len(s.Plan), s.Plan[step])

	b.WriteString("\nFiles already generated:\n")
	names := s.Filenames()
	if len(names) == 0 {
		b.WriteString("(none)\n")
	}
	for _, n := range names {
		fmt.Fprintf(&b, "- %s\n", n)
	}

	fmt.Fprintf(&b, "\nRelevant context for this step:\n%s\n", stepContext)
	fmt.Fprintf(&b, "\nProject context:\n%s\n", projectContext)
	b.WriteString("\nWrite the files for the current step.")
	return b.String()
}

func reviewPrompt(s State, files []File) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\nPlan:\n", s.UserRequest)
	for i, p := range s.Plan {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p)
	}
	b.WriteString("\nFiles to review:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "\nFILENAME: %s\n```\n%s```\n", f.Path, f.Content)
	}
	return b.String()
}

// formatContext renders search results for a prompt.
func formatContext(results []memory.SearchResult) string {
	if len(results) == 0 {
		return "(no related memory)"
	}
	var b strings.Builder
	for _, r := range results {
		label := r.Chunk.Metadata.Filename
		if label == "" {
			label = string(r.Kind)
		}
		fmt.Fprintf(&b, "--- %s [%s, %.2f]\n%s\n", label, r.Kind, r.Similarity, strings.TrimSpace(r.Chunk.Content))
	}
	return b.String()
}
