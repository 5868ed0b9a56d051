package workflow

import (
	"fmt"
	"sort"
)

// Message is one entry of the run log.
type Message struct {
	Role    string `json:"role"`
	Node    Node   `json:"node"`
	Content string `json:"content"`
}

// File is a generated source file.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// State is the record threaded through a run.
type State struct {
	Messages         []Message         `json:"messages"`
	UserRequest      string            `json:"user_request"`
	Plan             []string          `json:"plan"`
	GeneratedFiles   map[string]string `json:"generated_files"`
	CurrentIteration int               `json:"current_iteration"`
	ReviewFeedback   string            `json:"review_feedback"`
	IsComplete       bool              `json:"is_complete"`

	// recent lists generated paths from least to most recently written.
	recent []string
}

// NewState returns the initial state for request.
func NewState(request string) State {
	return State{
		Messages:       []Message{{Role: "user", Node: NodePlan, Content: request}},
		UserRequest:    request,
		GeneratedFiles: map[string]string{},
	}
}

// Update is the output of a node. Nil fields leave state unchanged.
type Update struct {
	Messages       []Message
	Plan           []string
	Files          []File
	Iteration      *int
	ReviewFeedback *string
	Complete       *bool
}

// Apply returns a new state with u merged in. s is not modified.
func (s State) Apply(u Update) (State, error) {
	next := s

	if u.Plan != nil && len(s.Plan) > 0 {
		return s, fmt.Errorf("%w: plan already set", ErrInvalidUpdate)
	}
	if u.Iteration != nil && *u.Iteration < s.CurrentIteration {
		return s, fmt.Errorf("%w: iteration %d would decrease to %d", ErrInvalidUpdate, s.CurrentIteration, *u.Iteration)
	}
	if u.Complete != nil && s.IsComplete && !*u.Complete {
		return s, fmt.Errorf("%w: completed run cannot reopen", ErrInvalidUpdate)
	}

	if len(u.Messages) > 0 {
		next.Messages = make([]Message, 0, len(s.Messages)+len(u.Messages))
		next.Messages = append(next.Messages, s.Messages...)
		next.Messages = append(next.Messages, u.Messages...)
	}
	if u.Plan != nil {
		next.Plan = append([]string(nil), u.Plan...)
	}
	if len(u.Files) > 0 {
		next.GeneratedFiles = make(map[string]string, len(s.GeneratedFiles)+len(u.Files))
		for p, c := range s.GeneratedFiles {
			next.GeneratedFiles[p] = c
		}
		next.recent = append([]string(nil), s.recent...)
		for _, f := range u.Files {
			next.GeneratedFiles[f.Path] = f.Content
			next.recent = moveToEnd(next.recent, f.Path)
		}
	}
	if u.Iteration != nil {
		next.CurrentIteration = *u.Iteration
	}
	if u.ReviewFeedback != nil {
		next.ReviewFeedback = *u.ReviewFeedback
	}
	if u.Complete != nil {
		next.IsComplete = *u.Complete
	}
	return next, nil
}

func moveToEnd(paths []string, path string) []string {
	for i, p := range paths {
		if p == path {
			paths = append(paths[:i], paths[i+1:]...)
			break
		}
	}
	return append(paths, path)
}

// RecentFiles returns up to n generated files, most recently written last.
func (s State) RecentFiles(n int) []File {
	order := s.recent
	if len(order) != len(s.GeneratedFiles) {
		// State built outside Apply carries no write order.
		order = s.Filenames()
	}
	if n >= 0 && len(order) > n {
		order = order[len(order)-n:]
	}
	files := make([]File, len(order))
	for i, p := range order {
		files[i] = File{Path: p, Content: s.GeneratedFiles[p]}
	}
	return files
}

// Filenames returns the generated paths in sorted order.
func (s State) Filenames() []string {
	names := make([]string, 0, len(s.GeneratedFiles))
	for p := range s.GeneratedFiles {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}

func intPtr(v int) *int          { return &v }
func boolPtr(v bool) *bool       { return &v }
func stringPtr(v string) *string { return &v }
