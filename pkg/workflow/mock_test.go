package workflow

import (
	"context"
	"sync"

	"github.com/harun/forge/pkg/agent"
	"github.com/harun/forge/pkg/memory"
)

// scriptedModel answers by node, identified through the system prompt.
type scriptedModel struct {
	mu       sync.Mutex
	plan     func(n int) (string, error)
	generate func(n int) (string, error)
	review   func(n int) (string, error)
	calls    map[string]int
	requests []agent.LLMRequest
}

func newScriptedModel() *scriptedModel {
	return &scriptedModel{calls: make(map[string]int)}
}

func (m *scriptedModel) Provider() string { return "scripted" }

func (m *scriptedModel) Call(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var node string
	var fn func(int) (string, error)
	switch req.SystemPrompt {
	case planSystemPrompt:
		node, fn = "plan", m.plan
	case generateSystemPrompt:
		node, fn = "generate", m.generate
	case reviewSystemPrompt:
		node, fn = "review", m.review
	}
	n := m.calls[node]
	m.calls[node]++
	m.mu.Unlock()

	if fn == nil {
		return &agent.LLMResponse{Content: ""}, nil
	}
	content, err := fn(n)
	if err != nil {
		return nil, err
	}
	return &agent.LLMResponse{Content: content}, nil
}

func (m *scriptedModel) Calls(node string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[node]
}

func (m *scriptedModel) Requests(system string) []agent.LLMRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.LLMRequest
	for _, r := range m.requests {
		if r.SystemPrompt == system {
			out = append(out, r)
		}
	}
	return out
}

func reply(s string) func(int) (string, error) {
	return func(int) (string, error) { return s, nil }
}

type stubSearcher struct {
	mu       sync.Mutex
	results  []memory.SearchResult
	err      error
	projects []string
	queries  []string
}

func (s *stubSearcher) SearchProject(ctx context.Context, projectID, query string, k int) ([]memory.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = append(s.projects, projectID)
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}
