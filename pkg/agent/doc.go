// Package agent wraps chat-completion providers behind a single LLMProvider
// interface and adds profile failover with retry.
//
// Invariants:
// - Profiles are tried in ascending priority order.
// - A profile that fails is cooled down before it is tried again.
// - Non-retryable errors stop failover immediately.
//
// Usage:
//
//	client, _ := agent.NewClient(agent.Config{Profiles: profiles})
//	resp, _ := client.Call(ctx, agent.LLMRequest{
//		Model:    "claude-sonnet-4-5",
//		Messages: []agent.AgentMessage{{Role: "user", Content: "hello"}},
//	})
//	_ = resp
package agent
