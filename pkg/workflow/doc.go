// Package workflow drives a code-generation request through the Plan,
// Generate and Review nodes until the routing function reaches Done.
//
// Nodes never mutate state directly. Each returns an Update which
// State.Apply merges under these rules:
//   - messages are append-only
//   - the plan is set at most once with a non-empty value
//   - generated files merge with last write winning per path
//   - the iteration counter never decreases
package workflow
