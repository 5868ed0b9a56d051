// Package memory holds per-project semantic memory: one vector index and
// chunk record per (project, kind) collection, with ingestion from source
// trees and conversation logs.
//
// Invariants:
// - Every key in a collection's index resolves to exactly one stored chunk.
// - Chunk counts only grow until the project is deleted.
// - Ingest into one collection never interleaves with another ingest into
//   the same collection.
// - Project embeds and re-embeds of one project id are serialised by the
//   Ingester.
//
// Usage:
//
//	store, _ := memory.NewStore(memory.Config{Embedder: memory.NewHashEmbedder(384)})
//	ing := memory.NewIngester(memory.IngesterConfig{Store: store})
//	_, _ = ing.EmbedProject(ctx, "demo", "./src")
//	results, _ := store.SearchProject(ctx, "demo", "http handler", 5)
//	_ = results
package memory
