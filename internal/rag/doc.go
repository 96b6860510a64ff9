// Package rag implements retrieval for the organization assistant.
//
// The Orchestrator turns a question into ranked context passages:
//   - embed the query and search the vector index for a generous top-K
//   - drop candidates under the similarity threshold
//   - rerank with a cross-encoder when one is available
//   - run a single relaxed pass at a lower score floor when nothing survives
//
// The result is numbered context text plus deduplicated source URLs.
package rag
