// Package frontier tracks which URLs a crawl still has to visit.
//
// A Frontier owns every URL the crawl has discovered but not finished, decides
// which one is dispatched next, and persists enough state to resume after a
// crash without visiting a completed page twice or losing queued work.
//
// # Lifecycle
//
// Each URL moves through the following states:
//
//	Unknown -> Queued -> InProgress -> Completed
//	                          |
//	                          +------> Failed(n) -> (re-enqueue) -> Queued
//	                                       |
//	                                       +-> Abandoned once n reaches the cap
//
// Enqueue is a no-op for URLs that are Completed, InProgress, already Queued
// or Abandoned. The frontier never re-queues a failed URL by itself; that is
// the job of the crawler's error policy.
//
// # Backends
//
//   - LogFrontier keeps the state in append-only text logs plus a cursor file.
//     It is the simplest format to inspect and repair by hand.
//   - SQLiteFrontier keeps one row per URL in an embedded SQLite database
//     (modernc.org/sqlite, no CGO).
//
// Both implement the Frontier interface and are selected at construction
// time.
package frontier
