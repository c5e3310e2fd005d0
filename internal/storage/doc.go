// Package storage persists capsules.
//
// Drivers:
//   - "sqlite": single-file database via modernc.org/sqlite (default)
//   - "postgres": shared server database via lib/pq
//   - "file": dependency-free JSON snapshot + journal
//
// Every driver implements MarkSent as one atomic single-record update, so a
// concurrent reader never observes a half-committed capsule.
package storage
