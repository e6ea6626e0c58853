// Package storage persists subscriptions, their reminder counters and the
// operator audit log.
//
// Two drivers are supported:
//   - "sqlite": a single database file (modernc.org/sqlite, pure Go)
//   - "postgres": a pgx connection pool
//
// The schema is versioned under migrations/<driver> and applied with
// golang-migrate when the store is opened.
package storage
