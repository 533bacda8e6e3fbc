// Package stores provides the SQLite persistence layer for workshops,
// attendees, and deployment logs.
//
// The schema lives in embedded migrations applied with golang-migrate.
// SQLiteStore implements orchestrator.Store; lookups for absent rows come
// back as classified not-found errors so callers can branch with
// orchestrator.IsNotFound.
package stores
