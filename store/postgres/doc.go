// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: compare-and-swap state transitions and entry claims,
// JSONB node graphs and payloads, embedded SQL migrations.
package postgres
