// Package postgres provides the PostgreSQL connection manager the analytics
// engine reads through. Queries are spread round-robin over read replicas and
// fall back to the primary when none are healthy.
package postgres
