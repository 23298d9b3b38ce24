// Package graph is the graph database abstraction the knowledge store sits on.
package graph

import (
	"context"
)

// Record is a single result row from a query.
type Record map[string]any

// GraphReader provides read-only graph operations.
type GraphReader interface {
	// Execute runs a Cypher query and returns results.
	Execute(ctx context.Context, query string, params map[string]any) ([]Record, error)
}

// GraphWriter provides write graph operations.
type GraphWriter interface {
	// ExecuteWrite runs a write query (CREATE, MERGE, SET, DELETE).
	ExecuteWrite(ctx context.Context, query string, params map[string]any) error
}

// Driver is the full graph database interface.
// Memgraph and Neo4j both implement it through the bolt driver.
type Driver interface {
	GraphReader
	GraphWriter

	// Close releases database resources.
	Close() error

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error
}
