package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/joss/copilot/internal/config"
	"github.com/joss/copilot/internal/logging"
)

// Memgraph implements Driver over the bolt protocol (Memgraph or Neo4j).
type Memgraph struct {
	driver neo4j.DriverWithContext
	config config.GraphConfig
}

// NewMemgraph creates a bolt driver. It does not contact the server.
func NewMemgraph(cfg config.GraphConfig) (*Memgraph, error) {
	var auth neo4j.AuthToken
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	} else {
		auth = neo4j.NoAuth()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	return &Memgraph{
		driver: driver,
		config: cfg,
	}, nil
}

func (m *Memgraph) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	cfg := neo4j.SessionConfig{AccessMode: mode}
	// memgraph ignores database names; neo4j needs the real one
	if m.config.Database != "" && m.config.Database != "memgraph" {
		cfg.DatabaseName = m.config.Database
	}
	return m.driver.NewSession(ctx, cfg)
}

// Execute runs a read query and returns results.
func (m *Memgraph) Execute(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	session := m.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	var records []Record
	for result.Next(ctx) {
		rec := result.Record()
		record := make(Record, len(rec.Keys))
		for _, key := range rec.Keys {
			val, _ := rec.Get(key)
			record[key] = val
		}
		records = append(records, record)
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("result iteration failed: %w", err)
	}
	return records, nil
}

// ExecuteWrite runs a write query.
func (m *Memgraph) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	session := m.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return fmt.Errorf("write query failed: %w", err)
	}
	if _, err := result.Consume(ctx); err != nil {
		return fmt.Errorf("write query failed: %w", err)
	}
	return nil
}

// Close releases the database driver.
func (m *Memgraph) Close() error {
	return m.driver.Close(context.Background())
}

// Ping checks database connectivity.
func (m *Memgraph) Ping(ctx context.Context) error {
	return m.driver.VerifyConnectivity(ctx)
}

// ConnectWithRetry connects and pings with exponential backoff
// (100ms, 200ms, 400ms...). It returns the last error when every attempt fails.
func ConnectWithRetry(ctx context.Context, cfg config.GraphConfig, maxRetries int) (*Memgraph, error) {
	log := logging.New("graph")
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		mg, err := NewMemgraph(cfg)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err = mg.Ping(pingCtx)
			cancel()
			if err == nil {
				return mg, nil
			}
			mg.Close()
		}
		lastErr = err
		log.Debug("connect_retry", map[string]interface{}{"attempt": i + 1, "uri": cfg.URI})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(100<<i) * time.Millisecond):
		}
	}

	log.Warn("graph_unavailable", map[string]interface{}{"uri": cfg.URI}, lastErr)
	return nil, fmt.Errorf("graph unavailable at %s: %w", cfg.URI, lastErr)
}

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "EOF")
}
