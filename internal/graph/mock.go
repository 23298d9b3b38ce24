package graph

import (
	"context"
	"sync"
)

// MockDriver is a scriptable Driver for tests and offline runs.
type MockDriver struct {
	mu sync.Mutex

	// ExecuteFn answers reads (nil = no rows)
	ExecuteFn func(query string, params map[string]any) ([]Record, error)

	// WriteFn answers writes (nil = success)
	WriteFn func(query string, params map[string]any) error

	// PingErr is returned by Ping
	PingErr error

	Reads  []MockQuery
	Writes []MockQuery
	closed bool
}

// MockQuery records one query.
type MockQuery struct {
	Query  string
	Params map[string]any
}

// NewMockDriver creates an empty mock.
func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

func (m *MockDriver) Execute(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	m.mu.Lock()
	m.Reads = append(m.Reads, MockQuery{Query: query, Params: params})
	fn := m.ExecuteFn
	m.mu.Unlock()

	if fn == nil {
		return []Record{}, nil
	}
	return fn(query, params)
}

func (m *MockDriver) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	m.mu.Lock()
	m.Writes = append(m.Writes, MockQuery{Query: query, Params: params})
	fn := m.WriteFn
	m.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(query, params)
}

func (m *MockDriver) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MockDriver) Ping(ctx context.Context) error {
	return m.PingErr
}

// WriteCount returns how many writes were recorded.
func (m *MockDriver) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Writes)
}

// ReadCount returns how many reads were recorded.
func (m *MockDriver) ReadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Reads)
}

// Closed reports whether Close was called.
func (m *MockDriver) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
