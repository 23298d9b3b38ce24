package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/copilot/internal/config"
)

func TestNewMemgraphDoesNotDial(t *testing.T) {
	mg, err := NewMemgraph(config.GraphConfig{URI: "bolt://invalid-host:7687"})
	require.NoError(t, err)
	assert.NoError(t, mg.Close())
}

func TestNewMemgraphRejectsBadScheme(t *testing.T) {
	_, err := NewMemgraph(config.GraphConfig{URI: "ftp://nope"})
	assert.Error(t, err)
}

func TestConnectWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ConnectWithRetry(ctx, config.GraphConfig{URI: "bolt://127.0.0.1:1"}, 3)
	assert.Error(t, err)
}

func TestMockDriver(t *testing.T) {
	mock := NewMockDriver()
	ctx := context.Background()

	assert.NoError(t, mock.Ping(ctx))

	records, err := mock.Execute(ctx, "RETURN 1", nil)
	require.NoError(t, err)
	assert.Empty(t, records)

	mock.WriteFn = func(query string, params map[string]any) error { return errors.New("boom") }
	assert.Error(t, mock.ExecuteWrite(ctx, "CREATE (n:Test)", nil))
	assert.Equal(t, 1, mock.WriteCount())

	assert.NoError(t, mock.Close())
	assert.True(t, mock.Closed())
}

func TestCachedDriver(t *testing.T) {
	mock := NewMockDriver()
	calls := 0
	mock.ExecuteFn = func(query string, params map[string]any) ([]Record, error) {
		calls++
		return []Record{{"n": int64(calls)}}, nil
	}

	d := NewCachedDriver(mock, time.Minute)
	ctx := context.Background()

	first, err := d.Execute(ctx, "MATCH (n) RETURN n", map[string]any{"a": 1})
	require.NoError(t, err)
	second, err := d.Execute(ctx, "MATCH (n) RETURN n", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	_, err = d.Execute(ctx, "MATCH (n) RETURN n", map[string]any{"a": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	require.NoError(t, d.ExecuteWrite(ctx, "CREATE (n)", nil))
	third, err := d.Execute(ctx, "MATCH (n) RETURN n", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), GetInt64(third[0], "n"))

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(3), stats.Misses)
}

func TestCachedDriverDoesNotCacheErrors(t *testing.T) {
	mock := NewMockDriver()
	fail := true
	mock.ExecuteFn = func(query string, params map[string]any) ([]Record, error) {
		if fail {
			return nil, errors.New("down")
		}
		return []Record{{"ok": true}}, nil
	}
	d := NewCachedDriver(mock, time.Minute)

	_, err := d.Execute(context.Background(), "q", nil)
	assert.Error(t, err)

	fail = false
	recs, err := d.Execute(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRecordHelpers(t *testing.T) {
	r := Record{
		"s":   "text",
		"i":   int64(7),
		"n":   3,
		"f":   1.5,
		"ss":  []any{"a", 1, "b"},
		"raw": []string{"x"},
	}
	assert.Equal(t, "text", GetString(r, "s"))
	assert.Equal(t, "", GetString(r, "i"))
	assert.Equal(t, int64(7), GetInt64(r, "i"))
	assert.Equal(t, int64(3), GetInt64(r, "n"))
	assert.Equal(t, 1.5, GetFloat(r, "f"))
	assert.Equal(t, 7.0, GetFloat(r, "i"))
	assert.Equal(t, []string{"a", "b"}, GetStringSlice(r, "ss"))
	assert.Equal(t, []string{"x"}, GetStringSlice(r, "raw"))
	assert.Nil(t, GetStringSlice(r, "missing"))
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, IsConnectionError(nil))
	assert.True(t, IsConnectionError(errors.New("dial tcp: connection refused")))
	assert.False(t, IsConnectionError(errors.New("syntax error")))
}
