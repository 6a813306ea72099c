package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/example/research-orchestrator/internal/config"
	"github.com/example/research-orchestrator/internal/providers/llm"
	"github.com/example/research-orchestrator/internal/providers/search"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, ttl, zaptest.NewLogger(t)), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()

	var out []string
	ok, err := c.Get(ctx, "ns", map[string]any{"q": "x"}, &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "ns", map[string]any{"q": "x"}, []string{"a", "b"}))
	ok, err = c.Get(ctx, "ns", map[string]any{"q": "x"}, &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, out)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "research:ns:")
	assert.Equal(t, time.Hour, mr.TTL(keys[0]))

	mr.FastForward(2 * time.Hour)
	ok, err = c.Get(ctx, "ns", map[string]any{"q": "x"}, &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheUndecodableIsMiss(t *testing.T) {
	c, mr := newTestCache(t, 0)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "ns", "k", "text"))
	require.NoError(t, mr.Set(mr.Keys()[0], "{not json"))

	var out string
	ok, err := c.Get(ctx, "ns", "k", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheClear(t *testing.T) {
	c, mr := newTestCache(t, 0)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", 1, "x"))
	require.NoError(t, c.Set(ctx, "a", 2, "y"))
	require.NoError(t, c.Set(ctx, "b", 1, "z"))

	n, err := c.Clear(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, mr.Keys(), 1)
}

func TestConnect(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()

	client, err := Connect(context.Background(), config.Redis{Addr: addr})
	require.NoError(t, err)
	_ = client.Close()

	mr.Close()
	_, err = Connect(context.Background(), config.Redis{Addr: addr})
	assert.Error(t, err)
}

func TestCachedSearch(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	calls := 0
	inner := &search.Mock{Fn: func(_ context.Context, q string, _ int) ([]search.Result, error) {
		calls++
		if q == "bad" {
			return nil, errors.New("down")
		}
		return []search.Result{{URL: "https://a", Title: "A", Content: "c"}}, nil
	}}
	s := &Search{Provider: inner, Cache: c}
	ctx := context.Background()

	first, err := s.Search(ctx, "qubits", 5)
	require.NoError(t, err)
	second, err := s.Search(ctx, " qubits ", 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	_, err = s.Search(ctx, "qubits", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	_, err = s.Search(ctx, "bad", 5)
	assert.Error(t, err)
	_, err = s.Search(ctx, "bad", 5)
	assert.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, "mock", s.Name())
}

func TestCachedClient(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	inner := &llm.MockClient{Respond: func(_ context.Context, p string) (string, error) { return "answer to " + p, nil }}
	cc := &Client{Client: inner, Cache: c}
	ctx := context.Background()

	out, err := cc.GenerateText(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "answer to p1", out)
	out, err = cc.GenerateText(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "answer to p1", out)
	assert.Len(t, inner.Calls(), 1)

	var chunks []string
	err = cc.GenerateTextStream(ctx, "p2", func(s string) error { chunks = append(chunks, s); return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"answer ", "to ", "p2"}, chunks)

	chunks = nil
	err = cc.GenerateTextStream(ctx, "p2", func(s string) error { chunks = append(chunks, s); return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"answer to p2"}, chunks)
	assert.Len(t, inner.Calls(), 2)
}
