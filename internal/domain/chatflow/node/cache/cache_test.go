package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeforge/internal/domain/chatflow/node"
)

type recordingStore struct {
	data map[string]string
	ttl  time.Duration
	fail bool
}

func (s *recordingStore) Get(_ context.Context, key string) (string, bool, error) {
	if s.fail {
		return "", false, errors.New("connection refused")
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *recordingStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if s.fail {
		return errors.New("connection refused")
	}
	if s.data == nil {
		s.data = make(map[string]string)
	}
	s.data[key] = value
	s.ttl = ttl
	return nil
}

type credentials map[string]any

func (c credentials) ResolveCredential(context.Context, string) (map[string]any, error) {
	return c, nil
}

func initCache(t *testing.T, name string, data *node.NodeData, opts *node.InitOptions) node.Cache {
	t.Helper()
	p, ok := node.Lookup(name)
	require.True(t, ok)
	inst, err := p.Init(context.Background(), data, opts)
	require.NoError(t, err)
	return inst.(node.Cache)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()

	t.Run("server redis with ttl", func(t *testing.T) {
		store := &recordingStore{}
		c := initCache(t, "redisCache", &node.NodeData{ID: "c", Inputs: map[string]any{"ttl": 1500.0}},
			&node.InitOptions{Deps: &node.Deps{Cache: store}})

		_, ok := c.Lookup(ctx, "hello", "gpt")
		assert.False(t, ok)
		c.Update(ctx, "hello", "gpt", "world")
		assert.Equal(t, 1500*time.Millisecond, store.ttl)

		v, ok := c.Lookup(ctx, "hello", "gpt")
		assert.True(t, ok)
		assert.Equal(t, "world", v)

		_, ok = c.Lookup(ctx, "hello", "claude")
		assert.False(t, ok, "model parameters are part of the key")
	})

	t.Run("credential redis", func(t *testing.T) {
		orig := openStore
		store := &recordingStore{}
		var gotURL string
		openStore = func(_ context.Context, url string) (node.CacheStore, error) {
			gotURL = url
			return store, nil
		}
		t.Cleanup(func() { openStore = orig })

		c := initCache(t, "redisCache", &node.NodeData{ID: "c", Credential: "cred"}, &node.InitOptions{Deps: &node.Deps{
			Credentials: credentials{"redisUrl": "redis://cache:6379"},
			Defaults:    node.Defaults{CacheTTL: time.Hour},
		}})
		c.Update(ctx, "p", "k", "v")
		assert.Equal(t, "redis://cache:6379", gotURL)
		assert.Equal(t, time.Hour, store.ttl)
	})

	t.Run("store errors are a miss", func(t *testing.T) {
		c := initCache(t, "redisCache", &node.NodeData{ID: "c"}, &node.InitOptions{Deps: &node.Deps{Cache: &recordingStore{fail: true}}})
		c.Update(ctx, "p", "k", "v")
		_, ok := c.Lookup(ctx, "p", "k")
		assert.False(t, ok)
	})

	t.Run("not configured", func(t *testing.T) {
		p, _ := node.Lookup("redisCache")
		_, err := p.Init(ctx, &node.NodeData{ID: "c"}, &node.InitOptions{})
		assert.ErrorContains(t, err, "redis is not configured")
	})
}

func TestInMemoryCache_ScopedByChatflow(t *testing.T) {
	ctx := context.Background()
	a := initCache(t, "inMemoryCache", &node.NodeData{ID: "c"}, &node.InitOptions{ChatflowID: "cache-flow-a"})
	a.Update(ctx, "p", "k", "v")

	again := initCache(t, "inMemoryCache", &node.NodeData{ID: "c"}, &node.InitOptions{ChatflowID: "cache-flow-a"})
	v, ok := again.Lookup(ctx, "p", "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	other := initCache(t, "inMemoryCache", &node.NodeData{ID: "c"}, &node.InitOptions{ChatflowID: "cache-flow-b"})
	_, ok = other.Lookup(ctx, "p", "k")
	assert.False(t, ok)
}
