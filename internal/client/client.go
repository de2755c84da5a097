// Package client implements the read-only RPC client exposed to handler
// code through the indexing Context (SPEC_FULL.md §4.7): a memory tier,
// an optional durable Redis tier, and the underlying RPC call, each
// populated on miss. The in-flight call dedupe prevents a cache stampede
// when many handlers request the same uncached (method, params) pair at
// once.
package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Caller performs the actual chain RPC call for a (method, params) pair
// once no cache tier has the answer. EVM and Algorand adapters each supply
// one, typically a thin wrapper over their RPC client.
type Caller func(ctx context.Context, method string, params any) (json.RawMessage, error)

// Client is a read-only, cached RPC facade. It is safe for concurrent use
// by handler code (SPEC_FULL.md §5: handlers within one batch may run
// concurrently for independent chains).
type Client struct {
	call  Caller
	redis *redis.Client
	ttl   time.Duration

	mu    sync.Mutex
	mem   map[string]json.RawMessage
	flight map[string]*sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithRedis adds a durable second-tier cache in front of the RPC call.
func WithRedis(rdb *redis.Client, ttl time.Duration) Option {
	return func(c *Client) {
		c.redis = rdb
		c.ttl = ttl
	}
}

// New builds a Client around the given Caller.
func New(call Caller, opts ...Option) *Client {
	c := &Client{
		call:   call,
		mem:    make(map[string]json.RawMessage),
		flight: make(map[string]*sync.WaitGroup),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call resolves (method, params) through memory, then Redis (if
// configured), then the underlying RPC caller, populating every tier it
// missed along the way. Concurrent calls for the same key are coalesced:
// only one in-flight RPC call happens per key at a time.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	key, err := cacheKey(method, params)
	if err != nil {
		return nil, fmt.Errorf("client: hash key: %w", err)
	}

	if v, ok := c.takeMemory(key); ok {
		return v, nil
	}

	wg, isLeader := c.joinFlight(key)
	if !isLeader {
		wg.Wait()
		if v, ok := c.takeMemory(key); ok {
			return v, nil
		}
		return c.fetchAndStore(ctx, key, method, params)
	}
	defer c.leaveFlight(key, wg)

	return c.fetchAndStore(ctx, key, method, params)
}

func (c *Client) takeMemory(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.mem[key]
	return v, ok
}

func (c *Client) joinFlight(key string) (*sync.WaitGroup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wg, ok := c.flight[key]; ok {
		return wg, false
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	c.flight[key] = wg
	return wg, true
}

func (c *Client) leaveFlight(key string, wg *sync.WaitGroup) {
	c.mu.Lock()
	delete(c.flight, key)
	c.mu.Unlock()
	wg.Done()
}

func (c *Client) fetchAndStore(ctx context.Context, key, method string, params any) (json.RawMessage, error) {
	if c.redis != nil {
		if v, err := c.redis.Get(ctx, key).Bytes(); err == nil {
			c.storeMemory(key, v)
			return v, nil
		}
	}

	v, err := c.call(ctx, method, params)
	if err != nil {
		return nil, err
	}

	c.storeMemory(key, v)
	if c.redis != nil {
		_ = c.redis.Set(ctx, key, []byte(v), c.ttl).Err()
	}
	return v, nil
}

func (c *Client) storeMemory(key string, v json.RawMessage) {
	c.mu.Lock()
	c.mem[key] = v
	c.mu.Unlock()
}

func cacheKey(method string, params any) (string, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write(encoded)
	return "rpc:" + hex.EncodeToString(h.Sum(nil)), nil
}
