package client

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
)

func TestCallPopulatesMemoryCacheAndSkipsSecondRPC(t *testing.T) {
	var calls int32
	caller := func(ctx context.Context, method string, params any) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		return json.RawMessage(`{"ok":true}`), nil
	}

	c := New(caller)
	ctx := context.Background()

	if _, err := c.Call(ctx, "eth_getBlockByNumber", []any{"0x1"}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := c.Call(ctx, "eth_getBlockByNumber", []any{"0x1"}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 RPC call, memory cache should serve the second, got %d", calls)
	}
}

func TestCallFallsBackToRedisBeforeRPC(t *testing.T) {
	rdb, mock := redismock.NewClientMock()

	key, err := cacheKey("eth_getBalance", []any{"0xabc"})
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	mock.ExpectGet(key).SetVal(`{"balance":"1"}`)

	var calls int32
	caller := func(ctx context.Context, method string, params any) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		return json.RawMessage(`{"balance":"0"}`), nil
	}

	c := New(caller, WithRedis(rdb, time.Minute))

	v, err := c.Call(context.Background(), "eth_getBalance", []any{"0xabc"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(v) != `{"balance":"1"}` {
		t.Fatalf("expected redis-served value, got %s", v)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no RPC call, redis hit should short-circuit it")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}

func TestCallStoresIntoRedisOnMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()

	key, err := cacheKey("eth_getBalance", []any{"0xdef"})
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSet(key, []byte(`{"balance":"7"}`), time.Minute).SetVal("OK")

	caller := func(ctx context.Context, method string, params any) (json.RawMessage, error) {
		return json.RawMessage(`{"balance":"7"}`), nil
	}

	c := New(caller, WithRedis(rdb, time.Minute))

	v, err := c.Call(context.Background(), "eth_getBalance", []any{"0xdef"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(v) != `{"balance":"7"}` {
		t.Fatalf("unexpected value: %s", v)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}
