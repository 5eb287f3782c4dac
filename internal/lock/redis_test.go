package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"cadence_scheduler/internal/logger"
)

// fakeRedis implements the SetNX and script calls the locker makes; any other
// UniversalClient method panics through the nil embedded interface.
type fakeRedis struct {
	redis.UniversalClient

	mu         sync.Mutex
	keys       map[string]string
	ttls       map[string]time.Duration
	setErr     error
	releaseErr error
	releases   int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, held := f.keys[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

// EvalSha runs the compare-and-delete release script.
func (f *fakeRedis) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	if f.releaseErr != nil {
		return redis.NewCmdResult(nil, f.releaseErr)
	}
	if f.keys[keys[0]] == args[0].(string) {
		delete(f.keys, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedis_LockReleaseCycle(t *testing.T) {
	rdb := newFakeRedis()
	r := NewRedisWithClient(rdb, time.Minute, nil)
	ctx := context.Background()

	release, err := r.TryLock(ctx, "cadence:1")
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if ttl := rdb.ttls[redisKeyPrefix+"cadence:1"]; ttl != time.Minute {
		t.Fatalf("ttl = %v, want 1m", ttl)
	}
	if _, err := r.TryLock(ctx, "cadence:1"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("second TryLock err = %v, want ErrNotAcquired", err)
	}

	release()
	if _, held := rdb.keys[redisKeyPrefix+"cadence:1"]; held {
		t.Fatalf("key still held after release")
	}
	again, err := r.TryLock(ctx, "cadence:1")
	if err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	again()
}

func TestRedis_ReleaseKeepsAnotherHoldersLock(t *testing.T) {
	rdb := newFakeRedis()
	r := NewRedisWithClient(rdb, time.Minute, nil)

	release, err := r.TryLock(context.Background(), "cadence:2")
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	// our lock expired and another scheduler took the key
	rdb.keys[redisKeyPrefix+"cadence:2"] = "other-holder"

	release()
	if rdb.keys[redisKeyPrefix+"cadence:2"] != "other-holder" {
		t.Fatalf("released a lock held by someone else")
	}
}

func TestRedis_SetError(t *testing.T) {
	rdb := newFakeRedis()
	rdb.setErr = errors.New("connection refused")
	r := NewRedisWithClient(rdb, 0, nil)

	if _, err := r.TryLock(context.Background(), "cadence:3"); err == nil || errors.Is(err, ErrNotAcquired) {
		t.Fatalf("err = %v, want the connection error", err)
	}
	if r.ttl != 10*time.Minute {
		t.Fatalf("default ttl = %v", r.ttl)
	}
}

func TestRedis_FailedReleaseIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	rdb := newFakeRedis()
	rdb.releaseErr = errors.New("i/o timeout")
	r := NewRedisWithClient(rdb, time.Minute, &logger.Logger{SugaredLogger: zap.New(core).Sugar()})

	release, err := r.TryLock(context.Background(), "cadence:4")
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	release()

	entries := logs.FilterMessage("lock_release_failed").All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one WARN lock_release_failed entry, got %+v", entries)
	}
	if key := entries[0].ContextMap()["key"]; key != "cadence:4" {
		t.Fatalf("key = %v, want cadence:4", key)
	}
	if rdb.releases != 1 {
		t.Fatalf("release script ran %d times, want 1", rdb.releases)
	}
}
