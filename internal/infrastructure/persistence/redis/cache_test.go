package redis

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrlab/classroom-monitor/internal/domain/student"
	"github.com/vrlab/classroom-monitor/pkg/circuitbreaker"
)

// newTestCache connects to REDIS_TEST_HOST (optionally REDIS_TEST_PORT) or
// skips.
func newTestCache(t *testing.T) *Cache {
	t.Helper()

	host := os.Getenv("REDIS_TEST_HOST")
	if host == "" {
		t.Skip("REDIS_TEST_HOST not set")
	}
	cfg := DefaultConfig()
	cfg.Host = host
	if p, err := strconv.Atoi(os.Getenv("REDIS_TEST_PORT")); err == nil {
		cfg.Port = p
	}
	cfg.KeyPrefix = "classroom-test:" + strconv.FormatInt(time.Now().UnixNano(), 36) + ":"

	c, err := NewCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.DeleteByPattern(context.Background(), cfg.KeyPrefix+"*")
		_ = c.Close()
	})
	return c
}

func TestConfig_Addr(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr())
}

func TestCache_KeyNamespacing(t *testing.T) {
	c := &Cache{config: Config{KeyPrefix: "classroom:"}}
	assert.Equal(t, "classroom:kv:helpDots", c.Key(PrefixKV, "helpDots"))
	assert.Equal(t, "classroom:student:addr:10.0.0.5", c.Key(PrefixStudentAddress, "10.0.0.5"))
}

func TestKeyValueStore_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	store := NewKeyValueStore(c)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "helpDots")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "helpDots", `{"s1":true}`))

	val, ok, err := store.Get(ctx, "helpDots")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"s1":true}`, val)
}

type countingResolver struct {
	calls int
	found *student.Student
}

func (r *countingResolver) ResolveStudentByAddress(context.Context, string) (*student.Student, error) {
	r.calls++
	return r.found, nil
}

func TestStudentCache_CachesHitsOnly(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	roster := &countingResolver{}
	sc := NewStudentCache(c, roster, time.Minute, nil)

	st, err := sc.ResolveStudentByAddress(ctx, "10.0.0.5")
	require.NoError(t, err)
	assert.Nil(t, st)

	roster.found = &student.Student{ID: "s1", Name: "Ada", Address: "10.0.0.5"}
	for i := 0; i < 3; i++ {
		st, err = sc.ResolveStudentByAddress(ctx, "10.0.0.5")
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.Equal(t, "Ada", st.Name)
	}
	assert.Equal(t, 2, roster.calls, "first miss plus one fill")

	require.NoError(t, sc.Invalidate(ctx, "10.0.0.5"))
	_, err = sc.ResolveStudentByAddress(ctx, "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, 3, roster.calls)
}

func TestStudentCache_BypassesDeadRedis(t *testing.T) {
	cfg := DefaultConfig()
	dead := &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 50 * time.Millisecond,
			MaxRetries:  -1,
		}),
		config: cfg,
	}
	t.Cleanup(func() { _ = dead.Close() })

	roster := &countingResolver{found: &student.Student{ID: "s1", Name: "Ada", Address: "10.0.0.5"}}
	sc := NewStudentCache(dead, roster, time.Minute, nil)

	for i := 0; i < 4; i++ {
		st, err := sc.ResolveStudentByAddress(context.Background(), "10.0.0.5")
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.Equal(t, "s1", st.ID)
	}
	assert.Equal(t, 4, roster.calls)
	assert.Equal(t, circuitbreaker.StateOpen, sc.BreakerState())
}
