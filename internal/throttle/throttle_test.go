package throttle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalAllowsBurstThenRefills(t *testing.T) {
	l := NewLocal(3, 3*time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "student:a@x.io")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i)
	}
	ok, _ := l.Allow(ctx, "student:a@x.io")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "student:b@x.io")
	assert.True(t, ok, "keys are independent")

	now = now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "student:a@x.io")
	assert.True(t, ok, "one token refills per window/max")
}

type fakeScripter struct {
	keys    []string
	args    []interface{}
	deleted []string
	val     interface{}
	err     error
}

func (f *fakeScripter) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.keys, f.args = keys, args
	return redis.NewCmdResult(f.val, f.err)
}

func (f *fakeScripter) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.deleted = append(f.deleted, keys...)
	return redis.NewIntResult(int64(len(keys)), f.err)
}

func TestRedisPassesWindowArguments(t *testing.T) {
	fake := &fakeScripter{val: int64(1)}
	r := NewRedis(fake, "", 10, 15*time.Minute)
	r.now = func() time.Time { return time.UnixMilli(1700000000000) }
	r.nonce = func() string { return "n1" }

	ok, err := r.Allow(context.Background(), "org:a@x.io")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"logbook:throttle:org:a@x.io"}, fake.keys)
	assert.Equal(t, []interface{}{int64(900000), 10, int64(1700000000000), "n1"}, fake.args)

	fake.val = int64(0)
	ok, err = r.Allow(context.Background(), "org:a@x.io")
	require.NoError(t, err)
	assert.False(t, ok)

	fake.err = errors.New("connection refused")
	_, err = r.Allow(context.Background(), "org:a@x.io")
	assert.Error(t, err)
}

func TestRedisMembersAreUniquePerAttempt(t *testing.T) {
	fake := &fakeScripter{val: int64(1)}
	r := NewRedis(fake, "", 10, time.Minute)
	r.now = func() time.Time { return time.UnixMilli(1700000000000) }
	ctx := context.Background()

	_, err := r.Allow(ctx, "staff:a@x.io")
	require.NoError(t, err)
	first := fake.args[3]
	_, err = r.Allow(ctx, "staff:a@x.io")
	require.NoError(t, err)
	assert.NotEqual(t, first, fake.args[3], "same-millisecond attempts need distinct members")
}

func TestRedisResetDeletesOnlyTheAttemptKey(t *testing.T) {
	fake := &fakeScripter{}
	r := NewRedis(fake, "p:", 10, time.Minute)
	require.NoError(t, r.Reset(context.Background(), "student:a@x.io"))
	assert.Equal(t, []string{"p:student:a@x.io"}, fake.deleted)
}

func TestLocalResetRestoresBurst(t *testing.T) {
	l := NewLocal(1, time.Hour)
	ctx := context.Background()
	ok, _ := l.Allow(ctx, "k")
	require.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	require.False(t, ok)

	require.NoError(t, l.Reset(ctx, "k"))
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
}

func TestScriptIsEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowScript, "ZREMRANGEBYSCORE")
	assert.NotContains(t, slidingWindowScript, "':seq'", "every key the script writes must be declared in KEYS")
	assert.Contains(t, slidingWindowScript, "ARGV[4]")
}
