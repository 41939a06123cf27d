package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/clob-engine/internal/model"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestCachedStore_OutcomeReadThrough(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	primary := NewMemoryStore()
	cs := NewCachedStore(primary, rdb, time.Minute)

	require.NoError(t, cs.CreateOutcome(ctx, &model.Outcome{ID: "o1", Ticker: "PRES2028-DEM", Status: model.OutcomeOpen, CreatedAt: t0}))
	assert.False(t, mr.Exists(outcomeKey("o1")), "create invalidates rather than populates")

	got, err := cs.GetOutcome(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "PRES2028-DEM", got.Ticker)
	assert.True(t, mr.Exists(outcomeKey("o1")), "miss populates the cache")
	assert.Equal(t, time.Minute, mr.TTL(outcomeKey("o1")))

	_, err = cs.GetOutcome(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedStore_PositionsInvalidatedAfterCommit(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	cs := NewCachedStore(NewMemoryStore(), rdb, time.Minute)

	require.NoError(t, cs.SavePosition(ctx, &model.Position{OutcomeID: "o1", Owner: model.User("u"), Net: 1}))
	positions, err := cs.ListUserPositions(ctx, "u")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.True(t, mr.Exists(positionsKey("u")))

	err = cs.InTx(ctx, func(tx Store) error {
		if err := tx.SavePosition(ctx, &model.Position{OutcomeID: "o1", Owner: model.User("u"), Net: 4}); err != nil {
			return err
		}
		// Reads inside the transaction bypass the cache.
		inside, err := tx.ListUserPositions(ctx, "u")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(4), inside[0].Net)
		assert.True(t, mr.Exists(positionsKey("u")), "invalidation waits for commit")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(positionsKey("u")))

	positions, err = cs.ListUserPositions(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(4), positions[0].Net)
}

func TestCachedStore_RollbackKeepsCache(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	cs := NewCachedStore(NewMemoryStore(), rdb, time.Minute)

	require.NoError(t, cs.SavePosition(ctx, &model.Position{OutcomeID: "o1", Owner: model.User("u"), Net: 1}))
	_, err := cs.ListUserPositions(ctx, "u")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = cs.InTx(ctx, func(tx Store) error {
		tx.SavePosition(ctx, &model.Position{OutcomeID: "o1", Owner: model.User("u"), Net: 9})
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, mr.Exists(positionsKey("u")), "rolled-back writes do not invalidate")

	positions, err := cs.ListUserPositions(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1), positions[0].Net)
}

func TestCachedStore_SystemRowNotCached(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	cs := NewCachedStore(NewMemoryStore(), rdb, time.Minute)

	require.NoError(t, cs.SavePosition(ctx, &model.Position{OutcomeID: "o1", Owner: model.System(), Net: -1}))
	assert.Empty(t, mr.Keys())
}

func TestRedisLocker_ExclusiveAndReleased(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	l := NewRedisLocker(rdb, 5*time.Second)

	unlock, err := l.Lock(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(lockKey("o1")))

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "o1")
	assert.ErrorIs(t, err, ErrLockHeld)

	// A different outcome is independent.
	unlockOther, err := l.Lock(ctx, "o2")
	require.NoError(t, err)
	unlockOther()

	unlock()
	assert.False(t, mr.Exists(lockKey("o1")))

	unlock, err = l.Lock(ctx, "o1")
	require.NoError(t, err)
	unlock()
}

func TestRedisLocker_DoesNotReleaseForeignLock(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	l := NewRedisLocker(rdb, time.Second)

	unlock, err := l.Lock(ctx, "o1")
	require.NoError(t, err)

	// Our TTL lapses and another instance takes the lock.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(lockKey("o1"), "someone-else"))

	unlock()
	got, err := mr.Get(lockKey("o1"))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	unlock, err := l.Lock(ctx, "o1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "o1")
	assert.ErrorIs(t, err, ErrLockHeld)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, "o1")
		if err == nil {
			u()
		}
		close(acquired)
	}()
	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released lock")
	}
}
