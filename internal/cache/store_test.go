package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	store := New(slog.New(slog.DiscardHandler), nil, opts)
	t.Cleanup(store.Teardown)
	return store
}

func TestWriteReplacesTagSet(t *testing.T) {
	store := newTestStore(t, Options{})
	key := Key("notifications:list")

	store.Write(key, []string{"a"}, []Tag{ListTag("notification"), ItemTag("notification", "a")}, WriteOptions{})
	store.Write(key, []string{"b"}, []Tag{ListTag("notification"), ItemTag("notification", "b")}, WriteOptions{})

	sub := store.Subscribe(key)
	defer sub.Close()

	// The dropped item tag must no longer match.
	stale := store.Invalidate(context.Background(), ItemTag("notification", "a"))
	require.Zero(t, stale)

	stale = store.Invalidate(context.Background(), ItemTag("notification", "b"))
	require.Equal(t, 1, stale)

	snap, ok := store.Read(key)
	require.True(t, ok)
	require.Equal(t, StatusStale, snap.Status)
	require.Equal(t, []string{"b"}, snap.Data)
}

func TestInvalidateRefetchesOnlySubscribedEntries(t *testing.T) {
	store := newTestStore(t, Options{})
	var subscribedRefetches, idleRefetches atomic.Int32

	subscribedKey := Key("subscribed")
	idleKey := Key("idle")
	tag := ListTag("notification")

	store.Write(subscribedKey, 1, []Tag{tag}, WriteOptions{
		Refetch: func(context.Context) { subscribedRefetches.Add(1) },
	})
	store.Write(idleKey, 2, []Tag{tag}, WriteOptions{
		Refetch: func(context.Context) { idleRefetches.Add(1) },
	})

	sub := store.Subscribe(subscribedKey)
	defer sub.Close()

	stale := store.Invalidate(context.Background(), tag)
	require.Equal(t, 2, stale)

	require.Eventually(t, func() bool {
		return subscribedRefetches.Load() == 1
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, idleRefetches.Load())

	// Zero-subscriber stale entries vanish on the next read.
	_, ok := store.Read(idleKey)
	require.False(t, ok)
	_, ok = store.Read(idleKey)
	require.False(t, ok)
}

func TestPatchUndoRestoresExactValue(t *testing.T) {
	store := newTestStore(t, Options{})
	key := Key("count")
	store.Write(key, 5, []Tag{ItemTag("notification", "UNREAD_COUNT")}, WriteOptions{})

	undo := store.Patch(key, func(data any) any {
		return data.(int) - 1
	})

	snap, ok := store.Read(key)
	require.True(t, ok)
	require.Equal(t, 4, snap.Data)

	undo()

	snap, ok = store.Read(key)
	require.True(t, ok)
	require.Equal(t, 5, snap.Data)
}

func TestPatchMissingKeyIsNoop(t *testing.T) {
	store := newTestStore(t, Options{})
	undo := store.Patch(Key("absent"), func(data any) any { return "x" })
	undo()
	_, ok := store.Read(Key("absent"))
	require.False(t, ok)
}

func TestEvictionAfterLastUnsubscribe(t *testing.T) {
	store := newTestStore(t, Options{KeepAlive: 20 * time.Millisecond})
	key := Key("entry")
	store.Write(key, "data", []Tag{ListTag("place")}, WriteOptions{})

	sub := store.Subscribe(key)
	sub.Close()

	require.Eventually(t, func() bool {
		_, ok := store.Read(key)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestResubscribeCancelsEviction(t *testing.T) {
	store := newTestStore(t, Options{KeepAlive: 30 * time.Millisecond})
	key := Key("entry")
	store.Write(key, "data", []Tag{ListTag("place")}, WriteOptions{})

	first := store.Subscribe(key)
	first.Close()

	second := store.Subscribe(key)
	defer second.Close()

	time.Sleep(60 * time.Millisecond)
	snap, ok := store.Read(key)
	require.True(t, ok, "resubscribe before the timer fires must reuse the entry")
	require.Equal(t, "data", snap.Data)
}

func TestSubscriptionReceivesLatestSnapshot(t *testing.T) {
	store := newTestStore(t, Options{})
	key := Key("entry")

	sub := store.Subscribe(key)
	defer sub.Close()

	store.Write(key, 1, nil, WriteOptions{})
	store.Write(key, 2, nil, WriteOptions{})
	store.Write(key, 3, nil, WriteOptions{})

	// Updates conflate, so the queued snapshot is the most recent write.
	select {
	case snap := <-sub.Updates():
		require.Equal(t, 3, snap.Data)
	case <-time.After(time.Second):
		t.Fatal("expected a snapshot")
	}
}

func TestWriteErrorKeepsPreviousData(t *testing.T) {
	store := newTestStore(t, Options{})
	key := Key("entry")
	store.Write(key, "cached", nil, WriteOptions{})

	store.WriteError(key, context.DeadlineExceeded)

	snap, ok := store.Read(key)
	require.True(t, ok)
	require.Equal(t, StatusError, snap.Status)
	require.Equal(t, "cached", snap.Data)
	require.ErrorIs(t, snap.Err, context.DeadlineExceeded)
}

func TestWritePreservesRefetchWhenNotProvided(t *testing.T) {
	store := newTestStore(t, Options{})
	var refetches atomic.Int32
	key := Key("count")
	tag := ItemTag("notification", "UNREAD_COUNT")

	store.Write(key, 2, []Tag{tag}, WriteOptions{
		Refetch: func(context.Context) { refetches.Add(1) },
	})
	// A direct stream write omits the refetch hook.
	store.Write(key, 3, []Tag{tag}, WriteOptions{})

	sub := store.Subscribe(key)
	defer sub.Close()

	store.Invalidate(context.Background(), tag)
	require.Eventually(t, func() bool {
		return refetches.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTeardownStopsTimersAndClosesSubscribers(t *testing.T) {
	store := New(slog.New(slog.DiscardHandler), nil, Options{KeepAlive: time.Hour})
	key := Key("entry")
	store.Write(key, "data", nil, WriteOptions{})
	sub := store.Subscribe(key)

	store.Teardown()

	_, open := <-sub.Updates()
	require.False(t, open)
	require.Zero(t, store.Len())
}
