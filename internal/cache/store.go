package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wanderport/livesync/internal/metrics"
)

// Key identifies a cache entry. Keys are derived by the query layer from the
// endpoint name and canonicalized parameters; the store treats them as opaque.
type Key string

// Status describes the lifecycle of a cache entry.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusLoading       Status = "loading"
	StatusSuccess       Status = "success"
	StatusError         Status = "error"
	StatusStale         Status = "stale"
)

// Snapshot is the read-only view of an entry handed to consumers. Data is
// owned by the store; mutators must never edit it in place.
type Snapshot struct {
	Key           Key
	Data          any
	Status        Status
	Err           error
	IsFetching    bool
	LastFetchedAt time.Time
	Subscribers   int
}

// WriteOptions tune a single Write call.
type WriteOptions struct {
	// KeepAlive overrides how long the entry outlives its last subscriber.
	// Zero falls back to the store default.
	KeepAlive time.Duration
	// Refetch is invoked when a later invalidation hits this entry while it
	// has live subscribers. When nil the entry keeps any previously
	// registered refetch, so direct stream writes do not sever the
	// executor's hook.
	Refetch func(context.Context)
}

type entry struct {
	key           Key
	data          any
	status        Status
	err           error
	fetching      bool
	lastFetchedAt time.Time
	tags          tagSet
	subs          map[*Subscription]struct{}
	evict         *time.Timer
	keepAlive     time.Duration
	refetch       func(context.Context)
}

// Store is the normalized, tag-indexed cache shared by the request executor,
// mutation coordinator, streaming channel, and polling fallback. It is created
// once per engine and passed in explicitly; there is no ambient global.
type Store struct {
	logger    *slog.Logger
	recorder  *metrics.Recorder
	keepAlive time.Duration

	mu      sync.Mutex
	entries map[Key]*entry
	closed  bool
}

// Options configure a Store.
type Options struct {
	// KeepAlive is the default delay between the last unsubscribe and
	// eviction of an entry.
	KeepAlive time.Duration
}

// DefaultKeepAlive bounds memory for a long-lived session when no explicit
// keep-alive is configured.
const DefaultKeepAlive = 60 * time.Second

// New constructs an empty store.
func New(logger *slog.Logger, recorder *metrics.Recorder, opts Options) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &Store{
		logger:    logger.With(slog.String("agent", "cache")),
		recorder:  recorder,
		keepAlive: keepAlive,
		entries:   make(map[Key]*entry),
	}
}

// Read returns the current snapshot for key. It never blocks and never
// fetches. Stale entries with no subscribers are deleted here rather than at
// invalidation time.
func (s *Store) Read(key Key) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.recorder.ObserveCache(metrics.CacheMiss)
		return Snapshot{Key: key, Status: StatusUninitialized}, false
	}
	if e.status == StatusStale && len(e.subs) == 0 {
		s.dropLocked(e)
		s.recorder.ObserveCache(metrics.CacheMiss)
		return Snapshot{Key: key, Status: StatusUninitialized}, false
	}
	s.recorder.ObserveCache(metrics.CacheHit)
	return e.snapshot(), true
}

// Write replaces or creates the entry for key with fresh server data. The tag
// set is replaced outright, not unioned, so stale tags from a previous
// response shape are dropped. Write never fails.
func (s *Store) Write(key Key, data any, tags []Tag, opts WriteOptions) {
	s.mu.Lock()
	e := s.ensureLocked(key)
	e.data = data
	e.status = StatusSuccess
	e.err = nil
	e.fetching = false
	e.lastFetchedAt = time.Now().UTC()
	e.tags = newTagSet(tags)
	if opts.KeepAlive > 0 {
		e.keepAlive = opts.KeepAlive
	}
	if opts.Refetch != nil {
		e.refetch = opts.Refetch
	}
	snap := e.snapshot()
	subs := e.subscribers()
	s.mu.Unlock()

	s.recorder.ObserveCache(metrics.CacheWrite)
	notify(subs, snap)
}

// WriteError records a failed fetch. Previously cached data is retained so
// consumers can keep rendering it alongside the error.
func (s *Store) WriteError(key Key, err error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = s.ensureLocked(key)
	}
	e.status = StatusError
	e.err = err
	e.fetching = false
	snap := e.snapshot()
	subs := e.subscribers()
	s.mu.Unlock()

	notify(subs, snap)
}

// MarkFetching flags the entry as having a request in flight, creating a
// loading placeholder when the key is absent.
func (s *Store) MarkFetching(key Key) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = s.ensureLocked(key)
		e.status = StatusLoading
	}
	e.fetching = true
	snap := e.snapshot()
	subs := e.subscribers()
	s.mu.Unlock()

	notify(subs, snap)
}

// Subscribe attaches a consumer to key, creating an uninitialized placeholder
// when no entry exists yet. A pending eviction timer is cancelled so a
// resubscribe before expiry reuses the entry instead of recreating it.
func (s *Store) Subscribe(key Key) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureLocked(key)
	if e.evict != nil {
		e.evict.Stop()
		e.evict = nil
	}
	sub := &Subscription{
		store:   s,
		key:     key,
		updates: make(chan Snapshot, 1),
	}
	e.subs[sub] = struct{}{}
	return sub
}

func (s *Store) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sub.key]
	if !ok {
		return
	}
	delete(e.subs, sub)
	if len(e.subs) > 0 || s.closed {
		return
	}
	keepAlive := e.keepAlive
	if keepAlive <= 0 {
		keepAlive = s.keepAlive
	}
	key := sub.key
	e.evict = time.AfterFunc(keepAlive, func() {
		s.evictIfIdle(key)
	})
}

func (s *Store) evictIfIdle(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || len(e.subs) > 0 {
		return
	}
	s.dropLocked(e)
	s.recorder.ObserveCache(metrics.CacheEvicted)
	s.logger.Debug("entry evicted", slog.String("key", string(key)))
}

// Invalidate marks every entry whose tag set intersects tags as stale. Data
// is retained for display while entries with at least one subscriber are
// refetched in the background; zero-subscriber entries are left for lazy
// deletion on the next read. Returns the number of entries marked stale.
// Invalidate never fails.
func (s *Store) Invalidate(ctx context.Context, tags ...Tag) int {
	if len(tags) == 0 {
		return 0
	}

	type refetchCall struct {
		fn func(context.Context)
	}
	var refetches []refetchCall
	var notifications []func()

	s.mu.Lock()
	stale := 0
	for _, e := range s.entries {
		if !e.tags.intersects(tags) {
			continue
		}
		e.status = StatusStale
		stale++
		if len(e.subs) == 0 {
			continue
		}
		snap := e.snapshot()
		subs := e.subscribers()
		notifications = append(notifications, func() { notify(subs, snap) })
		if e.refetch != nil {
			e.fetching = true
			refetches = append(refetches, refetchCall{fn: e.refetch})
		}
	}
	s.mu.Unlock()

	for i := 0; i < stale; i++ {
		s.recorder.ObserveCache(metrics.CacheStale)
	}
	for _, fn := range notifications {
		fn()
	}
	for _, call := range refetches {
		go call.fn(ctx)
	}
	return stale
}

// Patch applies a pure edit to the entry's data and returns a closure that
// restores the pre-patch value. The mutator receives the current data and must
// return a replacement without editing the input in place; the returned undo
// relies on the previous value surviving untouched. Patching a missing key is
// a no-op that returns a no-op undo.
func (s *Store) Patch(key Key, mutate func(data any) any) func() {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return func() {}
	}
	prev := e.data
	e.data = mutate(prev)
	snap := e.snapshot()
	subs := e.subscribers()
	s.mu.Unlock()

	s.recorder.ObserveCache(metrics.CachePatch)
	notify(subs, snap)

	return func() {
		s.mu.Lock()
		e, ok := s.entries[key]
		if !ok {
			s.mu.Unlock()
			return
		}
		e.data = prev
		snap := e.snapshot()
		subs := e.subscribers()
		s.mu.Unlock()
		notify(subs, snap)
	}
}

// Len reports how many entries the store currently holds.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Teardown stops every pending eviction timer and closes all subscriptions.
// The store must not be used afterwards.
func (s *Store) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, e := range s.entries {
		if e.evict != nil {
			e.evict.Stop()
			e.evict = nil
		}
		for sub := range e.subs {
			sub.closeChannel()
		}
		e.subs = make(map[*Subscription]struct{})
	}
	s.entries = make(map[Key]*entry)
}

func (s *Store) ensureLocked(key Key) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{
			key:    key,
			status: StatusUninitialized,
			tags:   tagSet{},
			subs:   make(map[*Subscription]struct{}),
		}
		s.entries[key] = e
	}
	return e
}

func (s *Store) dropLocked(e *entry) {
	if e.evict != nil {
		e.evict.Stop()
		e.evict = nil
	}
	delete(s.entries, e.key)
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Key:           e.key,
		Data:          e.data,
		Status:        e.status,
		Err:           e.err,
		IsFetching:    e.fetching,
		LastFetchedAt: e.lastFetchedAt,
		Subscribers:   len(e.subs),
	}
}

func (e *entry) subscribers() []*Subscription {
	if len(e.subs) == 0 {
		return nil
	}
	subs := make([]*Subscription, 0, len(e.subs))
	for sub := range e.subs {
		subs = append(subs, sub)
	}
	return subs
}

func notify(subs []*Subscription, snap Snapshot) {
	for _, sub := range subs {
		sub.push(snap)
	}
}
