package cache

import "sync"

// Subscription is a consumer's handle on one cache entry. Updates conflate:
// the channel always carries the most recent snapshot, so slow consumers see
// the latest state rather than a backlog.
type Subscription struct {
	store *Store
	key   Key

	mu      sync.Mutex
	closed  bool
	updates chan Snapshot
}

// Key reports which entry this subscription is attached to.
func (s *Subscription) Key() Key {
	return s.key
}

// Updates delivers entry snapshots as the store changes. The channel is
// closed by Close or by store teardown.
func (s *Subscription) Updates() <-chan Snapshot {
	return s.updates
}

// Close detaches from the entry. When the last subscriber detaches the store
// starts the entry's eviction timer.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.updates)
	s.mu.Unlock()

	s.store.unsubscribe(s)
}

func (s *Subscription) push(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// Latest-wins: drop the queued snapshot if the consumer hasn't drained it.
	select {
	case <-s.updates:
	default:
	}
	s.updates <- snap
}

func (s *Subscription) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.updates)
}
