// Package lock provides keyed exclusive sections used to serialize
// load-mutate-persist sequences per player and per device.
package lock

import (
	"context"
	"sort"
	"sync"
)

// Locker acquires exclusive sections for a set of keys.
type Locker interface {
	// Acquire blocks until every key is held or ctx is done.
	//
	// Postcondition: On success, release must be called exactly once to free all
	// keys. On error nothing is held.
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// PlayerKey returns the lock key for a player id.
func PlayerKey(playerID string) string { return "player:" + playerID }

// DeviceKey returns the lock key for a device id.
func DeviceKey(deviceID string) string { return "device:" + deviceID }

// normalize sorts and deduplicates keys so that every caller acquires in the
// same global order.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	out = append(out, keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}

// Local is an in-process Locker. The zero value is not usable; use NewLocal.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{} // capacity 1; a send acquires
	refs int
}

// NewLocal creates an in-process Locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

var _ Locker = (*Local)(nil)

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	held := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := l.acquireOne(ctx, k); err != nil {
			l.releaseAll(held)
			return nil, err
		}
		held = append(held, k)
	}
	var once sync.Once
	return func() { once.Do(func() { l.releaseAll(held) }) }, nil
}

func (l *Local) acquireOne(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key, s)
		return ctx.Err()
	}
}

func (l *Local) releaseAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		s := l.slots[keys[i]]
		l.mu.Unlock()
		<-s.ch
		l.unref(keys[i], s)
	}
}

func (l *Local) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Held returns the number of keys currently tracked (held or awaited).
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
