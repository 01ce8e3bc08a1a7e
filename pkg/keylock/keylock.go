// Package keylock provides an in-process mutex keyed by string.
// Entries are reference counted and removed when nobody holds or waits for
// them, so the number of live entries is bounded by concurrent callers rather
// than by the number of distinct keys ever seen.
package keylock

import (
	"context"
	"hash/fnv"
	"sync"
)

const defaultShards = 32

// Locker is a sharded keyed mutex. The zero value is not usable; call New.
type Locker struct {
	shards []*shard
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// heldKey marks a key as held by this Locker in a context.
type heldKey struct {
	locker *Locker
	key    string
}

// New creates a Locker with the given number of shards (0 means default).
func New(shards int) *Locker {
	if shards <= 0 {
		shards = defaultShards
	}
	l := &Locker{shards: make([]*shard, shards)}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return l
}

func (l *Locker) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

// Held reports whether ctx already carries the lock for key.
func (l *Locker) Held(ctx context.Context, key string) bool {
	return ctx.Value(heldKey{locker: l, key: key}) != nil
}

// Lock blocks until key is acquired or ctx is done. The returned function
// releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	s := l.shardFor(key)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		s.entries[key] = e
	}
	e.refs++
	s.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(s, key, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(s, key, e, true) })
	}, nil
}

func (l *Locker) release(s *shard, key string, e *entry, held bool) {
	if held {
		<-e.sem
	}
	s.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}

// WithLock runs fn while holding key. If ctx already holds key, fn runs
// directly with the same context.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if l.Held(ctx, key) {
		return fn(ctx)
	}

	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	return fn(context.WithValue(ctx, heldKey{locker: l, key: key}, struct{}{}))
}

// WithStudentLock implements shared.StudentLocker.
func (l *Locker) WithStudentLock(ctx context.Context, studentID string, fn func(ctx context.Context) error) error {
	return l.WithLock(ctx, "student:"+studentID, fn)
}

// Len returns the number of live entries. Intended for tests.
func (l *Locker) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
