package engineinfra

import (
	"context"
	"sync"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/pkg/kernel"
)

// MemoryConversationLocker serializes per-contact event processing within a
// single process. Suitable for tests and single-instance deployments; use
// the Redis locker when running more than one engine instance.
type MemoryConversationLocker struct {
	mu    sync.Mutex
	locks map[kernel.ContactID]*contactLock
}

type contactLock struct {
	ch   chan struct{}
	refs int
}

var _ engine.ConversationLocker = (*MemoryConversationLocker)(nil)

func NewMemoryConversationLocker() *MemoryConversationLocker {
	return &MemoryConversationLocker{
		locks: make(map[kernel.ContactID]*contactLock),
	}
}

func (l *MemoryConversationLocker) Acquire(ctx context.Context, contactID kernel.ContactID) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[contactID]
	if !ok {
		lock = &contactLock{ch: make(chan struct{}, 1)}
		l.locks[contactID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.put(contactID, lock)
		return nil, engine.ErrConversationLocked().
			WithDetail("contact_id", contactID.String()).
			WithCause(ctx.Err())
	}

	release := func() {
		<-lock.ch
		l.put(contactID, lock)
	}
	return release, nil
}

// put drops a reference and evicts the entry once nothing holds or waits on
// it, so the map does not grow with every contact ever seen.
func (l *MemoryConversationLocker) put(contactID kernel.ContactID, lock *contactLock) {
	l.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, contactID)
	}
	l.mu.Unlock()
}
