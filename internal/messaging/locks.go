package messaging

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// conversationLocks hands out one exclusive critical section per conversation.
// Mutations on the same conversation serialize against each other while
// distinct conversations proceed in parallel. Acquisition is context-bound so
// callers time out with a retryable error instead of blocking forever.
type conversationLocks struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{sems: make(map[string]*semaphore.Weighted)}
}

func (l *conversationLocks) get(conversationID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[conversationID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.sems[conversationID] = sem
	}
	return sem
}

// acquire blocks until the conversation's section is free or ctx expires.
// The returned release must be called exactly once.
func (l *conversationLocks) acquire(ctx context.Context, conversationID string) (func(), error) {
	sem := l.get(conversationID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, ErrTransient
	}
	return func() { sem.Release(1) }, nil
}
