package session

import (
	"context"
	"sync"
)

// Sequencer is a per-session FIFO lock. Turns of one session run one at a time in the order
// they called Acquire; different sessions do not block each other.
type Sequencer struct {
	mu     sync.Mutex
	queues map[string]*ticketQueue
}

type ticketQueue struct {
	held    bool
	waiters []chan struct{}
}

// NewSequencer creates an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{queues: make(map[string]*ticketQueue)}
}

// Acquire blocks until every earlier caller for id has released. The returned release must be
// called exactly once; extra calls are ignored. A caller whose ctx ends while waiting leaves the
// queue without disturbing the order of the others.
func (s *Sequencer) Acquire(ctx context.Context, id string) (release func(), err error) {
	s.mu.Lock()
	q, ok := s.queues[id]
	if !ok {
		q = &ticketQueue{}
		s.queues[id] = q
	}
	if !q.held {
		q.held = true
		s.mu.Unlock()
		return s.releaser(id), nil
	}
	ticket := make(chan struct{})
	q.waiters = append(q.waiters, ticket)
	s.mu.Unlock()

	select {
	case <-ticket:
		return s.releaser(id), nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	select {
	case <-ticket:
		// Ownership arrived together with cancellation; pass it on.
		s.mu.Unlock()
		s.releaser(id)()
		return nil, ctx.Err()
	default:
	}
	for i, w := range q.waiters {
		if w == ticket {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	return nil, ctx.Err()
}

func (s *Sequencer) releaser(id string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			q := s.queues[id]
			if len(q.waiters) > 0 {
				next := q.waiters[0]
				q.waiters = q.waiters[1:]
				close(next)
				return
			}
			q.held = false
			delete(s.queues, id)
		})
	}
}

// Active returns the number of sessions currently holding or waiting for the lock.
func (s *Sequencer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}
