package store

import "sync"

// Notifier fans snapshots out to subscribed listeners. Each subscriber gets
// its own delivery goroutine fed through a capacity-one channel with
// latest-wins coalescing: a slow consumer skips intermediate snapshots but
// always sees the newest one, and publishers never block.
type Notifier struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

type subscription struct {
	n    *Notifier
	ch   chan Snapshot
	done chan struct{}
	once sync.Once
}

// NewNotifier creates a Notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[*subscription]struct{})}
}

// Subscribe registers a listener and starts its delivery goroutine.
func (n *Notifier) Subscribe(l Listener) Subscription {
	sub := &subscription{
		n:    n,
		ch:   make(chan Snapshot, 1),
		done: make(chan struct{}),
	}

	n.mu.Lock()
	n.subs[sub] = struct{}{}
	n.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case snap := <-sub.ch:
				l(snap)
			}
		}
	}()

	return sub
}

// Publish hands the snapshot to every subscriber without blocking.
func (n *Notifier) Publish(snap Snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for sub := range n.subs {
		select {
		case sub.ch <- snap:
		default:
			// Replace the stale pending snapshot with the newest one.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}

// Cancel detaches the listener. Snapshots published after Cancel returns are
// not delivered; one already in flight may still arrive.
func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.n.mu.Lock()
		delete(s.n.subs, s)
		s.n.mu.Unlock()
		close(s.done)
	})
}
