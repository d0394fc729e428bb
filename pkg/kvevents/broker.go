// Package kvevents implements the resumable watch stream the state store
// exposes over a key prefix: every put or delete is stamped with a
// monotonic revision, a bounded ring buffer retains recent history, and a
// watch that asks to resume before the oldest retained revision fails with
// piccoloerr.CodeCompacted rather than silently skipping history.
package kvevents

import (
	"strings"
	"sync"
	"time"

	"github.com/piccolo-edge/piccolo/pkg/piccoloerr"
)

// ChangeKind distinguishes a put from a delete.
type ChangeKind string

const (
	Put    ChangeKind = "put"
	Delete ChangeKind = "delete"
)

// Event is one change to the store, stamped with the revision it produced.
type Event struct {
	Revision  uint64
	Kind      ChangeKind
	Key       string
	Value     []byte
	Timestamp time.Time
}

// Subscriber is the channel a watch delivers events on. The broker never
// blocks publishing into it: an event published while a subscriber's
// channel is full is dropped for that subscriber without any error on the
// channel. A watcher that resumes from a revision older than the replay
// buffer gets CodeCompacted from Watch.
type Subscriber chan Event

type subscription struct {
	prefix string
	ch     Subscriber
}

// Broker is a single state store's event broker: one revision counter, one
// replay buffer, and a set of prefix-filtered live subscribers.
type Broker struct {
	mu       sync.RWMutex
	revision uint64
	buffer   []Event // ring buffer, oldest first
	capacity int
	subs     map[*subscription]struct{}
}

// NewBroker creates a broker retaining up to replayDepth past events for
// resume. replayDepth <= 0 defaults to 1000.
func NewBroker(replayDepth int) *Broker {
	if replayDepth <= 0 {
		replayDepth = 1000
	}
	return &Broker{
		capacity: replayDepth,
		subs:     make(map[*subscription]struct{}),
	}
}

// Publish records a change and returns the revision it was assigned.
func (b *Broker) Publish(kind ChangeKind, key string, value []byte) uint64 {
	b.mu.Lock()
	b.revision++
	ev := Event{Revision: b.revision, Kind: kind, Key: key, Value: value, Timestamp: time.Now()}
	b.buffer = append(b.buffer, ev)
	if len(b.buffer) > b.capacity {
		b.buffer = b.buffer[len(b.buffer)-b.capacity:]
	}
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		if strings.HasPrefix(ev.Key, s.prefix) {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			// subscriber too slow; drop rather than block the publisher
		}
	}
	return ev.Revision
}

// Append records a change already assigned a revision by an external,
// durable counter (the state store's bbolt meta bucket). It is the
// entry point used by callers that need the revision persisted atomically
// with the change itself, with the broker only mirroring it for watchers.
func (b *Broker) Append(rev uint64, kind ChangeKind, key string, value []byte) {
	b.mu.Lock()
	if rev > b.revision {
		b.revision = rev
	}
	ev := Event{Revision: rev, Kind: kind, Key: key, Value: value, Timestamp: time.Now()}
	b.buffer = append(b.buffer, ev)
	if len(b.buffer) > b.capacity {
		b.buffer = b.buffer[len(b.buffer)-b.capacity:]
	}
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		if strings.HasPrefix(ev.Key, s.prefix) {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// Revision returns the broker's current revision.
func (b *Broker) Revision() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.revision
}

// Watch opens a subscription over all keys sharing prefix. If fromRevision
// is zero the subscription starts from the live edge. If fromRevision is
// positive, events from fromRevision+1 onward are replayed from the buffer
// before the subscription goes live; if fromRevision predates the oldest
// retained event, Watch returns a CodeCompacted error.
func (b *Broker) Watch(prefix string, fromRevision uint64) (Subscriber, func(), error) {
	b.mu.Lock()

	var replay []Event
	if fromRevision > 0 {
		oldest := b.oldestRevisionLocked()
		if oldest > 0 && fromRevision < oldest-1 {
			b.mu.Unlock()
			return nil, nil, piccoloerr.New(piccoloerr.CodeCompacted, "", "watch resume point has been compacted").
				WithDetail(prefix)
		}
		for _, ev := range b.buffer {
			if ev.Revision > fromRevision && strings.HasPrefix(ev.Key, prefix) {
				replay = append(replay, ev)
			}
		}
	}

	sub := &subscription{prefix: prefix, ch: make(Subscriber, b.capacity)}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	for _, ev := range replay {
		sub.ch <- ev
	}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel, nil
}

// SubscriberCount returns the number of active watches.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) oldestRevisionLocked() uint64 {
	if len(b.buffer) == 0 {
		return 0
	}
	return b.buffer[0].Revision
}
