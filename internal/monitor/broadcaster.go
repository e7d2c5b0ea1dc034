// Package monitor fans the mixer's emitted PCM chunks out to zero or more
// live listeners (WebRTC/Opus) without disturbing the mixer's stdout
// contract, and exposes a small HTTP status surface for operators.
package monitor

import (
	"sync"

	"github.com/google/uuid"
)

// Broadcaster fans out 960-sample stereo PCM chunks from the mixer tap to
// every subscribed listener. Slow listeners get frames dropped rather than
// stalling the mixer's real-time loop.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[uuid.UUID]*Listener
}

// Listener receives PCM chunks from the broadcaster, identified by a
// generated ID so an HTTP endpoint can look one up or evict it without
// holding onto a bare pointer.
type Listener struct {
	ID   uuid.UUID
	C    chan []int16 // buffered channel of 20ms PCM chunks
	done chan struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[uuid.UUID]*Listener)}
}

// Subscribe registers a new listener and returns it, buffer sized for
// roughly 3 seconds of audio at 20ms/chunk.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		ID:   uuid.New(),
		C:    make(chan []int16, 150),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l.ID] = l
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener by ID and signals it to stop. A missing ID
// is a no-op.
func (b *Broadcaster) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	l, ok := b.listeners[id]
	if ok {
		delete(b.listeners, id)
	}
	b.mu.Unlock()
	if ok {
		close(l.done)
	}
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// ListenerIDs returns the IDs of every active listener, for the status
// endpoint.
func (b *Broadcaster) ListenerIDs() []uuid.UUID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	return ids
}

// Publish fans frame out to every subscribed listener, dropping it for any
// listener whose buffer is full instead of blocking the mixer's real-time
// tap. Safe to call from the mixer's output goroutine.
func (b *Broadcaster) Publish(frame []int16) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.listeners {
		select {
		case l.C <- frame:
		default:
		}
	}
}
