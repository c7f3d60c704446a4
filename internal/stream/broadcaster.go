// Package stream carries the race to the outside: the soundtrack as MP3 over
// HTTP and Opus over WebRTC, and race views over WebSocket.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// listenerBuffer is ~3 seconds of frames at 20ms each.
const listenerBuffer = 150

// Broadcaster fans out PCM frames from one source to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	onCount   func(kind string, delta int)
	dropped   atomic.Int64
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	ID   string
	Kind string         // transport name, e.g. "http" or "webrtc"
	C    chan []int16   // buffered channel of 20ms PCM frames
	done chan struct{}
	once sync.Once
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// OnListenerChange registers fn to hear about every subscribe (+1) and
// unsubscribe (-1), keyed by transport kind.
func (b *Broadcaster) OnListenerChange(fn func(kind string, delta int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onCount = fn
}

// Subscribe registers a new listener for the given transport.
func (b *Broadcaster) Subscribe(kind string) *Listener {
	l := &Listener{
		ID:   uuid.NewString(),
		Kind: kind,
		C:    make(chan []int16, listenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	fn := b.onCount
	b.mu.Unlock()

	if fn != nil {
		fn(kind, 1)
	}
	log.Debug().Str("listener", l.ID).Str("kind", kind).Msg("listener subscribed")
	return l
}

// Unsubscribe removes a listener and signals it to stop. Repeated calls are harmless.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	fn := b.onCount
	b.mu.Unlock()

	l.once.Do(func() { close(l.done) })
	if ok && fn != nil {
		fn(l.Kind, -1)
	}
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Dropped returns how many frames were skipped for slow listeners.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Run reads frames from source and fans out to all listeners.
// Slow listeners get frames dropped rather than blocking the broadcast.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					b.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		}
	}
}
