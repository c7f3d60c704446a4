package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	assert.Equal(t, 0, b.ListenerCount())

	l1 := b.Subscribe("http")
	l2 := b.Subscribe("webrtc")
	assert.Equal(t, 2, b.ListenerCount())
	assert.NotEqual(t, l1.ID, l2.ID)

	b.Unsubscribe(l1)
	assert.Equal(t, 1, b.ListenerCount())

	b.Unsubscribe(l2)
	b.Unsubscribe(l2)
	assert.Equal(t, 0, b.ListenerCount())
}

func TestListenerChangeHook(t *testing.T) {
	b := NewBroadcaster()
	var mu sync.Mutex
	counts := map[string]int{}
	b.OnListenerChange(func(kind string, delta int) {
		mu.Lock()
		counts[kind] += delta
		mu.Unlock()
	})

	h := b.Subscribe("http")
	w := b.Subscribe("webrtc")
	b.Subscribe("http")
	b.Unsubscribe(h)
	b.Unsubscribe(h) // second call does not count twice
	b.Unsubscribe(w)

	assert.Equal(t, map[string]int{"http": 1, "webrtc": 0}, counts)
}

func TestBroadcastDeliversToEveryListener(t *testing.T) {
	b := NewBroadcaster()
	listeners := make([]*Listener, 5)
	for i := range listeners {
		listeners[i] = b.Subscribe("http")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []int16, 10)
	go b.Run(ctx, source)

	frame := []int16{100, -200, 300, -400}
	source <- frame

	for i, l := range listeners {
		select {
		case got := <-l.C:
			assert.Equal(t, frame, got, "listener %d", i)
		case <-time.After(time.Second):
			t.Fatalf("listener %d timed out", i)
		}
	}
}

func TestBroadcastDropsForSlowListener(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Subscribe("http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []int16, 200)
	go b.Run(ctx, source)

	for i := 0; i < 200; i++ {
		source <- []int16{int16(i)}
	}

	require.Eventually(t, func() bool { return b.Dropped() == 50 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, slow.C, listenerBuffer)

	// The oldest frames are kept, the overflow is what got dropped.
	first := <-slow.C
	assert.Equal(t, int16(0), first[0])
}

func TestBroadcastStops(t *testing.T) {
	t.Run("context cancel", func(t *testing.T) {
		b := NewBroadcaster()
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			b.Run(ctx, make(chan []int16))
			close(done)
		}()
		cancel()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("broadcaster did not stop after context cancel")
		}
	})

	t.Run("source close", func(t *testing.T) {
		b := NewBroadcaster()
		source := make(chan []int16)
		done := make(chan struct{})
		go func() {
			b.Run(context.Background(), source)
			close(done)
		}()
		close(source)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("broadcaster did not stop after source closed")
		}
	})
}

func TestListenerDoneClosedOnUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe("webrtc")
	b.Unsubscribe(l)

	select {
	case <-l.Done():
	default:
		t.Error("done channel not closed after unsubscribe")
	}
}
