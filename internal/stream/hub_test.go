package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/satindergrewal/nyanrace/internal/race"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(DefaultHubConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func sampleView(status string) race.View {
	names := [2]race.Named{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}}
	st := race.Compute(race.DefaultBounds, 8000, 2000, 7000, 1000)
	return race.BuildView(names, [2]int64{8000, 2000}, st, status, time.Second, time.Unix(0, 0).UTC())
}

func TestHubSendsLatestViewOnConnect(t *testing.T) {
	hub, srv := startHub(t)
	hub.PublishView(sampleView("Last updated: 12:00:00"))

	conn := dial(t, srv)
	msg := readMessage(t, conn)

	assert.Equal(t, TypeView, msg.Type)
	require.NotNil(t, msg.View)
	assert.Equal(t, "Last updated: 12:00:00", msg.View.Status)
	assert.True(t, msg.View.Entities[0].Leader)
}

func TestHubBroadcastsViewsAndToasts(t *testing.T) {
	hub, srv := startHub(t)
	c1 := dial(t, srv)
	c2 := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	hub.PublishToast("Failed to fetch a and b data: boom", 5*time.Second)
	hub.PublishView(sampleView("s"))

	for _, c := range []*websocket.Conn{c1, c2} {
		toast := readMessage(t, c)
		assert.Equal(t, TypeToast, toast.Type)
		assert.Equal(t, "Failed to fetch a and b data: boom", toast.Message)
		assert.Equal(t, int64(5000), toast.DurationMS)

		view := readMessage(t, c)
		assert.Equal(t, TypeView, view.Type)
	}

	latest, ok := hub.Latest()
	require.True(t, ok)
	assert.Equal(t, "s", latest.Status)
}

func TestHubForwardsCommands(t *testing.T) {
	hub, srv := startHub(t)
	var mu sync.Mutex
	var got []Command
	hub.OnCommand(func(c Command) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mute"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"visibility","visible":false}`)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "mute", got[0].Type)
	assert.Equal(t, "visibility", got[1].Type)
	require.NotNil(t, got[1].Visible)
	assert.False(t, *got[1].Visible)
}

func TestHubTracksDisconnects(t *testing.T) {
	hub, srv := startHub(t)
	var mu sync.Mutex
	var counts []int
	hub.OnClientCount(func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	})

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 0}, counts)
}

func TestHubLatestEmpty(t *testing.T) {
	hub := NewHub(DefaultHubConfig())
	_, ok := hub.Latest()
	assert.False(t, ok)
}

func TestHubRejectsPlainHTTP(t *testing.T) {
	_, srv := startHub(t)
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
