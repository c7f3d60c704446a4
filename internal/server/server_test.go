package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/satindergrewal/nyanrace/internal/app"
	"github.com/satindergrewal/nyanrace/internal/race"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	started  bool
	muted    bool
	visible  []bool
	gestures int
	initErr  error
}

func (f *fakeEngine) Snapshot() app.Snapshot {
	s := app.Snapshot{Status: "Last updated: 12:00:00", Audio: "uninitialized", Muted: f.muted}
	if f.started {
		s.Audio = "running"
	}
	s.View = &race.View{Announcement: "Tied at 0 signatures each"}
	return s
}

func (f *fakeEngine) Gesture() error {
	f.gestures++
	if f.initErr != nil {
		return f.initErr
	}
	f.started = true
	return nil
}

func (f *fakeEngine) ToggleMute() (bool, bool) {
	if !f.started {
		return false, false
	}
	f.muted = !f.muted
	return f.muted, true
}

func (f *fakeEngine) SetVisible(v bool) { f.visible = append(f.visible, v) }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestState(t *testing.T) {
	h := New(&fakeEngine{}, Handlers{})
	rec := do(t, h, http.MethodGet, "/api/state", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap app.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "Last updated: 12:00:00", snap.Status)
	require.NotNil(t, snap.View)
	assert.Equal(t, "Tied at 0 signatures each", snap.View.Announcement)
}

func TestGestureAndMute(t *testing.T) {
	eng := &fakeEngine{}
	h := New(eng, Handlers{})

	rec := do(t, h, http.MethodPost, "/api/mute", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/gesture", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"audio":"running"`)

	rec = do(t, h, http.MethodPost, "/api/mute", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"muted":true}`, rec.Body.String())
}

func TestGestureFailure(t *testing.T) {
	h := New(&fakeEngine{initErr: errors.New("no output device")}, Handlers{})
	rec := do(t, h, http.MethodPost, "/api/gesture", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no output device")
}

func TestVisibility(t *testing.T) {
	eng := &fakeEngine{}
	h := New(eng, Handlers{})

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/visibility", `{"visible":false}`).Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/visibility", `{"visible":true}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/visibility", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/visibility", `nope`).Code)

	assert.Equal(t, []bool{false, true}, eng.visible)
}

func TestMethodsAndMounts(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	h := New(&fakeEngine{}, Handlers{Metrics: metrics})

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/gesture", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, "# metrics", do(t, h, http.MethodGet, "/metrics", "").Body.String())
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/stream", "").Code)
}

func TestCORS(t *testing.T) {
	h := New(&fakeEngine{}, Handlers{})

	req := httptest.NewRequest(http.MethodOptions, "/api/visibility", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("Origin", "https://example.org")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
