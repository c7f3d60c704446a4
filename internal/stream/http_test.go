package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncoderArgs(t *testing.T) {
	args := strings.Join(EncoderArgs(160), " ")
	assert.Contains(t, args, "-ar 48000")
	assert.Contains(t, args, "-ac 2")
	assert.Contains(t, args, "-b:a 160k")
	assert.True(t, strings.HasSuffix(args, "pipe:1"))
}

func TestHTTPHandlerDefaults(t *testing.T) {
	h := NewHTTPHandler(NewBroadcaster(), "race", 0)
	assert.Equal(t, DefaultMP3Bitrate, h.bitrate)
}

func TestHTTPHandlerWithoutEncoder(t *testing.T) {
	b := NewBroadcaster()
	h := NewHTTPHandler(b, "race", 0)
	h.command = "nyanrace-missing-encoder"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 0, b.ListenerCount())
}

func TestWebRTCHandlerRejectsBadRequests(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster(), "race", 0)
	assert.Equal(t, DefaultOpusBitrate, h.bitrate)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/offer", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, h.PeerCount())
}
