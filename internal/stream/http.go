package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/satindergrewal/nyanrace/internal/audio"
)

// DefaultMP3Bitrate is the MP3 encode rate in kbit/s.
const DefaultMP3Bitrate = 192

// HTTPHandler serves a chunked MP3 audio stream via HTTP.
// Each connection spawns an FFmpeg process to encode PCM -> MP3 in real-time.
type HTTPHandler struct {
	broadcaster *Broadcaster
	name        string
	bitrate     int
	command     string
}

// NewHTTPHandler creates an HTTP stream handler announcing itself as name.
// A zero kbps selects DefaultMP3Bitrate.
func NewHTTPHandler(b *Broadcaster, name string, kbps int) *HTTPHandler {
	if kbps <= 0 {
		kbps = DefaultMP3Bitrate
	}
	return &HTTPHandler{
		broadcaster: b,
		name:        name,
		bitrate:     kbps,
		command:     "ffmpeg",
	}
}

// EncoderArgs are the FFmpeg arguments turning raw PCM on stdin into MP3 on stdout.
func EncoderArgs(kbps int) []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", kbps),
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	if _, err := exec.LookPath(h.command); err != nil {
		log.Error().Err(err).Msg("mp3 stream unavailable")
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, h.command, EncoderArgs(h.bitrate)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Error().Err(err).Msg("mp3 stream: stdin pipe")
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Error().Err(err).Msg("mp3 stream: stdout pipe")
		return
	}
	if err := cmd.Start(); err != nil {
		log.Error().Err(err).Msg("mp3 stream: ffmpeg start")
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("ICY-Name", h.name)

	listener := h.broadcaster.Subscribe("http")
	defer h.broadcaster.Unsubscribe(listener)

	log.Info().
		Str("listener", listener.ID).
		Str("remote", r.RemoteAddr).
		Int("total", h.broadcaster.ListenerCount()).
		Msg("mp3 listener connected")
	defer log.Info().Str("listener", listener.ID).Msg("mp3 listener disconnected")

	go pumpPCM(ctx, listener, stdin)

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Msg("mp3 stream: ffmpeg read")
			}
			break
		}
	}

	cancel()
	_ = cmd.Wait()
}

// pumpPCM feeds listener frames to the encoder until either side goes away.
func pumpPCM(ctx context.Context, l *Listener, dst io.WriteCloser) {
	defer dst.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Done():
			return
		case frame := <-l.C:
			if _, err := dst.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}
