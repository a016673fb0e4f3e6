package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// sseWriter frames server-sent events and keeps the connection alive
// with periodic keepalive events while the model computes.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

// newSSEWriter prepares the response for streaming and starts the
// keepalive ticker. Callers must Close on every exit path.
func newSSEWriter(w http.ResponseWriter, keepalive time.Duration) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s := &sseWriter{
		w:       w,
		flusher: flusher,
		stop:    make(chan struct{}),
	}

	if keepalive > 0 {
		go s.keepaliveLoop(keepalive)
	}
	return s, nil
}

func (s *sseWriter) keepaliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			_, err := fmt.Fprint(s.w, "event: keepalive\ndata: {}\n\n")
			if err == nil {
				s.flusher.Flush()
			}
			s.mu.Unlock()
		}
	}
}

// Send writes one event with a JSON payload.
func (s *sseWriter) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close stops the keepalive loop. Safe to call more than once.
func (s *sseWriter) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}
