package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

var ErrStreamClosed = errors.New("sse stream closed")

// SSEWriter frames server-sent events. It is safe for concurrent use so a
// heartbeat goroutine can share it with the turn.
type SSEWriter struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	closed bool
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &SSEWriter{w: w}
}

func (s *SSEWriter) Write(event, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(event, data)
}

func (s *SSEWriter) write(event, data string) error {
	if s.closed {
		return ErrStreamClosed
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}

	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}

	return nil
}

// WriteJSON writes v as the data of one event.
func (s *SSEWriter) WriteJSON(event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	return s.Write(event, string(data))
}

// Close writes the terminal [DONE] frame. Later writes fail.
func (s *SSEWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.write("", "[DONE]")
	s.closed = true
	return err
}
