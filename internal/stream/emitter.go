// Package stream writes and reads Server-Sent Event streams of JSON objects.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

var (
	// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
	ErrStreamingUnsupported = errors.New("streaming not supported")
	// ErrEnded is returned by Send after End.
	ErrEnded = errors.New("stream ended")
)

// Emitter frames JSON payloads as SSE "data:" events on an HTTP response.
// It writes straight to the transport, so a slow client slows the producer.
type Emitter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu      sync.Mutex
	started bool
	ended   bool
}

// NewEmitter wraps w. It fails when w does not implement http.Flusher.
func NewEmitter(w http.ResponseWriter) (*Emitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &Emitter{w: w, flusher: flusher}, nil
}

// Start writes the SSE headers. Send calls it implicitly.
func (e *Emitter) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startLocked()
}

func (e *Emitter) startLocked() {
	if e.started {
		return
	}
	e.started = true
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering
	e.w.WriteHeader(http.StatusOK)
	e.flusher.Flush()
}

// Send writes v as one event and flushes it. A returned write error means
// the client is gone.
func (e *Emitter) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return ErrEnded
	}
	e.startLocked()

	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}
	e.flusher.Flush()
	return nil
}

// End marks the stream finished. Only the first call has an effect.
// It reports whether this call ended the stream.
func (e *Emitter) End() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return false
	}
	e.startLocked()
	e.ended = true
	return true
}

// Ended reports whether End was called.
func (e *Emitter) Ended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ended
}

// Pump sends every event from events to e and ends the stream.
//
// On the first write failure, or when ctx is done, Pump calls cancel so the
// producer stops, then drains events until the producer closes it. It
// returns the number of events sent and the write error, if any.
func Pump[T any](ctx context.Context, cancel context.CancelFunc, e *Emitter, events <-chan T) (int, error) {
	defer e.End()

	sent := 0
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return sent, nil
			}
			if err := e.Send(ev); err != nil {
				cancel()
				drain(events)
				return sent, err
			}
			sent++
		case <-ctx.Done():
			cancel()
			drain(events)
			return sent, nil
		}
	}
}

func drain[T any](events <-chan T) {
	for range events {
	}
}
