package stt

import (
	"sync"
	"time"
)

// sinkRetryDelay is how long the bridge yields when the installed endpoint
// is full (engine busy or swap in progress) before retrying.
const sinkRetryDelay = 2 * time.Millisecond

// Sink is the replaceable send endpoint between the audio bridge and the
// inference worker. The bridge is the only sender; the engine-swap
// coordinator is the only writer of the endpoint itself. The mutex is held
// only for a non-blocking send attempt or a pointer-style replacement, so a
// swap delays the bridge by at most one chunk.
type Sink struct {
	mu       sync.Mutex
	ch       chan []float32
	shutdown bool
}

// NewSink creates a sink with a fresh endpoint. The buffer absorbs short
// engine stalls (8 chunks ≈ 1.3s of audio).
func NewSink() *Sink {
	return &Sink{ch: make(chan []float32, 8)}
}

// Endpoint returns the currently installed receive endpoint. The first
// inference worker consumes from this.
func (s *Sink) Endpoint() <-chan []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Send delivers one chunk to the current endpoint, yielding briefly and
// retrying while it is full. Returns false once the sink has shut down; the
// chunk is only discarded in that case.
func (s *Sink) Send(chunk []float32) bool {
	for {
		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			return false
		}
		select {
		case s.ch <- chunk:
			s.mu.Unlock()
			return true
		default:
		}
		s.mu.Unlock()
		time.Sleep(sinkRetryDelay)
	}
}

// Replace installs a new endpoint and returns the previous one. The caller
// closes the returned channel, which terminates the worker bound to it; no
// chunk sent before Replace reaches the new endpoint and none sent after
// reaches the old one. Returns nil when the sink has already shut down, in
// which case the caller closes its own channel instead.
func (s *Sink) Replace(ch chan []float32) chan []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil
	}
	old := s.ch
	s.ch = ch
	return old
}

// Shutdown closes the current endpoint and makes all further sends fail.
func (s *Sink) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	ch := s.ch
	s.mu.Unlock()
	close(ch)
}
