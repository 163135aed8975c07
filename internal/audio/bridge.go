package audio

import (
	"time"

	"github.com/charmbracelet/log"
)

// ChunkSink receives 2560-sample inference chunks from the bridge. Send
// blocks until the chunk is accepted or the pipeline is shutting down, in
// which case it returns false.
type ChunkSink interface {
	Send(chunk []float32) bool
}

// Bridge decouples the real-time capture producer from the potentially slow
// inference consumer: it drains the ring, feeds the resampler, and forwards
// each complete chunk to the currently installed sink endpoint. It is the
// only consumer of the ring and the only producer to the sink.
type Bridge struct {
	ring      *Ring
	resampler *Resampler
	sink      ChunkSink
	logger    *log.Logger
}

// NewBridge wires a bridge between the capture ring and the inference sink.
func NewBridge(ring *Ring, sink ChunkSink, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	return &Bridge{
		ring:      ring,
		resampler: NewResampler(),
		sink:      sink,
		logger:    logger,
	}
}

// Run drains the ring until the producer closes it and the remaining samples
// are consumed. It sleeps briefly when the ring is empty; it never discards
// a produced chunk unless the sink reports shutdown.
func (b *Bridge) Run() error {
	buf := make([]float32, WindowFrames)

	for {
		n := b.ring.Read(buf)
		if n == 0 {
			if b.ring.Closed() {
				b.resampler.Flush()
				b.logger.Debug("bridge exiting, capture ring closed")
				return nil
			}
			time.Sleep(5 * time.Millisecond)
			continue
		}

		for _, chunk := range b.resampler.Push(buf[:n]) {
			if !b.sink.Send(chunk) {
				b.logger.Debug("bridge exiting, sink shut down")
				return nil
			}
		}
	}
}
