// Package audio provides audio capture, buffering, and resampling for the
// caption pipeline: a malgo-backed capture worker feeding a lock-free ring,
// and a bridge that resamples the ring's contents into fixed inference chunks.
package audio

const (
	// CaptureRate is the sample rate requested from the audio backend.
	CaptureRate = 48000

	// TargetRate is the sample rate the speech engine consumes.
	TargetRate = 16000

	// WindowFrames is the number of stereo frames converted at a time.
	// 48000/16000 is exactly 3:1, so one window yields exactly ChunkSamples
	// mono samples, giving a stable 160ms chunk cadence.
	WindowFrames = 7680

	// ChunkSamples is the length of one inference chunk: 160ms at 16kHz.
	ChunkSamples = 2560
)

// Resampler converts interleaved 48kHz stereo float samples into contiguous
// 160ms chunks of 16kHz mono. Input accumulates until a full window of
// WindowFrames stereo frames is available; each window is deinterleaved,
// each channel decimated 3:1 through an anti-aliasing filter, and the
// channels downmixed by arithmetic mean. Whole chunks are drained from the
// mono accumulator; the remainder waits for the next window.
//
// Not safe for concurrent use; the bridge worker is the only caller.
type Resampler struct {
	pending []float32 // interleaved stereo accumulator
	mono    []float32 // mono output accumulator
	left    *firDecimator
	right   *firDecimator
	chL     []float32 // scratch: deinterleaved left channel
	chR     []float32 // scratch: deinterleaved right channel
	outL    []float32 // scratch: decimated left channel
	outR    []float32 // scratch: decimated right channel
}

// NewResampler creates a resampler for the fixed 48kHz stereo -> 16kHz mono
// conversion used by the pipeline.
func NewResampler() *Resampler {
	factor := CaptureRate / TargetRate
	return &Resampler{
		left:  newFIRDecimator(factor),
		right: newFIRDecimator(factor),
		chL:   make([]float32, 0, WindowFrames),
		chR:   make([]float32, 0, WindowFrames),
	}
}

// Push ingests interleaved stereo samples and returns zero or more complete
// 2560-sample mono chunks. Each returned chunk is freshly allocated and owned
// by the caller.
func (r *Resampler) Push(samples []float32) [][]float32 {
	r.pending = append(r.pending, samples...)

	var chunks [][]float32
	for len(r.pending) >= WindowFrames*2 {
		r.convertWindow(r.pending[:WindowFrames*2])
		r.pending = r.pending[:copy(r.pending, r.pending[WindowFrames*2:])]
		chunks = r.drain(chunks)
	}
	return chunks
}

// Flush converts whatever partial window remains and returns the mono
// remainder (shorter than one chunk unless input arrived since the last
// Push). The bridge calls it at shutdown; resets filter state.
func (r *Resampler) Flush() []float32 {
	frames := len(r.pending) / 2
	if frames > 0 {
		r.convertWindow(r.pending[:frames*2])
	}
	out := r.mono
	r.mono = nil
	r.pending = r.pending[:0]
	r.left.reset()
	r.right.reset()
	return out
}

// convertWindow deinterleaves one window, decimates each channel, and
// appends the downmixed result to the mono accumulator.
func (r *Resampler) convertWindow(window []float32) {
	frames := len(window) / 2
	r.chL = r.chL[:0]
	r.chR = r.chR[:0]
	for i := 0; i < frames; i++ {
		r.chL = append(r.chL, window[2*i])
		r.chR = append(r.chR, window[2*i+1])
	}

	r.outL = r.left.process(r.chL, r.outL[:0])
	r.outR = r.right.process(r.chR, r.outR[:0])

	for i := range r.outL {
		r.mono = append(r.mono, (r.outL[i]+r.outR[i])/2)
	}
}

// drain moves whole chunks out of the mono accumulator.
func (r *Resampler) drain(chunks [][]float32) [][]float32 {
	for len(r.mono) >= ChunkSamples {
		chunk := make([]float32, ChunkSamples)
		copy(chunk, r.mono[:ChunkSamples])
		r.mono = r.mono[:copy(r.mono, r.mono[ChunkSamples:])]
		chunks = append(chunks, chunk)
	}
	return chunks
}
