package audio

import "math"

// firDecimator downsamples a single audio channel by an integer factor using
// a windowed-sinc low-pass filter. Filtering before decimation prevents
// aliasing artifacts when going 48kHz -> 16kHz for speech recognition.
// Uses a 64-tap sinc filter with Hamming window for a good quality/cost balance.
type firDecimator struct {
	factor    int       // integer decimation factor
	filterLen int       // FIR filter length (64 taps)
	filter    []float32 // low-pass filter coefficients
	history   []float32 // trailing input samples carried across calls
	combined  []float32 // scratch: history + current input
}

// newFIRDecimator creates a decimator for the given integer factor.
// Filter cutoff is set to the output Nyquist frequency.
func newFIRDecimator(factor int) *firDecimator {
	filterLen := 64
	cutoff := 0.5 / float64(factor)

	filter := make([]float32, filterLen)
	for i := 0; i < filterLen; i++ {
		n := float64(i) - float64(filterLen-1)/2.0
		if n == 0 {
			filter[i] = float32(2.0 * cutoff)
		} else {
			// Sinc function
			sinc := math.Sin(2.0*math.Pi*cutoff*n) / (math.Pi * n)
			// Hamming window
			window := 0.54 - 0.46*math.Cos(2.0*math.Pi*float64(i)/float64(filterLen-1))
			filter[i] = float32(sinc * window)
		}
	}

	// Normalize coefficients for unity DC gain
	sum := float32(0.0)
	for _, f := range filter {
		sum += f
	}
	for i := range filter {
		filter[i] /= sum
	}

	return &firDecimator{
		factor:    factor,
		filterLen: filterLen,
		filter:    filter,
		history:   make([]float32, filterLen),
	}
}

// process filters and decimates input, appending the result to out.
// Output length is len(input)/factor. Filter history carries over so
// consecutive calls behave like one continuous stream.
func (d *firDecimator) process(input []float32, out []float32) []float32 {
	inputLen := len(input)
	if inputLen == 0 {
		return out
	}
	outputLen := inputLen / d.factor

	need := len(d.history) + inputLen
	if cap(d.combined) < need {
		d.combined = make([]float32, need)
	}
	combined := d.combined[:need]
	copy(combined, d.history)
	copy(combined[len(d.history):], input)

	for i := 0; i < outputLen; i++ {
		srcIdx := i*d.factor + len(d.history)

		// Apply FIR filter over the filterLen samples ending at srcIdx
		sample := float32(0.0)
		for j := 0; j < d.filterLen; j++ {
			idx := srcIdx - d.filterLen + 1 + j
			if idx >= 0 && idx < len(combined) {
				sample += combined[idx] * d.filter[j]
			}
		}
		out = append(out, sample)
	}

	// Carry the last filterLen input samples into the next call
	if inputLen >= d.filterLen {
		copy(d.history, input[inputLen-d.filterLen:])
	} else {
		shift := d.filterLen - inputLen
		copy(d.history, d.history[inputLen:])
		copy(d.history[shift:], input)
	}

	return out
}

// reset clears the filter history (used by the resampler's Flush).
func (d *firDecimator) reset() {
	for i := range d.history {
		d.history[i] = 0
	}
}
