package stt

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/jslandau/subtidal/internal/models"
	"github.com/jslandau/subtidal/internal/sherpa"
)

// ParakeetConfig holds construction parameters for the transducer engine.
// The execution provider is a construction parameter, not part of the
// [Engine] contract.
type ParakeetConfig struct {
	ModelDir   string // directory holding the model artifacts
	Provider   string // "cpu", "cuda", "coreml"; empty auto-detects
	NumThreads int    // 0 = cores/3, minimum 1
	Verbose    bool
}

// Parakeet is a streaming RNN-transducer recognizer backed by sherpa-onnx.
// It keeps one online stream alive across chunks and emits the suffix of the
// current hypothesis past its common prefix with the previous one; the
// decoder may restate tail tokens across chunk boundaries, which the caption
// buffer's dedup pass cancels downstream.
type Parakeet struct {
	recognizer *sherpa.OnlineRecognizer
	stream     *sherpa.OnlineStream
	prev       string // hypothesis emitted so far for the current utterance
}

// NewParakeet loads the transducer model. Construction fails when artifacts
// are missing or the recognizer cannot be created; the caller treats that as
// fatal (inference cannot start).
func NewParakeet(cfg ParakeetConfig) (*Parakeet, error) {
	if err := models.Ensure(cfg.ModelDir, models.Artifacts(string(ChoiceParakeet))); err != nil {
		return nil, err
	}

	provider := cfg.Provider
	if provider == "" {
		provider = sherpa.DefaultProvider()
	}
	threads := cfg.NumThreads
	if threads <= 0 {
		threads = max(1, runtime.NumCPU()/3)
	}

	conf := sherpa.OnlineRecognizerConfig{}
	conf.FeatConfig = sherpa.FeatureConfig{SampleRate: 16000, FeatureDim: 80}
	conf.ModelConfig.Transducer = sherpa.OnlineTransducerModelConfig{
		Encoder: filepath.Join(cfg.ModelDir, "encoder.int8.onnx"),
		Decoder: filepath.Join(cfg.ModelDir, "decoder.int8.onnx"),
		Joiner:  filepath.Join(cfg.ModelDir, "joiner.int8.onnx"),
	}
	conf.ModelConfig.Tokens = filepath.Join(cfg.ModelDir, "tokens.txt")
	conf.ModelConfig.NumThreads = threads
	conf.ModelConfig.Provider = provider
	conf.DecodingMethod = "greedy_search"
	conf.EnableEndpoint = 1
	// Endpoint rules: long trailing silence always ends the utterance;
	// shorter silence ends it once something was decoded.
	conf.Rule1MinTrailingSilence = 2.4
	conf.Rule2MinTrailingSilence = 1.2
	conf.Rule3MinUtteranceLength = 30
	if cfg.Verbose {
		conf.ModelConfig.Debug = 1
	}

	recognizer := sherpa.NewOnlineRecognizer(&conf)
	if recognizer == nil {
		return nil, fmt.Errorf("create online recognizer (provider %s)", provider)
	}
	stream := sherpa.NewOnlineStream(recognizer)
	if stream == nil {
		sherpa.DeleteOnlineRecognizer(recognizer)
		return nil, fmt.Errorf("create online stream")
	}

	return &Parakeet{recognizer: recognizer, stream: stream}, nil
}

// SampleRate returns the rate the engine consumes.
func (p *Parakeet) SampleRate() int {
	return 16000
}

// ProcessChunk feeds one chunk and returns the newly recognized fragment, or
// "" when nothing new was decoded. A leading space on the fragment marks a
// word boundary; its absence continues the previous word.
func (p *Parakeet) ProcessChunk(pcm []float32) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	p.stream.AcceptWaveform(p.SampleRate(), pcm)
	for p.recognizer.IsReady(p.stream) {
		p.recognizer.Decode(p.stream)
	}

	text := p.recognizer.GetResult(p.stream).Text
	fragment := hypothesisDelta(p.prev, text)
	p.prev = text

	if p.recognizer.IsEndpoint(p.stream) {
		p.recognizer.Reset(p.stream)
		p.prev = ""
	}

	return fragment, nil
}

// Close releases the recognizer and its stream.
func (p *Parakeet) Close() {
	if p.stream != nil {
		sherpa.DeleteOnlineStream(p.stream)
		p.stream = nil
	}
	if p.recognizer != nil {
		sherpa.DeleteOnlineRecognizer(p.recognizer)
		p.recognizer = nil
	}
}

// hypothesisDelta returns the part of cur past its longest common prefix
// with prev. When the decoder rewrote the hypothesis from the start, the
// delta is the full text with a word boundary restored so it cannot be
// glued onto the previous utterance's last word.
func hypothesisDelta(prev, cur string) string {
	if cur == "" {
		return ""
	}
	p := 0
	for p < len(prev) && p < len(cur) && prev[p] == cur[p] {
		p++
	}
	fragment := cur[p:]
	if fragment == "" {
		return ""
	}
	if p == 0 && !strings.HasPrefix(fragment, " ") {
		fragment = " " + fragment
	}
	return fragment
}
