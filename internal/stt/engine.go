// Package stt provides the speech-recognition engine contract, the
// sherpa-onnx streaming transducer implementation, and the inference worker
// plumbing (replaceable chunk sink, worker loop).
package stt

import (
	"fmt"
	"strings"
)

// ChunkSamples is the fixed length of one inference chunk (160ms at 16kHz).
const ChunkSamples = 2560

// Engine is the minimal contract between the pipeline and a recognizer.
// ProcessChunk consumes exactly one 2560-sample mono chunk at SampleRate and
// returns the recognized fragment, or "" when more audio is needed. A
// fragment's leading whitespace marks a word boundary and must be preserved
// by callers.
//
// Engines are owned by a single inference worker and need not be safe for
// concurrent use.
type Engine interface {
	SampleRate() int
	ProcessChunk(pcm []float32) (string, error)
	Close()
}

// Choice names an engine variant. There is currently one variant; the enum
// stays open so additional engines can be added as new implementations of
// the [Engine] contract.
type Choice string

const (
	// ChoiceParakeet is a streaming RNN-transducer model (~600M parameters)
	// running on ONNX Runtime, GPU-accelerated where available.
	ChoiceParakeet Choice = "parakeet"
)

// DefaultChoice is the engine used when the configuration names none.
const DefaultChoice = ChoiceParakeet

// Choices lists the known engine variants.
func Choices() []Choice {
	return []Choice{ChoiceParakeet}
}

// ParseChoice validates an engine name from configuration or the command
// line.
func ParseChoice(s string) (Choice, error) {
	for _, c := range Choices() {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown engine %q (valid: %s)", s, joinChoices())
}

func joinChoices() string {
	names := make([]string, 0, len(Choices()))
	for _, c := range Choices() {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}
