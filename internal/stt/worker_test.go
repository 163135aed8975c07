package stt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEngine replays canned results, one per chunk.
type scriptedEngine struct {
	results []string
	errAt   int // 1-based chunk index that fails; 0 = never
	calls   int
	closed  bool
}

func (e *scriptedEngine) SampleRate() int { return 16000 }

func (e *scriptedEngine) ProcessChunk(pcm []float32) (string, error) {
	e.calls++
	if e.errAt == e.calls {
		return "", errors.New("decode failed")
	}
	if e.calls <= len(e.results) {
		return e.results[e.calls-1], nil
	}
	return "", nil
}

func (e *scriptedEngine) Close() { e.closed = true }

func runScripted(t *testing.T, engine *scriptedEngine, chunkCount int) []string {
	t.Helper()

	chunks := make(chan []float32, chunkCount)
	for i := 0; i < chunkCount; i++ {
		chunks <- make([]float32, ChunkSamples)
	}
	close(chunks)

	fragments := make(chan string, chunkCount)
	RunWorker(engine, chunks, fragments, nil)
	close(fragments)

	var got []string
	for f := range fragments {
		got = append(got, f)
	}
	return got
}

func TestWorkerForwardsFragmentsUntrimmed(t *testing.T) {
	engine := &scriptedEngine{results: []string{" Hello", "", " wor", "ld"}}

	got := runScripted(t, engine, 4)

	// Leading whitespace carries word-boundary information and survives.
	assert.Equal(t, []string{" Hello", " wor", "ld"}, got)
	assert.True(t, engine.closed, "engine released when endpoint closes")
}

func TestWorkerDiscardsWhitespaceOnly(t *testing.T) {
	engine := &scriptedEngine{results: []string{"  ", "\t", " ok", ""}}

	got := runScripted(t, engine, 4)

	assert.Equal(t, []string{" ok"}, got)
}

func TestWorkerSkipsFailedChunks(t *testing.T) {
	engine := &scriptedEngine{results: []string{" one", " two", " three"}, errAt: 2}

	got := runScripted(t, engine, 3)

	// The failing chunk is skipped; the worker does not terminate.
	assert.Equal(t, []string{" one", " three"}, got)
	require.Equal(t, 3, engine.calls)
}
