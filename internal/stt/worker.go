package stt

import (
	"strings"

	"github.com/charmbracelet/log"
)

// RunWorker owns one engine instance: it consumes chunks from its endpoint
// and forwards recognized fragments. Per-chunk errors are logged and the
// chunk skipped; the worker only terminates when its endpoint is closed
// (shutdown or engine swap), at which point the engine is released.
//
// Whitespace-only and empty results are discarded; everything else is
// forwarded untrimmed, since leading whitespace carries word-boundary
// information.
func RunWorker(engine Engine, chunks <-chan []float32, fragments chan<- string, logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	defer engine.Close()

	for chunk := range chunks {
		text, err := engine.ProcessChunk(chunk)
		if err != nil {
			logger.Warn("inference failed, skipping chunk", "err", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		fragments <- text
	}
	logger.Debug("inference worker exiting, endpoint closed")
}
