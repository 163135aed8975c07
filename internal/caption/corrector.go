package caption

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// correctorPrompt instructs the model to behave as a pure text filter.
const correctorPrompt = "You repair live caption lines. Fix casing and punctuation of the " +
	"given line without adding, removing, or reordering words. Reply with the " +
	"corrected line only, with no quotes and no commentary."

// Corrector repairs punctuation and casing of completed caption lines using
// a local Ollama model. It runs off the real-time path: the caller invokes
// it only when a line has stopped changing, and drops the result if the line
// has since been evicted.
type Corrector struct {
	client *api.Client
	model  string
}

// CorrectorConfig holds corrector construction parameters.
type CorrectorConfig struct {
	Host  string // Ollama API URL, e.g. "http://localhost:11434"
	Model string // model name, e.g. "gemma3:1b"
}

// NewCorrector creates an Ollama-backed corrector. The HTTP client is tuned
// for low-latency repeated requests to a local server.
func NewCorrector(cfg CorrectorConfig) (*Corrector, error) {
	host := strings.TrimSuffix(cfg.Host, "/")
	parsedURL, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Corrector{
		client: api.NewClient(parsedURL, httpClient),
		model:  cfg.Model,
	}, nil
}

// Correct returns the repaired line. The original is returned unchanged when
// the model's answer is empty or changes the word sequence.
func (c *Corrector) Correct(ctx context.Context, line string) (string, error) {
	if strings.TrimSpace(line) == "" {
		return line, nil
	}

	stream := false
	var response api.ChatResponse
	err := c.client.Chat(ctx, &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "system", Content: correctorPrompt},
			{Role: "user", Content: line},
		},
		Stream: &stream,
		Options: map[string]any{
			"temperature": 0.0,
			"num_predict": 80,
			"num_ctx":     512,
		},
	}, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return line, fmt.Errorf("correction request failed: %w", err)
	}

	corrected := strings.TrimSpace(response.Message.Content)
	if corrected == "" || !sameWords(line, corrected) {
		return line, nil
	}
	return corrected, nil
}

// HealthCheck verifies the Ollama server is reachable.
func (c *Corrector) HealthCheck(ctx context.Context) error {
	if err := c.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("cannot reach ollama: %w", err)
	}
	return nil
}

// sameWords reports whether two lines contain the same words ignoring case
// and punctuation, guarding against models that rewrite instead of repair.
func sameWords(a, b string) bool {
	na, nb := normalizeWords(a), normalizeWords(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

func normalizeWords(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
