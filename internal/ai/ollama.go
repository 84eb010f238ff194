package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// OllamaClient talks to a local Ollama server over plain HTTP.
type OllamaClient struct {
	config *ClientConfig
	http   *http.Client

	// deviceOpts is pinned by Load after probing the strategy list and is
	// read-only afterwards.
	deviceOpts map[string]any
	loaded     bool
}

// loadStrategy is one entry of the ordered device fallback chain: full
// accelerator offload, partial offload, then plain CPU. Each entry is
// probed independently; a failure falls through to the next.
type loadStrategy struct {
	name string
	opts map[string]any
}

func deviceStrategies() []loadStrategy {
	return []loadStrategy{
		{name: "gpu-full", opts: map[string]any{"num_gpu": 999}},
		{name: "gpu-partial", opts: map[string]any{"num_gpu": 20}},
		{name: "cpu", opts: map[string]any{"num_gpu": 0}},
	}
}

// NewOllamaClient creates a new Ollama-backed client.
func NewOllamaClient(config *ClientConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "nomic-embed-text"
	}
	if config.GenModel == "" {
		config.GenModel = "qwen2:1.5b-instruct"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	return &OllamaClient{
		config: config,
		http: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
}

// Load walks the device strategy list and pins the first configuration
// under which the generation model answers a one-token warm-up request.
// Probe failures are logged and skipped; only a fully exhausted list is
// an error.
func (c *OllamaClient) Load(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	var lastErr error
	for _, st := range deviceStrategies() {
		if err := c.warmup(ctx, st.opts); err != nil {
			log.Warn().Err(err).
				Str("strategy", st.name).
				Str("model", c.config.GenModel).
				Msg("model load strategy failed, falling back")
			lastErr = err
			continue
		}
		log.Info().Str("strategy", st.name).Str("model", c.config.GenModel).Msg("generation model loaded")
		c.deviceOpts = st.opts
		c.loaded = true
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no load strategies configured")
	}
	return &GenerationError{Op: "load", Err: lastErr}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates an embedding for a single text. Ollama embedding runs
// are deterministic for a pinned model, which the index reuse relies on.
func (c *OllamaClient) Embed(text string) ([]float32, error) {
	body := ollamaEmbedRequest{Model: c.config.EmbedModel, Prompt: text}
	var out ollamaEmbedResponse
	if err := c.post(context.Background(), "/api/embeddings", body, &out); err != nil {
		return nil, fmt.Errorf("ollama embedding: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return out.Embedding, nil
}

// Generate runs a synchronous completion with the pinned device options.
// Sampling (temperature/top-p) is an intentional quality knob, so output
// is stochastic unless the caller pins a seed via options.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	opts := map[string]any{
		"num_predict":    maxNewTokens,
		"temperature":    0.7,
		"top_p":          0.9,
		"repeat_penalty": 1.1,
	}
	for k, v := range c.deviceOpts {
		opts[k] = v
	}
	body := ollamaGenerateRequest{
		Model:   c.config.GenModel,
		Prompt:  prompt,
		Stream:  false,
		Options: opts,
	}
	var out ollamaGenerateResponse
	if err := c.post(ctx, "/api/generate", body, &out); err != nil {
		return "", &GenerationError{Op: "inference", Err: err}
	}
	return out.Response, nil
}

func (c *OllamaClient) Dim() int { return c.config.Dim }

// warmup issues a single-token generation under the given options to
// verify the model actually loads on that device configuration.
func (c *OllamaClient) warmup(ctx context.Context, deviceOpts map[string]any) error {
	opts := map[string]any{"num_predict": 1}
	for k, v := range deviceOpts {
		opts[k] = v
	}
	body := ollamaGenerateRequest{
		Model:   c.config.GenModel,
		Prompt:  "ping",
		Stream:  false,
		Options: opts,
	}
	var out ollamaGenerateResponse
	return c.post(ctx, "/api/generate", body, &out)
}

func (c *OllamaClient) post(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling ollama: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
