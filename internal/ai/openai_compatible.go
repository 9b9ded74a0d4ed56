package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"intellixdoc/internal/pkg/vecmath"
)

// OpenAICompatibleClient talks to any /chat/completions + /embeddings API:
// OpenAI, Groq, Ollama's compatibility endpoint and similar.
type OpenAICompatibleClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
}

func NewOpenAICompatibleClient(baseURL, apiKey string, timeout time.Duration, requestsPerSecond float64) *OpenAICompatibleClient {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &OpenAICompatibleClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

func (c *OpenAICompatibleClient) post(ctx context.Context, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s response status %d: %s", path, resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s json failed: %w", path, err)
	}
	return nil
}

func (c *OpenAICompatibleClient) Complete(ctx context.Context, model string, temperature float32, messages []ChatMessage) (string, error) {
	reqBody := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"temperature": temperature,
		"stream":      false,
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, "/chat/completions", reqBody, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("empty llm choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Embeddings returns one vector per input, ordered by the response's index
// field rather than by arrival.
func (c *OpenAICompatibleClient) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"model": model,
		"input": inputs,
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/embeddings", reqBody, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(parsed.Data), len(inputs))
	}
	sort.SliceStable(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	out := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		out[i] = parsed.Data[i].Embedding
	}
	return out, nil
}

type OpenAIGenerator struct {
	client      *OpenAICompatibleClient
	model       string
	temperature float32
}

func NewOpenAIGenerator(client *OpenAICompatibleClient, model string, temperature float32) *OpenAIGenerator {
	return &OpenAIGenerator{client: client, model: model, temperature: temperature}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	out, err := g.client.Complete(ctx, g.model, g.temperature, prompt.Messages())
	if err != nil {
		return "", &GenerationError{Provider: "openai", Err: err}
	}
	return out, nil
}

func (g *OpenAIGenerator) Model() string { return g.model }
func (g *OpenAIGenerator) Close() error  { return nil }

type OpenAIEmbedder struct {
	client    *OpenAICompatibleClient
	model     string
	dimension int
}

func NewOpenAIEmbedder(client *OpenAICompatibleClient, model string, dimension int) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: model, dimension: dimension}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, ErrEmptyInput
		}
	}
	vecs, err := e.client.Embeddings(ctx, e.model, texts)
	if err != nil {
		return nil, fmt.Errorf("openai embed batch failed: %w", err)
	}
	for _, v := range vecs {
		if err := vecmath.Check("embedding model "+e.model, v, e.dimension); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }
func (e *OpenAIEmbedder) Model() string  { return e.model }
func (e *OpenAIEmbedder) Close() error   { return nil }
