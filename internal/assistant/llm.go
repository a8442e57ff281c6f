package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbd888/dojo/internal/circuitbreaker"
	"github.com/mbd888/dojo/internal/retry"
	"github.com/mbd888/dojo/internal/traces"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrLLMStatus = errors.New("assistant: llm returned an error status")
	ErrLLMEmpty  = errors.New("assistant: llm returned no text")
)

// LLM turns a prompt into text.
type LLM interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// GeminiClient calls the generateContent REST endpoint.
type GeminiClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	policy  retry.Policy
	breaker *circuitbreaker.Breaker
}

// NewGeminiClient creates a client for model at baseURL, e.g.
// https://generativelanguage.googleapis.com/v1beta.
func NewGeminiClient(baseURL, apiKey, model string) *GeminiClient {
	return &GeminiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
		policy:  retry.DefaultPolicy,
		breaker: circuitbreaker.New(3, 2*time.Minute),
	}
}

// WithRetry replaces the retry policy.
func (g *GeminiClient) WithRetry(p retry.Policy) *GeminiClient {
	g.policy = p
	return g
}

// WithBreaker replaces the circuit breaker.
func (g *GeminiClient) WithBreaker(b *circuitbreaker.Breaker) *GeminiClient {
	g.breaker = b
	return g
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate sends prompt as a single user turn and returns the first
// candidate's text.
func (g *GeminiClient) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	ctx, span := traces.StartSpan(ctx, "assistant.llm", attribute.String("llm.model", g.model))

	payload, err := json.Marshal(generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{Temperature: temperature},
	})
	if err != nil {
		traces.End(span, err)
		return "", err
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))

	var text string
	err = g.breaker.Do(g.model, func() error {
		return g.policy.Do(ctx, func() error {
			out, err := g.post(ctx, endpoint, payload)
			text = out
			return err
		})
	})
	traces.End(span, err)
	return text, err
}

func (g *GeminiClient) post(ctx context.Context, endpoint string, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: %d", ErrLLMStatus, resp.StatusCode)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", retry.Permanent(err)
		}
		return "", err
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", retry.Permanent(fmt.Errorf("assistant: decode llm response: %w", err))
	}
	var b strings.Builder
	for _, c := range out.Candidates {
		for _, p := range c.Content.Parts {
			b.WriteString(p.Text)
		}
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return "", retry.Permanent(ErrLLMEmpty)
	}
	return b.String(), nil
}

var _ LLM = (*GeminiClient)(nil)
