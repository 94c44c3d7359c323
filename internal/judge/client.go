// Package judge is the HTTP client for the external AI judging service. It
// speaks the Anthropic messages wire format and reports token usage with
// every response.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Usage is the token accounting attached to every judge response.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add accumulates another stage's usage.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// ImageAttachment is base64 evidence sent alongside a prompt.
type ImageAttachment struct {
	Data      string
	MediaType string
}

// Request is one generation call to the judge.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	Images      []ImageAttachment
}

// APIError is a non-2xx response from the judge service.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("judge API error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// IsRetryable classifies transient failures: network timeouts, rate limiting
// and server-side errors. Credential failures are never retryable.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsAuthError reports a credential failure, which must surface immediately.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
	}
	return false
}

// Client calls the judge endpoint over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	httpc    *http.Client
}

func NewClient(endpoint, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		httpc:    &http.Client{Timeout: timeout},
	}
}

type wireContent struct {
	Type   string      `json:"type"`
	Text   string      `json:"text,omitempty"`
	Source *wireSource `json:"source,omitempty"`
}

type wireSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []wireMessage `json:"messages"`
}

type wireResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage Usage `json:"usage"`
}

// Generate sends one request and returns the raw text plus token usage.
func (c *Client) Generate(ctx context.Context, req Request) (string, Usage, error) {
	if c.apiKey == "" {
		return "", Usage{}, errors.New("judge API key not configured")
	}

	content := make([]wireContent, 0, len(req.Images)+1)
	for _, img := range req.Images {
		mediaType := img.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		content = append(content, wireContent{
			Type:   "image",
			Source: &wireSource{Type: "base64", MediaType: mediaType, Data: img.Data},
		})
	}
	content = append(content, wireContent{Type: "text", Text: req.Prompt})

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	body, err := json.Marshal(wireRequest{
		Model:       c.model,
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Messages:    []wireMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshal judge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("create judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", "2023-06-01")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", Usage{}, fmt.Errorf("execute judge request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("read judge response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", Usage{}, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var decoded wireResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", Usage{}, fmt.Errorf("decode judge response: %w", err)
	}
	if len(decoded.Content) == 0 {
		return "", decoded.Usage, errors.New("judge response carried no content")
	}
	return decoded.Content[0].Text, decoded.Usage, nil
}
