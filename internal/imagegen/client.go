// Package imagegen generates visual assets through a Flux-style image API
// that speaks the OpenAI images wire format.
package imagegen

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pitchforge/engine/internal/resilience"
)

// ErrGenerationFailed wraps any unrecoverable image generation failure so
// callers can degrade gracefully instead of failing a submission.
var ErrGenerationFailed = errors.New("image generation failed")

// Client calls the image endpoint and writes results into an output
// directory served as static assets.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	outDir   string
	httpc    *http.Client
	breaker  *resilience.Breaker
	retry    resilience.RetryPolicy
}

func NewClient(endpoint, apiKey, model, outDir string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		outDir:   outDir,
		httpc:    &http.Client{Timeout: 90 * time.Second},
		breaker:  resilience.NewBreaker("imagegen", 3, 120*time.Second),
		retry: resilience.RetryPolicy{
			MaxRetries: 1,
			BaseDelay:  2 * time.Second,
			MaxDelay:   5 * time.Second,
			Multiplier: 2,
		},
	}
}

type wireRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	AspectRatio    string `json:"aspect_ratio"`
	ResponseFormat string `json:"response_format"`
}

type wireResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Generate renders one image for the prompt and returns the URL path of the
// saved file.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: API key not configured", ErrGenerationFailed)
	}

	raw, err := resilience.Retry(ctx, c.retry, c.breaker, transientHTTP, func(ctx context.Context) ([]byte, error) {
		return c.call(ctx, prompt)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	name, err := c.save(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return "/generated/" + name, nil
}

func (c *Client) call(ctx context.Context, prompt string) ([]byte, error) {
	body, err := json.Marshal(wireRequest{
		Model:          c.model,
		Prompt:         prompt,
		N:              1,
		AspectRatio:    "21:9",
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode, body: string(respBody)}
	}

	var decoded wireResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Data) == 0 || decoded.Data[0].B64JSON == "" {
		return nil, errors.New("response carried no image data")
	}
	return base64.StdEncoding.DecodeString(decoded.Data[0].B64JSON)
}

func (c *Client) save(image []byte) (string, error) {
	if err := os.MkdirAll(c.outDir, 0o755); err != nil {
		return "", err
	}
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	name := "pitch_" + hex.EncodeToString(suffix) + ".png"
	if err := os.WriteFile(filepath.Join(c.outDir, name), image, 0o644); err != nil {
		return "", err
	}
	return name, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("image API returned %d: %s", e.status, e.body)
}

func transientHTTP(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	return !errors.Is(err, context.Canceled)
}
