package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dialogd/pkg/logger"
)

// ErrUnavailable is returned when the generation backend cannot be
// reached, times out or answers with a non-success status.
var ErrUnavailable = errors.New("generation backend unavailable")

// Generator produces one or more candidate continuations for a rendered
// prompt. The backend is opaque; retries belong to the caller's transport
// layer, not here.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]string, error)
}

// Client talks to a remote generation API over HTTP.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient returns a client for the backend at baseURL. The timeout
// bounds every Generate call; zero means 180s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Texts []string `json:"texts"`
}

// Generate posts the prompt to the backend and returns its candidate
// texts in proposal order.
func (c *Client) Generate(ctx context.Context, prompt string) ([]string, error) {
	body, err := json.Marshal(generateRequest{Text: prompt})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.hc.Do(req)
	if err != nil {
		logger.Error("generate_request_failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		logger.Error("generate_bad_status", "status", res.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, res.StatusCode)
	}
	var out generateResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrUnavailable, err)
	}
	if len(out.Texts) == 0 {
		return nil, fmt.Errorf("%w: backend returned no candidates", ErrUnavailable)
	}
	logger.Info("generate_ok", "candidates", len(out.Texts), "duration_ms", time.Since(start).Milliseconds())
	return out.Texts, nil
}
