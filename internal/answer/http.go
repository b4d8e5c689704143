package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultTimeout bounds one answer call when none is configured.
	DefaultTimeout = 60 * time.Second

	// maxBodyBytes caps how much of an upstream response is read.
	maxBodyBytes = 1 << 20

	// maxDiagnosticBody caps the body kept on UpstreamError.
	maxDiagnosticBody = 2048
)

// HTTPClient calls an external answer service with
// POST {url} {"question": ..., "document": ...} and expects {"answer": ...}.
// It is safe for concurrent use.
type HTTPClient struct {
	// url is the answer endpoint.
	url string
	// timeout bounds each call.
	timeout time.Duration
	// client is the shared HTTP client.
	client *http.Client
}

// NewHTTPClient constructs an HTTPClient for url. A zero timeout uses
// DefaultTimeout.
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// answerRequest is the JSON body sent to the answer service.
type answerRequest struct {
	Question string `json:"question"`
	Document string `json:"document"`
}

// answerResponse is the JSON body expected from the answer service.
type answerResponse struct {
	Answer *string `json:"answer"`
}

// Answer implements Answerer.
func (c *HTTPClient) Answer(ctx context.Context, question, document string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(answerRequest{Question: question, Document: document})
	if err != nil {
		return "", fmt.Errorf("answer: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("answer: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &UpstreamError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UpstreamError{Status: resp.StatusCode, Body: truncateBody(data)}
	}

	var out answerResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Answer == nil {
		return "", fmt.Errorf("%w: missing \"answer\" field in %s", ErrMalformedResponse, truncateBody(data))
	}
	if strings.TrimSpace(*out.Answer) == "" {
		return "", fmt.Errorf("%w: empty answer", ErrMalformedResponse)
	}
	return *out.Answer, nil
}

// Name identifies the answer service in readiness reports.
func (c *HTTPClient) Name() string { return "answer_service" }

// Ping checks that the answer service is reachable. Any HTTP response counts
// as reachable: the endpoint only accepts POST, so a GET is expected to be
// rejected with 404 or 405.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("answer: create probe: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("answer: service unreachable: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("answer: service returned %d", resp.StatusCode)
	}
	return nil
}

// truncateBody renders at most maxDiagnosticBody bytes of body, cut on a
// rune boundary.
func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= maxDiagnosticBody {
		return s
	}
	cut := maxDiagnosticBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
