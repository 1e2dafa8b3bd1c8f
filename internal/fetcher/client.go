package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=fetcher_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customises a fetcher's transport.
type Option func(*httpSource)

// WithBaseURL overrides the provider base URL.
func WithBaseURL(baseURL string) Option {
	return func(s *httpSource) {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client HTTPClient) Option {
	return func(s *httpSource) {
		s.client = client
	}
}

// WithClock sets the clock used to stamp quotes.
func WithClock(now func() time.Time) Option {
	return func(s *httpSource) {
		s.now = now
	}
}

type httpSource struct {
	baseURL   string
	client    HTTPClient
	timeout   time.Duration
	userAgent string
	now       func() time.Time
}

func newHTTPSource(baseURL, userAgent string, timeout time.Duration, options ...Option) *httpSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &httpSource{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		userAgent: strings.TrimSpace(userAgent),
		now:       time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// getJSON issues one GET and decodes the body with numbers kept as json.Number.
func (s *httpSource) getJSON(ctx context.Context, path string, query url.Values, header http.Header) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return doc, nil
}

type errorResponse struct {
	Status struct {
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Status.ErrorMessage != "":
			return fmt.Errorf("provider error (%d): %s", status, apiErr.Status.ErrorMessage)
		case apiErr.Message != "":
			return fmt.Errorf("provider error (%d): %s", status, apiErr.Message)
		case apiErr.Error != "":
			return fmt.Errorf("provider error (%d): %s", status, apiErr.Error)
		}
	}
	body := strings.TrimSpace(string(payload))
	if len(body) > 200 {
		body = body[:200]
	}
	if body != "" {
		return fmt.Errorf("provider error (%d): %s", status, body)
	}
	return fmt.Errorf("provider error (%d)", status)
}
