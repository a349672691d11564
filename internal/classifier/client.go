package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/samijaber1/cellguard/internal/metrics"
)

// Config holds classifier client configuration
type Config struct {
	URL            string
	Timeout        time.Duration
	MaxConcurrency int64
	RetryCount     int
	RetryDelay     time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig(classifierURL string) Config {
	return Config{
		URL:            classifierURL,
		Timeout:        5 * time.Second,
		MaxConcurrency: 10,
		RetryCount:     1,
		RetryDelay:     100 * time.Millisecond,
	}
}

// HTTPClient calls a remote classifier service.
type HTTPClient struct {
	config Config
	client *http.Client
	sem    *semaphore.Weighted
}

// NewHTTPClient creates a client for the classifier at config.URL.
func NewHTTPClient(config Config) *HTTPClient {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	return &HTTPClient{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		sem: semaphore.NewWeighted(config.MaxConcurrency),
	}
}

// Classify implements Classifier by POSTing req to /classify.
func (c *HTTPClient) Classify(ctx context.Context, req Request) (Response, error) {
	resp, err := c.classify(ctx, req)
	metrics.ObserveClassifier(err)
	return resp, err
}

func (c *HTTPClient) classify(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	// Acquire semaphore to limit concurrency
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Response{}, fmt.Errorf("semaphore acquire: %w", err)
	}
	defer c.sem.Release(1)

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Response{}, fmt.Errorf("classify: %w", ctx.Err())
			case <-time.After(c.config.RetryDelay):
			}
		}

		resp, err := c.post(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}

	return Response{}, fmt.Errorf("classifier failed after %d attempts: %w", c.config.RetryCount+1, lastErr)
}

// post performs a single classify request
func (c *HTTPClient) post(ctx context.Context, body []byte) (Response, error) {
	url := strings.TrimSuffix(c.config.URL, "/") + "/classify"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, fmt.Errorf("classifier_error status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, fmt.Errorf("parse response: %w", err)
	}
	return out, nil
}
