// Package fetcher performs single retrievals against the remote analytics service.
// Every request carries a fixed timeout; reads are retried for transient failures only.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 16 << 20

// Config holds the request policy of a Fetcher.
type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:8000/api".
	BaseURL string `yaml:"base_url"`
	// Timeout bounds each individual attempt.
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries is the number of additional attempts after the first for transient failures.
	MaxRetries int `yaml:"max_retries"`
	// InitialBackoff is the wait before the first retry; later waits grow exponentially.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	// MaxBackoff caps a single wait.
	MaxBackoff time.Duration `yaml:"max_backoff"`
	UserAgent  string        `yaml:"user_agent"`
}

// Env constants for overriding the fetch policy.
const (
	EnvAPIURL         = "ANALYTICS_API_URL"
	EnvTimeout        = "FETCH_TIMEOUT"
	EnvMaxRetries     = "FETCH_MAX_RETRIES"
	EnvInitialBackoff = "FETCH_INITIAL_BACKOFF"
)

// DefaultConfig returns the dashboard's request policy: 30s per attempt and two retries.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:8000/api",
		Timeout:        30 * time.Second,
		MaxRetries:     2,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		UserAgent:      "go-dashsync",
	}
}

// LoadConfigWithEnv starts from DefaultConfig and applies any overrides found
// in the environment.
func LoadConfigWithEnv() *Config {
	cfg := DefaultConfig()
	ApplyEnv(cfg)
	return cfg
}

// ApplyEnv overrides cfg from the environment. Unparseable values are ignored.
func ApplyEnv(cfg *Config) {
	if u := os.Getenv(EnvAPIURL); u != "" {
		cfg.BaseURL = u
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv(EnvMaxRetries); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv(EnvInitialBackoff); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.InitialBackoff = d
		}
	}
}

// Fetcher issues HTTP requests against the analytics API.
type Fetcher struct {
	cfg     Config
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// New creates a Fetcher. A nil client uses http.DefaultClient.
func New(cfg *Config, client *http.Client, logger zerolog.Logger) (*Fetcher, error) {
	if cfg == nil {
		return nil, errors.New("fetcher config cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("fetcher base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid fetcher base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("fetcher timeout must be positive")
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.New("fetcher max retries cannot be negative")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		cfg:     *cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		logger:  logger.With().Str("component", "Fetcher").Logger(),
	}, nil
}

// Get retrieves endpoint with the given query parameters. Transient failures are
// retried up to MaxRetries times; client failures and cancellation end immediately.
// Any returned error is a *Failure.
func (f *Fetcher) Get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	attempts := 0
	operation := func() ([]byte, error) {
		attempts++
		body, err := f.do(ctx, http.MethodGet, endpoint, params, nil)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.InitialBackoff
	bo.MaxInterval = f.cfg.MaxBackoff

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(f.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			f.logger.Warn().Err(err).Str("endpoint", endpoint).Dur("backoff", wait).Msg("Transient fetch failure, retrying.")
		}),
	)
	if err != nil {
		failure := asFailure(endpoint, err)
		failure.Attempts = attempts
		f.logger.Debug().Err(failure).Str("endpoint", endpoint).Msg("Fetch failed.")
		return nil, failure
	}
	return body, nil
}

// Post sends a mutation. Mutations are not idempotent so they are never retried.
func (f *Fetcher) Post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, &Failure{Kind: KindClient, Endpoint: endpoint, Attempts: 0, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
	}
	data, err := f.do(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		failure := asFailure(endpoint, err)
		failure.Attempts = 1
		return nil, failure
	}
	return data, nil
}

// do performs one attempt bounded by the configured timeout.
func (f *Fetcher) do(ctx context.Context, method, endpoint string, params url.Values, body []byte) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	target := f.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, reader)
	if err != nil {
		return nil, &Failure{Kind: KindClient, Endpoint: endpoint, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Failure{Kind: KindNetwork, Endpoint: endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Failure{Kind: KindNetwork, Endpoint: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &Failure{
			Kind:     kindForStatus(resp.StatusCode),
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("unexpected status %s: %s", resp.Status, preview(data)),
		}
	}
	return data, nil
}

// asFailure returns err as a *Failure, treating anything unclassified
// (context cancellation during backoff, for one) as a network failure.
func asFailure(endpoint string, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: KindNetwork, Endpoint: endpoint, Err: err}
}

func preview(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// Decode unmarshals body into T and runs validate over the result. Any problem is
// reported as a KindValidation failure so the cache keeps its last good data.
func Decode[T any](endpoint string, body []byte, validate func(*T) error) (T, error) {
	var value T
	if err := json.Unmarshal(body, &value); err != nil {
		var zero T
		return zero, NewValidationFailure(endpoint, fmt.Errorf("malformed response: %w", err))
	}
	if validate != nil {
		if err := validate(&value); err != nil {
			var zero T
			return zero, NewValidationFailure(endpoint, err)
		}
	}
	return value, nil
}
