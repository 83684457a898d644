// File: internal/captcha/client.go
// Package captcha integrates an external solving service speaking the
// 2Captcha wire protocol (in.php submission, res.php polling).
package captcha

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// notReady is the service's poll sentinel, returned until a worker has
// produced a token. The misspelling is part of the protocol.
const notReady = "CAPCHA_NOT_READY"

// apiResponse is the envelope both endpoints return when json=1 is set.
// Status 1 means Request holds the payload (task id or token); status 0
// means Request holds an error code.
type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Client solves challenge widgets through the external service. It
// implements the navigator solver contract.
type Client struct {
	apiKey       string
	base         string
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.CaptchaConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("captcha API key is required")
	}
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		return nil, fmt.Errorf("captcha API base URL is required")
	}

	return &Client{
		apiKey:       cfg.APIKey,
		base:         base,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Named("captcha"),
	}, nil
}

// Solve submits the widget to the service and polls until a token is ready.
// family is the widget family reported by detection ("recaptcha",
// "hcaptcha"); anything else is rejected before any network traffic.
func (c *Client) Solve(ctx context.Context, family, siteKey, pageURL string) (string, error) {
	method, keyParam, err := methodFor(family)
	if err != nil {
		return "", err
	}

	log := c.logger.With(zap.String("family", family), zap.String("page_url", pageURL))
	log.Info("Submitting challenge to solving service")

	taskID, err := c.submit(ctx, method, keyParam, siteKey, pageURL)
	if err != nil {
		return "", fmt.Errorf("submitting challenge: %w", err)
	}
	log.Info("Challenge accepted by service", zap.String("task_id", taskID))

	token, err := c.awaitToken(ctx, taskID)
	if err != nil {
		return "", err
	}
	log.Info("Challenge token received")
	return token, nil
}

// methodFor maps a widget family to the service's method and site-key
// parameter names.
func methodFor(family string) (method, keyParam string, err error) {
	switch family {
	case "recaptcha":
		return "userrecaptcha", "googlekey", nil
	case "hcaptcha":
		return "hcaptcha", "sitekey", nil
	default:
		return "", "", fmt.Errorf("unsupported challenge family %q", family)
	}
}

// submit posts the challenge to in.php and returns the task id. Network
// failures and 5xx responses are retried with backoff; protocol errors
// (a status 0 envelope) are permanent.
func (c *Client) submit(ctx context.Context, method, keyParam, siteKey, pageURL string) (string, error) {
	form := url.Values{}
	form.Set("key", c.apiKey)
	form.Set("method", method)
	form.Set(keyParam, siteKey)
	form.Set("pageurl", pageURL)
	form.Set("json", "1")

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 1 * time.Minute
	b.MaxInterval = 15 * time.Second

	var taskID string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/in.php", strings.NewReader(form.Encode()))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building submit request: %w", err))
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		envelope, err := c.do(req)
		if err != nil {
			c.logger.Warn("Challenge submission failed, retrying", zap.Error(err))
			return err
		}
		if envelope.Status != 1 {
			return backoff.Permanent(fmt.Errorf("service rejected submission: %s", envelope.Request))
		}
		taskID = envelope.Request
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return taskID, nil
}

// awaitToken polls res.php until the token is ready, the configured
// timeout elapses, or the service reports an error.
func (c *Client) awaitToken(ctx context.Context, taskID string) (string, error) {
	query := url.Values{}
	query.Set("key", c.apiKey)
	query.Set("action", "get")
	query.Set("id", taskID)
	query.Set("json", "1")
	pollURL := c.base + "/res.php?" + query.Encode()

	deadline := time.Now().Add(c.timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("timed out waiting for challenge token after %s", c.timeout)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return "", fmt.Errorf("building poll request: %w", err)
		}

		envelope, err := c.do(req)
		if err != nil {
			// Transient poll failures cost one tick, nothing more.
			c.logger.Warn("Token poll failed", zap.Error(err))
			continue
		}

		switch {
		case envelope.Status == 1:
			return envelope.Request, nil
		case envelope.Request == notReady:
			c.logger.Debug("Token not ready", zap.String("task_id", taskID))
		default:
			return "", fmt.Errorf("service reported error for task %s: %s", taskID, envelope.Request)
		}
	}
}

// do executes the request and decodes the service envelope. 5xx bodies
// are surfaced as retryable errors.
func (c *Client) do(req *http.Request) (*apiResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding service response: %w", err)
	}
	return &envelope, nil
}
