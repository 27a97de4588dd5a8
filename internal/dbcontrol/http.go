package dbcontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ringbackup/sidecar/internal/constants"
	sidecarhttp "github.com/ringbackup/sidecar/internal/http"
)

// HTTPControl talks to the database's local management endpoint (typically
// bound to loopback) over plain HTTP. Requests are idempotent by
// construction (the database itself no-ops a repeated snapshot/refresh for
// the same tag), so retryablehttp's default retry policy is safe to reuse
// as-is rather than layering the core's own retry.Do on top.
type HTTPControl struct {
	baseURL string
	client  *retryablehttp.Client
}

// HTTPConfig configures an HTTPControl.
type HTTPConfig struct {
	BaseURL    string // e.g. http://127.0.0.1:8080
	MaxRetries int    // defaults to constants.DefaultMaxRetries
	Timeout    time.Duration
}

// NewHTTPControl builds an HTTPControl. The underlying client retries
// connection failures, 429 responses, and 5xx responses other than 501 with
// exponential backoff; it does not retry any other 4xx response, since those
// indicate the database rejected the request outright.
func NewHTTPControl(cfg HTTPConfig) *HTTPControl {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = constants.DefaultMaxRetries
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = constants.DefaultRetryBaseDelay
	rc.RetryWaitMax = constants.DefaultRetryMaxDelay
	rc.HTTPClient = sidecarhttp.NewTunedClient()
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil

	return &HTTPControl{baseURL: cfg.BaseURL, client: rc}
}

func (c *HTTPControl) post(ctx context.Context, op, path string, body any) (Result, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return Result{}, wrapErr(op, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return Result{}, wrapErr(op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, wrapErr(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, wrapErr(op, err)
	}
	if resp.StatusCode >= 300 {
		return Result{}, wrapErr(op, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var result Result
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			return Result{}, wrapErr(op, err)
		}
	}
	return result, nil
}

func (c *HTTPControl) Snapshot(ctx context.Context, tag string) (Result, error) {
	return c.post(ctx, "dbcontrol.Snapshot", "/snapshot", map[string]string{"tag": tag})
}

func (c *HTTPControl) Refresh(ctx context.Context, keyspace, columnFamily string) (Result, error) {
	return c.post(ctx, "dbcontrol.Refresh", "/refresh", map[string]string{
		"keyspace":     keyspace,
		"columnFamily": columnFamily,
	})
}

func (c *HTTPControl) ClearSnapshot(ctx context.Context, tag string) (Result, error) {
	return c.post(ctx, "dbcontrol.ClearSnapshot", "/clear_snapshot", map[string]string{"tag": tag})
}
