// Package extsvc holds the HTTP clients for the wallet core's external
// collaborators: the policy/consent service, the transaction signer, and the
// report rendering service.
//
// All clients share the same failure policy: calls are timeout-bounded,
// transient failures (transport errors, 5xx) are retried with backoff, and
// exhausted retries surface as SERVICE_UNAVAILABLE tagged errors so callers
// can distinguish "collaborator down" from a domain denial.
package extsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AnarQorp/qwallet-core/internal/errs"
	"github.com/AnarQorp/qwallet-core/internal/retry"
)

var requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "qwallet",
	Subsystem: "extsvc",
	Name:      "requests_total",
	Help:      "External service requests by service and outcome.",
}, []string{"service", "outcome"})

func init() {
	prometheus.MustRegister(requestsTotal)
}

const (
	defaultTimeout  = 10 * time.Second
	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond
)

// client is the shared HTTP plumbing for all external services.
type client struct {
	name    string
	baseURL string
	http    *http.Client
}

func newClient(name, baseURL string, timeout time.Duration) *client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{
		name:    name,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// postJSON POSTs the request body and decodes the response into out. 4xx
// responses are permanent; transport errors and 5xx are retried.
func (c *client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", c.name, err)
	}

	// retry.Do unwraps PermanentError before returning, so remember whether
	// the final failure was permanent to pick the right error shape below.
	var permanent bool
	err = retry.Do(ctx, defaultAttempts, defaultBackoff, func() error {
		permanent = false
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			permanent = true
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s: status %d", c.name, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			permanent = true
			return retry.Permanent(fmt.Errorf("%s: status %d: %s", c.name, resp.StatusCode, data))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			permanent = true
			return retry.Permanent(fmt.Errorf("%s: decode response: %w", c.name, err))
		}
		return nil
	})
	if err != nil {
		requestsTotal.WithLabelValues(c.name, "error").Inc()
		if permanent {
			return err
		}
		return errs.Wrap(errs.KindService, c.name+" unavailable", err)
	}
	requestsTotal.WithLabelValues(c.name, "ok").Inc()
	return nil
}
