// Package pulp is a typed client for the content-server HTTP API. All
// resources carry the server's opaque pulp_href; list operations iterate
// paged results transparently; asynchronous mutations return a server task
// href that Monitor polls to completion.
package pulp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/retry"
)

const apiRoot = "/pulp/api/v3"

// listPageSize is the limit used when walking paged list endpoints.
const listPageSize = 100

// ClientConfig carries everything needed to talk to one content server.
type ClientConfig struct {
	// BaseURL is the scheme://host root of the server, no trailing slash.
	BaseURL  string
	Username string
	Password string

	TLSValidation  bool
	RootCAFilePath string

	SockConnectTimeout time.Duration
	SockReadTimeout    time.Duration

	Retry           retry.Policy
	MonitorInterval time.Duration
	MonitorMaxWait  time.Duration

	Logger *slog.Logger
}

// Client is a typed facade over one content server's API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	username   string
	password   string
	retry      retry.Policy
	interval   time.Duration
	maxWait    time.Duration
	log        *slog.Logger
}

// NewClient builds a client for one server. The root CA file, when set, is
// appended to the system pool so internal-domain certificates validate.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.InvalidArgument("pulp client requires a base URL")
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: !cfg.TLSValidation}
	if cfg.TLSValidation && cfg.RootCAFilePath != "" {
		pem, err := os.ReadFile(cfg.RootCAFilePath)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "read root CA file")
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New(errors.CategoryConfig, errors.SeverityFatal, "root CA file contains no certificates")
		}
		tlsConfig.RootCAs = pool
	}

	connectTimeout := cfg.SockConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 30 * time.Second
	}
	readTimeout := cfg.SockReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}

	interval := cfg.MonitorInterval
	if interval == 0 {
		interval = 5 * time.Second
	}
	maxWait := cfg.MonitorMaxWait
	if maxWait == 0 {
		maxWait = 30 * time.Minute
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig:       tlsConfig,
				DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
				ResponseHeaderTimeout: readTimeout,
			},
		},
		username: cfg.Username,
		password: cfg.Password,
		retry:    cfg.Retry,
		interval: interval,
		maxWait:  maxWait,
		log:      log,
	}, nil
}

// BaseURL returns the server root this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, errors.InternalError("encode request body", err)
		}
		reader = strings.NewReader(string(jsonBody))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, errors.InternalError("build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

// doRequest executes the request and decodes the JSON response into result.
// Transient failures (network errors, 429, 5xx) come back retryable.
func (c *Client) doRequest(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.WrapRetryable(err, errors.CategoryNetwork, errors.SeverityWarning, "content server unreachable").
			WithContext("url", req.URL.String())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.NotFound("pulp resource", req.URL.Path)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.UpstreamTransient(fmt.Sprintf("content server returned %s", resp.Status), nil).
			WithContext("url", req.URL.String()).
			WithContext("body", string(body))
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.UpstreamFailure(fmt.Sprintf("content server returned %s", resp.Status), nil).
			WithContext("url", req.URL.String()).
			WithContext("body", string(body))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return errors.UpstreamFailure("decode content server response", err)
		}
	}
	return nil
}

// get issues a retried GET; transient failures follow the retry policy.
func (c *Client) get(ctx context.Context, endpoint string, result any) error {
	return c.retry.Do(ctx, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		return c.doRequest(req, result)
	}, errors.IsRetryable)
}

func (c *Client) post(ctx context.Context, endpoint string, body, result any) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	return c.doRequest(req, result)
}

func (c *Client) patch(ctx context.Context, endpoint string, body, result any) error {
	req, err := c.newRequest(ctx, http.MethodPatch, endpoint, body)
	if err != nil {
		return err
	}
	return c.doRequest(req, result)
}

func (c *Client) delete(ctx context.Context, endpoint string, result any) error {
	req, err := c.newRequest(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	return c.doRequest(req, result)
}

// encodeParams renders a query-parameter map with limit/offset for paging.
func encodeParams(params map[string]string, limit, offset int) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("offset", fmt.Sprintf("%d", offset))
	return q.Encode()
}

// listAll walks a paged list endpoint until the server reports no next page.
func listAll[T any](ctx context.Context, c *Client, endpoint string, params map[string]string) ([]T, error) {
	var all []T
	offset := 0
	for {
		var pg page[T]
		if err := c.get(ctx, endpoint+"?"+encodeParams(params, listPageSize, offset), &pg); err != nil {
			return nil, err
		}
		all = append(all, pg.Results...)
		if pg.Next == nil || len(pg.Results) == 0 {
			return all, nil
		}
		offset += len(pg.Results)
	}
}

// Monitor polls a server task handle until it reaches a terminal state,
// succeeding only on "completed". Exceeding the maximum wait fails without
// canceling the server-side work.
func (c *Client) Monitor(ctx context.Context, taskHref string) (*ServerTask, error) {
	deadline := time.Now().Add(c.maxWait)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		task, err := c.GetServerTask(ctx, taskHref)
		if err != nil {
			return nil, err
		}
		switch task.State {
		case TaskStateCompleted:
			return task, nil
		case TaskStateFailed, TaskStateCanceled:
			return task, errors.UpstreamFailure(fmt.Sprintf("server task %s", task.State), nil).
				WithContext("task_href", taskHref).
				WithContext("description", task.ErrorDescription())
		}
		if time.Now().After(deadline) {
			return task, errors.UpstreamFailure("server task did not finish within the maximum wait", nil).
				WithContext("task_href", taskHref).
				WithContext("max_wait", c.maxWait.String())
		}

		c.log.Debug("waiting for server task", logfields.Href(taskHref), slog.String("state", task.State))
		select {
		case <-ctx.Done():
			return task, errors.UpstreamFailure("monitor canceled", ctx.Err())
		case <-ticker.C:
		}
	}
}
