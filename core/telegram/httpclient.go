package telegram

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	tgsender "github.com/m3rciful/exchangebot/core/telegram/sender"
)

const (
	defaultClientTimeout = 30 * time.Second
	dialTimeout          = 5 * time.Second
	keepAlive            = 30 * time.Second
	tlsHandshakeTimeout  = 5 * time.Second
	responseTimeout      = 10 * time.Second
	idleConnTimeout      = 30 * time.Second
)

// DefaultHTTPRetry is used when ClientOptions.Retry is zero.
var DefaultHTTPRetry = tgsender.Policy{Attempts: 3, Backoff: time.Second}

// ClientOptions tunes NewHTTPClient.
type ClientOptions struct {
	Timeout time.Duration
	Retry   tgsender.Policy
}

// NewHTTPClient returns the client shared by Bot API calls and payment proof downloads.
// Transport failures are retried when the request body can be replayed; 5xx answers are
// retried for GET and HEAD only, since a repeated POST may deliver a message twice.
func NewHTTPClient(opts ClientOptions) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultClientTimeout
	}
	if opts.Retry == (tgsender.Policy{}) {
		opts.Retry = DefaultHTTPRetry
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: &retryTransport{base: transport, retry: opts.Retry},
	}
}

type retryTransport struct {
	base  http.RoundTripper
	retry tgsender.Policy
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	policy := t.retry
	if !replayable(req) {
		policy.Attempts = 1
	}
	idempotent := req.Method == http.MethodGet || req.Method == http.MethodHead

	var resp *http.Response
	attempt := 0
	_, err := policy.Do(req.Context(), func() error {
		attempt++
		discard(resp)
		resp = nil

		r, err := rewind(req, attempt)
		if err != nil {
			return err
		}
		res, err := t.base.RoundTrip(r)
		if err != nil {
			return err
		}
		resp = res
		if idempotent && res.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("telegram http: %s %s (%d)", req.Method, res.Status, res.StatusCode)
		}
		return nil
	})
	if resp != nil && (err == nil || req.Context().Err() == nil) {
		// the last 5xx answer is handed back as is
		return resp, nil
	}
	discard(resp)
	return nil, err
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	r := req.Clone(req.Context())
	r.Body = body
	return r, nil
}

func discard(resp *http.Response) {
	if resp == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
