// Package collyfetcher is the HTTP client behind probing and fetching, built
// on a gocolly collector.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 50 << 20
)

// ErrBodyTooLarge reports a response body longer than Config.MaxBodyBytes.
// The Response returned with it carries headers and status only.
var ErrBodyTooLarge = errors.New("body exceeds max_body_bytes")

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	Headers      http.Header
}

// Response is the outcome of one HTTP exchange.
type Response struct {
	// URL is the final URL after redirects.
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ContentType returns the media type without parameters, lower-cased.
func (r Response) ContentType() string {
	ct := r.Headers.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// Client issues single requests through clones of one base collector. The
// clones share the transport and its connection pool.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		// One byte over the limit so an oversized body is detectable.
		colly.MaxBodySize(cfg.MaxBodyBytes+1),
	)
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Client{cfg: cfg, baseCollector: c}
}

// Get downloads url. Any HTTP status is returned as a Response; transport
// failures and bodies over the size limit produce an error.
func (c *Client) Get(ctx context.Context, url string) (Response, error) {
	return c.do(ctx, http.MethodGet, url)
}

// Probe reads url's headers with HEAD, falling back to GET when the server
// refuses HEAD with 405 or 501.
func (c *Client) Probe(ctx context.Context, url string) (Response, error) {
	resp, err := c.do(ctx, http.MethodHead, url)
	if err != nil {
		return Response{}, err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = c.do(ctx, http.MethodGet, url)
		if errors.Is(err, ErrBodyTooLarge) {
			// Only headers matter to a probe.
			return resp, nil
		}
		return resp, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, url string) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	collector := c.baseCollector.Clone()
	collector.Context = ctx
	c.configureCollectorHooks(collector, time.Now(), &result, &fetchErr)

	var err error
	if method == http.MethodHead {
		err = collector.Head(url)
	} else {
		err = collector.Visit(url)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Response{}, fmt.Errorf("%s %s: %w", method, url, ctxErr)
	}
	if err == nil {
		err = fetchErr
	}
	if errors.Is(err, ErrBodyTooLarge) {
		return result, fmt.Errorf("%s %s: %w", method, url, err)
	}
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", method, url, err)
	}
	if result.StatusCode == 0 {
		return Response{}, fmt.Errorf("%s %s: no response", method, url)
	}
	return result, nil
}

func (c *Client) configureCollectorHooks(hooks collectorHooks, start time.Time, result *Response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Encoding", "gzip, br")
		for key, values := range c.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		finalURL := ""
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*result = Response{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Duration:   time.Since(start),
		}
		body, err := decodeBody(headers, r.Body, c.cfg.MaxBodyBytes)
		if err != nil {
			*fetchErr = err
			return
		}
		result.Body = body
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

// decodeBody undoes brotli content encoding and enforces limit on the decoded
// size; gzip is already handled by the collector.
func decodeBody(headers http.Header, body []byte, limit int) ([]byte, error) {
	if !strings.EqualFold(strings.TrimSpace(headers.Get("Content-Encoding")), "br") {
		if len(body) > limit {
			return nil, fmt.Errorf("%w (%d)", ErrBodyTooLarge, limit)
		}
		return append([]byte(nil), body...), nil
	}
	decoded, err := io.ReadAll(io.LimitReader(brotli.NewReader(bytes.NewReader(body)), int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("decode brotli body: %w", err)
	}
	if len(decoded) > limit {
		return nil, fmt.Errorf("%w (%d)", ErrBodyTooLarge, limit)
	}
	headers.Del("Content-Encoding")
	headers.Del("Content-Length")
	return decoded, nil
}

// IsTimeout reports whether err came from a deadline or client timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Client.Timeout exceeded") || strings.Contains(msg, "deadline exceeded")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
