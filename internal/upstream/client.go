package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/funnyzak/reportsync/internal/config"
	"github.com/funnyzak/reportsync/internal/logger"
)

// DefaultXSSIPrefixLength is the number of guard bytes the analytics frontend
// prepends to JSON responses.
const DefaultXSSIPrefixLength = 5

// maxResponseBytes caps how much of an upstream response is buffered.
const maxResponseBytes = 16 << 20

// ErrClientClosed indicates the client has been shut down.
var ErrClientClosed = errors.New("upstream client is closed")

// Options configures the upstream client
type Options struct {
	BaseURL               string
	ReportPath            string
	UserDimensionsPath    string
	CustomDefinitionsPath string
	DefinitionsQuery      string
	Referrer              string
	TokenHeader           string
	Cookie                string
	XSSIPrefixLength      int
	Timeout               time.Duration
	MaxIdleConns          int
	IdleConnTimeout       time.Duration
	ResponseHeaderTimeout time.Duration
	TLSHandshakeTimeout   time.Duration
	TLSInsecureSkipVerify bool
	HeaderBlacklist       []string
}

// OptionsFromConfig maps the upstream config section onto client options.
func OptionsFromConfig(cfg config.UpstreamConfig) Options {
	return Options{
		BaseURL:               cfg.BaseURL,
		ReportPath:            cfg.ReportPath,
		UserDimensionsPath:    cfg.UserDimensionsPath,
		CustomDefinitionsPath: cfg.CustomDefinitionsPath,
		DefinitionsQuery:      cfg.DefinitionsQuery,
		Referrer:              cfg.Referrer,
		TokenHeader:           cfg.TokenHeader,
		Cookie:                cfg.Cookie,
		XSSIPrefixLength:      cfg.XSSIPrefixLength,
		Timeout:               time.Duration(cfg.Timeout) * time.Second,
		MaxIdleConns:          cfg.MaxIdleConns,
		IdleConnTimeout:       time.Duration(cfg.IdleConnTimeout) * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.ResponseHeaderTimeout) * time.Second,
		TLSHandshakeTimeout:   time.Duration(cfg.TLSHandshakeTimeout) * time.Second,
		TLSInsecureSkipVerify: cfg.TLSInsecureSkipVerify,
		HeaderBlacklist:       cfg.HeaderBlacklist,
	}
}

// Response is a buffered upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Client talks to the analytics frontend on behalf of captured sessions
type Client struct {
	client    *http.Client
	logger    logger.Logger
	opts      Options
	blacklist map[string]struct{}
	closed    chan struct{}
}

// NewClient creates a new upstream client
func NewClient(log logger.Logger, opts Options) *Client {
	if opts.XSSIPrefixLength < 0 {
		opts.XSSIPrefixLength = 0
	}
	if opts.TokenHeader == "" {
		opts.TokenHeader = "x-gafe4-xsrf-token"
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          positiveOrDefault(opts.MaxIdleConns, 16),
		MaxIdleConnsPerHost:   positiveOrDefault(opts.MaxIdleConns, 16),
		IdleConnTimeout:       durationOrDefault(opts.IdleConnTimeout, 90*time.Second),
		ResponseHeaderTimeout: durationOrDefault(opts.ResponseHeaderTimeout, 15*time.Second),
		TLSHandshakeTimeout:   durationOrDefault(opts.TLSHandshakeTimeout, 10*time.Second),
		ExpectContinueTimeout: time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.TLSInsecureSkipVerify,
		},
	}

	blacklist := make(map[string]struct{}, len(opts.HeaderBlacklist))
	for _, h := range opts.HeaderBlacklist {
		blacklist[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}

	return &Client{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		logger:    log.With("upstream"),
		opts:      opts,
		blacklist: blacklist,
		closed:    make(chan struct{}),
	}
}

// PrefixLength is the configured XSSI guard length.
func (c *Client) PrefixLength() int {
	return c.opts.XSSIPrefixLength
}

// ReportEndpoint is the configured report-configuration endpoint.
func (c *Client) ReportEndpoint() string {
	return joinURL(c.opts.BaseURL, c.opts.ReportPath)
}

// Submit sends one request with the captured session headers and buffers the
// response. Transport failures are returned as errors; any HTTP status is a
// successful round trip.
func (c *Client) Submit(ctx context.Context, method, targetURL string, headers map[string]string, body []byte) (*Response, error) {
	select {
	case <-c.closed:
		return nil, ErrClientClosed
	default:
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, targetURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	c.applyHeaders(req, headers)
	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("Failed to close response body", "error", cerr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
		Duration:   time.Since(start),
	}
	c.logger.Debug("Upstream call finished",
		"method", method,
		"url", targetURL,
		"status", resp.StatusCode,
		"duration", out.Duration,
	)
	return out, nil
}

// applyHeaders copies captured headers, pins the referrer and falls back to
// the configured cookie.
func (c *Client) applyHeaders(req *http.Request, headers map[string]string) {
	hasCookie := false
	for key, value := range headers {
		if !c.shouldForwardHeader(key) {
			continue
		}
		if strings.EqualFold(key, "cookie") {
			hasCookie = true
		}
		req.Header.Set(key, value)
	}
	if c.opts.Referrer != "" {
		req.Header.Set("Referer", c.opts.Referrer)
	}
	if !hasCookie && c.opts.Cookie != "" {
		req.Header.Set("Cookie", c.opts.Cookie)
	}
}

// shouldForwardHeader determines if specified header should be forwarded
func (c *Client) shouldForwardHeader(key string) bool {
	lowerKey := strings.ToLower(key)
	if strings.HasPrefix(lowerKey, ":") {
		// HTTP/2 pseudo headers reported by DevTools
		return false
	}
	if _, skip := c.blacklist[lowerKey]; skip {
		return false
	}
	if lowerKey == "cookie" || lowerKey == "authorization" {
		c.logger.Debug("Forwarding sensitive header", "header", key)
	}
	return true
}

// Close closes the client and releases idle connections
func (c *Client) Close() {
	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}
	if transport, ok := c.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// ReportURL builds the report endpoint for a destination property. The query
// of the captured request is kept with its dataset rewritten, and the
// existing resource id is appended for update and delete calls.
func ReportURL(endpoint, capturedURL, destinationPropertyID, existingID string) (string, error) {
	target, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid report endpoint %q: %w", endpoint, err)
	}
	if existingID != "" {
		target.Path = strings.TrimSuffix(target.Path, "/") + "/" + url.PathEscape(existingID)
	}

	query := url.Values{}
	if capturedURL != "" {
		captured, err := url.Parse(capturedURL)
		if err != nil {
			return "", fmt.Errorf("invalid captured url %q: %w", capturedURL, err)
		}
		query = captured.Query()
	}
	query.Del("dataset")

	parts := []string{"dataset=p" + url.QueryEscape(destinationPropertyID)}
	if rest := query.Encode(); rest != "" {
		parts = append(parts, rest)
	}
	target.RawQuery = strings.Join(parts, "&")
	return target.String(), nil
}

func joinURL(base, p string) string {
	if p == "" {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(p, "/")
}

func positiveOrDefault(value, def int) int {
	if value > 0 {
		return value
	}
	return def
}

func durationOrDefault(value, def time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return def
}
