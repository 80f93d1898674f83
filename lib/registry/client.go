// Package registry is a Docker Registry HTTP API v2 client for catalog, tag
// and manifest reads.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/kedeai/imagehub/lib/logger"
	hubotel "github.com/kedeai/imagehub/lib/otel"
)

// maxBodySize bounds how much of a registry response is read into memory.
const maxBodySize = 8 << 20

// HTTPClient talks to a registry over HTTP(S) with basic auth.
type HTTPClient struct {
	cfg     Config
	baseURL *url.URL
	http    *http.Client
	metrics *hubotel.RegistryMetrics
	tracer  trace.Tracer
	log     *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

// WithMetrics records request and retry counts.
func WithMetrics(m *hubotel.RegistryMetrics) Option {
	return func(c *HTTPClient) { c.metrics = m }
}

// WithTracer records one span per registry call.
func WithTracer(t trace.Tracer) Option {
	return func(c *HTTPClient) { c.tracer = t }
}

// WithLogger sets the logger used when no logger is carried in the context.
func WithLogger(log *slog.Logger) Option {
	return func(c *HTTPClient) { c.log = log }
}

// NewHTTPClient creates a registry client for cfg.URL.
func NewHTTPClient(cfg Config, opts ...Option) (*HTTPClient, error) {
	cfg.setDefaults()

	base, err := normalizeBaseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	c := &HTTPClient{
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{},
		tracer:  tracenoop.NewTracerProvider().Tracer("registry"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// normalizeBaseURL ensures a scheme and a trailing /v2 path.
func normalizeBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("registry url is required")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse registry url: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/v2") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/v2"
	}
	return u, nil
}

// BaseURL returns the normalized /v2 endpoint.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL.String()
}

func (c *HTTPClient) endpoint(parts ...string) string {
	return c.baseURL.String() + "/" + strings.Join(parts, "/")
}

// Repositories fetches /v2/_catalog, following pagination links.
func (c *HTTPClient) Repositories(ctx context.Context) ([]string, error) {
	ctx, span := c.tracer.Start(ctx, "registry.Repositories")
	defer span.End()

	var repos []string
	next := c.endpoint("_catalog")
	for page := 0; next != "" && page < c.cfg.MaxPages; page++ {
		resp, err := c.do(ctx, "catalog", next, "application/json")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, resp.statusError(next)
		}

		var catalog catalogResponse
		if err := json.Unmarshal(resp.Body, &catalog); err != nil {
			return nil, fmt.Errorf("decode catalog from %s: %w", next, err)
		}
		repos = append(repos, catalog.Repositories...)
		next = c.nextLink(resp.Header)
	}
	if next != "" {
		return nil, c.incomplete(next)
	}

	repos = lo.Uniq(repos)
	slices.Sort(repos)
	span.SetAttributes(attribute.Int("repositories", len(repos)))
	return repos, nil
}

// Tags fetches /v2/<repo>/tags/list, following pagination links.
func (c *HTTPClient) Tags(ctx context.Context, repo string) ([]string, error) {
	ctx, span := c.tracer.Start(ctx, "registry.Tags", trace.WithAttributes(attribute.String("repository", repo)))
	defer span.End()

	var tags []string
	next := c.endpoint(repo, "tags", "list")
	for page := 0; next != "" && page < c.cfg.MaxPages; page++ {
		resp, err := c.do(ctx, "tags", next, "application/json")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, resp.statusError(next)
		}

		var body tagsResponse
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return nil, fmt.Errorf("decode tags from %s: %w", next, err)
		}
		tags = append(tags, body.Tags...)
		next = c.nextLink(resp.Header)
	}
	if next != "" {
		return nil, c.incomplete(next)
	}
	return tags, nil
}

func (c *HTTPClient) incomplete(next string) error {
	return fmt.Errorf("%w: %s still pending after %d pages", ErrIncompleteListing, next, c.cfg.MaxPages)
}

// nextLink resolves the rel="next" target of the RFC 8288 Link headers in h
// against the base URL. It returns "" when there is no next page.
func (c *HTTPClient) nextLink(h http.Header) string {
	for _, header := range h.Values("Link") {
		for _, link := range splitLinks(header) {
			target, params, ok := strings.Cut(link, ";")
			target = strings.TrimSpace(target)
			if !ok || !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			if !hasRel(params, "next") {
				continue
			}
			ref, err := url.Parse(target[1 : len(target)-1])
			if err != nil {
				return ""
			}
			return c.baseURL.ResolveReference(ref).String()
		}
	}
	return ""
}

// splitLinks splits a Link header value on commas outside <...>.
func splitLinks(header string) []string {
	var links []string
	depth, start := 0, 0
	for i, r := range header {
		switch r {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				links = append(links, header[start:i])
				start = i + 1
			}
		}
	}
	return append(links, header[start:])
}

// hasRel reports whether the ";"-separated link params carry rel=want.
// rel may list several space-separated types.
func hasRel(params, want string) bool {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(p, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "rel") {
			continue
		}
		for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(v), `"`)) {
			if strings.EqualFold(rel, want) {
				return true
			}
		}
	}
	return false
}

type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *response) statusError(u string) error {
	return &StatusError{URL: u, StatusCode: r.StatusCode, Body: strings.TrimSpace(string(r.Body))}
}

// once performs a single authenticated GET bounded by the per-call timeout.
func (c *HTTPClient) once(ctx context.Context, op, u, accept string) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.Username != "" || c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(ctx, op, "error", start)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.record(ctx, op, "error", start)
		return nil, fmt.Errorf("read body: %w", err)
	}
	c.record(ctx, op, fmt.Sprintf("%d", resp.StatusCode), start)

	return &response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *HTTPClient) record(ctx context.Context, op, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("status", status),
	)
	c.metrics.RequestsTotal.Add(ctx, 1, attrs)
	c.metrics.RequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func (c *HTTPClient) logger(ctx context.Context) *slog.Logger {
	if c.log != nil {
		return c.log
	}
	return logger.FromContext(ctx)
}
