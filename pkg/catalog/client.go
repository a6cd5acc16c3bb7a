package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/rmax-ai/catalogctl/pkg/metrics"
)

var tracer = otel.Tracer("catalogctl.catalog")

// Default timeouts. Bulk detail fetches with lineage are slow on the
// server side and get a longer deadline.
const (
	DefaultTimeout     = 60 * time.Second
	DefaultBulkTimeout = 120 * time.Second
	DefaultMaxRetries  = 3

	relationshipPageSize = 250
)

// Config configures a Client.
type Config struct {
	// APIURL is the catalog API base, e.g. "https://cdgc-api.example.com".
	APIURL  string
	Session Session

	Timeout     time.Duration
	BulkTimeout time.Duration

	// RateLimit caps requests per second across all goroutines sharing the
	// client. Zero disables limiting.
	RateLimit float64
	Burst     int

	MaxRetries int
	Backoff    Backoff

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the catalog REST API. It is safe for concurrent use.
type Client struct {
	base    string
	session Session
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Catalog = (*Client)(nil)

// NewClient creates a catalog client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BulkTimeout <= 0 {
		cfg.BulkTimeout = DefaultBulkTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		base:    strings.TrimRight(cfg.APIURL, "/"),
		session: cfg.Session,
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		logger:  logger,
	}
}

// call describes one REST exchange.
type call struct {
	op       string
	method   string
	path     string
	query    url.Values
	body     any
	headers  map[string]string
	timeout  time.Duration
	accept   []int
	response any
	// unsafe calls start work on the server that a repeat would start
	// again. They are only retried when the server refused them with 429.
	unsafe bool
}

// GetAsset fetches one asset by identity.
func (c *Client) GetAsset(ctx context.Context, id, segments string) (Asset, error) {
	var w wireAsset
	err := c.do(ctx, call{
		op:       "get_asset",
		method:   http.MethodGet,
		path:     "/data360/search/v1/assets/" + url.PathEscape(id),
		query:    url.Values{"scheme": {"internal"}, "segments": {segments}},
		response: &w,
	})
	if err != nil {
		return Asset{}, fmt.Errorf("get asset %s: %w", id, err)
	}
	if w.Identity == "" {
		w.Identity = id
	}
	return w.asset(), nil
}

// GetAssets fetches up to BulkLimit assets in one request.
func (c *Client) GetAssets(ctx context.Context, ids []string, segments string) ([]Asset, error) {
	if len(ids) > BulkLimit {
		return nil, fmt.Errorf("get assets: %d ids: %w", len(ids), ErrBulkLimit)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var ws []wireAsset
	err := c.do(ctx, call{
		op:       "get_assets",
		method:   http.MethodPost,
		path:     "/data360/search/v1/assets/details",
		query:    url.Values{"scheme": {"internal"}, "segments": {segments}},
		body:     ids,
		timeout:  c.cfg.BulkTimeout,
		response: &ws,
	})
	if err != nil {
		return nil, fmt.Errorf("get assets: %w", err)
	}

	assets := make([]Asset, 0, len(ws))
	for _, w := range ws {
		assets = append(assets, w.asset())
	}
	return assets, nil
}

// Search returns one page of assets matching q.
func (c *Client) Search(ctx context.Context, q Query, from, size int) (SearchPage, error) {
	if len(q.ClassTypes) > 0 {
		return c.searchClassTypes(ctx, q, from, size)
	}

	req := wireSearchRequest{From: from, Size: size}
	if q.CreatedWithinDays > 0 {
		req.FilterSpec = []wireFilter{{
			Type: "dsl",
			Expr: fmt.Sprintf("core.CreatedOn within last %d day", q.CreatedWithinDays),
		}}
	}

	var res wireSearchResult
	err := c.do(ctx, call{
		op:     "search",
		method: http.MethodPost,
		path:   "/data360/search/v1/assets",
		query: url.Values{
			"knowledgeQuery": {q.Knowledge},
			"segments":       {SummarySegments},
		},
		body:     req,
		response: &res,
	})
	if err != nil {
		return SearchPage{}, fmt.Errorf("search %q: %w", q.Knowledge, err)
	}

	page := SearchPage{Total: res.Summary.TotalHits}
	for _, h := range res.Hits {
		page.Assets = append(page.Assets, h.asset())
	}
	return page, nil
}

type classTypeFilter struct {
	Bool struct {
		Filter  []esTerms `json:"filter"`
		MustNot []esTerms `json:"must_not"`
	} `json:"bool"`
}

type classTypeSearch struct {
	From   int               `json:"from"`
	Size   int               `json:"size"`
	Query  string            `json:"query"`
	Filter []classTypeFilter `json:"filter"`
}

func (c *Client) searchClassTypes(ctx context.Context, q Query, from, size int) (SearchPage, error) {
	var f classTypeFilter
	f.Bool.Filter = []esTerms{terms("core.classType", q.ClassTypes...)}
	f.Bool.MustNot = []esTerms{}
	req := classTypeSearch{From: from, Size: size, Query: "*", Filter: []classTypeFilter{f}}

	var res esResponse
	err := c.do(ctx, call{
		op:       "search",
		method:   http.MethodPost,
		path:     "/ccgf-searchv2/api/v1/search",
		body:     req,
		headers:  map[string]string{"X-INFA-SEARCH-LANGUAGE": "knowledge-graph-search"},
		response: &res,
	})
	if err != nil {
		return SearchPage{}, fmt.Errorf("search %s: %w", q, err)
	}

	page := SearchPage{Total: res.Hits.Total.Value}
	for _, h := range res.Hits.Hits {
		page.Assets = append(page.Assets, Asset{
			ID:        h.Attributes.Identity,
			Name:      h.Attributes.Name,
			ClassType: h.Attributes.ClassType,
		})
	}
	return page, nil
}

// SearchRelationships lists relationships ending (Target) or starting
// (Source) at an asset.
func (c *Client) SearchRelationships(ctx context.Context, q RelationshipQuery) ([]Relationship, error) {
	must := []esTerms{terms("elementType", "RELATIONSHIP")}
	switch {
	case q.Target != "":
		must = append(must, terms("core.targetIdentity", q.Target))
	case q.Source != "":
		must = append(must, terms("core.sourceIdentity", q.Source))
	default:
		return nil, errors.New("search relationships: target or source is required")
	}
	size := q.Size
	if size <= 0 {
		size = relationshipPageSize
	}

	var res esResponse
	err := c.do(ctx, call{
		op:     "search_relationships",
		method: http.MethodPost,
		path:   "/ccgf-searchv2/api/v1/search",
		body: esRequest{
			From:  0,
			Size:  size,
			Query: esQuery{Bool: esBool{Must: must}},
		},
		headers:  map[string]string{"X-INFA-SEARCH-LANGUAGE": "elasticsearch"},
		response: &res,
	})
	if err != nil {
		return nil, fmt.Errorf("search relationships: %w", err)
	}

	rels := make([]Relationship, 0, len(res.Hits.Hits))
	for _, h := range res.Hits.Hits {
		rels = append(rels, Relationship{
			From:  h.SourceAsMap.SourceIdentity,
			To:    h.SourceAsMap.TargetIdentity,
			Types: h.SourceAsMap.Type,
		})
	}
	return rels, nil
}

// DeleteAsset submits a publish DELETE for one object.
func (c *Client) DeleteAsset(ctx context.Context, id, classType string) (DeleteResult, error) {
	res, err := c.publish(ctx, "delete_asset", publishItem{
		ElementType:  "OBJECT",
		Identity:     id,
		Operation:    "DELETE",
		Type:         classType,
		IdentityType: "INTERNAL",
		Attributes:   map[string]string{},
	})
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete asset %s: %w", id, err)
	}
	return res, nil
}

// DeleteRelationship submits a publish DELETE for one typed relationship.
func (c *Client) DeleteRelationship(ctx context.Context, from, to, relType string) (DeleteResult, error) {
	res, err := c.publish(ctx, "delete_relationship", publishItem{
		ElementType:  "RELATIONSHIP",
		FromIdentity: from,
		ToIdentity:   to,
		Operation:    "DELETE",
		Type:         relType,
		IdentityType: "INTERNAL",
		Attributes:   map[string]string{},
	})
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete relationship %s->%s (%s): %w", from, to, relType, err)
	}
	return res, nil
}

func (c *Client) publish(ctx context.Context, op string, item publishItem) (DeleteResult, error) {
	var res publishResponse
	err := c.do(ctx, call{
		op:       op,
		method:   http.MethodPost,
		path:     "/ccgf-contentv2/api/v1/publish",
		body:     publishRequest{Items: []publishItem{item}},
		headers:  map[string]string{"X-INFA-PRODUCT-ID": "CDGC"},
		accept:   []int{http.StatusMultiStatus, http.StatusOK},
		response: &res,
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return res.result(), nil
}

// ListSources returns one page of catalog sources sorted by name.
func (c *Client) ListSources(ctx context.Context, offset, limit int) ([]Source, error) {
	var res wireSources
	err := c.do(ctx, call{
		op:     "list_sources",
		method: http.MethodGet,
		path:   "/ccgf-catalog-source-management/api/v1/datasources",
		query: url.Values{
			"offset": {strconv.Itoa(offset)},
			"limit":  {strconv.Itoa(limit)},
			"sort":   {"name:ASC"},
		},
		response: &res,
	})
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	sources := make([]Source, 0, len(res.Datasources))
	for _, s := range res.Datasources {
		sources = append(sources, Source(s))
	}
	return sources, nil
}

// PurgeSource starts a purge of everything a source has cataloged.
func (c *Client) PurgeSource(ctx context.Context, name string) (JobHandle, error) {
	var res wireJob
	err := c.do(ctx, call{
		op:       "purge_source",
		method:   http.MethodDelete,
		unsafe:   true,
		path:     "/ccgf-catalog-source-management/api/v1/datasources/" + url.PathEscape(name),
		query:    url.Values{"type": {"purge"}},
		accept:   []int{http.StatusOK, http.StatusAccepted},
		response: &res,
	})
	if err != nil {
		return JobHandle{}, fmt.Errorf("purge source %s: %w", name, err)
	}
	h := JobHandle{JobID: res.JobID}
	if res.Status != "" {
		h.Status = ParseJobStatus(res.Status)
	}
	return h, nil
}

// DeleteSource soft-deletes a source definition.
func (c *Client) DeleteSource(ctx context.Context, name string) error {
	err := c.do(ctx, call{
		op:     "delete_source",
		method: http.MethodDelete,
		unsafe: true,
		path:   "/ccgf-catalog-source-management/api/v1/datasources/" + url.PathEscape(name),
		query:  url.Values{"type": {"soft"}},
		accept: []int{http.StatusOK, http.StatusAccepted, http.StatusNoContent},
	})
	if err != nil {
		return fmt.Errorf("delete source %s: %w", name, err)
	}
	return nil
}

// JobStatus reads the current state of an orchestration job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	var res wireJob
	err := c.do(ctx, call{
		op:       "job_status",
		method:   http.MethodGet,
		path:     "/ccgf-orchestration-management-api-server/api/v1/jobs/" + url.PathEscape(jobID),
		query:    url.Values{"aggregateResourceUsage": {"false"}},
		response: &res,
	})
	if err != nil {
		return "", fmt.Errorf("job %s status: %w", jobID, err)
	}
	return ParseJobStatus(res.Status), nil
}

// do performs the exchange with rate limiting, a per-call deadline and
// retries on transport errors, 429 and 5xx. A Retry-After header
// lengthens the wait.
func (c *Client) do(ctx context.Context, cl call) (err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "catalog."+cl.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", cl.method),
			attribute.String("catalog.path", cl.path),
		),
	)
	code := "error"
	defer func() {
		metrics.CatalogRequests.WithLabelValues(cl.op, code).Inc()
		metrics.CatalogRequestSeconds.WithLabelValues(cl.op).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	var payload []byte
	if cl.body != nil {
		payload, err = json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	timeout := cl.timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	accept := cl.accept
	if len(accept) == 0 {
		accept = []int{http.StatusOK}
	}

	var wait time.Duration
	for attempt := 0; ; attempt++ {
		status, header, body, reqErr := c.roundTrip(ctx, cl, payload, timeout)
		if status != 0 {
			code = strconv.Itoa(status)
		}

		retryable := false
		switch {
		case reqErr != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			retryable = !cl.unsafe
		case status == http.StatusTooManyRequests:
			retryable = true
		case status >= 500:
			retryable = !cl.unsafe
		}

		if retryable && attempt < c.cfg.MaxRetries {
			wait = c.cfg.Backoff.Delay(wait)
			if ra, ok := retryAfter(header, time.Now()); ok {
				wait = max(wait, ra)
			}
			c.logger.Debug("catalog request failed, retrying",
				"op", cl.op, "status", status, "attempt", attempt+1, "wait", wait, "error", reqErr)
			span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", attempt+1)))
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if reqErr != nil {
			return reqErr
		}
		span.SetAttributes(attribute.Int("http.status_code", status))
		return decodeResponse(cl, status, accept, body)
	}
}

func (c *Client) roundTrip(ctx context.Context, cl call, payload []byte, timeout time.Duration) (int, http.Header, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := c.base + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.session.apply(req)
	for k, v := range cl.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, resp.Header, data, nil
}

func decodeResponse(cl call, status int, accept []int, body []byte) error {
	for _, ok := range accept {
		if status != ok {
			continue
		}
		if cl.response == nil || len(bytes.TrimSpace(body)) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, cl.response); err != nil {
			return fmt.Errorf("decode %s response: %w", cl.op, err)
		}
		return nil
	}

	switch status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	return &StatusError{Op: cl.op, Code: status, Body: truncate(string(body), 256)}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
