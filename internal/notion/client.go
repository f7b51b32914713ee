// Package notion talks to the Notion REST API through jomei/notionapi:
// generic page and database operations, plus the session and task views the
// tracker is built on.
package notion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"github.com/TomFrankly/notion-time-tracker/internal/logging"
)

const (
	DefaultBaseURL = "https://api.notion.com/v1"
	DefaultVersion = "2022-06-28"
	defaultTimeout = 15 * time.Second

	// apiPrefix is the path notionapi puts in front of every endpoint.
	apiPrefix = "/v1"
)

var log = logging.ForComponent(logging.CompNotion)

// ErrRemote matches every failed remote call: non-2xx statuses and transport errors.
var ErrRemote = errors.New("remote store error")

// APIError is a non-success response from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion api error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("notion api error (%d): %s", e.Status, e.Message)
}

// Is makes every APIError match ErrRemote.
func (e *APIError) Is(target error) bool {
	return target == ErrRemote
}

// Client is an authenticated Notion API client. It never retries.
type Client struct {
	api     *notionapi.Client
	baseURL string
}

type clientConfig struct {
	baseURL string
	version string
	timeout time.Duration
	http    *http.Client
}

// Option configures a Client.
type Option func(*clientConfig)

// WithBaseURL points the client at another API root (tests, proxies).
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithVersion overrides the Notion-Version header.
func WithVersion(version string) Option {
	return func(c *clientConfig) { c.version = version }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client. Its transport is
// wrapped when a base URL is set.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.http = hc }
}

// New creates a client authenticated with the integration token.
func New(token string, opts ...Option) *Client {
	cfg := clientConfig{baseURL: DefaultBaseURL, version: DefaultVersion}
	for _, opt := range opts {
		opt(&cfg)
	}

	hc := &http.Client{Timeout: defaultTimeout}
	if cfg.http != nil {
		copied := *cfg.http
		hc = &copied
	}
	if cfg.timeout > 0 {
		hc.Timeout = cfg.timeout
	}
	if base, err := url.Parse(cfg.baseURL); err == nil && base.Host != "" {
		next := hc.Transport
		if next == nil {
			next = http.DefaultTransport
		}
		hc.Transport = rebase{base: base, next: next}
	} else {
		log.Warn("base_url_ignored", slog.String("base_url", cfg.baseURL))
	}

	api := notionapi.NewClient(notionapi.Token(token),
		notionapi.WithHTTPClient(hc),
		notionapi.WithVersion(cfg.version),
		notionapi.WithRetry(0))
	return &Client{api: api, baseURL: cfg.baseURL}
}

// rebase sends notionapi's fixed api.notion.com/v1 requests to another root.
type rebase struct {
	base *url.URL
	next http.RoundTripper
}

func (t rebase) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.base.Scheme
	out.URL.Host = t.base.Host
	out.URL.Path = strings.TrimRight(t.base.Path, "/") + strings.TrimPrefix(req.URL.Path, apiPrefix)
	out.URL.RawPath = ""
	out.Host = t.base.Host
	return t.next.RoundTrip(out)
}

// remote maps a notionapi failure onto APIError or ErrRemote.
func remote(op string, err error) error {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		log.Debug("request_failed",
			slog.String("op", op),
			slog.Int("status", apiErr.Status),
			slog.String("code", string(apiErr.Code)))
		return fmt.Errorf("%s: %w", op, &APIError{Status: apiErr.Status, Code: string(apiErr.Code), Message: apiErr.Message})
	}
	log.Debug("request_failed", slog.String("op", op), slog.String("error", err.Error()))
	return fmt.Errorf("%w: %s: %w", ErrRemote, op, err)
}

// Page fetches a page by id.
func (c *Client) Page(ctx context.Context, id string) (*notionapi.Page, error) {
	p, err := c.api.Page.Get(ctx, notionapi.PageID(id))
	if err != nil {
		return nil, remote("fetch page "+id, err)
	}
	return p, nil
}

// Database fetches a database schema by id.
func (c *Client) Database(ctx context.Context, id string) (Schema, error) {
	db, err := c.api.Database.Get(ctx, notionapi.DatabaseID(id))
	if err != nil {
		return Schema{}, remote("fetch database "+id, err)
	}
	return schemaOf(*db), nil
}

// CreatePage creates a page in a database.
func (c *Client) CreatePage(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
	p, err := c.api.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent:     notionapi.Parent{Type: "database_id", DatabaseID: notionapi.DatabaseID(databaseID)},
		Properties: props,
	})
	if err != nil {
		return nil, remote("create page", err)
	}
	return p, nil
}

// UpdatePage patches page properties.
func (c *Client) UpdatePage(ctx context.Context, id string, props notionapi.Properties) (*notionapi.Page, error) {
	p, err := c.api.Page.Update(ctx, notionapi.PageID(id), &notionapi.PageUpdateRequest{Properties: props})
	if err != nil {
		return nil, remote("update page "+id, err)
	}
	return p, nil
}

// Query selects and orders database pages.
type Query struct {
	Filter   *Filter
	Sorts    []notionapi.SortObject
	PageSize int
}

// LastEditedDescending sorts by last_edited_time, newest first.
var LastEditedDescending = notionapi.SortObject{Timestamp: "last_edited_time", Direction: "descending"}

// QueryDatabase returns every page matching the query, following cursors.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, q Query) ([]notionapi.Page, error) {
	req := &notionapi.DatabaseQueryRequest{Sorts: q.Sorts, PageSize: q.PageSize}
	if q.Filter != nil {
		f, err := q.Filter.api()
		if err != nil {
			return nil, fmt.Errorf("query database %s: %w", databaseID, err)
		}
		req.Filter = f
	}

	var pages []notionapi.Page
	for {
		resp, err := c.api.Database.Query(ctx, notionapi.DatabaseID(databaseID), req)
		if err != nil {
			return nil, remote("query database "+databaseID, err)
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			return pages, nil
		}
		req.StartCursor = resp.NextCursor
	}
}

// Search finds records of one kind visible to the integration. Schemas come
// from databases; tasks and sessions from pages, decoded with an empty mapping.
func (c *Client) Search(ctx context.Context, kind Kind, query string) ([]Record, error) {
	object := "page"
	if kind == KindSchema {
		object = "database"
	}
	req := &notionapi.SearchRequest{
		Query:  query,
		Filter: notionapi.SearchFilter{Property: "object", Value: object},
	}

	var records []Record
	for {
		resp, err := c.api.Search.Do(ctx, req)
		if err != nil {
			return nil, remote("search "+object, err)
		}
		for _, obj := range resp.Results {
			rec, err := Decode(kind, obj, Mapping{})
			if err != nil {
				log.Debug("schema_drift", slog.String("object", object), slog.String("error", err.Error()))
				continue
			}
			records = append(records, rec)
		}
		if !resp.HasMore || resp.NextCursor == "" {
			return records, nil
		}
		req.StartCursor = resp.NextCursor
	}
}
