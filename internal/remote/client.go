// Package remote talks to the assessment record server over HTTP. Client
// implements autosave.RecordStore for one user.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/medprofile/internal/autosave"
	"github.com/ashureev/medprofile/internal/domain"
	"github.com/ashureev/medprofile/internal/identity"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
)

var _ autosave.RecordStore = (*Client)(nil)

// HTTPError is a non-2xx response from the server.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote store: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("remote store: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Retryable reports whether repeating the request can succeed.
func (e *HTTPError) Retryable() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSessionID tags requests with a per-tab session so the server can
// attribute events.
func WithSessionID(id string) Option {
	return func(c *Client) { c.sessionID = id }
}

// Client is an HTTP client for the assessment API.
type Client struct {
	base      *url.URL
	user      domain.Identity
	sessionID string
	http      *http.Client
}

// New creates a client for the server at baseURL acting as user.
func New(baseURL string, user domain.Identity, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL %q must be http or https", baseURL)
	}

	c := &Client{
		base: u,
		user: user,
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if !c.user.IsZero() {
		h.Set(identity.UserHeaderName, c.user.UserID)
	}
	if c.sessionID != "" {
		h.Set(identity.SessionHeaderName, c.sessionID)
	}
	return h
}

// do sends a request and decodes a 2xx JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header = c.header()
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	herr := &HTTPError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		herr.Message = payload.Error
	} else {
		herr.Message = strings.TrimSpace(string(data))
	}
	return herr
}

// CreateOrUpdate creates a record when progress has no id and updates it
// otherwise.
func (c *Client) CreateOrUpdate(ctx context.Context, progress domain.AssessmentProgress) (string, error) {
	if c.user.IsZero() {
		return "", autosave.ErrUnauthenticated
	}

	var resp struct {
		ID string `json:"id"`
	}
	var err error
	if progress.RecordID == "" {
		err = c.do(ctx, http.MethodPost, "/api/assessments", nil, progress, &resp)
	} else {
		err = c.do(ctx, http.MethodPut, "/api/assessments/"+url.PathEscape(progress.RecordID), nil, progress, &resp)
		var herr *HTTPError
		if errors.As(err, &herr) && (herr.StatusCode == http.StatusNotFound || herr.StatusCode == http.StatusConflict) {
			err = fmt.Errorf("%w: %w", autosave.ErrRecordClosed, herr)
		}
	}
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("remote store: response carried no record id")
	}
	return resp.ID, nil
}

// FetchIncomplete returns the newest in-progress record of kind, or
// autosave.ErrNotFound.
func (c *Client) FetchIncomplete(ctx context.Context, kind domain.AssessmentKind) (*domain.AssessmentRecord, error) {
	if c.user.IsZero() {
		return nil, autosave.ErrUnauthenticated
	}

	var rec domain.AssessmentRecord
	err := c.do(ctx, http.MethodGet, "/api/assessments/incomplete", url.Values{"kind": {string(kind)}}, nil, &rec)
	var herr *HTTPError
	if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
		return nil, autosave.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkComplete transitions the record to completed.
func (c *Client) MarkComplete(ctx context.Context, id string) error {
	if c.user.IsZero() {
		return autosave.ErrUnauthenticated
	}
	if id == "" {
		return errors.New("remote store: no record to complete")
	}
	return c.do(ctx, http.MethodPost, "/api/assessments/"+url.PathEscape(id)+"/complete", nil, nil, nil)
}

// HistoryFilter narrows History. Zero fields match everything.
type HistoryFilter struct {
	Kind   domain.AssessmentKind
	Status domain.RecordStatus
	Limit  int
}

// History lists the user's records, newest first.
func (c *Client) History(ctx context.Context, filter HistoryFilter) ([]domain.AssessmentRecord, error) {
	q := url.Values{}
	if filter.Kind != "" {
		q.Set("kind", string(filter.Kind))
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	var resp struct {
		Assessments []domain.AssessmentRecord `json:"assessments"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/assessments", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Assessments, nil
}
