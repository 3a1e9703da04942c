// Package dataverse is a small client for the Microsoft Dataverse Web API.
// It only implements the calls the server's tools need.
package dataverse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	defaultAPIVersion = "9.2"
	defaultTimeout    = 30 * time.Second

	clientRequestIDHeader  = "x-ms-client-request-id"
	serviceRequestIDHeader = "REQ_ID"

	// maxErrorBody bounds how much of a failed response is read.
	maxErrorBody = 64 << 10
)

var jsonMediaType = contenttype.NewMediaType("application/json")

var ErrInvalidEnvironmentURL = errors.New("invalid environment url")

// APIError is a non-2xx answer from the Web API. Code and Message come from
// the OData error body when one was returned.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("dataverse: %d %s: %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("dataverse: %d: %s", e.StatusCode, msg)
}

func (e *APIError) ErrorType() string { return "DataverseAPIError" }

// WhoAmIResponse is the payload of the WhoAmI function.
type WhoAmIResponse struct {
	BusinessUnitID uuid.UUID `json:"BusinessUnitId"`
	UserID         uuid.UUID `json:"UserId"`
	OrganizationID uuid.UUID `json:"OrganizationId"`

	// Principal is decoded from the access token used for the call, when the
	// token is a JWT.
	Principal *Principal `json:"-"`
}

// Client talks to one Dataverse environment.
type Client struct {
	baseURL    *url.URL
	apiVersion string
	scope      string
	creds      Credentials
	http       *http.Client
	log        *slog.Logger
	timeout    time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAPIVersion sets the Web API version, e.g. "9.2".
func WithAPIVersion(v string) ClientOption {
	return func(c *Client) {
		if v = strings.TrimPrefix(strings.TrimSpace(v), "v"); v != "" {
			c.apiVersion = v
		}
	}
}

// WithTimeout bounds each call, token acquisition included.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient builds a Client for the environment at environmentURL, for
// example https://org.crm.dynamics.com.
func NewClient(environmentURL string, creds Credentials, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(environmentURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvironmentURL, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEnvironmentURL, environmentURL)
	}
	if creds == nil {
		return nil, ErrNoCredentials
	}
	c := &Client{
		baseURL:    u,
		apiVersion: defaultAPIVersion,
		scope:      u.Scheme + "://" + u.Host + "/.default",
		creds:      creds,
		http:       http.DefaultClient,
		log:        slog.Default(),
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EnvironmentURL returns the normalized environment URL.
func (c *Client) EnvironmentURL() string { return c.baseURL.String() }

// Scope returns the OAuth2 scope requested for this environment.
func (c *Client) Scope() string { return c.scope }

// WhoAmI returns the identity of the caller as seen by Dataverse.
func (c *Client) WhoAmI(ctx context.Context) (*WhoAmIResponse, error) {
	var out WhoAmIResponse
	token, err := c.get(ctx, "WhoAmI", &out)
	if err != nil {
		return nil, err
	}
	if p, err := PrincipalFromToken(token); err == nil {
		out.Principal = p
	}
	return &out, nil
}

// get performs an authenticated GET against the Web API and decodes the JSON
// body into out. It returns the access token that was used.
func (c *Client) get(ctx context.Context, path string, out any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	log := c.log.With(slog.String("path", path))

	ts, err := c.creds.TokenSource(ctx, c.scope)
	if err != nil {
		return "", fmt.Errorf("acquire token source: %w", err)
	}
	tok, err := tokenWithContext(ctx, ts)
	if err != nil {
		return "", fmt.Errorf("acquire token: %w", err)
	}

	endpoint := c.baseURL.JoinPath("api", "data", "v"+c.apiVersion, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	clientRequestID := uuid.NewString()
	req.Header.Set("Accept", jsonMediaType.String())
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	req.Header.Set(clientRequestIDHeader, clientRequestID)
	tok.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		log.WarnContext(ctx, "dataverse.request.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return "", fmt.Errorf("dataverse request: %w", err)
	}
	defer resp.Body.Close()

	log = log.With(slog.Int("status", resp.StatusCode), slog.String("client_request_id", clientRequestID))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(resp)
		log.WarnContext(ctx, "dataverse.request.error", slog.String("code", apiErr.Code), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return "", apiErr
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt := contenttype.NewMediaType(ct)
		if !mt.Matches(jsonMediaType) {
			return "", fmt.Errorf("dataverse: unexpected content type %q", ct)
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", fmt.Errorf("decode %s response: %w", path, err)
	}

	log.DebugContext(ctx, "dataverse.request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return tok.AccessToken, nil
}

// tokenWithContext bounds ts.Token by ctx. Token sources carry no context of
// their own; a fetch abandoned here completes in the background and its token
// is cached for the next call.
func tokenWithContext(ctx context.Context, ts oauth2.TokenSource) (*oauth2.Token, error) {
	type result struct {
		tok *oauth2.Token
		err error
	}
	ch := make(chan result, 1)
	go func() {
		tok, err := ts.Token()
		ch <- result{tok: tok, err: err}
	}()
	select {
	case r := <-ch:
		return r.tok, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get(serviceRequestIDHeader),
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return apiErr
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && (envelope.Error.Code != "" || envelope.Error.Message != "") {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}
