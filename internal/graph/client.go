// Package graph is a minimal Microsoft Graph REST client authenticating via
// the OAuth2 client-credentials grant.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

var ErrMissingCredentials = errors.New("graph client id/secret not configured")

// UpstreamError is a non-2xx response from Graph or the token endpoint.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("graph upstream error: status %d", e.Status)
}

type Client struct {
	tenantID     string
	clientID     string
	clientSecret string

	baseURL    string
	tokenURL   string
	scopes     []string
	httpClient *http.Client
}

type Option func(*Client)

// WithBaseURL overrides the Graph API base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithTokenURL overrides the token endpoint. Used by tests.
func WithTokenURL(u string) Option {
	return func(c *Client) { c.tokenURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func NewClient(tenantID, clientID, clientSecret string, opts ...Option) *Client {
	if tenantID == "" {
		tenantID = "common"
	}
	c := &Client{
		tenantID:     tenantID,
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultBaseURL,
		tokenURL:     microsoft.AzureADEndpoint(tenantID).TokenURL,
		scopes:       []string{"https://graph.microsoft.com/.default"},
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AppToken acquires an application token via the client-credentials grant.
// Tokens are not cached; every Graph call pays one token round trip.
func (c *Client) AppToken(ctx context.Context) (string, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return "", ErrMissingCredentials
	}

	cc := &clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		TokenURL:     c.tokenURL,
		Scopes:       c.scopes,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := cc.Token(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return "", &UpstreamError{Status: retrieveErr.Response.StatusCode, Body: string(retrieveErr.Body)}
		}
		return "", fmt.Errorf("acquire app token: %w", err)
	}
	return tok.AccessToken, nil
}

// Get issues a GET request. path may be a Graph-relative path (including
// OData query strings such as $select or $deltatoken) or a full next-link
// URL returned by a previous paginated response.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) Patch(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPatch, path, body)
}

// Delete issues a DELETE request. A 404 response counts as success so that
// deleting an already-gone subscription is idempotent.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	var upstream *UpstreamError
	if errors.As(err, &upstream) && upstream.Status == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	token, err := c.AppToken(ctx)
	if err != nil {
		return nil, err
	}

	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		url = c.baseURL + path
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(data)}
	}

	if len(data) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}
