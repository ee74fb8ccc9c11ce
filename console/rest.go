// Package console is a client for the REST API of the trading console backend.
package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/tradeconsole/marketfeed/internal/authn"
	"github.com/tradeconsole/marketfeed/internal/ctxtime"
	"github.com/tradeconsole/marketfeed/watchlist"
)

// InstrumentLookup resolves instrument reference data.
type InstrumentLookup interface {
	GetInstrument(ctx context.Context, token int64) (*InstrumentDescriptor, error)
}

// ClientOpts contains options for the console client
type ClientOpts struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RetryLimit int
	RetryDelay time.Duration
}

// Client is the console REST client. It implements watchlist.Store and
// InstrumentLookup.
type Client struct {
	opts       ClientOpts
	httpClient *http.Client

	do func(c *Client, req *http.Request) (*http.Response, error)
}

var (
	_ watchlist.Store  = (*Client)(nil)
	_ InstrumentLookup = (*Client)(nil)
)

// NewClient creates a new console client using the given opts.
func NewClient(opts ClientOpts) *Client {
	if opts.BaseURL == "" {
		if s := os.Getenv("CONSOLE_API_URL"); s != "" {
			opts.BaseURL = s
		} else {
			opts.BaseURL = "http://localhost:8080"
		}
	}
	if opts.Token == "" {
		creds := authn.Credentials{}
		authn.PopulateFromEnv(&creds)
		opts.Token = creds.ConsoleToken
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryLimit == 0 {
		opts.RetryLimit = 3
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Second
	}
	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		do:         defaultDo,
	}
}

const apiVersion = "v1"

func defaultDo(c *Client, req *http.Request) (*http.Response, error) {
	authn.SetBearerToken(req, c.opts.Token)
	req.Header.Set("Accept", "application/json")

	var resp *http.Response
	var err error
	for i := 0; ; i++ {
		if req.GetBody != nil && i > 0 {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req.Body = body
		}
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		if i >= c.opts.RetryLimit {
			break
		}
		resp.Body.Close()
		if err := ctxtime.Sleep(req.Context(), nil, c.opts.RetryDelay); err != nil {
			return nil, err
		}
	}

	if err = verify(resp); err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *Client) endpoint(format string, args ...interface{}) (*url.URL, error) {
	return url.Parse(fmt.Sprintf("%s/api/%s/", c.opts.BaseURL, apiVersion) + fmt.Sprintf(format, args...))
}

// GetWatchlist returns the watchlist of userID.
func (c *Client) GetWatchlist(ctx context.Context, userID string) ([]watchlist.Entry, error) {
	u, err := c.endpoint("users/%s/watchlist", url.PathEscape(userID))
	if err != nil {
		return nil, err
	}

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var entries []watchlist.Entry
	if err = unmarshal(resp, &entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// AddToWatchlist appends token to the watchlist of userID.
func (c *Client) AddToWatchlist(ctx context.Context, userID string, token int64) error {
	u, err := c.endpoint("users/%s/watchlist", url.PathEscape(userID))
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, u, addWatchlistRequest{Token: token})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// RemoveFromWatchlist removes token from the watchlist of userID.
func (c *Client) RemoveFromWatchlist(ctx context.Context, userID string, token int64) error {
	u, err := c.endpoint("users/%s/watchlist/%s", url.PathEscape(userID), strconv.FormatInt(token, 10))
	if err != nil {
		return err
	}

	resp, err := c.delete(ctx, u)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// GetInstrument returns the reference data of token.
func (c *Client) GetInstrument(ctx context.Context, token int64) (*InstrumentDescriptor, error) {
	u, err := c.endpoint("instruments/%d", token)
	if err != nil {
		return nil, err
	}

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	instrument := &InstrumentDescriptor{}
	if err = unmarshal(resp, instrument); err != nil {
		return nil, err
	}

	return instrument, nil
}

func (c *Client) get(ctx context.Context, u *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	return c.do(c, req)
}

func (c *Client) post(ctx context.Context, u *url.URL, data interface{}) (*http.Response, error) {
	buf, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(c, req)
}

func (c *Client) delete(ctx context.Context, u *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u.String(), nil)
	if err != nil {
		return nil, err
	}

	return c.do(c, req)
}

// APIError wraps the detailed code and message supplied
// by the console API for debugging purposes
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Body       string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (HTTP %d, Code %d)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

func verify(resp *http.Response) error {
	if resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		apiErr := APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
			// If the error is not in our JSON format, we simply return the HTTP response
			return fmt.Errorf("HTTP %s: %s", resp.Status, body)
		}
		return &apiErr
	}
	return nil
}

func unmarshal(resp *http.Response, data interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(data)
}
