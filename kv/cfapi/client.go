// Package cfapi is a client for the Cloudflare Workers KV REST API.
//
//	client := cfapi.New(accountID, cfapi.WithAPIToken(token))
//	ns, err := client.CreateOrGetNamespace(ctx, "production")
//	if err != nil {
//	    return err
//	}
//	remote := client.Namespace(ns.ID) // a kvsdk.Remote
package cfapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/acksell/cfkv/kv/kvsdk"
)

const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

// Client talks to the namespaces of one account. It is safe for concurrent use.
type Client struct {
	accountID string
	opts      clientOpts
	calls     atomic.Int64
}

type Option func(*clientOpts)

type clientOpts struct {
	baseURL    string
	httpClient *http.Client
	apiToken   string
	authKey    string
	authEmail  string
	userAgent  string
	logger     zerolog.Logger
}

func New(accountID string, opts ...Option) *Client {
	c := &Client{
		accountID: accountID,
		opts: clientOpts{
			baseURL:    DefaultBaseURL,
			httpClient: http.DefaultClient,
			logger:     zerolog.Nop(),
		},
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	c.opts.baseURL = strings.TrimRight(c.opts.baseURL, "/")
	return c
}

// WithBaseURL points the client at another API root, such as a local emulator.
func WithBaseURL(u string) Option {
	return func(o *clientOpts) {
		o.baseURL = u
	}
}

// WithHTTPClient sets the transport. Timeouts are the transport's business.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOpts) {
		o.httpClient = hc
	}
}

// WithAPIToken authenticates with a bearer token.
func WithAPIToken(token string) Option {
	return func(o *clientOpts) {
		o.apiToken = token
	}
}

// WithAuthKey authenticates with a global API key and the account email.
func WithAuthKey(key, email string) Option {
	return func(o *clientOpts) {
		o.authKey = key
		o.authEmail = email
	}
}

func WithUserAgent(ua string) Option {
	return func(o *clientOpts) {
		o.userAgent = ua
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *clientOpts) {
		o.logger = l
	}
}

// Calls returns the number of HTTP requests this client has made.
func (c *Client) Calls() int64 {
	return c.calls.Load()
}

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.opts.baseURL + "/accounts/" + url.PathEscape(c.accountID) + "/storage/kv/namespaces" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) send(ctx context.Context, r request) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path, r.query), r.body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: build request", r.op)
	}
	switch {
	case r.contentType != "":
		req.Header.Set("Content-Type", r.contentType)
	case r.body != nil:
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.apiToken)
	}
	if c.opts.authKey != "" {
		req.Header.Set("X-Auth-Key", c.opts.authKey)
		req.Header.Set("X-Auth-Email", c.opts.authEmail)
	}
	if c.opts.userAgent != "" {
		req.Header.Set("User-Agent", c.opts.userAgent)
	}

	c.calls.Add(1)
	start := time.Now()
	res, err := c.opts.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: %s %s", r.op, r.method, r.path)
	}
	c.opts.logger.Debug().
		Str("op", r.op).
		Str("method", r.method).
		Str("path", r.path).
		Int("status", res.StatusCode).
		Dur("took", time.Since(start)).
		Msg("kv api call")
	return res, nil
}

// call sends a request and decodes the JSON envelope of the response into out.
func (c *Client) call(ctx context.Context, r request, out any) (*ResultInfo, error) {
	res, err := c.send(ctx, r)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	env, err := decodeEnvelope(r.op, res)
	if err != nil {
		return nil, err
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return nil, errors.Wrapf(err, "%s: decode result", r.op)
		}
	}
	return env.ResultInfo, nil
}

// decodeEnvelope reads an envelope and turns an unsuccessful one into a
// *kvsdk.RemoteError.
func decodeEnvelope(op string, res *http.Response) (*Envelope, error) {
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read response", op)
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &kvsdk.RemoteError{
			Op:     op,
			Status: res.StatusCode,
			Errors: []kvsdk.APIError{{Message: "malformed response: " + snippet(body)}},
		}
	}
	if !env.Success || res.StatusCode >= http.StatusBadRequest {
		return nil, &kvsdk.RemoteError{Op: op, Status: res.StatusCode, Errors: env.Errors}
	}
	return &env, nil
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode request body")
	}
	return bytes.NewReader(b), nil
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
