package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"erpmigrate/internal/logger"
	"erpmigrate/pkg/circuitbreaker"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/metrics"
	"erpmigrate/pkg/pool"
	"erpmigrate/pkg/ratelimit"
	"erpmigrate/pkg/retry"
)

const (
	HeaderCSRFToken = "X-CSRF-Token"
	csrfFetch       = "Fetch"
	csrfRequired    = "Required"
)

type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBasic  AuthType = "basic"
	AuthOAuth2 AuthType = "oauth2"
)

type Auth struct {
	Type         AuthType
	Username     string
	Password     string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

type Config struct {
	Name    string
	BaseURL string
	Timeout time.Duration
	Auth    Auth
	// Client is the SAP logon client, sent as sap-client when set.
	Client string
	// CSRFPath is requested with X-CSRF-Token: Fetch before mutating calls. Empty disables CSRF.
	CSRFPath  string
	Headers   map[string]string
	Pool      pool.Config
	Breaker   circuitbreaker.Config
	Retry     retry.Policy
	RateLimit float64
	// ErrorBase is the error kind raised for non-2xx responses.
	ErrorBase *errors.Error
	Transport http.RoundTripper
}

// Request describes one call relative to BaseURL. Body is sent verbatim when it is
// []byte, otherwise it is JSON-encoded.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Header  http.Header
	Body    interface{}
	// Absolute overrides BaseURL+Path, e.g. for server-provided next links.
	Absolute string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) DecodeJSON(v interface{}) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Session is one pooled keep-alive connection with its own cookies and CSRF token.
type Session struct {
	http *http.Client
	csrf string
}

// Client is a pooled, circuit-broken, retrying HTTP client.
type Client struct {
	cfg     Config
	base    *url.URL
	pool    *pool.Pool[*Session]
	breaker *circuitbreaker.Breaker
	limiter *ratelimit.Outbound
	tokens  oauth2.TokenSource
	logger  logger.Logger
}

func New(cfg Config, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NopLogger()
	}
	if cfg.ErrorBase == nil {
		cfg.ErrorBase = errors.ErrConnection
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = cfg.BaseURL
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.ErrConfiguration.Newf("invalid base URL %q", cfg.BaseURL).WithDetail("profile", cfg.Name)
	}

	c := &Client{
		cfg:     cfg,
		base:    base,
		limiter: ratelimit.NewOutbound(cfg.Name, cfg.RateLimit, 0),
		logger:  log.Named("httpapi"),
	}

	if cfg.Auth.Type == AuthOAuth2 {
		cc := clientcredentials.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			TokenURL:     cfg.Auth.TokenURL,
			Scopes:       cfg.Auth.Scopes,
		}
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
			Timeout:   cfg.Timeout,
			Transport: c.baseTransport(),
		})
		c.tokens = cc.TokenSource(tokenCtx)
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg.Name = cfg.Name
	}
	c.breaker = circuitbreaker.New(breakerCfg)

	poolCfg := cfg.Pool
	if poolCfg.Name == "" {
		poolCfg.Name = cfg.Name
	}
	c.pool = pool.New(poolCfg, c.newSession, nil)

	return c, nil
}

func (c *Client) baseTransport() http.RoundTripper {
	if c.cfg.Transport != nil {
		return c.cfg.Transport
	}
	return http.DefaultTransport
}

func (c *Client) newSession(ctx context.Context) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	var transport http.RoundTripper = c.baseTransport()
	if c.tokens != nil {
		transport = &oauth2.Transport{Source: c.tokens, Base: transport}
	}
	return &Session{
		http: &http.Client{Timeout: c.cfg.Timeout, Jar: jar, Transport: transport},
	}, nil
}

func (c *Client) Name() string {
	return c.cfg.Name
}

func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

func (c *Client) PoolStats() pool.Stats {
	return c.pool.Stats()
}

// Do sends req with retry on transport failures and 5xx/429 responses.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := retry.Do(ctx, c.cfg.Retry, func(attempt int) error {
		r, err := c.doOnce(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, retry.Options{
		IsRetryable: isRetryable,
		OnRetry: func(attempt int, err error, next time.Duration) {
			metrics.IncRetryAttempt(c.cfg.Name, req.Method)
			c.logger.WarnwCtx(ctx, "Retrying HTTP request",
				"profile", c.cfg.Name, "method", req.Method, "path", req.Path,
				"attempt", attempt, "next_delay", next, "error", err)
		},
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FetchCSRFToken negotiates a token on a pooled session and returns it.
func (c *Client) FetchCSRFToken(ctx context.Context) (string, error) {
	session, err := c.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer c.pool.Release(session)
	if err := c.fetchCSRF(ctx, session); err != nil {
		return "", err
	}
	return session.csrf, nil
}

func (c *Client) doOnce(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	session, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.send(ctx, session, req)
	})
	if err != nil {
		var netErr net.Error
		if stderrors.As(err, &netErr) {
			c.pool.Discard(session)
		} else {
			c.pool.Release(session)
		}
		return nil, err
	}
	c.pool.Release(session)

	resp := result.(*Response)
	if resp.StatusCode >= 400 {
		return nil, c.statusError(req, resp)
	}
	return resp, nil
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, "MERGE":
		return true
	}
	return false
}

func (c *Client) send(ctx context.Context, session *Session, req Request) (*Response, error) {
	needsCSRF := c.cfg.CSRFPath != "" && mutating(req.Method)
	if needsCSRF && session.csrf == "" {
		if err := c.fetchCSRF(ctx, session); err != nil {
			return nil, err
		}
	}

	resp, err := c.roundTrip(ctx, session, req)
	if err != nil {
		return nil, err
	}

	if needsCSRF && resp.StatusCode == http.StatusForbidden &&
		strings.EqualFold(resp.Header.Get(HeaderCSRFToken), csrfRequired) {
		session.csrf = ""
		if err := c.fetchCSRF(ctx, session); err != nil {
			return nil, err
		}
		resp, err = c.roundTrip(ctx, session, req)
		if err != nil {
			return nil, err
		}
	}

	// Client errors are the caller's problem and must not trip the breaker.
	if resp.StatusCode >= 500 {
		return nil, c.statusError(req, resp)
	}
	return resp, nil
}

func (c *Client) fetchCSRF(ctx context.Context, session *Session) error {
	header := http.Header{}
	header.Set(HeaderCSRFToken, csrfFetch)
	resp, err := c.roundTrip(ctx, session, Request{Method: http.MethodGet, Path: c.cfg.CSRFPath, Header: header})
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return c.statusError(Request{Method: http.MethodGet, Path: c.cfg.CSRFPath}, resp)
	}
	token := resp.Header.Get(HeaderCSRFToken)
	if token == "" || strings.EqualFold(token, csrfRequired) {
		return c.cfg.ErrorBase.New("server did not return a CSRF token").
			WithDetail("profile", c.cfg.Name).
			WithDetail("path", c.cfg.CSRFPath)
	}
	session.csrf = token
	return nil
}

func (c *Client) resolve(req Request) (string, error) {
	if req.Absolute != "" {
		u, err := url.Parse(req.Absolute)
		if err != nil {
			return "", err
		}
		if !u.IsAbs() {
			u = c.base.ResolveReference(u)
		}
		return c.withClient(u, nil), nil
	}

	u := *c.base
	path := req.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	return c.withClient(&u, req.Query), nil
}

func (c *Client) withClient(u *url.URL, extra url.Values) string {
	q := u.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if c.cfg.Client != "" && q.Get("sap-client") == "" {
		q.Set("sap-client", c.cfg.Client)
	}
	// OData system query options must keep their literal $ prefix.
	u.RawQuery = strings.NewReplacer("%24", "$", "+", "%20").Replace(q.Encode())
	return u.String()
}

func (c *Client) roundTrip(ctx context.Context, session *Session, req Request) (*Response, error) {
	target, err := c.resolve(req)
	if err != nil {
		return nil, errors.ErrConfiguration.Newf("invalid request URL for %s", req.Path).WithCause(err)
	}

	var body io.Reader
	var contentType string
	switch b := req.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(b)
	case string:
		body = strings.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, c.cfg.ErrorBase.New("failed to encode request body").WithCause(err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, errors.ErrConfiguration.Newf("invalid request %s %s", req.Method, req.Path).WithCause(err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if c.cfg.Auth.Type == AuthBasic {
		httpReq.SetBasicAuth(c.cfg.Auth.Username, c.cfg.Auth.Password)
	}
	if session.csrf != "" && httpReq.Header.Get(HeaderCSRFToken) == "" {
		httpReq.Header.Set(HeaderCSRFToken, session.csrf)
	}

	start := time.Now()
	httpResp, err := session.http.Do(httpReq)
	if err != nil {
		metrics.ObserveProtocolRequest("http", "error", time.Since(start))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ErrConnection.Newf("%s %s failed", req.Method, redactURL(target)).
			WithCause(err).
			WithDetail("profile", c.cfg.Name)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		metrics.ObserveProtocolRequest("http", "error", time.Since(start))
		return nil, errors.ErrConnection.Newf("failed to read response from %s", redactURL(target)).WithCause(err)
	}
	metrics.ObserveProtocolRequest("http", statusClass(httpResp.StatusCode), time.Since(start))

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func (c *Client) statusError(req Request, resp *Response) error {
	var decoded interface{}
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		decoded = string(resp.Body)
	}

	base := c.cfg.ErrorBase
	if resp.StatusCode == http.StatusUnauthorized {
		base = errors.ErrAuthentication
	}
	return base.Newf("%s %s returned HTTP %d: %s", req.Method, req.Path, resp.StatusCode, ExtractMessage(decoded)).
		WithResponse(resp.StatusCode, decoded).
		WithDetail("profile", c.cfg.Name).
		WithDetail("statusCode", resp.StatusCode)
}

// ExtractMessage pulls a human message out of common OData/REST error envelopes.
func ExtractMessage(body interface{}) string {
	switch b := body.(type) {
	case string:
		if len(b) > 200 {
			return b[:200]
		}
		return b
	case map[string]interface{}:
		if e, ok := b["error"].(map[string]interface{}); ok {
			switch m := e["message"].(type) {
			case string:
				return m
			case map[string]interface{}:
				if v, ok := m["value"].(string); ok {
					return v
				}
			}
		}
		for _, key := range []string{"message", "Message", "error_description", "error"} {
			if v, ok := b[key].(string); ok {
				return v
			}
		}
	}
	return "request failed"
}

func isRetryable(err error) bool {
	if errors.IsCircuitOpen(err) || errors.IsKind(err, errors.KindPoolDrained) ||
		errors.IsKind(err, errors.KindConfiguration) || errors.IsKind(err, errors.KindAuthentication) {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if appErr, ok := errors.As(err); ok && appErr.StatusCode > 0 {
		return appErr.StatusCode == http.StatusTooManyRequests || appErr.StatusCode >= 500
	}
	return errors.IsKind(err, errors.KindConnection) || errors.IsKind(err, errors.KindPoolTimeout)
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

// Close drains the session pool.
func (c *Client) Close() {
	c.pool.Drain()
}
