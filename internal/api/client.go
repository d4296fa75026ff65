package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dl-alexandre/ocsync/internal/auth"
	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/metrics"
	"github.com/dl-alexandre/ocsync/internal/trust"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/dl-alexandre/ocsync/pkg/version"
	"golang.org/x/oauth2"
)

// CredentialSource supplies the username and password of a connection.
// *auth.Store implements it.
type CredentialSource interface {
	Credentials() (username, password string)
}

// CertificateVerifier decides whether a connection with certificate
// problems may proceed. *trust.Cache implements it.
//
// Allows answers from what is already known and must not block: it runs
// inside the TLS handshake. Check may ask the user and runs outside it.
type CertificateVerifier interface {
	Allows(errs []trust.CertError) bool
	Check(errs []trust.CertError) bool
	Reset()
}

// Options configures a Client.
type Options struct {
	// BaseURL is the server root, without status.php or the WebDAV path.
	BaseURL     string
	Credentials CredentialSource
	// AuthHeader replaces the computed Authorization header when set.
	AuthHeader  string
	TokenSource oauth2.TokenSource
	Trust       CertificateVerifier
	// RootCAs defaults to the system pool.
	RootCAs  *x509.CertPool
	Listener Listener
	Logger   logging.Logger
	// WrapTransport wraps the TLS-configured transport, e.g. with a
	// logging.DebugTransport.
	WrapTransport func(http.RoundTripper) http.RoundTripper
	Timeout       time.Duration
	// HandshakeTimeout bounds the TLS handshake, 10s by default.
	HandshakeTimeout time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	// Now is used for certificate validity checks.
	Now func() time.Time
}

// Client talks to one server: status checks, WebDAV directory queries and
// the file operations used by the sync engine.
type Client struct {
	base        *url.URL
	creds       CredentialSource
	authHeader  string
	tokenSource oauth2.TokenSource
	trust       CertificateVerifier
	rootCAs     *x509.CertPool
	listener    Listener
	logger      logging.Logger
	http        *http.Client
	pending     *pendingRequests
	maxRetries  int
	retryDelay  time.Duration
	now         func() time.Time

	// grants lets the next handshake showing exactly these problems pass
	// after the user accepted them once.
	grantMu sync.Mutex
	grants  map[string]int
}

// NewClient creates a client for opts.BaseURL.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", opts.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", opts.BaseURL)
	}

	c := &Client{
		base:        base,
		creds:       opts.Credentials,
		authHeader:  opts.AuthHeader,
		tokenSource: opts.TokenSource,
		trust:       opts.Trust,
		rootCAs:     opts.RootCAs,
		listener:    opts.Listener,
		logger:      opts.Logger,
		pending:     newPendingRequests(),
		maxRetries:  opts.MaxRetries,
		retryDelay:  opts.RetryDelay,
		now:         opts.Now,
		grants:      make(map[string]int),
	}
	if c.listener == nil {
		c.listener = NopListener{}
	}
	if c.logger == nil {
		c.logger = logging.NewNoOpLogger()
	}
	if c.retryDelay <= 0 {
		c.retryDelay = time.Duration(utils.DefaultRetryDelayMs) * time.Millisecond
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.now == nil {
		c.now = time.Now
	}
	handshakeTimeout := opts.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}

	var rt http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     c.tlsConfig(),
		TLSHandshakeTimeout: handshakeTimeout,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
	if opts.WrapTransport != nil {
		rt = opts.WrapTransport(rt)
	}
	if c.tokenSource != nil {
		rt = &oauth2.Transport{Source: c.tokenSource, Base: rt}
	}
	c.http = &http.Client{Transport: rt, Timeout: opts.Timeout}

	return c, nil
}

// tlsConfig disables the library's verification so that certificate
// problems reach the trust cache instead of failing the handshake outright.
func (c *Client) tlsConfig() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
		VerifyConnection:   c.verifyConnection,
	}
}

func (c *Client) verifyConnection(cs tls.ConnectionState) error {
	host := cs.ServerName
	if host == "" {
		host = c.base.Hostname()
	}
	problems := trust.Classify(cs.PeerCertificates, host, c.rootCAs, c.now())
	if len(problems) == 0 {
		return nil
	}
	if c.takeGrant(problems) {
		return nil
	}
	if c.trust != nil && c.trust.Allows(problems) {
		return nil
	}

	c.logger.Warn("SSL problems for server certificate",
		logging.F("host", host),
		logging.F("problems", len(problems)),
	)
	return &CertificateError{Problems: problems}
}

func grantKey(problems []trust.CertError) string {
	keys := make([]string, 0, len(problems))
	for _, p := range problems {
		keys = append(keys, fmt.Sprintf("%d/%s", p.Kind, trust.NormalizeFingerprint(p.Fingerprint)))
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func (c *Client) grant(problems []trust.CertError) {
	c.grantMu.Lock()
	defer c.grantMu.Unlock()
	c.grants[grantKey(problems)]++
}

func (c *Client) takeGrant(problems []trust.CertError) bool {
	c.grantMu.Lock()
	defer c.grantMu.Unlock()
	key := grantKey(problems)
	if c.grants[key] == 0 {
		return false
	}
	c.grants[key]--
	if c.grants[key] == 0 {
		delete(c.grants, key)
	}
	return true
}

// decideCertificate asks the verifier about a rejected handshake. It runs
// after the handshake failed, so a slow answer does not time the request
// out. An accepted chain lets the next handshake through.
func (c *Client) decideCertificate(err error) bool {
	var certErr *CertificateError
	if c.trust == nil || !errors.As(err, &certErr) {
		return false
	}
	if !c.trust.Check(certErr.Problems) {
		return false
	}
	c.grant(certErr.Problems)
	return true
}

// BaseURL returns the configured server root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// URL builds an absolute URL for path below the server root, or below the
// WebDAV root when webdav is set.
func (c *Client) URL(path string, webdav bool) *url.URL {
	u := *c.base
	prefix := "/"
	if webdav {
		prefix = "/" + utils.WebDAVPath
	}
	u.Path = strings.TrimSuffix(c.base.Path, "/") + prefix + strings.TrimPrefix(path, "/")
	u.RawPath = ""
	return &u
}

// ResetTrust forgets an earlier refusal of the server certificate.
func (c *Client) ResetTrust() {
	if c.trust != nil {
		c.trust.Reset()
	}
}

// CheckService asks status.php whether a server is installed at the base URL.
func (c *Client) CheckService(ctx context.Context) *Reply {
	return c.CustomRequest(ctx, http.MethodGet, c.URL(utils.StatusPath, false).String(), nil, c.statusFinished)
}

// GetPath issues a GET for path below the WebDAV root. The listener gets
// DirectoryExists with the same path.
func (c *Client) GetPath(ctx context.Context, path string) *Reply {
	u := c.URL(path, true)
	r := newReply(http.MethodGet, u, c.getPathFinished)
	c.pending.add(r, path)
	go c.run(ctx, r, request{})
	return r
}

// MakeDirectory creates a collection below the WebDAV root.
func (c *Client) MakeDirectory(ctx context.Context, path string) *Reply {
	return c.CustomRequest(ctx, "MKCOL", c.URL(path, true).String(), nil, c.mkdirFinished)
}

// CustomRequest sends verb to rawURL with an optional XML body. onFinished
// runs once the reply is complete, before Done is closed.
func (c *Client) CustomRequest(ctx context.Context, verb, rawURL string, body []byte, onFinished func(*Reply)) *Reply {
	return c.dispatch(ctx, verb, rawURL, request{body: body, contentType: utils.ContentTypeXML}, onFinished)
}

// request carries the optional parts of an outgoing request.
type request struct {
	body        []byte
	contentType string
	header      http.Header
}

func (c *Client) dispatch(ctx context.Context, verb, rawURL string, req request, onFinished func(*Reply)) *Reply {
	u, err := url.Parse(rawURL)
	if err != nil {
		r := newReply(verb, &url.URL{}, onFinished)
		r.Err = fmt.Errorf("invalid request URL %q: %w", rawURL, err)
		go r.finish()
		return r
	}
	r := newReply(verb, u, onFinished)
	go c.run(ctx, r, req)
	return r
}

func (c *Client) run(ctx context.Context, r *Reply, req request) {
	defer r.finish()

	resp, err := c.send(ctx, r.Verb, r.URL, req)
	if err != nil {
		r.Err = err
		metrics.RecordHTTPRequest(r.Verb, 0)
		c.logger.Error("Network error",
			logging.F("verb", r.Verb),
			logging.F("url", r.URL.Redacted()),
			logging.F("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()

	r.StatusCode = resp.StatusCode
	r.Header = resp.Header
	metrics.RecordHTTPRequest(r.Verb, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		r.Err = fmt.Errorf("failed to read response body: %w", err)
		c.logger.Error("Network error", logging.F("verb", r.Verb), logging.F("error", err.Error()))
		return
	}
	r.Body = data
}

// send performs one request and answers a single authentication challenge
// with the stored credentials.
func (c *Client) send(ctx context.Context, verb string, u *url.URL, req request) (*http.Response, error) {
	resp, err := c.do(ctx, verb, u, req, false)
	if err != nil && c.decideCertificate(err) {
		resp, err = c.do(ctx, verb, u, req, false)
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || resp.Header.Get("WWW-Authenticate") == "" {
		return resp, nil
	}

	c.logger.Debug("Authenticating request", logging.F("url", u.Redacted()))
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return c.do(ctx, verb, u, req, true)
}

func (c *Client) do(ctx context.Context, verb string, u *url.URL, params request, challenged bool) (*http.Response, error) {
	var reader io.Reader
	if len(params.body) > 0 {
		reader = bytes.NewReader(params.body)
	}
	req, err := http.NewRequestWithContext(ctx, verb, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", verb, err)
	}
	for key, values := range params.header {
		req.Header[key] = values
	}
	c.setupHeaders(req, int64(len(params.body)), params.contentType)
	if challenged {
		user, pass := c.credentials()
		req.Header.Set("Authorization", auth.BasicAuthHeader(user, pass))
	}
	return c.http.Do(req)
}

func (c *Client) setupHeaders(req *http.Request, size int64, contentType string) {
	req.Host = c.base.Host
	req.Header.Set("User-Agent", version.UserAgent())
	if value := c.authorization(); value != "" {
		req.Header.Set("Authorization", value)
	}
	if size > 0 {
		req.ContentLength = size
		req.Header.Set("Content-Length", strconv.FormatInt(size, 10))
		if contentType == "" {
			contentType = utils.ContentTypeXML
		}
		req.Header.Set("Content-Type", contentType)
	}
}

// authorization returns the header value for non-token connections. With a
// token source the oauth2 transport sets the bearer header instead.
func (c *Client) authorization() string {
	if c.tokenSource != nil {
		return ""
	}
	if c.authHeader != "" {
		return c.authHeader
	}
	user, pass := c.credentials()
	if user == "" {
		return ""
	}
	return auth.BasicAuthHeader(user, pass)
}

func (c *Client) credentials() (string, string) {
	if c.creds == nil {
		return "", ""
	}
	return c.creds.Credentials()
}

func (c *Client) getPathFinished(r *Reply) {
	path, ok := c.pending.take(r)
	if !ok {
		path = "unknown"
	}
	c.listener.DirectoryExists(path, r)
}

func (c *Client) mkdirFinished(r *Reply) {
	c.logger.Debug("Collection request finished",
		logging.F("url", r.URL.Redacted()),
		logging.F("status", r.StatusCode),
	)
	c.listener.DirectoryCreated(r)
}
