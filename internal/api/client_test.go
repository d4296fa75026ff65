package api

import (
	"context"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dl-alexandre/ocsync/internal/auth"
	"github.com/dl-alexandre/ocsync/internal/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/webdav"
	"golang.org/x/oauth2"
)

type recordingListener struct {
	mu       sync.Mutex
	found    []string
	notFound []*Reply
	dirs     []string
	created  []*Reply
}

func (l *recordingListener) ServiceFound(url, version string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.found = append(l.found, url+"|"+version)
}

func (l *recordingListener) ServiceNotFound(r *Reply) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notFound = append(l.notFound, r)
}

func (l *recordingListener) DirectoryExists(path string, _ *Reply) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirs = append(l.dirs, path)
}

func (l *recordingListener) DirectoryCreated(r *Reply) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, r)
}

func (l *recordingListener) events() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.found) + len(l.notFound) + len(l.dirs) + len(l.created)
}

// newServer serves status from statusHandler and a memory backed WebDAV tree.
func newServer(t *testing.T, statusHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	if statusHandler != nil {
		mux.HandleFunc("/status.php", statusHandler)
	}
	mux.Handle("/remote.php/webdav/", &webdav.Handler{
		Prefix:     "/remote.php/webdav",
		FileSystem: webdav.NewMemFS(),
		LockSystem: webdav.NewMemLS(),
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string, listener Listener, opts ...func(*Options)) *Client {
	t.Helper()
	o := Options{
		BaseURL:    baseURL,
		Listener:   listener,
		RetryDelay: time.Millisecond,
	}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := NewClient(o)
	require.NoError(t, err)
	return c
}

func statusBody(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(Options{BaseURL: "ftp://example.com"})
	assert.Error(t, err)

	_, err = NewClient(Options{BaseURL: "://"})
	assert.Error(t, err)
}

func TestClientURL(t *testing.T) {
	c := newTestClient(t, "https://cloud.example.com/owncloud/", nil)

	assert.Equal(t, "https://cloud.example.com/owncloud/status.php", c.URL("status.php", false).String())
	assert.Equal(t, "https://cloud.example.com/owncloud/remote.php/webdav/Photos/2024", c.URL("/Photos/2024", true).String())
	assert.Equal(t, "https://cloud.example.com/owncloud/remote.php/webdav/", c.URL("", true).String())
}

func TestCheckServiceFound(t *testing.T) {
	srv := newServer(t, statusBody(`{"installed":"true","version":"7.0","versionstring":"7.0.0"}`))
	listener := &recordingListener{}
	c := newTestClient(t, srv.URL, listener)

	r := c.CheckService(context.Background()).Wait()
	require.NoError(t, r.Err)

	assert.Equal(t, []string{srv.URL + "|7.0.0"}, listener.found)
	assert.Empty(t, listener.notFound)
}

func TestCheckServiceFoundBelowSubpath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/owncloud/status.php", statusBody(`{"installed":true,"version":"10.0.3.3","versionstring":"10.0.3","edition":"Community"}`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	listener := &recordingListener{}
	c := newTestClient(t, srv.URL+"/owncloud", listener)
	c.CheckService(context.Background()).Wait()

	assert.Equal(t, []string{srv.URL + "/owncloud|10.0.3"}, listener.found)
}

func TestCheckServiceEmptyBodyIsIgnored(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	listener := &recordingListener{}
	c := newTestClient(t, srv.URL, listener)

	r := c.CheckService(context.Background()).Wait()
	require.NoError(t, r.Err)
	assert.Equal(t, 0, listener.events())
}

func TestCheckServiceNotFound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"html page", statusBody("<html><body>It works</body></html>")},
		{"missing versionstring", statusBody(`{"installed":"true","version":"7.0"}`)},
		{"http error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "gone", http.StatusNotFound)
		}},
		{"http error without body", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.handler)
			listener := &recordingListener{}
			c := newTestClient(t, srv.URL, listener)

			r := c.CheckService(context.Background()).Wait()

			assert.Empty(t, listener.found)
			require.Len(t, listener.notFound, 1)
			assert.Same(t, r, listener.notFound[0])
		})
	}
}

func TestCheckServiceTransportError(t *testing.T) {
	srv := newServer(t, statusBody("{}"))
	base := srv.URL
	srv.Close()

	listener := &recordingListener{}
	c := newTestClient(t, base, listener)
	r := c.CheckService(context.Background()).Wait()

	assert.Error(t, r.Err)
	assert.Len(t, listener.notFound, 1)
}

func TestGetPathReportsRequestedPath(t *testing.T) {
	srv := newServer(t, nil)
	listener := &recordingListener{}
	c := newTestClient(t, srv.URL, listener)

	var replies []*Reply
	for _, p := range []string{"Documents", "Photos/2024"} {
		replies = append(replies, c.GetPath(context.Background(), p))
	}
	for _, r := range replies {
		r.Wait()
	}

	assert.ElementsMatch(t, []string{"Documents", "Photos/2024"}, listener.dirs)
	assert.Equal(t, 0, c.pending.len())
}

func TestGetPathUnknownReply(t *testing.T) {
	listener := &recordingListener{}
	c := newTestClient(t, "http://localhost", listener)

	c.getPathFinished(newReply(http.MethodGet, c.URL("x", true), nil))
	assert.Equal(t, []string{"unknown"}, listener.dirs)
}

func TestMakeDirectory(t *testing.T) {
	srv := newServer(t, nil)
	listener := &recordingListener{}
	c := newTestClient(t, srv.URL, listener)

	r := c.MakeDirectory(context.Background(), "Photos").Wait()
	require.NoError(t, r.HTTPError())
	assert.Equal(t, http.StatusCreated, r.StatusCode)
	require.Len(t, listener.created, 1)
	assert.Same(t, r, listener.created[0])

	again := c.MakeDirectory(context.Background(), "Photos").Wait()
	assert.True(t, IsStatus(again.HTTPError(), http.StatusMethodNotAllowed))
}

func TestCustomRequestRunsOwnHandler(t *testing.T) {
	srv := newServer(t, nil)
	listener := &recordingListener{}
	c := newTestClient(t, srv.URL, listener)

	var calls int32
	r := c.CustomRequest(context.Background(), "PROPFIND", c.URL("", true).String(), []byte(propfindBody), func(r *Reply) {
		atomic.AddInt32(&calls, 1)
	})
	<-r.Done()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, http.StatusMultiStatus, r.StatusCode)
	assert.Equal(t, 0, listener.events())
}

func TestCustomRequestInvalidURL(t *testing.T) {
	c := newTestClient(t, "http://localhost", nil)
	r := c.CustomRequest(context.Background(), "GET", "http://[::1", nil, nil).Wait()
	assert.Error(t, r.Err)
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	var host string
	var length int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		host = r.Host
		length = r.ContentLength
		w.WriteHeader(http.StatusMultiStatus)
	}))
	defer srv.Close()

	store := auth.NewStore()
	store.Set("alice", "s3cret")
	c := newTestClient(t, srv.URL, nil, func(o *Options) { o.Credentials = store })

	body := []byte(propfindBody)
	c.CustomRequest(context.Background(), "PROPFIND", srv.URL+"/remote.php/webdav/", body, nil).Wait()

	assert.Equal(t, strings.TrimPrefix(srv.URL, "http://"), host)
	assert.True(t, strings.HasPrefix(got.Get("User-Agent"), "ocsync/"))
	assert.Equal(t, auth.BasicAuthHeader("alice", "s3cret"), got.Get("Authorization"))
	assert.Equal(t, "text/xml; charset=utf-8", got.Get("Content-Type"))
	assert.Equal(t, int64(len(body)), length)
}

func TestRequestHeadersWithoutBody(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil, func(o *Options) { o.AuthHeader = "Basic b3ZlcnJpZGU=" })
	c.GetPath(context.Background(), "x").Wait()

	assert.Empty(t, got.Get("Content-Type"))
	assert.Equal(t, "Basic b3ZlcnJpZGU=", got.Get("Authorization"))
}

func TestBearerTokenSource(t *testing.T) {
	var authz string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil, func(o *Options) {
		o.TokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "app-token", TokenType: "Bearer"})
	})
	c.GetPath(context.Background(), "x").Wait()

	assert.Equal(t, "Bearer app-token", authz)
}

func TestAuthChallengeAnsweredOnce(t *testing.T) {
	want := auth.BasicAuthHeader("alice", "s3cret")

	tests := []struct {
		name       string
		password   string
		wantStatus int
	}{
		{"stored credentials accepted", "s3cret", http.StatusOK},
		{"stored credentials rejected", "wrong", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				if r.Header.Get("Authorization") != want {
					w.Header().Set("WWW-Authenticate", `Basic realm="ownCloud"`)
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			store := auth.NewStore()
			store.Set("alice", tt.password)
			c := newTestClient(t, srv.URL, nil, func(o *Options) {
				o.Credentials = store
				o.AuthHeader = "Basic c3RhbGU="
			})

			r := c.GetPath(context.Background(), "Documents").Wait()
			require.NoError(t, r.Err)
			assert.Equal(t, tt.wantStatus, r.StatusCode)
			assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
		})
	}
}

func TestUnauthorizedWithoutChallengeIsNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	r := c.GetPath(context.Background(), "x").Wait()

	assert.Equal(t, http.StatusUnauthorized, r.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

type countingPrompter struct {
	calls    int32
	decision trust.Decision
}

func (p *countingPrompter) PromptCertificates([]trust.CertError) trust.Decision {
	atomic.AddInt32(&p.calls, 1)
	return p.decision
}

func newTLSStatusServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(statusBody(`{"installed":"true","version":"7.0","versionstring":"7.0.0"}`))
	t.Cleanup(srv.Close)
	return srv
}

func TestTLSDeclinedMarksSessionUntrusted(t *testing.T) {
	srv := newTLSStatusServer(t)
	prompter := &countingPrompter{decision: trust.Decision{Ignore: false}}
	cache := trust.NewCache(prompter, nil)
	listener := &recordingListener{}
	c := newTestClient(t, srv.URL, listener, func(o *Options) { o.Trust = cache })

	first := c.CheckService(context.Background()).Wait()
	require.Error(t, first.Err)
	assert.True(t, cache.Untrusted())

	second := c.CheckService(context.Background()).Wait()
	require.Error(t, second.Err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&prompter.calls))
	assert.Len(t, listener.notFound, 2)
	assert.Empty(t, listener.found)
}

func TestTLSAcceptedProceeds(t *testing.T) {
	srv := newTLSStatusServer(t)
	prompter := &countingPrompter{decision: trust.Decision{Ignore: true, Remember: true}}
	cache := trust.NewCache(prompter, nil)
	listener := &recordingListener{}
	c := newTestClient(t, srv.URL, listener, func(o *Options) { o.Trust = cache })

	for i := 0; i < 2; i++ {
		r := c.CheckService(context.Background()).Wait()
		require.NoError(t, r.Err)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&prompter.calls))
	assert.Len(t, listener.found, 2)
	assert.False(t, cache.Untrusted())
}

func TestTLSResetTrustAllowsPromptAgain(t *testing.T) {
	srv := newTLSStatusServer(t)
	prompter := &countingPrompter{}
	cache := trust.NewCache(prompter, nil)
	c := newTestClient(t, srv.URL, nil, func(o *Options) { o.Trust = cache })

	c.CheckService(context.Background()).Wait()
	require.True(t, cache.Untrusted())

	c.ResetTrust()
	prompter.decision = trust.Decision{Ignore: true}
	r := c.CheckService(context.Background()).Wait()

	require.NoError(t, r.Err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&prompter.calls))
}

func TestTLSWithoutVerifierFails(t *testing.T) {
	srv := newTLSStatusServer(t)
	c := newTestClient(t, srv.URL, nil)

	r := c.CheckService(context.Background()).Wait()
	assert.Error(t, r.Err)
}

func TestTLSTrustedRootNeedsNoPrompt(t *testing.T) {
	srv := newTLSStatusServer(t)
	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())

	prompter := &countingPrompter{}
	listener := &recordingListener{}
	c := newTestClient(t, srv.URL, listener, func(o *Options) {
		o.Trust = trust.NewCache(prompter, nil)
		o.RootCAs = roots
	})

	r := c.CheckService(context.Background()).Wait()
	require.NoError(t, r.Err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&prompter.calls))
	assert.Len(t, listener.found, 1)
}

func TestTLSPinnedFingerprint(t *testing.T) {
	srv := newTLSStatusServer(t)
	prompter := &countingPrompter{}
	cache := trust.NewCache(prompter, nil, trust.Fingerprint(srv.Certificate()))
	c := newTestClient(t, srv.URL, nil, func(o *Options) { o.Trust = cache })

	r := c.CheckService(context.Background()).Wait()
	require.NoError(t, r.Err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&prompter.calls))
}

func TestTLSSlowAnswerOutlivesHandshakeTimeout(t *testing.T) {
	srv := newTLSStatusServer(t)
	var calls int32
	cache := trust.NewCache(trust.PrompterFunc(func([]trust.CertError) trust.Decision {
		atomic.AddInt32(&calls, 1)
		time.Sleep(300 * time.Millisecond)
		return trust.Decision{Ignore: true}
	}), nil)
	listener := &recordingListener{}
	c := newTestClient(t, srv.URL, listener, func(o *Options) {
		o.Trust = cache
		o.HandshakeTimeout = 100 * time.Millisecond
	})

	r := c.CheckService(context.Background()).Wait()
	require.NoError(t, r.Err)
	assert.Len(t, listener.found, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, cache.Untrusted())
}

func TestTLSAcceptedOnceCoversOneHandshake(t *testing.T) {
	srv := newTLSStatusServer(t)
	prompter := &countingPrompter{decision: trust.Decision{Ignore: true}}
	c := newTestClient(t, srv.URL, nil, func(o *Options) { o.Trust = trust.NewCache(prompter, nil) })

	require.NoError(t, c.CheckService(context.Background()).Wait().Err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&prompter.calls))

	// A fresh connection shows the problems again and asks again.
	c.http.CloseIdleConnections()
	require.NoError(t, c.CheckService(context.Background()).Wait().Err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&prompter.calls))
}
