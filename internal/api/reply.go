package api

import (
	"net/http"
	"net/url"
	"sync"
)

// Reply is the handle of an in-flight request. Its fields are set once the
// request completes and must only be read after Done is closed.
type Reply struct {
	Verb string
	URL  *url.URL

	StatusCode int
	Header     http.Header
	Body       []byte
	// Err is a transport failure, a rejected certificate or a cancelled
	// context. HTTP error statuses are not errors here; see HTTPError.
	Err error

	done       chan struct{}
	onFinished func(*Reply)
}

func newReply(verb string, u *url.URL, onFinished func(*Reply)) *Reply {
	return &Reply{
		Verb:       verb,
		URL:        u,
		done:       make(chan struct{}),
		onFinished: onFinished,
	}
}

// Done is closed after the completion handler has run.
func (r *Reply) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request completes.
func (r *Reply) Wait() *Reply {
	<-r.done
	return r
}

// OK reports a completed request with a 2xx status.
func (r *Reply) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// HTTPError returns the transport error, or an *HTTPError for a non-2xx
// status, or nil.
func (r *Reply) HTTPError() error {
	if r.Err != nil {
		return r.Err
	}
	if r.OK() {
		return nil
	}
	return &HTTPError{
		Verb:       r.Verb,
		URL:        r.URL.Redacted(),
		StatusCode: r.StatusCode,
		Header:     r.Header,
	}
}

func (r *Reply) finish() {
	if r.onFinished != nil {
		r.onFinished(r)
	}
	close(r.done)
}

// pendingRequests maps GET replies to the path they were issued for.
type pendingRequests struct {
	mu    sync.Mutex
	paths map[*Reply]string
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{paths: make(map[*Reply]string)}
}

func (p *pendingRequests) add(r *Reply, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths[r] = path
}

// take removes and returns the path recorded for r.
func (p *pendingRequests) take(r *Reply) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, ok := p.paths[r]
	if ok {
		delete(p.paths, r)
	}
	return path, ok
}

func (p *pendingRequests) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.paths)
}
