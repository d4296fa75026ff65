// Package trust decides, per session, whether to accept server certificates
// that fail standard validation.
package trust

import (
	"sync"

	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/metrics"
)

// Decision is the user's answer to a certificate prompt.
type Decision struct {
	// Ignore accepts the certificate and trusts it for this connection.
	// False marks the whole session untrusted.
	Ignore bool
	// Remember adds the current errors to the allowed list so they are
	// accepted silently for the rest of the session.
	Remember bool
}

// Prompter asks the user about certificate problems.
type Prompter interface {
	PromptCertificates(errs []CertError) Decision
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(errs []CertError) Decision

func (f PrompterFunc) PromptCertificates(errs []CertError) Decision {
	return f(errs)
}

// Cache holds the session trust state: the untrusted flag and the list of
// errors already accepted. Prompts are serialized; a handshake waiting on
// another handshake's prompt sees its outcome.
type Cache struct {
	mu        sync.Mutex
	untrusted bool
	allowed   map[string]struct{}
	pinned    map[string]struct{}
	prompter  Prompter
	logger    logging.Logger
}

// NewCache creates a cache. pinned holds fingerprints accepted for any error.
func NewCache(prompter Prompter, logger logging.Logger, pinned ...string) *Cache {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	c := &Cache{
		allowed:  make(map[string]struct{}),
		pinned:   make(map[string]struct{}),
		prompter: prompter,
		logger:   logger,
	}
	for _, fp := range pinned {
		if fp = NormalizeFingerprint(fp); fp == "" {
			continue
		}
		c.pinned[fp] = struct{}{}
	}
	return c
}

// Check reports whether a connection with these certificate errors may proceed.
func (c *Cache) Check(errs []CertError) bool {
	if len(errs) == 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.untrusted {
		c.logger.Debug("Certificate rejected, session is untrusted", logging.F("errors", len(errs)))
		metrics.RecordCertificateDecision("rejected-untrusted")
		return false
	}

	if c.allKnown(errs) {
		metrics.RecordCertificateDecision("allowed")
		return true
	}

	if c.prompter == nil {
		c.logger.Warn("Certificate problems and no way to ask, marking session untrusted",
			logging.F("problems", Describe(errs)))
		c.untrusted = true
		metrics.RecordCertificateDecision("rejected")
		return false
	}

	metrics.RecordCertificateDecision("prompted")
	decision := c.prompter.PromptCertificates(errs)
	if !decision.Ignore {
		c.logger.Info("Certificate not trusted, further problems are rejected for this session")
		c.untrusted = true
		metrics.RecordCertificateDecision("rejected")
		return false
	}

	if decision.Remember {
		for _, e := range errs {
			c.allowed[e.key()] = struct{}{}
		}
	}
	c.logger.Info("Certificate accepted", logging.F("remember", decision.Remember))
	metrics.RecordCertificateDecision("accepted")
	return true
}

// Allows reports whether errs are accepted without asking: the session is
// not untrusted and every error is pinned or remembered.
func (c *Cache) Allows(errs []CertError) bool {
	if len(errs) == 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.untrusted || !c.allKnown(errs) {
		return false
	}
	metrics.RecordCertificateDecision("allowed")
	return true
}

func (c *Cache) allKnown(errs []CertError) bool {
	for _, e := range errs {
		if _, ok := c.pinned[NormalizeFingerprint(e.Fingerprint)]; ok {
			continue
		}
		if _, ok := c.allowed[e.key()]; ok {
			continue
		}
		return false
	}
	return true
}

// Untrusted reports whether the session has been marked untrusted.
func (c *Cache) Untrusted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.untrusted
}

// Reset clears the untrusted flag and the remembered errors.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.untrusted = false
	c.allowed = make(map[string]struct{})
}
