package trust

import (
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies why a certificate failed validation.
type ErrorKind int

const (
	KindUnknownAuthority ErrorKind = iota
	KindExpired
	KindNotYetValid
	KindHostnameMismatch
	KindInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnknownAuthority:
		return "unknown-authority"
	case KindExpired:
		return "expired"
	case KindNotYetValid:
		return "not-yet-valid"
	case KindHostnameMismatch:
		return "hostname-mismatch"
	default:
		return "invalid"
	}
}

// CertError is one validation problem of a server certificate.
type CertError struct {
	Kind        ErrorKind
	Subject     string
	Issuer      string
	NotAfter    time.Time
	Fingerprint string
	Message     string
}

func (e CertError) key() string {
	return e.Fingerprint + "|" + e.Kind.String()
}

func (e CertError) String() string {
	return fmt.Sprintf("%s: %s (subject %q, issuer %q, sha256 %s)",
		e.Kind, e.Message, e.Subject, e.Issuer, e.Fingerprint)
}

// Fingerprint returns the colon separated SHA-256 digest of a certificate.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// NormalizeFingerprint uppercases and strips separators so configured
// fingerprints compare equal regardless of formatting.
func NormalizeFingerprint(fp string) string {
	fp = strings.ToUpper(strings.TrimSpace(fp))
	fp = strings.NewReplacer(":", "", " ", "", "-", "").Replace(fp)
	return fp
}

// Classify validates a presented chain for host and returns every problem
// found. An empty result means the chain is valid.
func Classify(chain []*x509.Certificate, host string, roots *x509.CertPool, now time.Time) []CertError {
	if len(chain) == 0 {
		return []CertError{{Kind: KindInvalid, Message: "server presented no certificate"}}
	}

	leaf := chain[0]
	base := CertError{
		Subject:     leaf.Subject.String(),
		Issuer:      leaf.Issuer.String(),
		NotAfter:    leaf.NotAfter,
		Fingerprint: Fingerprint(leaf),
	}

	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}

	var errs []CertError
	switch {
	case now.After(leaf.NotAfter):
		e := base
		e.Kind = KindExpired
		e.Message = fmt.Sprintf("certificate expired at %s", leaf.NotAfter.Format(time.RFC3339))
		errs = append(errs, e)
	case now.Before(leaf.NotBefore):
		e := base
		e.Kind = KindNotYetValid
		e.Message = fmt.Sprintf("certificate is valid from %s", leaf.NotBefore.Format(time.RFC3339))
		errs = append(errs, e)
	}

	// Chain building runs inside the leaf's validity window so an expired
	// leaf still reports an unknown issuer separately.
	verifyAt := now
	if len(errs) > 0 {
		verifyAt = leaf.NotBefore.Add(leaf.NotAfter.Sub(leaf.NotBefore) / 2)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   verifyAt,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil {
		e := base
		e.Message = err.Error()
		var unknown x509.UnknownAuthorityError
		var invalid x509.CertificateInvalidError
		switch {
		case errors.As(err, &unknown):
			e.Kind = KindUnknownAuthority
		case errors.As(err, &invalid) && invalid.Reason == x509.Expired:
			e.Kind = KindExpired
		default:
			e.Kind = KindInvalid
		}
		errs = append(errs, e)
	}

	if host != "" {
		if err := leaf.VerifyHostname(host); err != nil {
			e := base
			e.Kind = KindHostnameMismatch
			e.Message = err.Error()
			errs = append(errs, e)
		}
	}

	return errs
}

// Describe renders errors one per line for prompts and logs.
func Describe(errs []CertError) string {
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}
