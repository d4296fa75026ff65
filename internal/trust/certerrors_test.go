package trust

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSigned(t *testing.T, host string, notBefore, notAfter time.Time) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: host},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func kinds(errs []CertError) []ErrorKind {
	out := make([]ErrorKind, len(errs))
	for i, e := range errs {
		out[i] = e.Kind
	}
	return out
}

func TestClassifyTrustedChainHasNoErrors(t *testing.T) {
	now := time.Now()
	cert := selfSigned(t, "cloud.example.com", now.Add(-time.Hour), now.Add(time.Hour))
	roots := x509.NewCertPool()
	roots.AddCert(cert)

	assert.Empty(t, Classify([]*x509.Certificate{cert}, "cloud.example.com", roots, now))
}

func TestClassifyUnknownAuthority(t *testing.T) {
	now := time.Now()
	cert := selfSigned(t, "cloud.example.com", now.Add(-time.Hour), now.Add(time.Hour))

	errs := Classify([]*x509.Certificate{cert}, "cloud.example.com", x509.NewCertPool(), now)
	assert.Equal(t, []ErrorKind{KindUnknownAuthority}, kinds(errs))
	assert.Equal(t, Fingerprint(cert), errs[0].Fingerprint)
	assert.Contains(t, errs[0].Subject, "cloud.example.com")
}

func TestClassifyExpiredAndUntrusted(t *testing.T) {
	now := time.Now()
	cert := selfSigned(t, "cloud.example.com", now.Add(-48*time.Hour), now.Add(-24*time.Hour))

	errs := Classify([]*x509.Certificate{cert}, "cloud.example.com", x509.NewCertPool(), now)
	assert.Equal(t, []ErrorKind{KindExpired, KindUnknownAuthority}, kinds(errs))
}

func TestClassifyNotYetValid(t *testing.T) {
	now := time.Now()
	cert := selfSigned(t, "cloud.example.com", now.Add(time.Hour), now.Add(48*time.Hour))
	roots := x509.NewCertPool()
	roots.AddCert(cert)

	errs := Classify([]*x509.Certificate{cert}, "cloud.example.com", roots, now)
	assert.Equal(t, []ErrorKind{KindNotYetValid}, kinds(errs))
}

func TestClassifyHostnameMismatch(t *testing.T) {
	now := time.Now()
	cert := selfSigned(t, "cloud.example.com", now.Add(-time.Hour), now.Add(time.Hour))
	roots := x509.NewCertPool()
	roots.AddCert(cert)

	errs := Classify([]*x509.Certificate{cert}, "other.example.org", roots, now)
	assert.Equal(t, []ErrorKind{KindHostnameMismatch}, kinds(errs))
}

func TestClassifyEmptyChain(t *testing.T) {
	errs := Classify(nil, "cloud.example.com", nil, time.Now())
	assert.Equal(t, []ErrorKind{KindInvalid}, kinds(errs))
}

func TestFingerprintFormat(t *testing.T) {
	now := time.Now()
	cert := selfSigned(t, "127.0.0.1", now.Add(-time.Hour), now.Add(time.Hour))
	fp := Fingerprint(cert)
	assert.Len(t, strings.Split(fp, ":"), 32)
	assert.Equal(t, NormalizeFingerprint(fp), NormalizeFingerprint(strings.ToLower(fp)))
}

func TestDescribe(t *testing.T) {
	out := Describe([]CertError{
		{Kind: KindExpired, Message: "gone", Subject: "CN=a", Issuer: "CN=a", Fingerprint: "AA"},
		{Kind: KindHostnameMismatch, Message: "wrong host"},
	})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "expired: gone"))
	assert.True(t, strings.HasPrefix(lines[1], "hostname-mismatch: wrong host"))
}
