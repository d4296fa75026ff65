package trust

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unknownAuthority(fp string) CertError {
	return CertError{Kind: KindUnknownAuthority, Fingerprint: fp, Message: "unknown authority"}
}

func TestCacheNoErrorsAlwaysProceeds(t *testing.T) {
	c := NewCache(nil, nil)
	assert.True(t, c.Check(nil))
	assert.False(t, c.Untrusted())
}

func TestCacheAcceptAndRemember(t *testing.T) {
	var prompts int32
	c := NewCache(PrompterFunc(func(errs []CertError) Decision {
		atomic.AddInt32(&prompts, 1)
		return Decision{Ignore: true, Remember: true}
	}), nil)

	errs := []CertError{unknownAuthority("AA:BB")}
	require.True(t, c.Check(errs))
	require.True(t, c.Check(errs))
	assert.Equal(t, int32(1), atomic.LoadInt32(&prompts), "remembered errors must not prompt again")

	// A different problem on the same certificate still asks.
	require.True(t, c.Check([]CertError{{Kind: KindHostnameMismatch, Fingerprint: "AA:BB"}}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&prompts))
}

func TestCacheAcceptWithoutRememberPromptsAgain(t *testing.T) {
	var prompts int32
	c := NewCache(PrompterFunc(func([]CertError) Decision {
		atomic.AddInt32(&prompts, 1)
		return Decision{Ignore: true}
	}), nil)

	errs := []CertError{unknownAuthority("AA")}
	assert.True(t, c.Check(errs))
	assert.True(t, c.Check(errs))
	assert.Equal(t, int32(2), atomic.LoadInt32(&prompts))
	assert.False(t, c.Untrusted())
}

func TestCacheAllowsNeverPrompts(t *testing.T) {
	var prompts int32
	c := NewCache(PrompterFunc(func([]CertError) Decision {
		atomic.AddInt32(&prompts, 1)
		return Decision{Ignore: true, Remember: true}
	}), nil, "CC:DD")

	errs := []CertError{unknownAuthority("AA")}
	assert.True(t, c.Allows(nil))
	assert.False(t, c.Allows(errs))
	assert.True(t, c.Allows([]CertError{unknownAuthority("cc:dd")}), "pinned")
	assert.Equal(t, int32(0), atomic.LoadInt32(&prompts))

	require.True(t, c.Check(errs))
	assert.True(t, c.Allows(errs), "remembered")
	assert.Equal(t, int32(1), atomic.LoadInt32(&prompts))
}

func TestCacheDeclineMarksSessionUntrusted(t *testing.T) {
	var prompts int32
	c := NewCache(PrompterFunc(func([]CertError) Decision {
		atomic.AddInt32(&prompts, 1)
		return Decision{}
	}), nil)

	assert.False(t, c.Check([]CertError{unknownAuthority("AA")}))
	assert.True(t, c.Untrusted())

	// Once untrusted, nothing is asked and every problem is rejected.
	for i := 0; i < 5; i++ {
		assert.False(t, c.Check([]CertError{unknownAuthority("CC")}))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&prompts))

	// Valid certificates are unaffected.
	assert.True(t, c.Check(nil))
}

func TestCacheWithoutPrompterRejects(t *testing.T) {
	c := NewCache(nil, nil)
	assert.False(t, c.Check([]CertError{unknownAuthority("AA")}))
	assert.True(t, c.Untrusted())
}

func TestCachePinnedFingerprint(t *testing.T) {
	c := NewCache(PrompterFunc(func([]CertError) Decision {
		t.Fatal("pinned certificate must not prompt")
		return Decision{}
	}), nil, "aa:bb:cc", "")

	assert.True(t, c.Check([]CertError{
		unknownAuthority("AA:BB:CC"),
		{Kind: KindExpired, Fingerprint: "AA:BB:CC"},
	}))
}

func TestCacheReset(t *testing.T) {
	answer := Decision{}
	c := NewCache(PrompterFunc(func([]CertError) Decision { return answer }), nil)

	require.False(t, c.Check([]CertError{unknownAuthority("AA")}))
	require.True(t, c.Untrusted())

	c.Reset()
	assert.False(t, c.Untrusted())

	answer = Decision{Ignore: true}
	assert.True(t, c.Check([]CertError{unknownAuthority("AA")}))
}

func TestCacheConcurrentChecksPromptOnce(t *testing.T) {
	var prompts int32
	c := NewCache(PrompterFunc(func([]CertError) Decision {
		atomic.AddInt32(&prompts, 1)
		return Decision{}
	}), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Check([]CertError{unknownAuthority("AA")})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&prompts))
	assert.True(t, c.Untrusted())
}
