package sync

import (
	"testing"

	"github.com/dl-alexandre/ocsync/internal/sync/engine"
)

func TestClassifyPrompt(t *testing.T) {
	tests := []struct {
		prompt string
		want   PromptKind
	}{
		{engine.PromptUsername, PromptUsername},
		{"  " + engine.PromptUsername + "\n", PromptUsername},
		{engine.PromptPassword, PromptPassword},
		{engine.PromptCertificatePrefix + "\n- expired\nAnswer yes: ", PromptCertificate},
		{"Enter your username", PromptUnrecognized},
		{"", PromptUnrecognized},
		{"Proxy password:", PromptUnrecognized},
	}
	for _, tt := range tests {
		if got := ClassifyPrompt(tt.prompt); got != tt.want {
			t.Errorf("ClassifyPrompt(%q) = %s, want %s", tt.prompt, got, tt.want)
		}
	}
}

func TestFillBuffer(t *testing.T) {
	buf := []byte("xxxxxxxx")
	fillBuffer(buf, "abc")
	if string(buf[:4]) != "abc\x00" {
		t.Errorf("got %q", buf)
	}

	small := make([]byte, 3)
	fillBuffer(small, "abcdef")
	if string(small) != "abc" {
		t.Errorf("truncated to %q, want %q", small, "abc")
	}
}
