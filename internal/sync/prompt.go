package sync

import (
	"strings"

	"github.com/dl-alexandre/ocsync/internal/sync/engine"
)

// PromptKind is the kind of question the engine asks through its auth
// callback.
type PromptKind int

const (
	PromptUnrecognized PromptKind = iota
	PromptUsername
	PromptPassword
	PromptCertificate
)

func (k PromptKind) String() string {
	switch k {
	case PromptUsername:
		return "username"
	case PromptPassword:
		return "password"
	case PromptCertificate:
		return "certificate"
	default:
		return "unrecognized"
	}
}

// ClassifyPrompt maps an engine prompt to its kind.
func ClassifyPrompt(prompt string) PromptKind {
	p := strings.TrimSpace(prompt)
	switch {
	case p == engine.PromptUsername:
		return PromptUsername
	case p == engine.PromptPassword:
		return PromptPassword
	case strings.HasPrefix(p, engine.PromptCertificatePrefix):
		return PromptCertificate
	default:
		return PromptUnrecognized
	}
}

// fillBuffer copies s into buf, truncating it, and terminates it with a
// NUL byte when there is room.
func fillBuffer(buf []byte, s string) {
	n := copy(buf, s)
	if n < len(buf) {
		buf[n] = 0
	}
}
