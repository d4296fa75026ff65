package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dl-alexandre/ocsync/internal/trust"
	"golang.org/x/term"
)

// terminalPrompter asks about certificate problems on the terminal.
// Without a terminal every certificate with problems is refused unless
// --yes was given.
type terminalPrompter struct {
	mu          sync.Mutex
	in          io.Reader
	out         io.Writer
	interactive bool
	assumeYes   bool
}

func newTerminalPrompter(assumeYes bool) *terminalPrompter {
	return &terminalPrompter{
		in:          os.Stdin,
		out:         os.Stderr,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
		assumeYes:   assumeYes,
	}
}

func (p *terminalPrompter) PromptCertificates(errs []trust.CertError) trust.Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "The server certificate has problems:\n%s\n", trust.Describe(errs))
	if p.assumeYes {
		fmt.Fprintln(p.out, "Trusting it for this session (--yes).")
		return trust.Decision{Ignore: true, Remember: true}
	}
	if !p.interactive {
		fmt.Fprintln(p.out, "Not a terminal, refusing the certificate.")
		return trust.Decision{}
	}

	fmt.Fprint(p.out, "Trust this certificate? [y]es / [o]nce / [N]o: ")
	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && line == "" {
		return trust.Decision{}
	}
	return parseTrustAnswer(line)
}

func parseTrustAnswer(line string) trust.Decision {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return trust.Decision{Ignore: true, Remember: true}
	case "o", "once":
		return trust.Decision{Ignore: true}
	default:
		return trust.Decision{}
	}
}

// readPassword reads a secret without echo when stdin is a terminal and
// falls back to a plain line otherwise.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// confirm asks a yes/no question; --yes answers it.
func confirm(question string, assumeYes bool) bool {
	if assumeYes {
		return true
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
