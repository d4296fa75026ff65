package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"warning", WARN},
		{"warn", WARN},
		{" error ", ERROR},
		{"", INFO},
		{"verbose", INFO},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRedactSensitiveData_Credentials(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		leaked string
	}{
		{"basic header", "Authorization: Basic YWxpY2U6c2VjcmV0", "YWxpY2U6c2VjcmV0"},
		{"bearer", "sending Bearer abc.def.ghi", "abc.def.ghi"},
		{"password field", "password=hunter2", "hunter2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := redactSensitiveData(tt.in)
			if strings.Contains(got, tt.leaked) {
				t.Errorf("redactSensitiveData(%q) = %q, still contains secret", tt.in, got)
			}
			if !strings.Contains(got, "[REDACTED]") {
				t.Errorf("redactSensitiveData(%q) = %q, want a redaction marker", tt.in, got)
			}
		})
	}
}

func TestConsoleLogger_ShortTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(ConsoleLoggerConfig{Writer: &buf, Level: INFO})

	logger.WithTraceID("abc").Info("short id")
	logger.WithTraceID("0123456789abcdef").Info("long id")

	out := buf.String()
	if !strings.Contains(out, "[abc] short id") {
		t.Errorf("missing short trace id in %q", out)
	}
	if !strings.Contains(out, "[01234567] long id") {
		t.Errorf("long trace id not truncated in %q", out)
	}
}

func TestFileLogger_CloseTwice(t *testing.T) {
	logger, err := NewFileLogger(FileLoggerConfig{
		FilePath: filepath.Join(t.TempDir(), "ocsync.log"),
		Level:    INFO,
	})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	// Writes after close are dropped.
	logger.Info("ignored")
}

func TestFileLogger_TracedLoggersShareFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ocsync.log")
	logger, err := NewFileLogger(FileLoggerConfig{FilePath: logPath, Level: INFO})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	logger.WithTraceID("run-a").Info("first", F("folder", "docs"))
	logger.WithTraceID("run-b").Info("second", F("seen", 3))
	logger.SetLevel(ERROR)
	logger.WithTraceID("run-c").Info("filtered")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := splitLogLines(data)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 entries, got %d: %q", len(lines), lines)
	}

	var second LogEntry
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if second.TraceID != "run-b" || second.Level != "INFO" {
		t.Errorf("unexpected entry %+v", second)
	}
	if second.Fields["seen"] != float64(3) {
		t.Errorf("Fields[seen] = %v, want 3", second.Fields["seen"])
	}
}

func TestDebugTransport_LogsRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := NewConsoleLogger(ConsoleLoggerConfig{Writer: &buf, Level: DEBUG, RedactSensitive: true})
	client := &http.Client{Transport: NewDebugTransport(nil, logger)}

	req, err := http.NewRequest("PROPFIND", srv.URL+"/remote.php/webdav/", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.SetBasicAuth("alice", "secret")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	out := buf.String()
	if !strings.Contains(out, "method=PROPFIND") || !strings.Contains(out, "status=207") {
		t.Errorf("round trip not logged: %q", out)
	}
	if strings.Contains(out, "secret") {
		t.Errorf("credentials leaked into log: %q", out)
	}
}
