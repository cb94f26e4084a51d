package tlswarn

import (
	"bytes"
	"log"
	"strings"
	"sync"
	"testing"
)

// TestWarnIfPlaintextRemote must NOT use t.Parallel() because it mutates
// global state (sync.Once and log output).
func TestWarnIfPlaintextRemote(t *testing.T) {
	// Reset the package-level Once so this test is self-contained.
	once = sync.Once{}

	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(orig) })

	// Loopback and TLS endpoints stay quiet.
	WarnIfPlaintextRemote("http://localhost:3001")
	WarnIfPlaintextRemote("http://127.0.0.1:3001")
	WarnIfPlaintextRemote("https://backend.example.com")
	WarnIfPlaintextRemote("wss://backend.example.com/ws")
	if buf.Len() != 0 {
		t.Fatalf("expected no warning, got:\n%s", buf.String())
	}

	// A remote plaintext endpoint warns exactly once.
	WarnIfPlaintextRemote("http://backend.example.com:3001")
	WarnIfPlaintextRemote("ws://backend.example.com/ws")
	WarnIfPlaintextRemote("http://backend.example.com:3001")

	output := buf.String()
	count := strings.Count(output, "[TLS] WARNING:")
	if count != 1 {
		t.Fatalf("expected exactly 1 warning, got %d; output:\n%s", count, output)
	}
	if !strings.Contains(output, "without TLS") {
		t.Fatalf("warning missing expected text; output:\n%s", output)
	}
}
