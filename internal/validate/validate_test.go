package validate

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// HTTPURL
// ---------------------------------------------------------------------------

func TestHTTPURL_Valid(t *testing.T) {
	for _, url := range []string{
		"http://127.0.0.1:8750",
		"https://backend.example.com/api",
	} {
		if err := HTTPURL(url); err != nil {
			t.Errorf("HTTPURL(%q) = %v, want nil", url, err)
		}
	}
}

func TestHTTPURL_DisallowedSchemes(t *testing.T) {
	tests := []struct {
		url    string
		errMsg string
	}{
		{"file:///etc/passwd", "not allowed"},
		{"ftp://example.com/file", "not allowed"},
		{"javascript:alert(1)", "not allowed"},
	}
	for _, tc := range tests {
		err := HTTPURL(tc.url)
		if err == nil {
			t.Fatalf("HTTPURL(%q): expected error, got nil", tc.url)
		}
		if !strings.Contains(err.Error(), tc.errMsg) {
			t.Errorf("HTTPURL(%q) error = %q, want it to contain %q", tc.url, err.Error(), tc.errMsg)
		}
	}
}

func TestHTTPURL_MissingScheme(t *testing.T) {
	err := HTTPURL("example.com/index.yaml")
	if err == nil {
		t.Fatal("expected error for URL with no scheme")
	}
	if !strings.Contains(err.Error(), "missing scheme") {
		t.Errorf("error = %q, want it to mention missing scheme", err.Error())
	}
}

func TestHTTPURL_EmptyString(t *testing.T) {
	if err := HTTPURL(""); err == nil {
		t.Fatal("expected error for empty string URL")
	}
}

func TestHTTPURL_MissingHost(t *testing.T) {
	tests := []string{
		"http://",
		"https://",
		"http:///path/only",
	}
	for _, url := range tests {
		err := HTTPURL(url)
		if err == nil {
			t.Fatalf("HTTPURL(%q): expected error for missing host, got nil", url)
		}
		if !strings.Contains(err.Error(), "missing host") {
			t.Errorf("HTTPURL(%q) error = %q, want it to mention missing host", url, err.Error())
		}
	}
}

// ---------------------------------------------------------------------------
// WSURL
// ---------------------------------------------------------------------------

func TestWSURL_Valid(t *testing.T) {
	for _, url := range []string{
		"ws://127.0.0.1:8750/api/v1/commands",
		"wss://backend.example.com/commands",
	} {
		if err := WSURL(url); err != nil {
			t.Errorf("WSURL(%q) = %v, want nil", url, err)
		}
	}
}

func TestWSURL_Invalid(t *testing.T) {
	for _, url := range []string{
		"http://127.0.0.1:8750",
		"example.com/commands",
		"ws://",
		"",
	} {
		if err := WSURL(url); err == nil {
			t.Errorf("WSURL(%q) = nil, want error", url)
		}
	}
}

// ---------------------------------------------------------------------------
// Ident
// ---------------------------------------------------------------------------

func TestIdent_Valid(t *testing.T) {
	for _, s := range []string{
		"hello", "my-plugin", "my.plugin", "my_plugin",
		"Plugin123", "a", "9start",
		strings.Repeat("a", MaxIdentLen),
	} {
		if !Ident(s) {
			t.Errorf("Ident(%q) = false, want true", s)
		}
	}
}

func TestIdent_Invalid(t *testing.T) {
	for _, s := range []string{
		"", "-start", ".start", "_start",
		"has space", "has/slash", "café",
		strings.Repeat("a", MaxIdentLen+1),
	} {
		if Ident(s) {
			t.Errorf("Ident(%q) = true, want false", s)
		}
	}
}

func TestIdentRe_Pattern(t *testing.T) {
	// Verify the pattern matches the documented format.
	if !IdentRe.MatchString("abc123") {
		t.Error("IdentRe should match alphanumeric strings")
	}
	if IdentRe.MatchString("-bad") {
		t.Error("IdentRe should not match strings starting with dash")
	}
}
