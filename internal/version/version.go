package version

import (
	"fmt"
	"regexp"
	"strings"
)

var version = "dev"

// String returns the build version for the current binary.
func String() string {
	return version
}

// ForTesting overrides the version string and returns a cleanup function
// that restores the original value. Must not be called concurrently.
func ForTesting(v string) func() {
	original := version
	version = v
	return func() { version = original }
}

// gitDescribeSuffix matches the trailing "-N-gHASH" that git describe
// appends past the last tag.
var gitDescribeSuffix = regexp.MustCompile(`-\d+-g[0-9a-f]+$`)

// normalizeVersion drops the "v" prefix and any git-describe suffix so
// "v0.3.0-5-gabcdef" and "0.3.0" compare as equal.
func normalizeVersion(v string) string {
	return gitDescribeSuffix.ReplaceAllString(strings.TrimPrefix(v, "v"), "")
}

// FormatVersion returns a display-friendly version string with a "v"
// prefix. Special values like "dev" and the empty string pass through.
func FormatVersion(v string) string {
	if v == "" || v == "dev" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// CheckVersionMismatch compares the local build version with the
// backend's reported one and returns a warning when they differ. Either
// side reporting "dev" or the untagged fallback "0.0.0" suppresses the
// warning.
func CheckVersionMismatch(backendVersion string) string {
	client := version
	for _, v := range []string{client, backendVersion} {
		if v == "" || v == "dev" || v == "0.0.0" {
			return ""
		}
	}
	if normalizeVersion(client) == normalizeVersion(backendVersion) {
		return ""
	}
	return fmt.Sprintf(
		"WARNING: veles %s connected to backend %s: version mismatch, some commands may be unavailable",
		FormatVersion(client), FormatVersion(backendVersion),
	)
}
