package bridge

import "time"

// Default per-call execution settings.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// ExecOptions holds the effective per-call settings. Constructed fresh
// for every call by merging caller overrides over the bridge defaults.
type ExecOptions struct {
	FallbackToMock bool
	MaxRetries     int
	RetryDelay     time.Duration
	UseMockOnly    bool
}

// ExecOption overrides one execution setting for a single call.
type ExecOption func(*ExecOptions)

// WithFallbackToMock controls whether a failed backend path may be
// served by the mock responder.
func WithFallbackToMock(enabled bool) ExecOption {
	return func(o *ExecOptions) {
		o.FallbackToMock = enabled
	}
}

// WithMaxRetries bounds the retry loop: maxRetries+1 attempts total.
func WithMaxRetries(n int) ExecOption {
	return func(o *ExecOptions) {
		if n >= 0 {
			o.MaxRetries = n
		}
	}
}

// WithRetryDelay sets the base delay; attempt n waits n*delay.
func WithRetryDelay(d time.Duration) ExecOption {
	return func(o *ExecOptions) {
		if d >= 0 {
			o.RetryDelay = d
		}
	}
}

// WithMockOnly bypasses the backend entirely for this call.
func WithMockOnly() ExecOption {
	return func(o *ExecOptions) {
		o.UseMockOnly = true
	}
}

// resolveOptions merges caller overrides over the bridge defaults.
func (b *Bridge) resolveOptions(opts []ExecOption) ExecOptions {
	resolved := b.defaults
	for _, opt := range opts {
		opt(&resolved)
	}
	return resolved
}
