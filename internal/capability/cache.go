// Package capability records which backend feature modules are present.
package capability

import (
	"context"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Executor issues the system-overview query whose result carries the
// modules field. The bridge's own command path serves as the executor,
// so capability probing exercises the same pipeline as ordinary calls.
type Executor func(ctx context.Context) (any, error)

// Cache holds the module presence map. Populated lazily after the first
// successful connection; stale across reconnects until re-refreshed.
type Cache struct {
	exec   Executor
	logger hclog.Logger

	mu        sync.RWMutex
	modules   map[string]bool
	populated bool
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the cache's logger.
func WithLogger(logger hclog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger.Named("capability")
		}
	}
}

// NewCache builds an empty cache over the given executor.
func NewCache(exec Executor, opts ...CacheOption) *Cache {
	c := &Cache{
		exec:    exec,
		logger:  hclog.NewNullLogger(),
		modules: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh re-queries the backend for its module list. Best effort: any
// failure leaves the cache as it was and is only logged, never
// surfaced, so a capability probe can never fail a caller.
func (c *Cache) Refresh(ctx context.Context) {
	payload, err := c.exec(ctx)
	if err != nil {
		c.logger.Warn("capability refresh failed", "error", err)
		return
	}

	modules, ok := extractModules(payload)
	if !ok {
		c.logger.Warn("system overview carried no modules field")
		return
	}

	c.mu.Lock()
	c.modules = modules
	c.populated = true
	c.mu.Unlock()
	c.logger.Debug("capabilities refreshed", "modules", len(modules))
}

// MarkStale clears the populated flag without discarding the last known
// modules, so a reconnect triggers a fresh probe.
func (c *Cache) MarkStale() {
	c.mu.Lock()
	c.populated = false
	c.mu.Unlock()
}

// Populated reports whether a refresh has succeeded since construction
// or the last MarkStale.
func (c *Cache) Populated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.populated
}

// Has reports whether the named backend module is present.
func (c *Cache) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modules[name]
}

// Names returns the present module names, sorted.
func (c *Cache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.modules))
	for name, present := range c.modules {
		if present {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// extractModules reads the modules field from an overview payload. The
// backend reports either a name->present map or a plain list of names.
func extractModules(payload any) (map[string]bool, bool) {
	overview, ok := payload.(map[string]any)
	if !ok {
		return nil, false
	}
	switch raw := overview["modules"].(type) {
	case map[string]any:
		modules := make(map[string]bool, len(raw))
		for name, v := range raw {
			modules[name] = truthy(v)
		}
		return modules, true
	case []any:
		modules := make(map[string]bool, len(raw))
		for _, v := range raw {
			if name, ok := v.(string); ok {
				modules[name] = true
			}
		}
		return modules, true
	default:
		return nil, false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "enabled" || t == "present"
	case map[string]any:
		// Some overviews nest per-module detail; presence of the entry
		// counts as presence of the module.
		return true
	default:
		return v != nil
	}
}
