package mock

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/hashicorp/go-hclog"
)

// ScriptSuffix marks files under the mock directory that define scripted
// handlers. A script exports a command name and a respond(params)
// function, e.g.
//
//	exports.command = "get_metrics";
//	exports.respond = function (params) {
//	    return { commands_served: 7, mode: "scripted" };
//	};
const ScriptSuffix = ".mock.js"

// ScriptHandler is a mock handler backed by a JS file.
type ScriptHandler struct {
	Command  string
	FilePath string

	mu      sync.Mutex
	vm      *goja.Runtime
	respond goja.Callable
}

// LoadScript parses and validates one scripted handler.
func LoadScript(path string) (*ScriptHandler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mock: read script %s: %w", path, err)
	}

	vm := goja.New()
	exports := vm.NewObject()
	vm.Set("module", vm.NewObject())
	vm.Set("exports", exports)

	if _, err := vm.RunString(string(data)); err != nil {
		return nil, fmt.Errorf("mock: execute script %s: %w", path, err)
	}

	if moduleObj := vm.Get("module"); moduleObj != nil {
		if moduleExports := moduleObj.ToObject(vm).Get("exports"); moduleExports != nil {
			exports = moduleExports.ToObject(vm)
		}
	}

	handler := &ScriptHandler{FilePath: path, vm: vm}

	if command := exports.Get("command"); command != nil {
		handler.Command = command.String()
	}
	if handler.Command == "" {
		return nil, fmt.Errorf("mock: script %s: missing command export", path)
	}

	respond := exports.Get("respond")
	if respond == nil {
		return nil, fmt.Errorf("mock: script %s: missing respond function", path)
	}
	fn, ok := goja.AssertFunction(respond)
	if !ok {
		return nil, fmt.Errorf("mock: script %s: respond must be a function", path)
	}
	handler.respond = fn

	return handler, nil
}

// Execute invokes the script's respond function. The runtime is not
// goroutine-safe, so calls are serialized.
func (h *ScriptHandler) Execute(params map[string]any) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	value, err := h.respond(goja.Undefined(), h.vm.ToValue(params))
	if err != nil {
		return nil, fmt.Errorf("mock: script %s: respond: %w", h.FilePath, err)
	}
	return value.Export(), nil
}

// LoadScriptDir registers every *.mock.js under dir on the responder.
// A missing directory is not an error; individual broken scripts are
// logged and skipped so one bad file cannot disable the whole mock path.
func LoadScriptDir(r *Responder, dir string, logger hclog.Logger) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("mock: read script dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ScriptSuffix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		handler, err := LoadScript(path)
		if err != nil {
			logger.Warn("skipping broken mock script", "path", path, "error", err)
			continue
		}
		r.Register(handler.Command, handler.Execute)
		logger.Debug("registered scripted mock", "command", handler.Command, "path", path)
	}
	return nil
}
