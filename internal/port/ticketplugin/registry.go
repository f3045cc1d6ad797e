package ticketplugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/TicketForge/internal/domain/tenant"
)

// DefaultTestConnectionTimeout caps a whole TestConnection call.
const DefaultTestConnectionTimeout = 30 * time.Second

// Registry maps tool types to plugins. Create one per process and pass it to
// its consumers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds p under toolType, replacing any previous registration.
func (r *Registry) Register(toolType string, p Plugin) error {
	if err := checkRegistration(toolType, p); err != nil {
		return err
	}

	r.mu.Lock()
	_, replaced := r.plugins[toolType]
	r.plugins[toolType] = p
	r.mu.Unlock()

	slog.Info("plugin registered", "tool_type", toolType, "replaced", replaced, "impl", fmt.Sprintf("%T", p))
	return nil
}

// Get returns the plugin for toolType or a *PluginNotFoundError listing the
// registered tool types.
func (r *Registry) Get(toolType string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[toolType]
	if !ok {
		return nil, &PluginNotFoundError{ToolType: toolType, Available: r.sortedLocked()}
	}
	return p, nil
}

// List returns the registered tool types in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// IsRegistered reports whether toolType has a plugin.
func (r *Registry) IsRegistered(toolType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[toolType]
	return ok
}

// Unregister removes toolType.
func (r *Registry) Unregister(toolType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[toolType]; !ok {
		return &PluginNotFoundError{ToolType: toolType, Available: r.sortedLocked()}
	}
	delete(r.plugins, toolType)
	slog.Info("plugin unregistered", "tool_type", toolType)
	return nil
}

func (r *Registry) sortedLocked() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// checkRegistration rejects blank or path-unsafe tool types and nil plugins,
// including typed nil pointers that would panic on first use.
func checkRegistration(toolType string, p Plugin) error {
	switch {
	case strings.TrimSpace(toolType) == "":
		return &PluginValidationError{ToolType: toolType, Reason: "tool type is required"}
	case strings.ContainsAny(toolType, " \t\r\n/?#"):
		return &PluginValidationError{ToolType: toolType, Reason: "tool type must not contain whitespace or URL delimiters"}
	case isNil(p):
		return &PluginValidationError{ToolType: toolType, Reason: "plugin is nil"}
	}
	return nil
}

func isNil(p Plugin) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// TestConnectionWithin runs p.TestConnection but gives up after limit. On
// timeout the plugin's call keeps its own cancelled context and cleans up in
// the background; the caller sees a failure immediately.
func TestConnectionWithin(ctx context.Context, p Plugin, creds tenant.Credentials, limit time.Duration) (bool, string) {
	if limit <= 0 {
		limit = DefaultTestConnectionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	type result struct {
		ok  bool
		msg string
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("test connection panicked", "tool_type", p.ToolType(), "panic", rec)
				done <- result{false, "internal error while testing connection"}
			}
		}()
		ok, msg := p.TestConnection(ctx, creds)
		done <- result{ok, msg}
	}()

	select {
	case res := <-done:
		return res.ok, res.msg
	case <-ctx.Done():
		return false, fmt.Sprintf("timeout: connection test did not finish within %s", limit)
	}
}
