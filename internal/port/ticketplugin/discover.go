package ticketplugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// ManifestFile is the entry point looked up in each plugin directory.
const ManifestFile = "plugin.jsonc"

// Manifest describes one plugin directory. It is JSON with comments.
type Manifest struct {
	// Factory names a compiled-in factory. Defaults to the directory name.
	Factory string `json:"factory"`
	// ToolType is used when the plugin does not report one itself.
	ToolType string `json:"tool_type"`
	// Disabled skips the directory.
	Disabled bool `json:"disabled"`
	// Settings are passed verbatim to the factory.
	Settings json.RawMessage `json:"settings"`
}

// ParseManifest strips comments and trailing commas and decodes the manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// DiscoveryReport summarizes a Discover run.
type DiscoveryReport struct {
	Registered []string          // tool types registered
	Skipped    map[string]string // directory -> reason
}

// Discover scans dir/<name>/plugin.jsonc, builds each plugin from its
// compiled-in factory and registers it. The key is the plugin's ToolType(),
// else the manifest's tool_type, else the directory name. A failing
// candidate is logged and skipped. An unreadable dir is reported under its
// own path in Skipped.
func (r *Registry) Discover(ctx context.Context, dir string, deps Deps) DiscoveryReport {
	report := DiscoveryReport{Skipped: make(map[string]string)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("plugin directory not found", "dir", dir)
		} else {
			slog.Error("read plugin directory", "dir", dir, "error", err)
		}
		report.Skipped[dir] = err.Error()
		return report
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}

		toolType, err := r.loadCandidate(filepath.Join(dir, name), name, deps)
		if err != nil {
			slog.Error("plugin discovery skipped candidate", "dir", name, "error", err)
			report.Skipped[name] = err.Error()
			continue
		}
		if toolType == "" {
			continue
		}
		report.Registered = append(report.Registered, toolType)
	}

	slog.Info("plugin discovery finished",
		"dir", dir,
		"registered", report.Registered,
		"skipped", len(report.Skipped),
	)
	return report
}

// loadCandidate returns "" without error for a disabled or manifest-less directory.
func (r *Registry) loadCandidate(path, dirName string, deps Deps) (toolType string, err error) {
	data, err := os.ReadFile(filepath.Join(path, ManifestFile)) //nolint:gosec // G304: path built from the configured plugin dir
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("no plugin manifest, skipping", "dir", dirName)
			return "", nil
		}
		return "", fmt.Errorf("read manifest: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return "", err
	}
	if m.Disabled {
		slog.Info("plugin disabled by manifest", "dir", dirName)
		return "", nil
	}

	factoryName := m.Factory
	if factoryName == "" {
		factoryName = dirName
	}
	factory, ok := LookupFactory(factoryName)
	if !ok {
		return "", fmt.Errorf("unknown factory %q (compiled in: %s)", factoryName, strings.Join(Factories(), ", "))
	}

	p, err := build(factory, deps, m.Settings)
	if err != nil {
		return "", err
	}

	toolType = p.ToolType()
	if toolType == "" {
		toolType = m.ToolType
	}
	if toolType == "" {
		toolType = dirName
	}
	if err := r.Register(toolType, p); err != nil {
		return "", err
	}
	return toolType, nil
}

// RegisterStatic builds and registers the named compiled-in factories with
// default settings. It stops at the first failure.
func (r *Registry) RegisterStatic(names []string, deps Deps) error {
	for _, name := range names {
		factory, ok := LookupFactory(name)
		if !ok {
			return &PluginValidationError{ToolType: name, Reason: "no compiled-in factory with this name"}
		}
		p, err := build(factory, deps, nil)
		if err != nil {
			return fmt.Errorf("build plugin %q: %w", name, err)
		}
		toolType := p.ToolType()
		if toolType == "" {
			toolType = name
		}
		if err := r.Register(toolType, p); err != nil {
			return err
		}
	}
	return nil
}

// build runs factory, turning a panic into an error.
func build(factory Factory, deps Deps, settings json.RawMessage) (p Plugin, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, fmt.Errorf("factory panicked: %v", rec)
		}
	}()
	p, err = factory(deps, settings)
	if err != nil {
		return nil, fmt.Errorf("factory: %w", err)
	}
	if isNil(p) {
		return nil, errors.New("factory returned nil plugin")
	}
	return p, nil
}
