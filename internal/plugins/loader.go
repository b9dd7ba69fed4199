package plugins

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// manifestNames are probed in order inside each plug-in directory.
var manifestNames = []string{"plugin.yaml", "plugin.yml", "plugin.json", "plugin.toml"}

// Manifest is the on-disk description of one plug-in.
type Manifest struct {
	Name         string               `koanf:"name"`
	Version      string               `koanf:"version"`
	Capabilities []ManifestCapability `koanf:"capabilities"`
}

// ManifestCapability binds one capability key to a named executor.
type ManifestCapability struct {
	Kind         string         `koanf:"kind"`
	Key          string         `koanf:"key"`
	DisplayName  string         `koanf:"displayName"`
	Executor     string         `koanf:"executor"`
	ConfigSchema map[string]any `koanf:"configSchema"`
}

// Loader reads plug-in manifests and registers their capabilities.
type Loader struct {
	registry  *Registry
	executors *Executors
	logger    *slog.Logger
}

// NewLoader wires a loader over the registry and executor set.
func NewLoader(registry *Registry, executors *Executors, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{registry: registry, executors: executors, logger: logger}
}

// CapabilityID is the registry key for a plug-in capability.
func CapabilityID(pluginName, key string) string {
	return pluginName + ":" + key
}

// LoadDirectory loads every plug-in subdirectory under root. Directories
// without a manifest are skipped; a malformed manifest fails that plug-in
// only.
func (l *Loader) LoadDirectory(root string) error {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("plugins directory missing, starting empty", "path", root)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read plugins dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := l.LoadPlugin(filepath.Join(root, entry.Name())); err != nil {
			l.logger.Error("plugin load failed", "plugin", entry.Name(), "error", err)
		}
	}
	return nil
}

// LoadPlugin (re)loads a single plug-in directory: prior registrations
// under the same name are torn down first.
func (l *Loader) LoadPlugin(dir string) error {
	manifest, err := readManifest(dir)
	if err != nil {
		return err
	}
	if manifest == nil {
		return fmt.Errorf("no manifest in %s", dir)
	}
	if manifest.Name == "" {
		manifest.Name = filepath.Base(dir)
	}

	l.registry.RemovePlugin(manifest.Name)
	for _, spec := range manifest.Capabilities {
		capability := Capability{
			Kind:         CapabilityKind(spec.Kind),
			Key:          spec.Key,
			DisplayName:  spec.DisplayName,
			ConfigSchema: spec.ConfigSchema,
		}
		id := CapabilityID(manifest.Name, spec.Key)
		switch capability.Kind {
		case KindTrigger:
			factory, ok := l.executors.Trigger(spec.Executor)
			if !ok {
				return fmt.Errorf("plugin %s: unknown trigger executor %q", manifest.Name, spec.Executor)
			}
			if err := l.registry.RegisterTrigger(TriggerRegistration{
				PluginName:   manifest.Name,
				PluginID:     dir,
				CapabilityID: id,
				Capability:   capability,
				Factory:      factory,
			}); err != nil {
				return err
			}
		case KindAction:
			factory, ok := l.executors.Action(spec.Executor)
			if !ok {
				return fmt.Errorf("plugin %s: unknown action executor %q", manifest.Name, spec.Executor)
			}
			if err := l.registry.RegisterAction(ActionRegistration{
				PluginName:   manifest.Name,
				PluginID:     dir,
				CapabilityID: id,
				Capability:   capability,
				Factory:      factory,
			}); err != nil {
				return err
			}
		default:
			return fmt.Errorf("plugin %s: capability %q has unknown kind %q", manifest.Name, spec.Key, spec.Kind)
		}
	}
	l.logger.Info("plugin loaded", "plugin", manifest.Name, "capabilities", len(manifest.Capabilities))
	return nil
}

// readManifest returns nil when the directory carries no manifest file.
func readManifest(dir string) (*Manifest, error) {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), parserFor(name)); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		var manifest Manifest
		if err := k.Unmarshal("", &manifest); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return &manifest, nil
	}
	return nil, nil
}

func parserFor(name string) koanf.Parser {
	switch filepath.Ext(name) {
	case ".json":
		return json.Parser()
	case ".toml":
		return toml.Parser()
	default:
		return yaml.Parser()
	}
}
