// Package plugins hosts the trigger/action capability registry. A plug-in
// is a directory holding a manifest that binds capability keys to
// executor implementations; the watcher reloads manifests on change.
package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// CapabilityKind separates trigger capabilities from action capabilities.
type CapabilityKind string

const (
	KindTrigger CapabilityKind = "TRIGGER"
	KindAction  CapabilityKind = "ACTION"
)

// Capability describes one thing a plug-in can do.
type Capability struct {
	Kind         CapabilityKind `json:"kind"`
	Key          string         `json:"key"`
	DisplayName  string         `json:"displayName"`
	ConfigSchema map[string]any `json:"configSchema,omitempty"`
}

// ExecuteInput is what an action receives per invocation.
type ExecuteInput struct {
	Config  map[string]any
	Context map[string]any
}

// Retry asks the consumer to redeliver after DelayMs.
type Retry struct {
	DelayMs int    `json:"delayMs,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ExecuteResult is an action's outcome.
type ExecuteResult struct {
	Output map[string]any `json:"output,omitempty"`
	Retry  *Retry         `json:"retry,omitempty"`
}

// Action executes one invocation.
type Action interface {
	Execute(ctx context.Context, input ExecuteInput) (*ExecuteResult, error)
}

// TriggerRuntime is a long-lived trigger instance.
type TriggerRuntime interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// FireFunc is handed to trigger runtimes so they can fire their
// definition with a context payload.
type FireFunc func(ctx context.Context, triggerDefinitionID string, payload map[string]any) error

// ActionFactory builds an action executor for one definition config.
type ActionFactory func(config map[string]any) (Action, error)

// TriggerFactory builds a runtime for one trigger definition.
type TriggerFactory func(definitionID string, config map[string]any, fire FireFunc) (TriggerRuntime, error)

// TriggerRegistration binds a capability id to its factory.
type TriggerRegistration struct {
	PluginName   string
	PluginID     string
	CapabilityID string
	Capability   Capability
	Factory      TriggerFactory
}

// ActionRegistration mirrors TriggerRegistration for actions.
type ActionRegistration struct {
	PluginName   string
	PluginID     string
	CapabilityID string
	Capability   Capability
	Factory      ActionFactory
}

// Registry indexes capabilities by id. Writes are serialized; reads take
// the read lock only.
type Registry struct {
	mu       sync.RWMutex
	triggers map[string]*TriggerRegistration
	actions  map[string]*ActionRegistration
	logger   *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		triggers: map[string]*TriggerRegistration{},
		actions:  map[string]*ActionRegistration{},
		logger:   logger,
	}
}

// RegisterTrigger indexes a trigger capability; re-registering an id
// replaces it.
func (r *Registry) RegisterTrigger(reg TriggerRegistration) error {
	if reg.CapabilityID == "" || reg.Factory == nil {
		return fmt.Errorf("plugins: invalid trigger registration for plugin %q", reg.PluginName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers[reg.CapabilityID] = &reg
	r.logger.Debug("trigger capability registered", "plugin", reg.PluginName, "capabilityId", reg.CapabilityID)
	return nil
}

// RegisterAction indexes an action capability; re-registering an id
// replaces it.
func (r *Registry) RegisterAction(reg ActionRegistration) error {
	if reg.CapabilityID == "" || reg.Factory == nil {
		return fmt.Errorf("plugins: invalid action registration for plugin %q", reg.PluginName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[reg.CapabilityID] = &reg
	r.logger.Debug("action capability registered", "plugin", reg.PluginName, "capabilityId", reg.CapabilityID)
	return nil
}

// GetTriggerByID resolves a trigger capability.
func (r *Registry) GetTriggerByID(capabilityID string) (*TriggerRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.triggers[capabilityID]
	return reg, ok
}

// GetActionByID resolves an action capability.
func (r *Registry) GetActionByID(capabilityID string) (*ActionRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.actions[capabilityID]
	return reg, ok
}

// RemovePlugin drops every capability registered under the plug-in name.
func (r *Registry) RemovePlugin(pluginName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, reg := range r.triggers {
		if reg.PluginName == pluginName {
			delete(r.triggers, id)
		}
	}
	for id, reg := range r.actions {
		if reg.PluginName == pluginName {
			delete(r.actions, id)
		}
	}
	r.logger.Debug("plugin removed", "plugin", pluginName)
}

// Capabilities lists every registered capability, triggers first.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.triggers)+len(r.actions))
	for _, reg := range r.triggers {
		out = append(out, reg.Capability)
	}
	for _, reg := range r.actions {
		out = append(out, reg.Capability)
	}
	return out
}
