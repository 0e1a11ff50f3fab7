package framework

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrToolNotFound is returned by Lookup for names that were never registered.
	ErrToolNotFound = errors.New("tool not found")
	// ErrDuplicateTool is returned when two tools share a name.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrRegistrySealed is returned when registering after Seal.
	ErrRegistrySealed = errors.New("tool registry sealed")
)

// Tool is a capability the model can invoke by name. Tools return plain text;
// structured data is rendered by the tool itself before it reaches the model.
// Invoke may fail, the Dispatcher owns turning that failure into an outcome.
type Tool interface {
	Descriptor() ToolDescriptor
	Invoke(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolParameter describes an argument the tool accepts.
type ToolParameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     interface{}
}

// ToolDescriptor is the metadata the registry hands to prompt construction.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  []ToolParameter
}

// Schema maps parameter names to their declared type.
func (d ToolDescriptor) Schema() map[string]string {
	schema := make(map[string]string, len(d.Parameters))
	for _, p := range d.Parameters {
		schema[p.Name] = p.Type
	}
	return schema
}

// Parameter returns the named parameter if declared.
func (d ToolDescriptor) Parameter(name string) (ToolParameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ToolParameter{}, false
}

type registeredTool struct {
	tool       Tool
	descriptor ToolDescriptor
}

// ToolRegistry maintains tools in registration order. It is populated once at
// startup and then sealed, after which it is only read and can be shared by
// concurrent runs.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]registeredTool
	order  []string
	sealed bool
}

// NewToolRegistry builds a registry instance.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]registeredTool),
	}
}

// Register adds a tool to the registry. The descriptor is captured once so
// later lookups never call back into the tool.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool == nil {
		return errors.New("tool required")
	}
	desc := tool.Descriptor()
	name := strings.TrimSpace(desc.Name)
	if name == "" {
		return errors.New("tool name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register %s: %w", name, ErrRegistrySealed)
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s: %w", name, ErrDuplicateTool)
	}
	desc.Name = name
	desc.Parameters = append([]ToolParameter(nil), desc.Parameters...)
	r.tools[name] = registeredTool{tool: tool, descriptor: desc}
	r.order = append(r.order, name)
	return nil
}

// Seal freezes the registry.
func (r *ToolRegistry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Get fetches a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	return entry.tool, ok
}

// Lookup returns the descriptor registered under name.
func (r *ToolRegistry) Lookup(name string) (ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	if !ok {
		return ToolDescriptor{}, fmt.Errorf("%s: %w", name, ErrToolNotFound)
	}
	return entry.descriptor, nil
}

// DescribeAll returns descriptors in registration order.
func (r *ToolRegistry) DescribeAll() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		res = append(res, r.tools[name].descriptor)
	}
	return res
}

// Names returns registered names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// SortedNames is used in messages where alphabetical order reads better.
func (r *ToolRegistry) SortedNames() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}

// Len reports how many tools are registered.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
