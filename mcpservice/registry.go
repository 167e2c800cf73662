package mcpservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-atlassian-go/mcp"
)

var (
	ErrDuplicateTool     = errors.New("duplicate tool name")
	ErrDuplicateResource = errors.New("duplicate resource uri")
	ErrRegistrySealed    = errors.New("registry is sealed")
	ErrInvalidDescriptor = errors.New("invalid descriptor")
)

// StaticTool pairs a tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// StaticResource pairs a resource descriptor with an optional read handler.
type StaticResource struct {
	Descriptor mcp.Resource
	Handler    ResourceHandler
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used to report resource lister failures.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// Registry is the set of tools and resources a server advertises. It is
// populated at startup and sealed before serving; once sealed it never
// changes, so list results are stable and reads need no locking.
type Registry struct {
	mu     sync.Mutex
	sealed atomic.Bool

	tools     []StaticTool
	toolIdx   map[string]int
	resources []StaticResource
	resIdx    map[string]int
	listers   []ResourceLister

	log *slog.Logger
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		toolIdx: make(map[string]int),
		resIdx:  make(map[string]int),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool built with NewTool or assembled by hand.
func (r *Registry) Register(t StaticTool) error {
	return r.RegisterTool(t.Descriptor, t.Handler)
}

// MustRegister is Register for startup code; it panics on error.
func (r *Registry) MustRegister(tools ...StaticTool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// RegisterTool adds a tool. Names must be unique.
func (r *Registry) RegisterTool(desc mcp.Tool, h ToolHandler) error {
	if desc.Name == "" {
		return fmt.Errorf("%w: tool name is empty", ErrInvalidDescriptor)
	}
	if h == nil {
		return fmt.Errorf("%w: tool %q has no handler", ErrInvalidDescriptor, desc.Name)
	}
	if desc.InputSchema.Type == "" {
		desc.InputSchema.Type = "object"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return ErrRegistrySealed
	}
	if _, ok := r.toolIdx[desc.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, desc.Name)
	}
	r.toolIdx[desc.Name] = len(r.tools)
	r.tools = append(r.tools, StaticTool{Descriptor: desc, Handler: h})
	return nil
}

// RegisterResource adds a resource with a fixed URI. h may be nil for a
// resource that is advertised but not readable.
func (r *Registry) RegisterResource(desc mcp.Resource, h ResourceHandler) error {
	if desc.URI == "" {
		return fmt.Errorf("%w: resource uri is empty", ErrInvalidDescriptor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return ErrRegistrySealed
	}
	if _, ok := r.resIdx[desc.URI]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateResource, desc.URI)
	}
	r.resIdx[desc.URI] = len(r.resources)
	r.resources = append(r.resources, StaticResource{Descriptor: desc, Handler: h})
	return nil
}

// RegisterResourceLister adds a source of resource descriptors that is
// consulted on every resources/list.
func (r *Registry) RegisterResourceLister(l ResourceLister) error {
	if l == nil {
		return fmt.Errorf("%w: nil resource lister", ErrInvalidDescriptor)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return ErrRegistrySealed
	}
	r.listers = append(r.listers, l)
	return nil
}

// Seal freezes the registry. It is idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool { return r.sealed.Load() }

// ListTools returns the tool descriptors in registration order.
func (r *Registry) ListTools() []mcp.Tool {
	out := make([]mcp.Tool, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.Descriptor
	}
	return out
}

// FindTool looks a tool up by exact name.
func (r *Registry) FindTool(name string) (StaticTool, bool) {
	i, ok := r.toolIdx[name]
	if !ok {
		return StaticTool{}, false
	}
	return r.tools[i], true
}

// ListResources returns static resources in registration order followed by
// the output of each lister. A failing lister is logged and skipped so one
// unreachable upstream does not hide the others.
func (r *Registry) ListResources(ctx context.Context) []mcp.Resource {
	out := make([]mcp.Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res.Descriptor)
	}
	for i, l := range r.listers {
		listed, err := l.ListResources(ctx)
		if err != nil {
			r.log.WarnContext(ctx, "registry.list_resources.lister_fail",
				slog.Int("lister", i),
				slog.String("err", err.Error()),
			)
			continue
		}
		out = append(out, listed...)
	}
	return out
}

// FindResource looks a static resource up by exact URI. Resources produced
// by listers are never found here.
func (r *Registry) FindResource(uri string) (StaticResource, bool) {
	i, ok := r.resIdx[uri]
	if !ok {
		return StaticResource{}, false
	}
	return r.resources[i], true
}

// HasTools reports whether any tool is registered.
func (r *Registry) HasTools() bool { return len(r.tools) > 0 }

// HasResources reports whether any resource or lister is registered.
func (r *Registry) HasResources() bool { return len(r.resources) > 0 || len(r.listers) > 0 }
