// Package tool abstracts the external capabilities agents execute. The
// coordination core never sees tool internals, only success/failure and an
// opaque payload.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Kind tags a capability category. Lookup is by explicit registration,
// never by runtime reflection.
type Kind string

const (
	KindEncoder    Kind = "encoder"
	KindDownloader Kind = "downloader"
	KindTranscript Kind = "transcript"
	KindPublisher  Kind = "publisher"
	KindAnalyzer   Kind = "analyzer"
)

// Result is the outcome of a capability execution.
type Result struct {
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Capability validates and executes one named tool.
type Capability interface {
	Kind() Kind
	Validate(params map[string]any) error
	Execute(ctx context.Context, params map[string]any) (Result, error)
}

// Executor is the per-agent execution surface the core depends on.
type Executor interface {
	Execute(ctx context.Context, name string, params map[string]any) (Result, error)
}

var ErrUnknownTool = errors.New("unknown tool")

// Registry is a static name -> capability table built at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Capability
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Capability)}
}

func (r *Registry) Register(name string, c Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = c
	return nil
}

func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.tools[name]
	return c, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute validates parameters then runs the named capability, so a
// Registry is itself an Executor.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (Result, error) {
	c, ok := r.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if err := c.Validate(params); err != nil {
		return Result{}, fmt.Errorf("validate %s: %w", name, err)
	}
	return c.Execute(ctx, params)
}

// Func adapts a plain function into a Capability with no validation.
type Func struct {
	ToolKind Kind
	Run      func(ctx context.Context, params map[string]any) (Result, error)
}

func (f Func) Kind() Kind { return f.ToolKind }

func (f Func) Validate(params map[string]any) error { return nil }
func (f Func) Execute(ctx context.Context, params map[string]any) (Result, error) {
	return f.Run(ctx, params)
}
