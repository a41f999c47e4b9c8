// Package render defines the capability contract pluggable visual renderers
// implement, plus the registry the pipeline selects them from by name.
package render

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/audiolibrelab/wavescope/internal/analyzer"
)

// ErrUnknownRenderer is returned when no renderer is registered under the
// requested name.
var ErrUnknownRenderer = errors.New("unknown renderer")

// Options is a partial, renderer-specific option set.
type Options map[string]any

// Renderer is the minimal capability set the pipeline drives: the pipeline
// awaits Init before the first scheduled tick, calls Draw once per produced
// frame, applies option updates via SetOptions, and calls Destroy exactly
// once during teardown.
type Renderer interface {
	Init(s *Surface, opts Options) error
	Draw(s *Surface, f *analyzer.Frame)
	SetOptions(opts Options) error
	Destroy()
}

// Factory constructs a fresh renderer instance.
type Factory func() Renderer

type registry struct {
	mtx       sync.Mutex
	factories map[string]Factory
}

var defaultRegistry = &registry{factories: make(map[string]Factory)}

// Register makes a renderer available under name. Later registrations with
// the same name replace earlier ones.
func Register(name string, f Factory) {
	defaultRegistry.mtx.Lock()
	defer defaultRegistry.mtx.Unlock()
	defaultRegistry.factories[name] = f
}

// New constructs the renderer registered under name.
func New(name string) (Renderer, error) {
	defaultRegistry.mtx.Lock()
	f, ok := defaultRegistry.factories[name]
	defaultRegistry.mtx.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRenderer, name)
	}
	return f(), nil
}

// Names lists registered renderers, sorted.
func Names() []string {
	defaultRegistry.mtx.Lock()
	defer defaultRegistry.mtx.Unlock()
	names := make([]string, 0, len(defaultRegistry.factories))
	for name := range defaultRegistry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
