package tools

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/mcpchat/config"
	"github.com/rs/zerolog"
)

// BuiltinSource is the source name of the in-process registry.
const BuiltinSource = "builtin"

type source struct {
	name    string
	session Session
}

// Router is a Session over several sources. Each tool is routed to the first
// source that exposes it, and only tools matched by the active toolset are
// offered. Toolset entries are tool names or doublestar patterns matched
// against "<source>.<tool>", e.g. "github.*".
type Router struct {
	log     zerolog.Logger
	toolset []string

	mu         sync.Mutex
	sources    []source
	discovered bool
	descs      []Descriptor
	routes     map[string]Session
}

// NewRouter creates an empty router. A nil toolset activates every tool.
func NewRouter(ts *config.Toolset, log zerolog.Logger) *Router {
	r := &Router{log: log, routes: make(map[string]Session)}
	if ts != nil {
		r.toolset = append([]string{}, ts.Tools...)
	}
	return r
}

// Add registers a source. Sources added after the first Discover are ignored
// until Refresh.
func (r *Router) Add(name string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, source{name: name, session: s})
}

// Discover merges the tool lists of all sources once and caches the result.
// A source that fails to list its tools is skipped.
func (r *Router) Discover(ctx context.Context) ([]Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.discovered {
		r.discoverLocked(ctx)
	}
	out := make([]Descriptor, len(r.descs))
	copy(out, r.descs)
	return out, nil
}

// Refresh drops the cached tool list.
func (r *Router) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discovered = false
	r.descs = nil
	r.routes = make(map[string]Session)
}

func (r *Router) discoverLocked(ctx context.Context) {
	for _, src := range r.sources {
		descs, err := src.session.Discover(ctx)
		if err != nil {
			r.log.Warn().Err(err).Str("source", src.name).Msg("Failed to discover tools")
			continue
		}
		for _, d := range descs {
			if !r.active(src.name, d.Name) {
				continue
			}
			if _, dup := r.routes[d.Name]; dup {
				r.log.Warn().Str("source", src.name).Str("tool", d.Name).Msg("Tool name already provided by another source, skipping")
				continue
			}
			r.routes[d.Name] = src.session
			r.descs = append(r.descs, d)
		}
	}
	r.discovered = true
	r.log.Debug().Int("tools", len(r.descs)).Int("sources", len(r.sources)).Msg("Discovered tools")
}

func (r *Router) active(sourceName, toolName string) bool {
	if r.toolset == nil {
		return true
	}
	qualified := sourceName + "." + toolName
	for _, pattern := range r.toolset {
		if pattern == toolName || pattern == qualified {
			return true
		}
		if ok, err := doublestar.Match(pattern, qualified); err == nil && ok {
			return true
		}
	}
	return false
}

// Invoke routes the call to the source that exposes name.
func (r *Router) Invoke(ctx context.Context, name string, args map[string]interface{}) (Result, error) {
	r.mu.Lock()
	if !r.discovered {
		r.discoverLocked(ctx)
	}
	s, ok := r.routes[name]
	r.mu.Unlock()

	if !ok {
		return Failure(fmt.Sprintf("unknown tool '%s'", name), "unknown tool"), nil
	}
	return s.Invoke(ctx, name, args)
}

// Close closes every source that holds resources.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, src := range r.sources {
		c, ok := src.session.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			r.log.Warn().Err(err).Str("source", src.name).Msg("Failed to close tool source")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
