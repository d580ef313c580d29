// Package mount implements the route registry for extension handlers.
// Extensions claim a URL prefix under a name; incoming request paths
// are resolved to the registered mount with the longest matching
// prefix, and the handler receives the residual sub-path.
package mount

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// Handler is the capability interface a mounted extension implements.
// The sub-path is the request path with the mount's prefix removed,
// always beginning with "/".
type Handler interface {
	ServeMount(c *gin.Context, subPath string)
}

// HandlerFunc adapts a plain function to the Handler interface
type HandlerFunc func(c *gin.Context, subPath string)

// ServeMount calls f(c, subPath)
func (f HandlerFunc) ServeMount(c *gin.Context, subPath string) {
	f(c, subPath)
}

// Mount is one route registration. Name is the registry key;
// registering the same name again replaces the prior entry.
type Mount struct {
	Name        string
	Prefix      string
	Label       string
	Description string
	Handler     Handler
	// SkipAuth opts this mount out of the built-in token gate when its
	// prefix falls under the /api namespace. Handlers that set it are
	// expected to do their own authorization.
	SkipAuth bool
}

// Info is the serializable mount metadata exposed by the introspection
// endpoints. The handler itself is never exposed.
type Info struct {
	Name        string `json:"name"`
	Prefix      string `json:"prefix"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
	SkipAuth    bool   `json:"skipAuth"`
}

// Info returns the metadata view of the mount
func (m *Mount) Info() Info {
	return Info{
		Name:        m.Name,
		Prefix:      m.Prefix,
		Label:       m.Label,
		Description: m.Description,
		SkipAuth:    m.SkipAuth,
	}
}

// Registry is the process-wide mount table. Mutation is expected to be
// rare (an administrative path) while matching runs per-request, so a
// read-write lock guards the table; readers see either the old or the
// new entry, never a partial one.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Mount
	order  []string // insertion order, newest last
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Mount),
	}
}

// NormalizePrefix ensures a leading slash and strips trailing slashes.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimRight(prefix, "/")
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

// Register inserts or replaces the mount keyed by its name. The prefix
// is normalized first; duplicate prefixes across distinct names are
// permitted and resolved at match time. The root prefix "/" is
// rejected since prefixes are extension-supplied path segments.
func (r *Registry) Register(m Mount) error {
	if m.Name == "" {
		return fmt.Errorf("mount name must not be empty")
	}
	if m.Handler == nil {
		return fmt.Errorf("mount %q has no handler", m.Name)
	}
	m.Prefix = NormalizePrefix(m.Prefix)
	if m.Prefix == "/" {
		return fmt.Errorf("mount %q: prefix must name a path segment, not the root", m.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[m.Name]; exists {
		// Replacing counts as a fresh registration for tie-break order
		r.removeFromOrder(m.Name)
	}
	r.byName[m.Name] = &m
	r.order = append(r.order, m.Name)
	return nil
}

// Unregister removes the named mount, reporting whether it existed.
// Safe to call when already absent.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; !exists {
		return false
	}
	delete(r.byName, name)
	r.removeFromOrder(name)
	return true
}

func (r *Registry) removeFromOrder(name string) {
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// List returns metadata for all mounts in registration order
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		infos = append(infos, r.byName[name].Info())
	}
	return infos
}

// Len returns the number of registered mounts
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Match resolves a request path to the mount with the longest matching
// prefix. A mount matches when the path equals its prefix or continues
// past it at a "/" boundary. When two mounts share an identical prefix
// the most recently registered one wins. The returned sub-path is the
// path with the prefix removed, "/" when the remainder is empty.
func (r *Registry) Match(path string) (*Mount, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Mount
	for _, name := range r.order {
		m := r.byName[name]
		if path != m.Prefix && !strings.HasPrefix(path, m.Prefix+"/") {
			continue
		}
		// >= prefers the later registration on identical prefixes
		if best == nil || len(m.Prefix) >= len(best.Prefix) {
			best = m
		}
	}
	if best == nil {
		return nil, "", false
	}

	subPath := strings.TrimPrefix(path, best.Prefix)
	if subPath == "" {
		subPath = "/"
	}
	return best, subPath, true
}
