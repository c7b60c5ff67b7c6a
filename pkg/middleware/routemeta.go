package middleware

import (
	"strings"
	"sync"

	"github.com/gatehousehq/gatehouse/pkg/auth"
)

// routeMeta is the per-route or per-group metadata consulted by the guards.
// Unset attributes fall back to the enclosing group.
type routeMeta struct {
	public *bool
	roles  []auth.Role
}

// Registry is an explicit table of route metadata. Routes are identified by
// HTTP method plus mux path template; groups by path prefix. Route-level
// declarations override group-level ones attribute by attribute.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*routeMeta
	routes map[string]*routeMeta
}

// NewRegistry creates an empty route metadata registry
func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]*routeMeta),
		routes: make(map[string]*routeMeta),
	}
}

func routeKey(method, template string) string {
	return method + " " + template
}

func (r *Registry) route(method, template string) *routeMeta {
	key := routeKey(method, template)
	if m, ok := r.routes[key]; ok {
		return m
	}
	m := &routeMeta{}
	r.routes[key] = m
	return m
}

func (r *Registry) group(prefix string) *routeMeta {
	if m, ok := r.groups[prefix]; ok {
		return m
	}
	m := &routeMeta{}
	r.groups[prefix] = m
	return m
}

// SetRoutePublic tags a single route as public (or explicitly private,
// overriding a public group)
func (r *Registry) SetRoutePublic(method, template string, public bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.route(method, template).public = &public
}

// SetRouteRoles declares the allowed roles for a single route. Calling it
// with no roles records an empty restriction, which overrides any group
// restriction and lets every authenticated principal through.
func (r *Registry) SetRouteRoles(method, template string, roles ...auth.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if roles == nil {
		roles = []auth.Role{}
	}
	r.route(method, template).roles = roles
}

// SetGroupPublic tags every route under the prefix as public
func (r *Registry) SetGroupPublic(prefix string, public bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.group(prefix).public = &public
}

// SetGroupRoles declares the allowed roles for every route under the prefix
func (r *Registry) SetGroupRoles(prefix string, roles ...auth.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if roles == nil {
		roles = []auth.Role{}
	}
	r.group(prefix).roles = roles
}

// IsPublic reports whether the route is exempt from authentication.
// Route metadata wins over group metadata; the default is private.
func (r *Registry) IsPublic(method, template string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.routes[routeKey(method, template)]; ok && m.public != nil {
		return *m.public
	}
	if m := r.matchGroup(template); m != nil && m.public != nil {
		return *m.public
	}
	return false
}

// AllowedRoles returns the declared role restriction for the route, or nil
// when the route has none. Route metadata wins over group metadata.
func (r *Registry) AllowedRoles(method, template string) []auth.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.routes[routeKey(method, template)]; ok && m.roles != nil {
		return m.roles
	}
	if m := r.matchGroup(template); m != nil && m.roles != nil {
		return m.roles
	}
	return nil
}

// matchGroup returns the metadata of the longest prefix covering the template
func (r *Registry) matchGroup(template string) *routeMeta {
	var best string
	var found *routeMeta
	for prefix, m := range r.groups {
		if strings.HasPrefix(template, prefix) && len(prefix) > len(best) {
			best = prefix
			found = m
		}
	}
	return found
}
