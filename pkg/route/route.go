package route

import (
	"errors"
	"fmt"
	"strings"

	"tagbridge/pkg/config"
	"tagbridge/pkg/destination"
	"tagbridge/pkg/match"
	"tagbridge/pkg/update"
)

// Route binds one matcher to one destination.
type Route struct {
	Name        string
	Matcher     match.Matcher
	Destination destination.Destination
}

// Table is the ordered, immutable set of routes evaluated for every message.
type Table struct {
	routes []Route
}

// Resolver builds the destination declared by one route config.
type Resolver func(config.DestinationConfig) (destination.Destination, error)

// NewTable validates routes and freezes them in declaration order.
func NewTable(routes ...Route) (*Table, error) {
	seen := make(map[string]struct{}, len(routes))
	frozen := make([]Route, 0, len(routes))

	for i, r := range routes {
		if r.Matcher == nil {
			return nil, fmt.Errorf("route %d: matcher is required", i)
		}
		if r.Destination == nil {
			return nil, fmt.Errorf("route %d: destination is required", i)
		}
		if strings.TrimSpace(r.Name) == "" {
			r.Name = r.Matcher.String() + " -> " + r.Destination.String()
		}
		if _, ok := seen[r.Name]; ok {
			return nil, fmt.Errorf("duplicate route name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		frozen = append(frozen, r)
	}

	return &Table{routes: frozen}, nil
}

// Build turns route configuration into a table, resolving each destination once.
func Build(cfgs []config.RouteConfig, resolve Resolver) (*Table, error) {
	if resolve == nil {
		return nil, errors.New("destination resolver is required")
	}

	routes := make([]Route, 0, len(cfgs))
	for i, cfg := range cfgs {
		dest, err := resolve(cfg.Destination)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}

		routes = append(routes, Route{
			Name:        strings.TrimSpace(cfg.Name),
			Matcher:     match.NewHashtag(cfg.Hashtag),
			Destination: dest,
		})
	}

	return NewTable(routes...)
}

// Routes returns a copy of the table in declaration order.
func (t *Table) Routes() []Route {
	if t == nil {
		return nil
	}

	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}

	return len(t.routes)
}

// Matching returns every route whose matcher accepts msg, in declaration order.
func (t *Table) Matching(msg update.Message) []Route {
	if t == nil {
		return nil
	}

	var matched []Route
	for _, r := range t.routes {
		if r.Matcher.Match(msg) {
			matched = append(matched, r)
		}
	}

	return matched
}
