package sagui

import (
	"fmt"
	"regexp"
	"strings"
)

// RouteHandler handles a dispatched request for a Route. cls is the
// opaque value passed to Router.Add, and the Route itself carries the
// live match state (Path, UserData, captures) for the duration of the call.
type RouteHandler func(cls any, route *Route)

// Route is one compiled entry in a Router's route table.
type Route struct {
	rawPattern string
	re         *regexp.Regexp
	handler    RouteHandler
	cls        any

	matched  bool
	path     string
	userData any
	lastMatch []string
	names     []string
}

// Pattern returns the raw, wrapped pattern this route was compiled from
// (e.g. "^/foo/[0-9]+$").
func (r *Route) Pattern() string { return r.rawPattern }

// Path returns the path most recently dispatched against this route,
// valid only while the route is "live" (carrying a successful match).
func (r *Route) Path() string { return r.path }

// UserData returns the caller value attached to the current match.
func (r *Route) UserData() any { return r.userData }

// Segments yields the positional (unnamed) capture groups of the current
// match in order. It yields nothing if the route is not currently live.
func (r *Route) Segments() func(func(string) bool) {
	return func(yield func(string) bool) {
		if !r.matched {
			return
		}
		for i, name := range r.names {
			if name != "" {
				continue
			}
			if i+1 >= len(r.lastMatch) {
				continue
			}
			if !yield(r.lastMatch[i+1]) {
				return
			}
		}
	}
}

// Vars yields the named capture groups of the current match as
// (name, value) pairs. It yields nothing if the route is not currently live.
func (r *Route) Vars() func(func(string, string) bool) {
	return func(yield func(string, string) bool) {
		if !r.matched {
			return
		}
		for i, name := range r.names {
			if name == "" {
				continue
			}
			if i+1 >= len(r.lastMatch) {
				continue
			}
			if !yield(name, r.lastMatch[i+1]) {
				return
			}
		}
	}
}

// Router is a path-dispatched, regex-compiled route table. Dispatch is
// single-threaded over its input path; the compiled regex table itself
// is shared read-only across concurrent dispatches from distinct goroutines.
type Router struct {
	routes []*Route
}

// unwrapPattern returns the pattern prefix used for duplicate-detection and Remove
// lookups: the raw pattern as the caller supplied it, before ^...$ wrapping.
func unwrapPattern(raw string) string {
	if strings.HasPrefix(raw, "^") && strings.HasSuffix(raw, "$") && !strings.HasPrefix(raw, "(") {
		return raw[1 : len(raw)-1]
	}
	return raw
}

// Add compiles pattern and appends it to the route table. Patterns not
// starting with "(" are wrapped as "^pattern$". Matching is always
// case-insensitive. Patterns containing the literal "\K" are rejected,
// as are exact duplicates of an already-registered (unwrapped) pattern.
func (rt *Router) Add(pattern string, handler RouteHandler, cls any) (*Route, error) {
	if handler == nil {
		return nil, ErrInvalidArgument
	}
	if strings.Contains(pattern, `\K`) {
		return nil, fmt.Errorf("%w: pattern contains \\K", ErrInvalidArgument)
	}

	for _, existing := range rt.routes {
		if unwrapPattern(existing.rawPattern) == pattern {
			return nil, fmt.Errorf("%w: duplicate route pattern", ErrAlready)
		}
	}

	raw := pattern
	if !strings.HasPrefix(pattern, "(") {
		raw = "^" + pattern + "$"
	}

	re, err := regexp.Compile("(?i)" + raw)
	if err != nil {
		return nil, fmt.Errorf("sagui: compile route %q: %w", raw, err)
	}

	route := &Route{
		rawPattern: raw,
		re:         re,
		handler:    handler,
		cls:        cls,
		names:      re.SubexpNames()[1:],
	}
	rt.routes = append(rt.routes, route)
	return route, nil
}

// Remove deletes the first route whose unwrapped pattern equals pattern.
// Reports whether a route was removed.
func (rt *Router) Remove(pattern string) bool {
	for i, r := range rt.routes {
		if unwrapPattern(r.rawPattern) == pattern {
			rt.routes = append(rt.routes[:i], rt.routes[i+1:]...)
			return true
		}
	}
	return false
}

// Cleanup discards the entire route table.
func (rt *Router) Cleanup() {
	rt.routes = nil
}

// DispatchFunc is invoked once per route, in table order, before the
// regex match is attempted. A non-zero return short-circuits Dispatch
// with that value.
type DispatchFunc func(cls any, path string, route *Route) error

// MatchFunc is invoked once a route's regex has matched, before its
// handler runs. A non-zero return short-circuits Dispatch with that value.
type MatchFunc func(cls any, route *Route) error

// Dispatch matches path against the route table in order and invokes the
// first matching route's handler with userData attached. Returns
// ErrNotFound if no route matches. dispatchFn and matchFn may be nil.
func (rt *Router) Dispatch(path string, userData any, dispatchFn DispatchFunc, matchFn MatchFunc) error {
	for _, route := range rt.routes {
		if dispatchFn != nil {
			if err := dispatchFn(route.cls, path, route); err != nil {
				return err
			}
		}

		m := route.re.FindStringSubmatch(path)
		if m == nil {
			continue
		}

		route.matched = true
		route.path = path
		route.userData = userData
		route.lastMatch = m

		if matchFn != nil {
			if err := matchFn(route.cls, route); err != nil {
				route.matched = false
				return err
			}
		}

		route.handler(route.cls, route)
		route.matched = false
		return nil
	}
	return ErrNotFound
}
