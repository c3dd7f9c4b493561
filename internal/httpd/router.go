package httpd

import "strings"

// Handler handles one matched request. It must call exactly one terminal
// method on the Response.
type Handler func(*Request, *Response)

type route struct {
	pattern  string
	segments []string
	wild     bool // pattern contains :name segments
	handler  Handler
}

// routeTable is an enum-indexed route table. Registration happens before
// the server starts listening; lookups are read-only and safe to run
// concurrently once registration is complete.
type routeTable struct {
	byMethod [methodCount][]route
}

func (rt *routeTable) add(m Method, pattern string, h Handler) {
	r := route{pattern: pattern, handler: h}
	for _, seg := range strings.Split(pattern, "/") {
		if strings.HasPrefix(seg, ":") {
			r.wild = true
			break
		}
	}
	if r.wild {
		r.segments = strings.Split(pattern, "/")
	}
	rt.byMethod[m] = append(rt.byMethod[m], r)
}

// match finds the handler for a path. Literal patterns take priority;
// parameterized patterns are tried in registration order and the first
// match wins. Matched :name segments are returned as bindings.
func (rt *routeTable) match(m Method, path string) (Handler, map[string]string, bool) {
	routes := rt.byMethod[m]

	for _, r := range routes {
		if !r.wild && r.pattern == path {
			return r.handler, nil, true
		}
	}

	segs := strings.Split(path, "/")
	for _, r := range routes {
		if !r.wild || len(r.segments) != len(segs) {
			continue
		}
		params, ok := bindSegments(r.segments, segs)
		if ok {
			return r.handler, params, true
		}
	}

	return nil, nil, false
}

func bindSegments(pattern, path []string) (map[string]string, bool) {
	var params map[string]string
	for i, p := range pattern {
		if strings.HasPrefix(p, ":") {
			if params == nil {
				params = make(map[string]string)
			}
			params[p[1:]] = path[i]
			continue
		}
		if p != path[i] {
			return nil, false
		}
	}
	return params, true
}
