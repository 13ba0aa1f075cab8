// Package query turns textual attribute selectors into reusable matchers
// and caches both compiled selectors and query results.
//
// Selector syntax is attribute equality, one or more bracketed clauses that
// are ANDed together:
//
//	[status=blocked]
//	[collection=features][priority=high]
//	[tags=infra]
//
// Scalar attributes match by string equality; list attributes (tags, step)
// match if any element equals the value.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/weftlabs/loomdb/pkg/storage"
)

// ErrBadSelector is returned for selectors that fail to parse. Compilation
// fails fast: nothing is cached and no graph scan happens.
var ErrBadSelector = errors.New("malformed selector")

// clause is one [key=value] equality test.
type clause struct {
	key   string
	value string
}

// parseSelector parses a selector string into its clauses.
func parseSelector(selector string) ([]clause, error) {
	s := strings.TrimSpace(selector)
	if s == "" {
		return nil, fmt.Errorf("%w: empty selector", ErrBadSelector)
	}

	var clauses []clause
	for len(s) > 0 {
		if s[0] != '[' {
			return nil, fmt.Errorf("%w: expected '[' at %q", ErrBadSelector, s)
		}
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated clause in %q", ErrBadSelector, selector)
		}
		body := s[1:end]
		eq := strings.IndexByte(body, '=')
		if eq < 0 {
			return nil, fmt.Errorf("%w: clause %q has no '='", ErrBadSelector, body)
		}
		key := strings.TrimSpace(body[:eq])
		value := strings.TrimSpace(body[eq+1:])
		if key == "" {
			return nil, fmt.Errorf("%w: clause %q has an empty key", ErrBadSelector, body)
		}
		if value == "" {
			return nil, fmt.Errorf("%w: clause %q has an empty value", ErrBadSelector, body)
		}
		if strings.ContainsAny(key, "[]") || strings.ContainsAny(value, "[]") {
			return nil, fmt.Errorf("%w: nested bracket in clause %q", ErrBadSelector, body)
		}
		clauses = append(clauses, clause{key: key, value: value})

		s = strings.TrimSpace(s[end+1:])
	}
	return clauses, nil
}

// matches reports whether a node satisfies a clause.
func (cl clause) matches(n *storage.Node) bool {
	switch v := n.Attribute(cl.key).(type) {
	case nil:
		return false
	case string:
		return v == cl.value
	case []string:
		for _, item := range v {
			if item == cl.value {
				return true
			}
		}
		return false
	case bool:
		return (cl.value == "true") == v
	case fmt.Stringer:
		return v.String() == cl.value
	default:
		return fmt.Sprintf("%v", v) == cl.value
	}
}
