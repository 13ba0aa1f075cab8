// Per-collection record schema.
//
// Rather than an untyped attribute map everywhere, records carry typed
// common attributes validated here, plus an Extra bag for forward
// compatibility. Unknown attribute names are legal (they live in Extra);
// known attributes with out-of-vocabulary values are not.

package storage

import (
	"fmt"
	"strings"
)

// Attribute vocabularies shared by every collection.
var (
	validStatuses = map[string]struct{}{
		"todo":        {},
		"in-progress": {},
		"blocked":     {},
		"done":        {},
		"archived":    {},
	}
	validPriorities = map[string]struct{}{
		"low":    {},
		"normal": {},
		"high":   {},
		"urgent": {},
	}
)

// ValidStatuses returns the status vocabulary in a stable order.
func ValidStatuses() []string {
	return []string{"todo", "in-progress", "blocked", "done", "archived"}
}

// ValidateNode checks a node against its collection schema.
//
// Rules:
//   - the collection must be known
//   - the ID must carry the collection's prefix
//   - status and priority, when set, must come from the shared vocabulary
//   - step names must be non-empty
//
// Extra keys are not validated; that bag exists precisely for attributes the
// schema does not know about yet.
func ValidateNode(n *Node) error {
	if n == nil {
		return ErrInvalidNode
	}
	prefix := IDPrefix(n.Collection)
	if prefix == "" {
		return fmt.Errorf("%w: unknown collection %q", ErrInvalidNode, n.Collection)
	}
	if !strings.HasPrefix(string(n.ID), prefix+"-") {
		return fmt.Errorf("%w: id %q does not match collection %q", ErrInvalidID, n.ID, n.Collection)
	}
	if n.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidNode)
	}
	if n.Attrs.Status != "" {
		if _, ok := validStatuses[n.Attrs.Status]; !ok {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidNode, n.Attrs.Status)
		}
	}
	if n.Attrs.Priority != "" {
		if _, ok := validPriorities[n.Attrs.Priority]; !ok {
			return fmt.Errorf("%w: unknown priority %q", ErrInvalidNode, n.Attrs.Priority)
		}
	}
	for i, step := range n.Attrs.Steps {
		if step.Name == "" {
			return fmt.Errorf("%w: step %d has no name", ErrInvalidNode, i)
		}
	}
	return nil
}
