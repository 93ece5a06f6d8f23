package index

import (
	"fmt"

	"github.com/haorendashu/catindex/src/types"
)

// Policy selects which ancestor categories an event is fanned out to.
type Policy int

const (
	// DepthLimited honours the event's visibility: the ancestor at level i
	// (own category = 0) receives the event iff i < visibility, and the root
	// iff visibility > len(owner path).
	DepthLimited Policy = iota

	// Unrestricted files the event under every ancestor and the root.
	Unrestricted
)

// String returns the policy name used in configuration and logs.
func (p Policy) String() string {
	switch p {
	case DepthLimited:
		return "depth-limited"
	case Unrestricted:
		return "unrestricted"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy is the inverse of Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "depth-limited", "":
		return DepthLimited, nil
	case "unrestricted":
		return Unrestricted, nil
	}
	return 0, fmt.Errorf("unknown fan-out policy %q", s)
}

// fanOut returns the category IDs ev must be filed under, nearest first,
// with the root last when it applies. Stray root IDs in the owner path are
// ignored so the root is never filed twice.
func fanOut(ev *types.Event, p Policy) []string {
	out := make([]string, 0, len(ev.OwnerPath)+1)
	level := 0
	for _, id := range ev.OwnerPath {
		if id == types.RootCategoryID {
			continue
		}
		if p == Unrestricted || level < ev.Visibility {
			out = append(out, id)
		}
		level++
	}
	if p == Unrestricted || ev.Visibility > level {
		out = append(out, types.RootCategoryID)
	}
	return out
}

// kindName suffixes the unrestricted variant of an index with "All".
func kindName(base string, p Policy) string {
	if p == Unrestricted {
		return base + "All"
	}
	return base
}
