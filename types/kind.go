package types

import (
	"fmt"
	"sort"
)

// Kind identifies the concrete type of an entity
// The set of kinds is closed; persisted documents store the string form
type Kind string

const (
	// KindNode is a labelled diagram node
	KindNode Kind = "node"
	// KindEdge connects two nodes
	KindEdge Kind = "edge"
	// KindEllipse is a free standing ellipse shape
	KindEllipse Kind = "ellipse"
	// KindPath is a poly-line with a style
	KindPath Kind = "path"
	// KindStyle is a named set of drawing properties
	KindStyle Kind = "style"
)

var knownKinds = map[Kind]bool{
	KindNode:    true,
	KindEdge:    true,
	KindEllipse: true,
	KindPath:    true,
	KindStyle:   true,
}

// IsValid reports whether k is one of the known kinds
func (k Kind) IsValid() bool {
	return knownKinds[k]
}

// String implements fmt.Stringer
func (k Kind) String() string {
	return string(k)
}

// ParseKind converts a string into a Kind, rejecting unknown names
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("unknown entity kind %q (known kinds: %v)", s, Kinds())
	}
	return k, nil
}

// Kinds returns all known kinds in lexical order
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(knownKinds))
	for k := range knownKinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
