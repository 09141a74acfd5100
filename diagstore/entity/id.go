package entity

import (
	"bytes"
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ID is a weak reference to an entity: its number inside a document plus the
// token of the registry that issued it. Holding an ID never keeps the entity
// alive; resolving a stale or foreign ID through the registry yields "not found".
type ID struct {
	N        int
	Registry uuid.UUID
}

// None is the zero-information ID. It is never valid.
var None = ID{N: -1}

// NewID creates an ID for entity number n in the given registry
func NewID(n int, registry uuid.UUID) ID {
	return ID{N: n, Registry: registry}
}

// IsValid reports whether the ID has a non-negative number and a registry
func (id ID) IsValid() bool {
	return id.N >= 0 && id.Registry != uuid.Nil
}

// String renders the entity number, the form used in files and on the CLI
func (id ID) String() string {
	return strconv.Itoa(id.N)
}

// ParseID parses the String form back into an ID bound to registry
func ParseID(s string, registry uuid.UUID) (ID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return None, fmt.Errorf("invalid entity id %q: %w", s, err)
	}
	if n < 0 {
		return None, fmt.Errorf("invalid entity id %q: must not be negative", s)
	}
	return NewID(n, registry), nil
}

// Compare orders IDs by registry token, then by number
func Compare(a, b ID) int {
	if c := bytes.Compare(a.Registry[:], b.Registry[:]); c != 0 {
		return c
	}
	return cmp.Compare(a.N, b.N)
}
