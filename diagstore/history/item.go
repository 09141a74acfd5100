package history

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arthur-debert/diagstore/types"
)

// Common errors for history operations.
var (
	ErrNothingToUndo   = errors.New("nothing to undo")
	ErrNothingToRedo   = errors.New("nothing to redo")
	ErrUnknownItemType = errors.New("unknown history item type")
)

// MergeClass partitions items into coalescing equivalence classes. Only
// adjacent items of the same non-negative class are merge candidates.
type MergeClass int

// NoMerge marks an item that never merges
const NoMerge MergeClass = -1

// Merge classes, one per mergeable command type
const (
	ClassEntityChange MergeClass = iota
	ClassNodeSetPos
	ClassNodeSetStyle
	ClassNodeSetText
	ClassEdgeSetPos
	ClassEllipseSetPos
	ClassPathSetStyle
)

// String returns the class name
func (c MergeClass) String() string {
	switch c {
	case NoMerge:
		return "none"
	case ClassEntityChange:
		return "entity-change"
	case ClassNodeSetPos:
		return "node-set-pos"
	case ClassNodeSetStyle:
		return "node-set-style"
	case ClassNodeSetText:
		return "node-set-text"
	case ClassEdgeSetPos:
		return "edge-set-pos"
	case ClassEllipseSetPos:
		return "ellipse-set-pos"
	case ClassPathSetStyle:
		return "path-set-style"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Mergeable reports whether items of this class may coalesce
func (c MergeClass) Mergeable() bool {
	return c >= 0
}

// Item is a command that holds a state snapshot
type Item interface {
	// Type returns the persisted type tag
	Type() string

	// Description returns a human-readable description
	Description() string

	// MergeClass returns the coalescing class
	MergeClass() MergeClass

	// MergeWith folds other into the receiver and reports success. On
	// success the caller discards other. Returning true without changing
	// the receiver is valid when the receiver already holds the state
	// that must survive.
	MergeWith(other Item) bool

	// Apply makes the document match the held snapshot
	Apply() error

	// Payload returns the type specific JSON payload
	Payload() (json.RawMessage, error)
}

// ItemRecord is the persisted form of an item
type ItemRecord = types.ItemRecord

// EncodeItem converts an item into its persisted form
func EncodeItem(item Item) (ItemRecord, error) {
	data, err := item.Payload()
	if err != nil {
		return ItemRecord{}, fmt.Errorf("failed to encode %s item: %w", item.Type(), err)
	}
	return ItemRecord{
		Type: item.Type(),
		Text: item.Description(),
		Data: data,
	}, nil
}

// CheckMergeClass panics when a and b belong to different classes.
// Item implementations call it at the top of MergeWith.
func CheckMergeClass(a, b Item) {
	if a.MergeClass() != b.MergeClass() {
		panic(fmt.Sprintf("history: merge of %s item with %s item", a.MergeClass(), b.MergeClass()))
	}
}
