package history

import (
	"fmt"
	"time"

	"github.com/arthur-debert/diagstore/types"
)

// Group is one undo/redo step made of coalesced items
type Group struct {
	description string
	undoItems   []Item
	redoItems   []Item
	committedAt time.Time
}

// NewGroup creates an empty group
func NewGroup(description string) *Group {
	return &Group{description: description}
}

// Description returns the group's description
func (g *Group) Description() string {
	return g.description
}

// CommittedAt returns when the group was pushed onto the undo stack
func (g *Group) CommittedAt() time.Time {
	return g.committedAt
}

// UndoItems returns the undo items in insertion order
func (g *Group) UndoItems() []Item {
	return append([]Item(nil), g.undoItems...)
}

// RedoItems returns the redo items in insertion order
func (g *Group) RedoItems() []Item {
	return append([]Item(nil), g.redoItems...)
}

// AddUndoItem appends item, or drops it when the last undo item absorbs it.
// The earliest snapshot of a merge run survives.
func (g *Group) AddUndoItem(item Item) {
	if n := len(g.undoItems); n > 0 {
		last := g.undoItems[n-1]
		if mergeable(last, item) && last.MergeWith(item) {
			return
		}
	}
	g.undoItems = append(g.undoItems, item)
}

// AddRedoItem appends item, or replaces the last redo item when the two
// merge. The latest snapshot of a merge run survives.
func (g *Group) AddRedoItem(item Item) {
	if n := len(g.redoItems); n > 0 {
		last := g.redoItems[n-1]
		if mergeable(last, item) && last.MergeWith(item) {
			g.redoItems[n-1] = item
			return
		}
	}
	g.redoItems = append(g.redoItems, item)
}

func mergeable(last, item Item) bool {
	return last.MergeClass().Mergeable() && last.MergeClass() == item.MergeClass()
}

// Undo applies the undo items in reverse insertion order
func (g *Group) Undo() error {
	for i := len(g.undoItems) - 1; i >= 0; i-- {
		if err := g.undoItems[i].Apply(); err != nil {
			return fmt.Errorf("undo %q step %d: %w", g.description, i, err)
		}
	}
	return nil
}

// Redo applies the redo items in insertion order
func (g *Group) Redo() error {
	for i, item := range g.redoItems {
		if err := item.Apply(); err != nil {
			return fmt.Errorf("redo %q step %d: %w", g.description, i, err)
		}
	}
	return nil
}

// IsEmpty returns true if the group has no undo items
func (g *Group) IsEmpty() bool {
	return len(g.undoItems) == 0
}

// GroupRecord is the persisted form of a group
type GroupRecord = types.GroupRecord

// Record converts the group into its persisted form
func (g *Group) Record() (GroupRecord, error) {
	rec := GroupRecord{
		Text:  g.description,
		Items: make([]ItemRecord, 0, len(g.undoItems)),
		At:    g.committedAt,
	}
	for _, item := range g.undoItems {
		ir, err := EncodeItem(item)
		if err != nil {
			return GroupRecord{}, err
		}
		rec.Items = append(rec.Items, ir)
	}
	for _, item := range g.redoItems {
		ir, err := EncodeItem(item)
		if err != nil {
			return GroupRecord{}, err
		}
		rec.Redo = append(rec.Redo, ir)
	}
	return rec, nil
}

// LoadGroup rebuilds a group from its record. Items are re-inserted through
// AddUndoItem/AddRedoItem; nothing is applied.
func LoadGroup(rec GroupRecord, f *Factory) (*Group, error) {
	g := NewGroup(rec.Text)
	g.committedAt = rec.At
	for i, ir := range rec.Items {
		item, err := f.Decode(ir)
		if err != nil {
			return nil, fmt.Errorf("group %q undo item %d: %w", rec.Text, i, err)
		}
		g.AddUndoItem(item)
	}
	for i, ir := range rec.Redo {
		item, err := f.Decode(ir)
		if err != nil {
			return nil, fmt.Errorf("group %q redo item %d: %w", rec.Text, i, err)
		}
		g.AddRedoItem(item)
	}
	return g, nil
}
