// Package entity defines the identified, serializable objects held by a
// document registry.
//
// Every entity embeds Base, which carries its ID and a ref-counted batch
// counter. Mutations run inside a batch; the registry is told once when the
// outermost batch opens (so it can snapshot the entity) and once when it
// closes (so it can record the change and notify observers).
//
//	func (n *Node) SetPos(p types.Pos) {
//	    defer n.Batch().End()
//	    ...
//	}
package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arthur-debert/diagstore/types"
)

// ErrUnknownKind is returned when constructing an entity of an unknown kind
var ErrUnknownKind = errors.New("unknown entity kind")

// Entity is the polymorphic interface implemented by every entity kind.
// The set of implementations is closed to this package.
type Entity interface {
	// ID returns the entity's identifier
	ID() ID

	// Kind returns the runtime type tag used for dispatch and persistence
	Kind() types.Kind

	// Save returns the full state as a JSON object
	Save() json.RawMessage

	// Load replaces the full state with data. Save after Load reproduces data
	// byte for byte when data was itself produced by Save.
	Load(data json.RawMessage) error

	// BeginBatch opens a (possibly nested) mutation batch
	BeginBatch()

	// EndBatch closes a batch; the outermost close reports the change
	EndBatch()

	// Batch opens a batch and returns a guard that closes it
	Batch() *Guard

	base() *Base
	load(data json.RawMessage, prop string) error
}

// Hooks receives batch boundary callbacks from attached entities
type Hooks interface {
	// EntityChanging is called before the first mutation of an outermost batch
	EntityChanging(id ID)

	// EntityChanged is called when the outermost batch closes. props lists the
	// properties touched during the batch; an empty name means the whole state.
	EntityChanged(id ID, props []string)
}

// Base carries the identity and batch state shared by all kinds
type Base struct {
	id      ID
	depth   int
	touched []string
	hooks   Hooks
}

// ID returns the entity's identifier
func (b *Base) ID() ID {
	return b.id
}

// Depth returns the current batch nesting depth
func (b *Base) Depth() int {
	return b.depth
}

// BeginBatch increments the batch depth
func (b *Base) BeginBatch() {
	if b.depth == 0 {
		b.touched = nil
		if b.hooks != nil {
			b.hooks.EntityChanging(b.id)
		}
	}
	b.depth++
}

// EndBatch decrements the batch depth and reports the change at depth zero
func (b *Base) EndBatch() {
	if b.depth <= 0 {
		panic(fmt.Sprintf("entity %s: EndBatch without matching BeginBatch", b.id))
	}
	b.depth--
	if b.depth > 0 {
		return
	}
	props := b.touched
	b.touched = nil
	if b.hooks != nil {
		b.hooks.EntityChanged(b.id, props)
	}
}

// Batch opens a batch and returns the guard that closes it
func (b *Base) Batch() *Guard {
	b.BeginBatch()
	return &Guard{base: b}
}

func (b *Base) base() *Base {
	return b
}

// touch records that prop was written in the current batch
func (b *Base) touch(prop string) {
	for _, p := range b.touched {
		if p == prop {
			return
		}
	}
	b.touched = append(b.touched, prop)
}

// change runs fn inside a batch that touches prop
func (b *Base) change(prop string, fn func()) {
	g := b.Batch()
	defer g.End()
	b.touch(prop)
	fn()
}

// Guard closes a batch exactly once
type Guard struct {
	base *Base
	done bool
}

// End closes the batch. Safe to call multiple times; only the first call has effect.
func (g *Guard) End() {
	if g.done {
		return
	}
	g.done = true
	g.base.EndBatch()
}

// Mutate runs fn inside a batch on e. The batch is closed on every exit path,
// including a panic in fn.
func Mutate(e Entity, fn func() error) error {
	g := e.Batch()
	defer g.End()
	return fn()
}

// Attach binds the registry hooks to e
func Attach(e Entity, hooks Hooks) {
	e.base().hooks = hooks
}

// Detach removes the registry hooks from e
func Detach(e Entity) {
	e.base().hooks = nil
}

// New constructs a fresh entity of the given kind
func New(kind types.Kind, id ID) (Entity, error) {
	var e Entity
	switch kind {
	case types.KindNode:
		e = &Node{}
	case types.KindEdge:
		e = &Edge{}
	case types.KindEllipse:
		e = &Ellipse{state: ellipseState{RX: 1, RY: 1}}
	case types.KindPath:
		e = &Path{}
	case types.KindStyle:
		e = &Style{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	e.base().id = id
	return e, nil
}

func saveState(state any) json.RawMessage {
	data, err := json.Marshal(state)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal entity state: %v", err))
	}
	return data
}

// loadState decodes data into a fresh T and installs it inside a batch
func loadState[T any](b *Base, dst *T, data json.RawMessage, prop string) error {
	var state T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&state); err != nil {
		return fmt.Errorf("failed to load entity %s: %w", b.id, err)
	}
	g := b.Batch()
	defer g.End()
	b.touch(prop)
	*dst = state
	return nil
}
