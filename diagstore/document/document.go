// Package document is the registry that owns a diagram's entities and records
// every change to them in an undo/redo history.
//
// Mutations are observed through entity batches: when an entity's outermost
// batch opens the document takes a snapshot, and when it closes the document
// records a pair of snapshot items (state before for undo, state after for
// redo). Undo and redo apply snapshots; they never invert operations.
//
//	doc := document.New()
//	id := doc.CreateEntity(types.KindNode)
//	err := doc.Transaction("Move", func() error {
//	    node, _ := doc.Node(id)
//	    node.SetPos(types.Pos{X: 1, Y: 1})
//	    node.SetPos(types.Pos{X: 2, Y: 2})
//	    return nil
//	})
//	_ = doc.Undo() // node back at its original position
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/arthur-debert/diagstore/diagstore/entity"
	"github.com/arthur-debert/diagstore/diagstore/history"
	"github.com/arthur-debert/diagstore/diagstore/notify"
	"github.com/arthur-debert/diagstore/types"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a history item names an entity that is not
// in the registry
var ErrNotFound = errors.New("entity not found")

// Document is the entity registry plus its history. It is not safe for
// concurrent use.
type Document struct {
	registry uuid.UUID
	entities map[entity.ID]entity.Entity
	nextID   int

	history  *history.Manager
	factory  *history.Factory
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
	meta     types.Metadata

	// snapshots holds entity states taken when their outermost batch opened
	snapshots map[entity.ID]json.RawMessage

	// loading is non-zero while a file is being applied
	loading int

	// Document level batch; DocumentChanged fires once when it closes
	batch int
	dirty bool

	propertyHistory bool
	maxEntries      int
}

// Option configures a Document
type Option func(*Document)

// WithLogger sets the logger used by the document and its history
func WithLogger(logger *slog.Logger) Option {
	return func(d *Document) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithNotifier publishes document events to n instead of a private notifier
func WithNotifier(n *notify.Notifier) Option {
	return func(d *Document) {
		if n != nil {
			d.notifier = n
		}
	}
}

// WithPropertyHistory records changes with per-kind property items
// (node-set-pos and friends) where one exists
func WithPropertyHistory() Option {
	return func(d *Document) {
		d.propertyHistory = true
	}
}

// WithMaxEntries bounds the undo stack
func WithMaxEntries(n int) Option {
	return func(d *Document) {
		d.maxEntries = n
	}
}

// WithClock sets the time source for metadata and history timestamps
func WithClock(now func() time.Time) Option {
	return func(d *Document) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates an empty, clean document with a fresh registry token
func New(opts ...Option) *Document {
	d := &Document{
		registry:  uuid.New(),
		entities:  make(map[entity.ID]entity.Entity),
		snapshots: make(map[entity.ID]json.RawMessage),
		notifier:  notify.New(),
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	created := d.now()
	d.meta = types.Metadata{
		Version:   types.FileVersion,
		UUID:      uuid.NewString(),
		CreatedAt: created,
		UpdatedAt: created,
	}
	d.history = history.NewManager(
		history.WithLogger(d.logger),
		history.WithNotifier(d.notifier),
		history.WithMaxEntries(d.maxEntries),
		history.WithClock(d.now),
	)
	d.factory = d.newFactory()
	return d
}

// UUID returns the registry token embedded in every ID this document issues
func (d *Document) UUID() uuid.UUID {
	return d.registry
}

// Metadata returns the file metadata
func (d *Document) Metadata() types.Metadata {
	return d.meta
}

// Notifier returns the notifier document events are published to
func (d *Document) Notifier() *notify.Notifier {
	return d.notifier
}

// History returns the document's history manager
func (d *Document) History() *history.Manager {
	return d.history
}

// ParseID parses the decimal form of an ID issued by this document
func (d *Document) ParseID(s string) (entity.ID, error) {
	return entity.ParseID(s, d.registry)
}

// CreateEntity adds a new entity of kind with default state and returns its
// ID. Unless history is being replayed, the creation is recorded. An unknown
// kind panics.
func (d *Document) CreateEntity(kind types.Kind) entity.ID {
	id := entity.NewID(d.nextID, d.registry)
	e, err := entity.New(kind, id)
	if err != nil {
		panic(fmt.Sprintf("document: CreateEntity: %v", err))
	}
	d.nextID++

	if d.undoActive() {
		d.insert(e)
		return id
	}

	d.history.StartTransaction("Create " + describe(e))
	d.insert(e)
	d.history.AddUndoItem(d.deleteItemFor(e))
	d.history.AddRedoItem(d.createItemFor(e))
	d.history.AddRedoItem(d.changeItemFor(e, e.Save()))
	d.history.CommitTransaction()

	d.logger.Debug("entity created", "id", id.N, "kind", kind)
	return id
}

// DeleteEntity removes the entity. Deleting an ID that is not registered
// panics.
func (d *Document) DeleteEntity(id entity.ID) {
	e, ok := d.entities[id]
	if !ok {
		panic(fmt.Sprintf("document: DeleteEntity of unknown entity %s", id))
	}

	d.notifier.Publish(notify.Event{Kind: notify.AboutToDeleteEntity, ID: id})

	if d.undoActive() {
		d.drop(e)
		return
	}

	// Undo items run in reverse: re-create first, then restore the state
	d.history.StartTransaction("Delete " + describe(e))
	d.history.AddUndoItem(d.changeItemFor(e, e.Save()))
	d.history.AddUndoItem(d.createItemFor(e))
	d.history.AddRedoItem(d.deleteItemFor(e))
	d.drop(e)
	d.history.CommitTransaction()

	d.logger.Debug("entity deleted", "id", id.N, "kind", e.Kind())
}

// Entity returns the entity for id. Unknown, deleted and foreign IDs report
// false.
func (d *Document) Entity(id entity.ID) (entity.Entity, bool) {
	e, ok := d.entities[id]
	return e, ok
}

func lookup[T entity.Entity](d *Document, id entity.ID) (T, bool) {
	e, ok := d.entities[id]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := e.(T)
	return t, ok
}

// Node returns the node for id
func (d *Document) Node(id entity.ID) (*entity.Node, bool) { return lookup[*entity.Node](d, id) }

// Edge returns the edge for id
func (d *Document) Edge(id entity.ID) (*entity.Edge, bool) { return lookup[*entity.Edge](d, id) }

// Ellipse returns the ellipse for id
func (d *Document) Ellipse(id entity.ID) (*entity.Ellipse, bool) {
	return lookup[*entity.Ellipse](d, id)
}

// Path returns the path for id
func (d *Document) Path(id entity.ID) (*entity.Path, bool) { return lookup[*entity.Path](d, id) }

// Style returns the style for id
func (d *Document) Style(id entity.ID) (*entity.Style, bool) { return lookup[*entity.Style](d, id) }

// IDs returns every registered ID in ascending order
func (d *Document) IDs() []entity.ID {
	ids := make([]entity.ID, 0, len(d.entities))
	for id := range d.entities {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, entity.Compare)
	return ids
}

// Len returns the number of registered entities
func (d *Document) Len() int {
	return len(d.entities)
}

// BeginTransaction opens a (possibly nested) transaction. Every change until
// the matching FinishTransaction becomes one undo step, and observers get a
// single DocumentChanged when the outermost transaction finishes.
func (d *Document) BeginTransaction(name string) {
	d.beginBatch()
	d.history.StartTransaction(name)
}

// CancelTransaction reverts the changes made so far in the open transaction.
// FinishTransaction must still be called.
func (d *Document) CancelTransaction() error {
	return d.history.CancelTransaction()
}

// FinishTransaction closes one level of the open transaction
func (d *Document) FinishTransaction() {
	d.history.CommitTransaction()
	d.endBatch()
}

// Transaction runs fn inside a transaction. If fn returns an error the
// transaction is canceled and the error returned.
func (d *Document) Transaction(name string, fn func() error) error {
	d.BeginTransaction(name)
	defer d.FinishTransaction()

	if err := fn(); err != nil {
		if cerr := d.CancelTransaction(); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	}
	return nil
}

// Scope keeps a transaction open until End or Cancel.
//
//	s := doc.Scope("Edit")
//	defer s.End()
type Scope struct {
	doc    *Document
	active bool
}

// Scope begins a transaction and returns the guard that finishes it
func (d *Document) Scope(name string) *Scope {
	d.BeginTransaction(name)
	return &Scope{doc: d, active: true}
}

// End finishes the transaction. Safe to call multiple times; only the first
// call has effect.
func (s *Scope) End() {
	if !s.active {
		return
	}
	s.active = false
	s.doc.FinishTransaction()
}

// Cancel reverts the transaction's changes and finishes it
func (s *Scope) Cancel() error {
	if !s.active {
		return nil
	}
	err := s.doc.CancelTransaction()
	s.End()
	return err
}

// Undo reverts the last transaction. It returns history.ErrNothingToUndo when
// there is nothing to undo. If an item fails to apply, every entity is put
// back as it was and the step stays on the undo stack.
func (d *Document) Undo() error {
	d.beginBatch()
	defer d.endBatch()
	return d.replayOrRollback("undo", d.history.Undo)
}

// Redo re-applies the last undone transaction. Failures roll back like Undo.
func (d *Document) Redo() error {
	d.beginBatch()
	defer d.endBatch()
	return d.replayOrRollback("redo", d.history.Redo)
}

// registryState is the set of registered entities and their saved states
type registryState struct {
	entities map[entity.ID]entity.Entity
	states   map[entity.ID]json.RawMessage
}

func (d *Document) capture() registryState {
	rs := registryState{
		entities: maps.Clone(d.entities),
		states:   make(map[entity.ID]json.RawMessage, len(d.entities)),
	}
	for id, e := range d.entities {
		rs.states[id] = e.Save()
	}
	return rs
}

// rollback puts back the entities and states held by rs. Entities keep
// their identity, so callers holding one still see the registered value.
func (d *Document) rollback(rs registryState) error {
	d.loading++
	defer func() { d.loading-- }()

	for _, id := range d.IDs() {
		if e := d.entities[id]; rs.entities[id] != e {
			d.remove(e)
		}
	}
	var errs []error
	for _, id := range slices.SortedFunc(maps.Keys(rs.entities), entity.Compare) {
		e := rs.entities[id]
		if _, ok := d.entities[id]; !ok {
			d.insert(e)
		}
		if !bytes.Equal(e.Save(), rs.states[id]) {
			errs = append(errs, e.Load(rs.states[id]))
		}
	}
	return errors.Join(errs...)
}

func (d *Document) replayOrRollback(op string, fn func() error) error {
	rs := d.capture()
	err := fn()
	if err == nil || errors.Is(err, history.ErrNothingToUndo) || errors.Is(err, history.ErrNothingToRedo) {
		return err
	}
	d.logger.Warn(op+" failed, rolling back", "error", err)
	if rerr := d.rollback(rs); rerr != nil {
		return errors.Join(err, fmt.Errorf("failed to roll back %s: %w", op, rerr))
	}
	return err
}

// IsClean reports whether the document matches its last saved state
func (d *Document) IsClean() bool {
	return d.history.IsClean()
}

// SetClean marks the current state as saved
func (d *Document) SetClean() {
	d.history.SetClean()
}

// Clear removes every entity and the whole history. IDs are not reused.
func (d *Document) Clear() {
	if d.history.InTransaction() {
		panic("document: Clear inside an open transaction")
	}
	d.notifier.Publish(notify.Event{Kind: notify.AboutToClear})

	d.beginBatch()
	defer d.endBatch()
	d.replaceEntities(make(map[entity.ID]entity.Entity))
	d.history.Clear()
}

// undoActive reports whether changes must not be recorded
func (d *Document) undoActive() bool {
	return d.loading > 0 || d.history.Replaying()
}

// insert registers e and announces it
func (d *Document) insert(e entity.Entity) {
	d.entities[e.ID()] = e
	entity.Attach(e, hooks{d})
	d.notifier.Publish(notify.Event{Kind: notify.EntityCreated, ID: e.ID()})
	d.changed()
}

// remove announces and unregisters e
func (d *Document) remove(e entity.Entity) {
	d.notifier.Publish(notify.Event{Kind: notify.AboutToDeleteEntity, ID: e.ID()})
	d.drop(e)
}

func (d *Document) drop(e entity.Entity) {
	entity.Detach(e)
	delete(d.entities, e.ID())
	delete(d.snapshots, e.ID())
	d.changed()
}

// restore re-creates an entity at a fixed number while replaying history
func (d *Document) restore(kind types.Kind, n int) error {
	id := entity.NewID(n, d.registry)
	if _, exists := d.entities[id]; exists {
		return fmt.Errorf("entity %d already exists", n)
	}
	e, err := entity.New(kind, id)
	if err != nil {
		return err
	}
	if n >= d.nextID {
		d.nextID = n + 1
	}
	d.insert(e)
	return nil
}

func (d *Document) lookupN(n int) (entity.Entity, error) {
	e, ok := d.entities[entity.NewID(n, d.registry)]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, n)
	}
	return e, nil
}

func (d *Document) replaceEntities(entities map[entity.ID]entity.Entity) {
	for _, e := range d.entities {
		entity.Detach(e)
	}
	d.entities = entities
	d.snapshots = make(map[entity.ID]json.RawMessage)
	for _, id := range d.IDs() {
		e := d.entities[id]
		entity.Attach(e, hooks{d})
		d.notifier.Publish(notify.Event{Kind: notify.EntityCreated, ID: id})
	}
	d.changed()
}

func (d *Document) beginBatch() {
	d.batch++
}

func (d *Document) endBatch() {
	if d.batch <= 0 {
		panic("document: unbalanced transaction")
	}
	d.batch--
	if d.batch == 0 && d.dirty {
		d.dirty = false
		d.notifier.Publish(notify.Event{Kind: notify.DocumentChanged})
	}
}

// changed publishes DocumentChanged now, or once the document batch closes
func (d *Document) changed() {
	if d.batch > 0 {
		d.dirty = true
		return
	}
	d.notifier.Publish(notify.Event{Kind: notify.DocumentChanged})
}

// recordChange logs the before and after snapshots of a finished batch
func (d *Document) recordChange(e entity.Entity, before, after json.RawMessage, props []string) {
	d.history.StartTransaction("Change " + describe(e))
	defer d.history.CommitTransaction()

	if d.propertyHistory {
		if specs, ok := specsFor(e.Kind(), props); ok {
			for _, spec := range specs {
				old, _ := entity.PropertyOf(before, spec.prop)
				cur, _ := entity.PropertyOf(after, spec.prop)
				if bytes.Equal(old, cur) {
					continue
				}
				d.history.AddUndoItem(d.propertyItemFor(e, spec, old))
				d.history.AddRedoItem(d.propertyItemFor(e, spec, cur))
			}
			return
		}
	}

	d.history.AddUndoItem(d.changeItemFor(e, before))
	d.history.AddRedoItem(d.changeItemFor(e, after))
}

// hooks receives batch callbacks from registered entities
type hooks struct {
	d *Document
}

func (h hooks) EntityChanging(id entity.ID) {
	if h.d.undoActive() {
		return
	}
	if e, ok := h.d.entities[id]; ok {
		h.d.snapshots[id] = e.Save()
	}
}

func (h hooks) EntityChanged(id entity.ID, props []string) {
	d := h.d
	e, ok := d.entities[id]
	if !ok {
		return
	}
	before, had := d.snapshots[id]
	delete(d.snapshots, id)

	d.notifier.Publish(notify.Event{Kind: notify.EntityChanged, ID: id})
	d.changed()

	if !had || d.undoActive() {
		return
	}
	after := e.Save()
	if bytes.Equal(before, after) {
		return
	}
	d.recordChange(e, before, after, props)
}
