package history

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/arthur-debert/diagstore/diagstore/notify"
)

// Manager owns the undo and redo stacks and the transaction state machine.
//
// States: idle (refCount == 0), open (refCount > 0 with a pending group),
// and canceled-but-open (refCount > 0, no pending group). A Manager is not
// safe for concurrent use.
type Manager struct {
	undoStack []*Group
	redoStack []*Group

	// Transaction state
	pending  *Group
	refCount int
	canceled bool
	wasClean bool

	// clean is the undo stack top at the last SetClean; nil means empty.
	// It is lostClean once trimming dropped that state.
	clean *Group

	replaying int

	// Configuration
	maxEntries int
	logger     *slog.Logger
	notifier   *notify.Notifier
	now        func() time.Time
}

// lostClean marks a clean state that can no longer be reached by undo
var lostClean = &Group{description: "lost clean state"}

// Option configures a Manager
type Option func(*Manager)

// WithMaxEntries bounds the undo stack; the oldest groups are dropped first.
// Zero or negative means unbounded.
func WithMaxEntries(n int) Option {
	return func(m *Manager) {
		m.maxEntries = n
	}
}

// WithLogger sets the logger used for debug output
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithNotifier publishes ModifiedChanged events to n
func WithNotifier(n *notify.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithClock sets the time source for commit timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates an idle manager with empty stacks
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartTransaction opens a transaction, or nests into the open one
func (m *Manager) StartTransaction(text string) {
	if m.refCount == 0 {
		m.pending = NewGroup(text)
		m.canceled = false
		m.wasClean = m.IsClean()
	}
	m.refCount++
}

// AddUndoItem routes item to the pending group. While idle it runs in its
// own single-shot transaction; while canceled it is discarded.
func (m *Manager) AddUndoItem(item Item) {
	if m.refCount == 0 {
		m.StartTransaction(item.Description())
		defer m.CommitTransaction()
	}
	if m.canceled {
		return
	}
	m.pending.AddUndoItem(item)
}

// AddRedoItem is the redo side counterpart of AddUndoItem
func (m *Manager) AddRedoItem(item Item) {
	if m.refCount == 0 {
		m.StartTransaction(item.Description())
		defer m.CommitTransaction()
	}
	if m.canceled {
		return
	}
	m.pending.AddRedoItem(item)
}

// CancelTransaction reverts everything recorded in the open transaction and
// discards the pending group. The transaction stays open until the matching
// CommitTransaction. Canceling an already canceled transaction does nothing.
func (m *Manager) CancelTransaction() error {
	if m.refCount == 0 {
		panic("history: CancelTransaction without an open transaction")
	}
	if m.canceled {
		return nil
	}
	g := m.pending
	m.pending = nil
	m.canceled = true

	m.logger.Debug("transaction canceled",
		"description", g.Description(),
		"undo_items", len(g.undoItems))

	if err := m.replay(g.Undo); err != nil {
		return fmt.Errorf("failed to revert canceled transaction: %w", err)
	}
	return nil
}

// CommitTransaction closes one level of the open transaction. The outermost
// commit pushes a non-empty pending group and discards the redo stack.
func (m *Manager) CommitTransaction() {
	if m.refCount == 0 {
		panic("history: CommitTransaction without an open transaction")
	}
	m.refCount--
	if m.refCount > 0 {
		return
	}

	if m.canceled {
		m.canceled = false
		return
	}

	g := m.pending
	m.pending = nil
	if g.IsEmpty() {
		return
	}

	m.redoStack = nil
	g.committedAt = m.now()
	m.undoStack = append(m.undoStack, g)
	m.trim()

	m.logger.Debug("transaction committed",
		"description", g.Description(),
		"undo_items", len(g.undoItems),
		"redo_items", len(g.redoItems),
		"undo_depth", len(m.undoStack))

	if m.wasClean && !m.IsClean() {
		m.publishModified()
	}
}

// Undo reverts the top undo group and moves it to the redo stack. If
// applying fails the group stays where it was.
func (m *Manager) Undo() error {
	m.requireIdle("Undo")
	if len(m.undoStack) == 0 {
		return ErrNothingToUndo
	}
	wasClean := m.IsClean()

	g := m.undoStack[len(m.undoStack)-1]
	if err := m.replay(g.Undo); err != nil {
		return err
	}
	m.undoStack = m.undoStack[:len(m.undoStack)-1]
	m.redoStack = append(m.redoStack, g)

	m.logger.Debug("undo", "description", g.Description(), "undo_depth", len(m.undoStack))
	m.publishIfChanged(wasClean)
	return nil
}

// Redo re-applies the top redo group and moves it back to the undo stack
func (m *Manager) Redo() error {
	m.requireIdle("Redo")
	if len(m.redoStack) == 0 {
		return ErrNothingToRedo
	}
	wasClean := m.IsClean()

	g := m.redoStack[len(m.redoStack)-1]
	if err := m.replay(g.Redo); err != nil {
		return err
	}
	m.redoStack = m.redoStack[:len(m.redoStack)-1]
	m.undoStack = append(m.undoStack, g)

	m.logger.Debug("redo", "description", g.Description(), "undo_depth", len(m.undoStack))
	m.publishIfChanged(wasClean)
	return nil
}

// SetClean marks the current undo stack top as the unmodified state
func (m *Manager) SetClean() {
	wasClean := m.IsClean()
	m.clean = m.top()
	m.publishIfChanged(wasClean)
}

// IsClean reports whether the undo stack top is the clean marker
func (m *Manager) IsClean() bool {
	return m.top() == m.clean
}

// Replaying reports whether items are currently being applied by Undo,
// Redo or CancelTransaction. Recording must be suppressed while true.
func (m *Manager) Replaying() bool {
	return m.replaying > 0
}

// InTransaction reports whether a transaction is open (canceled or not)
func (m *Manager) InTransaction() bool {
	return m.refCount > 0
}

// Canceled reports whether the open transaction was canceled
func (m *Manager) Canceled() bool {
	return m.canceled
}

// CanUndo returns true if undo is available
func (m *Manager) CanUndo() bool {
	return len(m.undoStack) > 0
}

// CanRedo returns true if redo is available
func (m *Manager) CanRedo() bool {
	return len(m.redoStack) > 0
}

// UndoCount returns the number of undo groups
func (m *Manager) UndoCount() int {
	return len(m.undoStack)
}

// RedoCount returns the number of redo groups
func (m *Manager) RedoCount() int {
	return len(m.redoStack)
}

// Top returns the group on top of the undo stack, or nil
func (m *Manager) Top() *Group {
	return m.top()
}

// Clear drops both stacks and the clean marker, leaving a clean empty log
func (m *Manager) Clear() {
	m.requireIdle("Clear")
	wasClean := m.IsClean()
	m.undoStack = nil
	m.redoStack = nil
	m.clean = nil
	m.publishIfChanged(wasClean)
}

// Each visits every item on both stacks, undo side first
func (m *Manager) Each(fn func(item Item)) {
	for _, stack := range [][]*Group{m.undoStack, m.redoStack} {
		for _, g := range stack {
			for _, item := range g.undoItems {
				fn(item)
			}
			for _, item := range g.redoItems {
				fn(item)
			}
		}
	}
}

// Records returns the persisted form of both stacks, bottom first
func (m *Manager) Records() (undo, redo []GroupRecord, err error) {
	undo, err = records(m.undoStack)
	if err != nil {
		return nil, nil, err
	}
	redo, err = records(m.redoStack)
	if err != nil {
		return nil, nil, err
	}
	return undo, redo, nil
}

func records(stack []*Group) ([]GroupRecord, error) {
	out := make([]GroupRecord, 0, len(stack))
	for _, g := range stack {
		rec, err := g.Record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Stacks holds decoded history that has not been installed yet
type Stacks struct {
	undo []*Group
	redo []*Group
}

// Decode rebuilds both stacks from their records without touching the
// manager
func Decode(undo, redo []GroupRecord, f *Factory) (Stacks, error) {
	undoStack, err := loadStack(undo, f)
	if err != nil {
		return Stacks{}, fmt.Errorf("failed to load undo history: %w", err)
	}
	redoStack, err := loadStack(redo, f)
	if err != nil {
		return Stacks{}, fmt.Errorf("failed to load redo history: %w", err)
	}
	return Stacks{undo: undoStack, redo: redoStack}, nil
}

// Load replaces both stacks with decoded records and marks the result clean.
// Items are not applied. On error the manager is left unchanged.
func (m *Manager) Load(undo, redo []GroupRecord, f *Factory) error {
	m.requireIdle("Load")
	s, err := Decode(undo, redo, f)
	if err != nil {
		return err
	}
	m.Restore(s)
	return nil
}

// Restore installs stacks produced by Decode and marks the result clean
func (m *Manager) Restore(s Stacks) {
	m.requireIdle("Restore")

	wasClean := m.IsClean()
	m.undoStack = s.undo
	m.redoStack = s.redo
	m.clean = m.top()

	m.logger.Debug("history loaded", "undo_depth", len(s.undo), "redo_depth", len(s.redo))
	m.publishIfChanged(wasClean)
}

func loadStack(recs []GroupRecord, f *Factory) ([]*Group, error) {
	stack := make([]*Group, 0, len(recs))
	for i, rec := range recs {
		g, err := LoadGroup(rec, f)
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
		if g.IsEmpty() {
			return nil, fmt.Errorf("group %d (%q) has no undo items", i, rec.Text)
		}
		stack = append(stack, g)
	}
	return stack, nil
}

func (m *Manager) top() *Group {
	if len(m.undoStack) == 0 {
		return nil
	}
	return m.undoStack[len(m.undoStack)-1]
}

func (m *Manager) trim() {
	if m.maxEntries <= 0 || len(m.undoStack) <= m.maxEntries {
		return
	}
	excess := len(m.undoStack) - m.maxEntries
	if m.clean == nil || slices.Contains(m.undoStack[:excess], m.clean) {
		m.clean = lostClean
	}
	m.undoStack = m.undoStack[excess:]
}

func (m *Manager) replay(fn func() error) error {
	m.replaying++
	defer func() { m.replaying-- }()
	return fn()
}

func (m *Manager) requireIdle(op string) {
	if m.refCount > 0 {
		panic(fmt.Sprintf("history: %s inside an open transaction", op))
	}
}

func (m *Manager) publishIfChanged(wasClean bool) {
	if wasClean != m.IsClean() {
		m.publishModified()
	}
}

func (m *Manager) publishModified() {
	m.notifier.Publish(notify.Event{
		Kind:     notify.ModifiedChanged,
		Modified: !m.IsClean(),
	})
}
