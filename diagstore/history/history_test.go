package history

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/arthur-debert/diagstore/diagstore/notify"
	"github.com/google/go-cmp/cmp"
)

// cells is a tiny document: named integer cells
type cells struct {
	values  map[string]int
	applied []string
	failOn  string
	manager *Manager
	sawBusy bool
}

func newCells() *cells {
	return &cells{values: make(map[string]int)}
}

// setItem is a snapshot "cell = value"
type setItem struct {
	doc   *cells
	key   string
	value int
	class MergeClass
}

type setPayload struct {
	Key   string `json:"key"`
	Value int    `json:"value"`
}

func (c *cells) set(key string, value int) *setItem {
	return &setItem{doc: c, key: key, value: value, class: ClassEntityChange}
}

func (s *setItem) Type() string           { return "cell-set" }
func (s *setItem) Description() string    { return "Set " + s.key }
func (s *setItem) MergeClass() MergeClass { return s.class }

func (s *setItem) MergeWith(other Item) bool {
	CheckMergeClass(s, other)
	o := other.(*setItem)
	return o.key == s.key
}

func (s *setItem) Apply() error {
	if s.doc.failOn == s.key {
		return errors.New("apply failed")
	}
	if s.doc.manager != nil && s.doc.manager.Replaying() {
		s.doc.sawBusy = true
	}
	s.doc.values[s.key] = s.value
	s.doc.applied = append(s.doc.applied, s.key)
	return nil
}

func (s *setItem) Payload() (json.RawMessage, error) {
	return json.Marshal(setPayload{Key: s.key, Value: s.value})
}

func (c *cells) factory() *Factory {
	f := NewFactory()
	f.Register("cell-set", func(text string, data json.RawMessage) (Item, error) {
		var p setPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return c.set(p.Key, p.Value), nil
	})
	return f
}

// change records a change of key from its current value to value, nesting
// into the open transaction if there is one
func (c *cells) change(m *Manager, key string, value int) {
	m.StartTransaction("set " + key)
	defer m.CommitTransaction()
	m.AddUndoItem(c.set(key, c.values[key]))
	c.values[key] = value
	m.AddRedoItem(c.set(key, value))
}

func TestGroupMerging(t *testing.T) {
	t.Run("undo keeps earliest, redo keeps latest", func(t *testing.T) {
		c := newCells()
		g := NewGroup("move")
		for i := 1; i <= 3; i++ {
			g.AddUndoItem(c.set("a", i-1))
			g.AddRedoItem(c.set("a", i))
		}

		undo, redo := g.UndoItems(), g.RedoItems()
		if len(undo) != 1 || len(redo) != 1 {
			t.Fatalf("expected 1 undo and 1 redo item, got %d and %d", len(undo), len(redo))
		}
		if v := undo[0].(*setItem).value; v != 0 {
			t.Errorf("expected undo snapshot 0 (before first change), got %d", v)
		}
		if v := redo[0].(*setItem).value; v != 3 {
			t.Errorf("expected redo snapshot 3 (after last change), got %d", v)
		}
	})

	t.Run("only adjacent items of the same key merge", func(t *testing.T) {
		c := newCells()
		g := NewGroup("edit")
		g.AddUndoItem(c.set("a", 0))
		g.AddUndoItem(c.set("b", 0))
		g.AddUndoItem(c.set("a", 1))
		if len(g.UndoItems()) != 3 {
			t.Errorf("expected 3 undo items, got %d", len(g.UndoItems()))
		}
	})

	t.Run("different classes never merge", func(t *testing.T) {
		c := newCells()
		g := NewGroup("edit")
		first := c.set("a", 0)
		second := c.set("a", 1)
		second.class = ClassNodeSetPos
		g.AddRedoItem(first)
		g.AddRedoItem(second)
		if len(g.RedoItems()) != 2 {
			t.Errorf("expected 2 redo items, got %d", len(g.RedoItems()))
		}
	})

	t.Run("NoMerge items never merge", func(t *testing.T) {
		c := newCells()
		g := NewGroup("edit")
		a, b := c.set("a", 0), c.set("a", 1)
		a.class, b.class = NoMerge, NoMerge
		g.AddUndoItem(a)
		g.AddUndoItem(b)
		if len(g.UndoItems()) != 2 {
			t.Errorf("expected 2 undo items, got %d", len(g.UndoItems()))
		}
	})

	t.Run("merge across classes panics", func(t *testing.T) {
		c := newCells()
		a, b := c.set("a", 0), c.set("a", 1)
		b.class = ClassNodeSetText
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		a.MergeWith(b)
	})

	t.Run("undo runs backwards, redo forwards", func(t *testing.T) {
		c := newCells()
		g := NewGroup("edit")
		g.AddUndoItem(c.set("a", 0))
		g.AddUndoItem(c.set("b", 0))
		g.AddRedoItem(c.set("a", 1))
		g.AddRedoItem(c.set("b", 1))

		if err := g.Undo(); err != nil {
			t.Fatalf("Undo failed: %v", err)
		}
		if err := g.Redo(); err != nil {
			t.Fatalf("Redo failed: %v", err)
		}
		if diff := cmp.Diff([]string{"b", "a", "a", "b"}, c.applied); diff != "" {
			t.Errorf("apply order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("empty means no undo items", func(t *testing.T) {
		c := newCells()
		g := NewGroup("edit")
		if !g.IsEmpty() {
			t.Error("expected new group to be empty")
		}
		g.AddRedoItem(c.set("a", 1))
		if !g.IsEmpty() {
			t.Error("a group with only redo items is empty")
		}
		g.AddUndoItem(c.set("a", 0))
		if g.IsEmpty() {
			t.Error("expected group with undo item to be non-empty")
		}
	})
}

func TestManagerTransactions(t *testing.T) {
	t.Run("commit pushes one group and clears redo", func(t *testing.T) {
		c := newCells()
		m := NewManager()

		m.StartTransaction("one")
		c.change(m, "a", 1)
		m.CommitTransaction()

		if err := m.Undo(); err != nil {
			t.Fatalf("Undo failed: %v", err)
		}
		if m.RedoCount() != 1 {
			t.Fatalf("expected 1 redo group, got %d", m.RedoCount())
		}

		m.StartTransaction("two")
		c.change(m, "b", 1)
		m.CommitTransaction()

		if m.UndoCount() != 1 || m.RedoCount() != 0 {
			t.Errorf("expected 1 undo and 0 redo groups, got %d and %d", m.UndoCount(), m.RedoCount())
		}
	})

	t.Run("nested transactions share one group", func(t *testing.T) {
		c := newCells()
		m := NewManager()

		m.StartTransaction("outer")
		c.change(m, "a", 1)
		m.StartTransaction("inner")
		c.change(m, "b", 1)
		m.CommitTransaction()
		if m.UndoCount() != 0 {
			t.Fatal("inner commit must not push")
		}
		m.CommitTransaction()

		if m.UndoCount() != 1 {
			t.Fatalf("expected 1 group, got %d", m.UndoCount())
		}
		if top := m.Top(); top.Description() != "outer" || len(top.UndoItems()) != 2 {
			t.Errorf("unexpected group %q with %d items", top.Description(), len(top.UndoItems()))
		}
	})

	t.Run("idle add opens a single-shot transaction", func(t *testing.T) {
		c := newCells()
		m := NewManager()
		m.AddUndoItem(c.set("a", 0))
		if m.InTransaction() {
			t.Error("expected idle manager after single-shot add")
		}
		if m.UndoCount() != 1 {
			t.Errorf("expected 1 group, got %d", m.UndoCount())
		}
		if top := m.Top(); top.Description() != "Set a" {
			t.Errorf("expected description from item, got %q", top.Description())
		}
	})

	t.Run("empty transaction is elided", func(t *testing.T) {
		m := NewManager()
		m.StartTransaction("nothing")
		m.CommitTransaction()
		if m.UndoCount() != 0 {
			t.Errorf("expected no groups, got %d", m.UndoCount())
		}
		if !m.IsClean() {
			t.Error("empty transaction must not dirty the log")
		}
	})

	t.Run("cancel reverts and discards", func(t *testing.T) {
		c := newCells()
		c.values["a"] = 5
		m := NewManager()
		c.manager = m

		m.StartTransaction("edit")
		c.change(m, "a", 6)
		c.change(m, "a", 7)
		if err := m.CancelTransaction(); err != nil {
			t.Fatalf("CancelTransaction failed: %v", err)
		}
		if c.values["a"] != 5 {
			t.Errorf("expected a reverted to 5, got %d", c.values["a"])
		}
		if !c.sawBusy {
			t.Error("expected Replaying() during cancel")
		}

		// Still open: further items are dropped
		if !m.InTransaction() || !m.Canceled() {
			t.Fatal("expected canceled-but-open transaction")
		}
		c.change(m, "b", 1)
		if err := m.CancelTransaction(); err != nil {
			t.Errorf("second cancel should be a no-op, got %v", err)
		}
		m.CommitTransaction()

		if m.InTransaction() || m.Canceled() {
			t.Error("expected idle manager after commit")
		}
		if m.UndoCount() != 0 {
			t.Errorf("expected no groups, got %d", m.UndoCount())
		}
	})

	t.Run("nested cancel needs every commit", func(t *testing.T) {
		c := newCells()
		m := NewManager()
		m.StartTransaction("outer")
		m.StartTransaction("inner")
		c.change(m, "a", 1)
		_ = m.CancelTransaction()
		m.StartTransaction("deeper")
		m.CommitTransaction()
		m.CommitTransaction()
		if !m.InTransaction() {
			t.Fatal("expected transaction still open")
		}
		m.CommitTransaction()
		if m.InTransaction() || m.UndoCount() != 0 {
			t.Errorf("expected idle empty manager, open=%v groups=%d", m.InTransaction(), m.UndoCount())
		}

		// A fresh transaction after a canceled one records normally
		m.StartTransaction("fresh")
		c.change(m, "a", 2)
		m.CommitTransaction()
		if m.UndoCount() != 1 {
			t.Errorf("expected 1 group, got %d", m.UndoCount())
		}
	})

	t.Run("invariant violations panic", func(t *testing.T) {
		tests := map[string]func(m *Manager){
			"commit while idle": func(m *Manager) { m.CommitTransaction() },
			"cancel while idle": func(m *Manager) { _ = m.CancelTransaction() },
			"undo in transaction": func(m *Manager) {
				m.StartTransaction("x")
				_ = m.Undo()
			},
			"redo in transaction": func(m *Manager) {
				m.StartTransaction("x")
				_ = m.Redo()
			},
		}
		for name, fn := range tests {
			t.Run(name, func(t *testing.T) {
				defer func() {
					if recover() == nil {
						t.Error("expected panic")
					}
				}()
				fn(NewManager())
			})
		}
	})
}

func TestManagerUndoRedo(t *testing.T) {
	t.Run("empty stacks", func(t *testing.T) {
		m := NewManager()
		if err := m.Undo(); !errors.Is(err, ErrNothingToUndo) {
			t.Errorf("expected ErrNothingToUndo, got %v", err)
		}
		if err := m.Redo(); !errors.Is(err, ErrNothingToRedo) {
			t.Errorf("expected ErrNothingToRedo, got %v", err)
		}
	})

	t.Run("coalesced transaction undoes and redoes whole", func(t *testing.T) {
		c := newCells()
		m := NewManager()
		c.manager = m

		m.StartTransaction("move")
		c.change(m, "a", 1)
		c.change(m, "a", 2)
		c.change(m, "a", 3)
		m.CommitTransaction()

		if err := m.Undo(); err != nil {
			t.Fatalf("Undo failed: %v", err)
		}
		if c.values["a"] != 0 {
			t.Errorf("expected 0 after undo, got %d", c.values["a"])
		}
		if err := m.Redo(); err != nil {
			t.Fatalf("Redo failed: %v", err)
		}
		if c.values["a"] != 3 {
			t.Errorf("expected 3 after redo, got %d", c.values["a"])
		}
		if m.Replaying() {
			t.Error("replaying must be reset")
		}
	})

	t.Run("failed apply keeps the group", func(t *testing.T) {
		c := newCells()
		m := NewManager()
		c.change(m, "a", 1)
		c.failOn = "a"

		if err := m.Undo(); err == nil {
			t.Fatal("expected error")
		}
		if m.UndoCount() != 1 || m.RedoCount() != 0 {
			t.Errorf("expected group to stay on undo stack, got %d/%d", m.UndoCount(), m.RedoCount())
		}
	})

	t.Run("max entries drops oldest", func(t *testing.T) {
		c := newCells()
		m := NewManager(WithMaxEntries(2))
		for i := 1; i <= 4; i++ {
			c.change(m, "a", i)
		}
		if m.UndoCount() != 2 {
			t.Fatalf("expected 2 groups, got %d", m.UndoCount())
		}
		for range 2 {
			if err := m.Undo(); err != nil {
				t.Fatalf("Undo failed: %v", err)
			}
		}
		if c.values["a"] != 2 {
			t.Errorf("expected a=2 after undoing two of four, got %d", c.values["a"])
		}
		if m.IsClean() {
			t.Error("state before the kept groups must not be clean")
		}
	})

	t.Run("trimming the clean state", func(t *testing.T) {
		c := newCells()
		m := NewManager(WithMaxEntries(1))
		c.change(m, "a", 1)
		c.change(m, "a", 2)
		if err := m.Undo(); err != nil {
			t.Fatalf("Undo failed: %v", err)
		}
		if m.CanUndo() || m.IsClean() {
			t.Errorf("expected empty undo stack and modified state, clean=%v", m.IsClean())
		}
		if err := m.Redo(); err != nil {
			t.Fatalf("Redo failed: %v", err)
		}
		if m.IsClean() {
			t.Error("trimmed clean state must stay unreachable")
		}

		m.SetClean()
		if !m.IsClean() {
			t.Error("SetClean must make the state reachable again")
		}
	})

	t.Run("trimming keeps a later clean group", func(t *testing.T) {
		c := newCells()
		m := NewManager(WithMaxEntries(2))
		c.change(m, "a", 1)
		c.change(m, "a", 2)
		m.SetClean()
		c.change(m, "a", 3)
		if err := m.Undo(); err != nil {
			t.Fatalf("Undo failed: %v", err)
		}
		if !m.IsClean() {
			t.Error("clean group survived trimming and must still match")
		}
	})

	t.Run("info", func(t *testing.T) {
		c := newCells()
		at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		m := NewManager(WithClock(func() time.Time { return at }))
		if _, ok := m.PeekUndo(); ok {
			t.Error("expected nothing to peek")
		}
		m.StartTransaction("first")
		c.change(m, "a", 1)
		m.CommitTransaction()
		m.StartTransaction("second")
		c.change(m, "b", 1)
		c.change(m, "c", 1)
		m.CommitTransaction()
		_ = m.Undo()

		want := []GroupInfo{{Description: "first", CommittedAt: at, UndoItems: 1, RedoItems: 1}}
		if diff := cmp.Diff(want, m.UndoInfo()); diff != "" {
			t.Errorf("undo info mismatch (-want +got):\n%s", diff)
		}
		peek, ok := m.PeekRedo()
		if !ok || peek.Description != "second" || peek.UndoItems != 2 {
			t.Errorf("unexpected redo peek: %+v", peek)
		}
		if len(m.RedoInfo()) != 1 {
			t.Errorf("expected 1 redo group, got %d", len(m.RedoInfo()))
		}
	})
}

func TestManagerClean(t *testing.T) {
	c := newCells()
	n := notify.New()
	var events []bool
	n.SubscribeKind(func(ev notify.Event) { events = append(events, ev.Modified) }, notify.ModifiedChanged)
	m := NewManager(WithNotifier(n))

	if !m.IsClean() {
		t.Fatal("new manager must be clean")
	}

	c.change(m, "a", 1)
	if m.IsClean() {
		t.Error("expected dirty after commit")
	}

	m.SetClean()
	if !m.IsClean() {
		t.Error("expected clean after SetClean")
	}

	_ = m.Undo()
	if m.IsClean() {
		t.Error("expected dirty after undo past clean marker")
	}

	_ = m.Redo()
	if !m.IsClean() {
		t.Error("expected clean after redo back to marker")
	}

	m.Clear()
	if !m.IsClean() {
		t.Error("expected clean after Clear")
	}

	want := []bool{true, false, true, false}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("modified events mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerPersistence(t *testing.T) {
	t.Run("records round trip", func(t *testing.T) {
		c := newCells()
		m := NewManager()
		m.StartTransaction("first")
		c.change(m, "a", 1)
		c.change(m, "a", 2)
		m.CommitTransaction()
		c.change(m, "b", 7)
		_ = m.Undo()

		undo, redo, err := m.Records()
		if err != nil {
			t.Fatalf("Records failed: %v", err)
		}
		if len(undo) != 1 || len(redo) != 1 {
			t.Fatalf("expected 1 undo and 1 redo record, got %d and %d", len(undo), len(redo))
		}
		if undo[0].Items[0].Type != "cell-set" || undo[0].Text != "first" {
			t.Errorf("unexpected record: %+v", undo[0])
		}

		loaded := NewManager()
		if err := loaded.Load(undo, redo, c.factory()); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if !loaded.IsClean() {
			t.Error("loaded history must be clean")
		}
		if loaded.UndoCount() != 1 || loaded.RedoCount() != 1 {
			t.Fatalf("expected 1/1 groups, got %d/%d", loaded.UndoCount(), loaded.RedoCount())
		}
		if len(c.applied) != 1 {
			t.Errorf("Load must not apply items, applied=%v", c.applied)
		}

		// History is usable immediately after a load
		if err := loaded.Redo(); err != nil {
			t.Fatalf("Redo after load failed: %v", err)
		}
		if c.values["b"] != 7 {
			t.Errorf("expected b=7, got %d", c.values["b"])
		}
		if err := loaded.Undo(); err != nil {
			t.Fatalf("Undo after load failed: %v", err)
		}
		if err := loaded.Undo(); err != nil {
			t.Fatalf("Undo after load failed: %v", err)
		}
		if c.values["a"] != 0 {
			t.Errorf("expected a=0, got %d", c.values["a"])
		}
	})

	t.Run("unknown type fails and leaves manager unchanged", func(t *testing.T) {
		c := newCells()
		m := NewManager()
		c.change(m, "a", 1)

		bad := []GroupRecord{{Text: "x", Items: []ItemRecord{{Type: "mystery", Data: json.RawMessage(`{}`)}}}}
		err := m.Load(bad, nil, c.factory())
		if !errors.Is(err, ErrUnknownItemType) {
			t.Errorf("expected ErrUnknownItemType, got %v", err)
		}
		if m.UndoCount() != 1 {
			t.Errorf("expected manager unchanged, got %d groups", m.UndoCount())
		}
	})

	t.Run("group without undo items is rejected", func(t *testing.T) {
		c := newCells()
		m := NewManager()
		err := m.Load([]GroupRecord{{Text: "empty"}}, nil, c.factory())
		if err == nil {
			t.Error("expected error for empty group")
		}
	})

	t.Run("each visits all items", func(t *testing.T) {
		c := newCells()
		m := NewManager()
		c.change(m, "a", 1)
		c.change(m, "b", 1)
		_ = m.Undo()
		count := 0
		m.Each(func(Item) { count++ })
		if count != 4 {
			t.Errorf("expected 4 items, got %d", count)
		}
	})
}

func TestFactory(t *testing.T) {
	c := newCells()
	f := c.factory()

	t.Run("duplicate registration panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		f.Register("cell-set", func(string, json.RawMessage) (Item, error) { return nil, nil })
	})

	t.Run("decode", func(t *testing.T) {
		rec, err := EncodeItem(c.set("a", 4))
		if err != nil {
			t.Fatalf("EncodeItem failed: %v", err)
		}
		item, err := f.Decode(rec)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if s := item.(*setItem); s.key != "a" || s.value != 4 {
			t.Errorf("unexpected item %+v", s)
		}
		if _, err := f.Decode(ItemRecord{Type: "cell-set", Data: json.RawMessage(`[`)}); err == nil {
			t.Error("expected error for malformed payload")
		}
	})

	if diff := cmp.Diff([]string{"cell-set"}, f.Types()); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}
}
