package testutil

import (
	"fmt"
	"testing"

	"github.com/arthur-debert/diagstore/diagstore/document"
	"github.com/arthur-debert/diagstore/diagstore/notify"
	"github.com/google/go-cmp/cmp"
)

// State captures every entity of doc as "kind state" keyed by entity number
func State(doc *document.Document) map[int]string {
	state := make(map[int]string, doc.Len())
	for _, id := range doc.IDs() {
		e, _ := doc.Entity(id)
		state[id.N] = fmt.Sprintf("%s %s", e.Kind(), e.Save())
	}
	return state
}

// AssertState fails the test when doc does not hold exactly want
func AssertState(t *testing.T, doc *document.Document, want map[int]string, context ...string) {
	t.Helper()
	if diff := cmp.Diff(want, State(doc)); diff != "" {
		ctx := ""
		if len(context) > 0 {
			ctx = " " + context[0]
		}
		t.Errorf("document state mismatch%s (-want +got):\n%s", ctx, diff)
	}
}

// AssertDepth checks the sizes of both history stacks
func AssertDepth(t *testing.T, doc *document.Document, undo, redo int) {
	t.Helper()
	h := doc.History()
	if h.UndoCount() != undo || h.RedoCount() != redo {
		t.Errorf("expected %d undo and %d redo groups, got %d and %d", undo, redo, h.UndoCount(), h.RedoCount())
	}
}

// EventLog collects notifications in delivery order
type EventLog struct {
	Events []notify.Event
	sub    *notify.Subscription
}

// RecordEvents subscribes to n for the rest of the test. With no kinds every
// event is recorded.
func RecordEvents(t testing.TB, n *notify.Notifier, kinds ...notify.Kind) *EventLog {
	t.Helper()
	log := &EventLog{}
	log.sub = n.SubscribeKind(func(ev notify.Event) {
		log.Events = append(log.Events, ev)
	}, kinds...)
	t.Cleanup(log.sub.Unsubscribe)
	return log
}

// Kinds returns the kinds of the recorded events
func (l *EventLog) Kinds() []notify.Kind {
	kinds := make([]notify.Kind, len(l.Events))
	for i, ev := range l.Events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// Reset forgets the recorded events
func (l *EventLog) Reset() {
	l.Events = nil
}
