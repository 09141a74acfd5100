package notify

import (
	"testing"

	"github.com/arthur-debert/diagstore/diagstore/entity"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestNotifier(t *testing.T) {
	t.Run("delivers in subscription order", func(t *testing.T) {
		n := New()
		var got []string
		n.Subscribe(func(ev Event) { got = append(got, "a:"+ev.Kind.String()) })
		n.Subscribe(func(ev Event) { got = append(got, "b:"+ev.Kind.String()) })

		n.Publish(Event{Kind: DocumentChanged})

		want := []string{"a:document-changed", "b:document-changed"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("delivery mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("filters by kind", func(t *testing.T) {
		n := New()
		var got []Event
		n.SubscribeKind(func(ev Event) { got = append(got, ev) }, EntityCreated, AboutToDeleteEntity)

		id := entity.NewID(3, uuid.New())
		n.Publish(Event{Kind: EntityCreated, ID: id})
		n.Publish(Event{Kind: EntityChanged, ID: id})
		n.Publish(Event{Kind: AboutToDeleteEntity, ID: id})

		if len(got) != 2 {
			t.Fatalf("expected 2 events, got %d", len(got))
		}
		if got[0].Kind != EntityCreated || got[1].Kind != AboutToDeleteEntity {
			t.Errorf("unexpected kinds: %v, %v", got[0].Kind, got[1].Kind)
		}
		if got[0].ID != id {
			t.Errorf("expected id %v, got %v", id, got[0].ID)
		}
	})

	t.Run("unsubscribe", func(t *testing.T) {
		n := New()
		count := 0
		sub := n.Subscribe(func(Event) { count++ })
		n.Publish(Event{Kind: AboutToClear})
		sub.Unsubscribe()
		sub.Unsubscribe()
		n.Publish(Event{Kind: AboutToClear})

		if count != 1 {
			t.Errorf("expected 1 delivery, got %d", count)
		}
		if n.Len() != 0 {
			t.Errorf("expected no subscriptions, got %d", n.Len())
		}
	})

	t.Run("unsubscribe during delivery", func(t *testing.T) {
		n := New()
		var second int
		var first *Subscription
		first = n.Subscribe(func(Event) { first.Unsubscribe() })
		n.Subscribe(func(Event) { second++ })

		n.Publish(Event{Kind: DocumentChanged})
		n.Publish(Event{Kind: DocumentChanged})

		if second != 2 {
			t.Errorf("expected second observer to see both events, got %d", second)
		}
	})

	t.Run("nil notifier is a no-op", func(t *testing.T) {
		var n *Notifier
		n.Publish(Event{Kind: DocumentChanged})
	})
}
