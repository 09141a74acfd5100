// Package notify delivers registry events to observers.
//
// Delivery is synchronous: Publish calls every matching observer, in
// subscription order, before it returns. A Notifier is owned by a single
// document and, like the document, is not safe for concurrent use.
package notify

import (
	"github.com/arthur-debert/diagstore/diagstore/entity"
)

// Kind identifies the type of an event
type Kind int

const (
	// EntityCreated fires after an entity was inserted into the registry
	EntityCreated Kind = iota

	// AboutToDeleteEntity fires while the entity is still in the registry
	AboutToDeleteEntity

	// EntityChanged fires when an entity's outermost batch closes
	EntityChanged

	// DocumentChanged fires once per outermost document batch
	DocumentChanged

	// ModifiedChanged fires when the clean/modified state flips
	ModifiedChanged

	// AboutToClear fires before the whole registry is emptied
	AboutToClear
)

// String returns the event kind name
func (k Kind) String() string {
	switch k {
	case EntityCreated:
		return "entity-created"
	case AboutToDeleteEntity:
		return "about-to-delete-entity"
	case EntityChanged:
		return "entity-changed"
	case DocumentChanged:
		return "document-changed"
	case ModifiedChanged:
		return "modified-changed"
	case AboutToClear:
		return "about-to-clear"
	default:
		return "unknown"
	}
}

// Event is a single notification
type Event struct {
	Kind Kind

	// ID is set for entity events
	ID entity.ID

	// Modified is set for ModifiedChanged events
	Modified bool
}

// Observer is called for each delivered event
type Observer func(ev Event)

// Subscription represents an active observer registration
type Subscription struct {
	id       uint64
	kinds    []Kind
	observer Observer
	notifier *Notifier
}

// Unsubscribe removes this subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.notifier != nil {
		s.notifier.unsubscribe(s.id)
		s.notifier = nil
	}
}

func (s *Subscription) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	for _, want := range s.kinds {
		if want == k {
			return true
		}
	}
	return false
}

// Notifier manages subscriptions
type Notifier struct {
	subs   []*Subscription
	nextID uint64
}

// New creates an empty Notifier
func New() *Notifier {
	return &Notifier{}
}

// Subscribe registers an observer for every event
func (n *Notifier) Subscribe(observer Observer) *Subscription {
	return n.SubscribeKind(observer)
}

// SubscribeKind registers an observer for the listed kinds only. With no
// kinds it behaves like Subscribe.
func (n *Notifier) SubscribeKind(observer Observer, kinds ...Kind) *Subscription {
	sub := &Subscription{
		id:       n.nextID,
		kinds:    kinds,
		observer: observer,
		notifier: n,
	}
	n.nextID++
	n.subs = append(n.subs, sub)
	return sub
}

// Publish delivers ev to every matching observer
func (n *Notifier) Publish(ev Event) {
	if n == nil {
		return
	}
	// Observers may unsubscribe while we deliver
	subs := make([]*Subscription, len(n.subs))
	copy(subs, n.subs)
	for _, sub := range subs {
		if sub.notifier == nil || !sub.wants(ev.Kind) {
			continue
		}
		sub.observer(ev)
	}
}

// Len returns the number of active subscriptions
func (n *Notifier) Len() int {
	return len(n.subs)
}

func (n *Notifier) unsubscribe(id uint64) {
	for i, sub := range n.subs {
		if sub.id == id {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return
		}
	}
}
