package testutil

import (
	_ "embed"
	"testing"
	"time"

	"github.com/arthur-debert/diagstore/diagstore/document"
	"github.com/arthur-debert/diagstore/diagstore/entity"
)

//go:embed testdata/diagram.json
var diagramJSON []byte

// DiagramJSON returns the raw fixture file
func DiagramJSON() []byte {
	return append([]byte(nil), diagramJSON...)
}

// Diagram names the entities of the fixture document
type Diagram struct {
	Style entity.ID // 0: style "default"
	Start entity.ID // 1: node "Start" at 0,0
	End   entity.ID // 2: node "End" at 100,0
	Link  entity.ID // 3: edge Start -> End
	Halo  entity.ID // 4: ellipse at 50,50
	Route entity.ID // 5: path from Start to End
}

// Epoch is the time returned by FixedClock
var Epoch = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// FixedClock returns a clock that always reports Epoch
func FixedClock() func() time.Time {
	return func() time.Time { return Epoch }
}

// NewDocument returns an empty document on a fixed clock
func NewDocument(t testing.TB, opts ...document.Option) *document.Document {
	t.Helper()
	return document.New(append([]document.Option{document.WithClock(FixedClock())}, opts...)...)
}

// LoadDiagram returns a clean document loaded from the fixture file, with
// an empty history
func LoadDiagram(t testing.TB, opts ...document.Option) (*document.Document, *Diagram) {
	t.Helper()

	doc := NewDocument(t, opts...)
	if err := doc.Unmarshal(diagramJSON); err != nil {
		t.Fatalf("failed to load fixture: %v", err)
	}

	id := func(n int) entity.ID { return entity.NewID(n, doc.UUID()) }
	return doc, &Diagram{
		Style: id(0),
		Start: id(1),
		End:   id(2),
		Link:  id(3),
		Halo:  id(4),
		Route: id(5),
	}
}
