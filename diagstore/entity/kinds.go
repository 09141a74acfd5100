package entity

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/arthur-debert/diagstore/types"
)

// Property names. They match the JSON keys of the saved state.
const (
	PropPos    = "pos"
	PropStyle  = "style"
	PropText   = "text"
	PropSource = "source"
	PropTarget = "target"
	PropRX     = "rx"
	PropRY     = "ry"
	PropPoints = "points"
	PropName   = "name"
	PropProps  = "props"
)

type nodeState struct {
	Pos   types.Pos `json:"pos"`
	Style string    `json:"style"`
	Text  string    `json:"text"`
}

// Node is a labelled diagram node
type Node struct {
	Base
	state nodeState
}

func (n *Node) Kind() types.Kind                             { return types.KindNode }
func (n *Node) Save() json.RawMessage                        { return saveState(n.state) }
func (n *Node) Load(data json.RawMessage) error              { return n.load(data, "") }
func (n *Node) load(data json.RawMessage, prop string) error { return loadState(&n.Base, &n.state, data, prop) }
func (n *Node) Pos() types.Pos                               { return n.state.Pos }
func (n *Node) Style() string                                { return n.state.Style }
func (n *Node) Text() string                                 { return n.state.Text }
func (n *Node) SetPos(p types.Pos)                           { n.change(PropPos, func() { n.state.Pos = p }) }
func (n *Node) SetStyle(style string)                        { n.change(PropStyle, func() { n.state.Style = style }) }
func (n *Node) SetText(text string)                          { n.change(PropText, func() { n.state.Text = text }) }

type edgeState struct {
	Source int       `json:"source"`
	Target int       `json:"target"`
	Pos    types.Pos `json:"pos"`
}

// Edge connects two nodes by entity number. Pos is the label/bend anchor.
type Edge struct {
	Base
	state edgeState
}

func (e *Edge) Kind() types.Kind                             { return types.KindEdge }
func (e *Edge) Save() json.RawMessage                        { return saveState(e.state) }
func (e *Edge) Load(data json.RawMessage) error              { return e.load(data, "") }
func (e *Edge) load(data json.RawMessage, prop string) error { return loadState(&e.Base, &e.state, data, prop) }
func (e *Edge) Source() int                                  { return e.state.Source }
func (e *Edge) Target() int                                  { return e.state.Target }
func (e *Edge) Pos() types.Pos                               { return e.state.Pos }
func (e *Edge) SetPos(p types.Pos)                           { e.change(PropPos, func() { e.state.Pos = p }) }

// Connect sets both endpoints in one batch
func (e *Edge) Connect(source, target ID) {
	g := e.Batch()
	defer g.End()
	e.touch(PropSource)
	e.touch(PropTarget)
	e.state.Source = source.N
	e.state.Target = target.N
}

type ellipseState struct {
	Pos types.Pos `json:"pos"`
	RX  float64   `json:"rx"`
	RY  float64   `json:"ry"`
}

// Ellipse is a free standing ellipse centred on Pos
type Ellipse struct {
	Base
	state ellipseState
}

func (e *Ellipse) Kind() types.Kind                             { return types.KindEllipse }
func (e *Ellipse) Save() json.RawMessage                        { return saveState(e.state) }
func (e *Ellipse) Load(data json.RawMessage) error              { return e.load(data, "") }
func (e *Ellipse) load(data json.RawMessage, prop string) error { return loadState(&e.Base, &e.state, data, prop) }
func (e *Ellipse) Pos() types.Pos                               { return e.state.Pos }
func (e *Ellipse) Radii() (float64, float64)                    { return e.state.RX, e.state.RY }
func (e *Ellipse) SetPos(p types.Pos)                           { e.change(PropPos, func() { e.state.Pos = p }) }

// SetRadii updates both radii in one batch
func (e *Ellipse) SetRadii(rx, ry float64) {
	g := e.Batch()
	defer g.End()
	e.touch(PropRX)
	e.touch(PropRY)
	e.state.RX = rx
	e.state.RY = ry
}

type pathState struct {
	Style  string      `json:"style"`
	Points []types.Pos `json:"points"`
}

// Path is a styled poly-line
type Path struct {
	Base
	state pathState
}

func (p *Path) Kind() types.Kind                             { return types.KindPath }
func (p *Path) Save() json.RawMessage                        { return saveState(p.state) }
func (p *Path) Load(data json.RawMessage) error              { return p.load(data, "") }
func (p *Path) load(data json.RawMessage, prop string) error { return loadState(&p.Base, &p.state, data, prop) }
func (p *Path) Style() string                                { return p.state.Style }
func (p *Path) Points() []types.Pos                          { return slices.Clone(p.state.Points) }
func (p *Path) SetStyle(style string)                        { p.change(PropStyle, func() { p.state.Style = style }) }

// SetPoints replaces the vertex list
func (p *Path) SetPoints(points []types.Pos) {
	p.change(PropPoints, func() { p.state.Points = slices.Clone(points) })
}

// AddPoint appends a vertex
func (p *Path) AddPoint(pt types.Pos) {
	p.change(PropPoints, func() { p.state.Points = append(p.state.Points, pt) })
}

type styleState struct {
	Name  string            `json:"name"`
	Props map[string]string `json:"props"`
}

// Style is a named set of drawing properties referenced by nodes and paths
type Style struct {
	Base
	state styleState
}

func (s *Style) Kind() types.Kind                             { return types.KindStyle }
func (s *Style) Save() json.RawMessage                        { return saveState(s.state) }
func (s *Style) Load(data json.RawMessage) error              { return s.load(data, "") }
func (s *Style) load(data json.RawMessage, prop string) error { return loadState(&s.Base, &s.state, data, prop) }
func (s *Style) Name() string                                 { return s.state.Name }
func (s *Style) Props() map[string]string                     { return maps.Clone(s.state.Props) }
func (s *Style) SetName(name string)                          { s.change(PropName, func() { s.state.Name = name }) }

// Set assigns a single drawing property. An empty value removes it.
func (s *Style) Set(key, value string) {
	s.change(PropProps, func() {
		if value == "" {
			delete(s.state.Props, key)
			return
		}
		if s.state.Props == nil {
			s.state.Props = make(map[string]string)
		}
		s.state.Props[key] = value
	})
}
