package document

import (
	"encoding/json"
	"fmt"

	"github.com/arthur-debert/diagstore/diagstore/entity"
	"github.com/arthur-debert/diagstore/diagstore/history"
	"github.com/arthur-debert/diagstore/types"
)

// Item type tags
const (
	TagEntityCreate = "entity-create"
	TagEntityDelete = "entity-delete"
	TagEntityChange = "entity-change"
	TagNodeCreate   = "node-create"
	TagNodeDelete   = "node-delete"
	TagPathCreate   = "path-create"
	TagPathDelete   = "path-delete"
)

// propertySpec binds a per-kind property tag to its merge class
type propertySpec struct {
	tag   string
	class history.MergeClass
	kind  types.Kind
	prop  string
}

var propertySpecs = []propertySpec{
	{"node-set-pos", history.ClassNodeSetPos, types.KindNode, entity.PropPos},
	{"node-set-style", history.ClassNodeSetStyle, types.KindNode, entity.PropStyle},
	{"node-set-text", history.ClassNodeSetText, types.KindNode, entity.PropText},
	{"edge-set-pos", history.ClassEdgeSetPos, types.KindEdge, entity.PropPos},
	{"ellipse-set-pos", history.ClassEllipseSetPos, types.KindEllipse, entity.PropPos},
	{"path-set-style", history.ClassPathSetStyle, types.KindPath, entity.PropStyle},
}

// specsFor returns the property specs covering every touched prop, or false
// when any of them has no per-kind tag
func specsFor(kind types.Kind, props []string) ([]propertySpec, bool) {
	if len(props) == 0 {
		return nil, false
	}
	specs := make([]propertySpec, 0, len(props))
	for _, prop := range props {
		found := false
		for _, spec := range propertySpecs {
			if spec.kind == kind && spec.prop == prop {
				specs = append(specs, spec)
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return specs, true
}

// referencer is implemented by items that name an entity number
type referencer interface {
	entityNumber() int
}

type createPayload struct {
	ID   int        `json:"id"`
	Type types.Kind `json:"type"`
}

// createItem re-creates an entity with default state at a fixed id
type createItem struct {
	doc  *Document
	tag  string
	text string
	id   int
	kind types.Kind
}

func (c *createItem) Type() string                   { return c.tag }
func (c *createItem) Description() string            { return c.text }
func (c *createItem) MergeClass() history.MergeClass { return history.NoMerge }
func (c *createItem) entityNumber() int              { return c.id }

func (c *createItem) MergeWith(other history.Item) bool {
	history.CheckMergeClass(c, other)
	return false
}

func (c *createItem) Apply() error {
	return c.doc.restore(c.kind, c.id)
}

func (c *createItem) Payload() (json.RawMessage, error) {
	return json.Marshal(createPayload{ID: c.id, Type: c.kind})
}

type deletePayload struct {
	ID int `json:"id"`
}

// deleteItem removes an entity
type deleteItem struct {
	doc  *Document
	tag  string
	text string
	id   int
}

func (c *deleteItem) Type() string                   { return c.tag }
func (c *deleteItem) Description() string            { return c.text }
func (c *deleteItem) MergeClass() history.MergeClass { return history.NoMerge }
func (c *deleteItem) entityNumber() int              { return c.id }

func (c *deleteItem) MergeWith(other history.Item) bool {
	history.CheckMergeClass(c, other)
	return false
}

func (c *deleteItem) Apply() error {
	e, err := c.doc.lookupN(c.id)
	if err != nil {
		return err
	}
	c.doc.remove(e)
	return nil
}

func (c *deleteItem) Payload() (json.RawMessage, error) {
	return json.Marshal(deletePayload{ID: c.id})
}

type changePayload struct {
	ID    int             `json:"id"`
	State json.RawMessage `json:"state"`
}

// changeItem holds a full entity state snapshot
type changeItem struct {
	doc   *Document
	text  string
	id    int
	state json.RawMessage
}

func (c *changeItem) Type() string                   { return TagEntityChange }
func (c *changeItem) Description() string            { return c.text }
func (c *changeItem) MergeClass() history.MergeClass { return history.ClassEntityChange }
func (c *changeItem) entityNumber() int              { return c.id }

// MergeWith accepts any change of the same entity. The payload is left as
// is; the group decides which snapshot survives.
func (c *changeItem) MergeWith(other history.Item) bool {
	history.CheckMergeClass(c, other)
	return other.(*changeItem).id == c.id
}

func (c *changeItem) Apply() error {
	e, err := c.doc.lookupN(c.id)
	if err != nil {
		return err
	}
	return e.Load(c.state)
}

func (c *changeItem) Payload() (json.RawMessage, error) {
	return json.Marshal(changePayload{ID: c.id, State: c.state})
}

type propertyPayload struct {
	ID    int             `json:"id"`
	Value json.RawMessage `json:"value"`
}

// propertyItem holds the snapshot of a single property
type propertyItem struct {
	doc   *Document
	spec  propertySpec
	text  string
	id    int
	value json.RawMessage
}

func (c *propertyItem) Type() string                   { return c.spec.tag }
func (c *propertyItem) Description() string            { return c.text }
func (c *propertyItem) MergeClass() history.MergeClass { return c.spec.class }
func (c *propertyItem) entityNumber() int              { return c.id }

func (c *propertyItem) MergeWith(other history.Item) bool {
	history.CheckMergeClass(c, other)
	return other.(*propertyItem).id == c.id
}

func (c *propertyItem) Apply() error {
	e, err := c.doc.lookupN(c.id)
	if err != nil {
		return err
	}
	if e.Kind() != c.spec.kind {
		return fmt.Errorf("%s item applied to %s %d", c.spec.tag, e.Kind(), c.id)
	}
	return entity.SetProperty(e, c.spec.prop, c.value)
}

func (c *propertyItem) Payload() (json.RawMessage, error) {
	return json.Marshal(propertyPayload{ID: c.id, Value: c.value})
}

// Constructors used while recording

func (d *Document) createItemFor(e entity.Entity) *createItem {
	return &createItem{
		doc:  d,
		tag:  d.createTag(e.Kind()),
		text: "Create " + describe(e),
		id:   e.ID().N,
		kind: e.Kind(),
	}
}

func (d *Document) deleteItemFor(e entity.Entity) *deleteItem {
	return &deleteItem{
		doc:  d,
		tag:  d.deleteTag(e.Kind()),
		text: "Delete " + describe(e),
		id:   e.ID().N,
	}
}

func (d *Document) changeItemFor(e entity.Entity, state json.RawMessage) *changeItem {
	return &changeItem{
		doc:   d,
		text:  "Change " + describe(e),
		id:    e.ID().N,
		state: state,
	}
}

func (d *Document) propertyItemFor(e entity.Entity, spec propertySpec, value json.RawMessage) *propertyItem {
	return &propertyItem{
		doc:   d,
		spec:  spec,
		text:  fmt.Sprintf("Set %s of %s", spec.prop, describe(e)),
		id:    e.ID().N,
		value: value,
	}
}

func (d *Document) createTag(kind types.Kind) string {
	if d.propertyHistory {
		switch kind {
		case types.KindNode:
			return TagNodeCreate
		case types.KindPath:
			return TagPathCreate
		}
	}
	return TagEntityCreate
}

func (d *Document) deleteTag(kind types.Kind) string {
	if d.propertyHistory {
		switch kind {
		case types.KindNode:
			return TagNodeDelete
		case types.KindPath:
			return TagPathDelete
		}
	}
	return TagEntityDelete
}

func describe(e entity.Entity) string {
	return fmt.Sprintf("%s %d", e.Kind(), e.ID().N)
}

// newFactory registers a constructor for every known item tag, bound to d
func (d *Document) newFactory() *history.Factory {
	f := history.NewFactory()
	f.Register(TagEntityCreate, d.decodeCreate(TagEntityCreate, ""))
	f.Register(TagNodeCreate, d.decodeCreate(TagNodeCreate, types.KindNode))
	f.Register(TagPathCreate, d.decodeCreate(TagPathCreate, types.KindPath))
	f.Register(TagEntityDelete, d.decodeDelete(TagEntityDelete))
	f.Register(TagNodeDelete, d.decodeDelete(TagNodeDelete))
	f.Register(TagPathDelete, d.decodeDelete(TagPathDelete))
	f.Register(TagEntityChange, d.decodeChange)
	for _, spec := range propertySpecs {
		f.Register(spec.tag, d.decodeProperty(spec))
	}
	return f
}

func (d *Document) decodeCreate(tag string, fixed types.Kind) history.Constructor {
	return func(text string, data json.RawMessage) (history.Item, error) {
		var p createPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		if fixed != "" {
			if p.Type == "" {
				p.Type = fixed
			}
			if p.Type != fixed {
				return nil, fmt.Errorf("%s item names a %s", tag, p.Type)
			}
		}
		if !p.Type.IsValid() {
			return nil, fmt.Errorf("%w: %q", entity.ErrUnknownKind, p.Type)
		}
		if p.ID < 0 {
			return nil, fmt.Errorf("negative entity id %d", p.ID)
		}
		return &createItem{doc: d, tag: tag, text: text, id: p.ID, kind: p.Type}, nil
	}
}

func (d *Document) decodeDelete(tag string) history.Constructor {
	return func(text string, data json.RawMessage) (history.Item, error) {
		var p deletePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		if p.ID < 0 {
			return nil, fmt.Errorf("negative entity id %d", p.ID)
		}
		return &deleteItem{doc: d, tag: tag, text: text, id: p.ID}, nil
	}
}

func (d *Document) decodeChange(text string, data json.RawMessage) (history.Item, error) {
	var p changePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.ID < 0 {
		return nil, fmt.Errorf("negative entity id %d", p.ID)
	}
	if len(p.State) == 0 {
		return nil, fmt.Errorf("change of entity %d has no state", p.ID)
	}
	return &changeItem{doc: d, text: text, id: p.ID, state: p.State}, nil
}

func (d *Document) decodeProperty(spec propertySpec) history.Constructor {
	return func(text string, data json.RawMessage) (history.Item, error) {
		var p propertyPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		if p.ID < 0 {
			return nil, fmt.Errorf("negative entity id %d", p.ID)
		}
		if len(p.Value) == 0 {
			return nil, fmt.Errorf("%s item for entity %d has no value", spec.tag, p.ID)
		}
		return &propertyItem{doc: d, spec: spec, text: text, id: p.ID, value: p.Value}, nil
	}
}
