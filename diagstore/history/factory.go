package history

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Constructor rebuilds an item from its persisted description and payload
type Constructor func(text string, data json.RawMessage) (Item, error)

// Factory maps persisted type tags to constructors
type Factory struct {
	ctors map[string]Constructor
}

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{ctors: make(map[string]Constructor)}
}

// Register binds tag to ctor. Registering a tag twice panics.
func (f *Factory) Register(tag string, ctor Constructor) {
	if tag == "" || ctor == nil {
		panic("history: Register requires a tag and a constructor")
	}
	if _, exists := f.ctors[tag]; exists {
		panic(fmt.Sprintf("history: item type %q registered twice", tag))
	}
	f.ctors[tag] = ctor
}

// Decode rebuilds an item from its record
func (f *Factory) Decode(rec ItemRecord) (Item, error) {
	ctor, ok := f.ctors[rec.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItemType, rec.Type)
	}
	item, err := ctor(rec.Text, rec.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s item: %w", rec.Type, err)
	}
	return item, nil
}

// Types returns the registered tags in lexical order
func (f *Factory) Types() []string {
	tags := make([]string, 0, len(f.ctors))
	for tag := range f.ctors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
