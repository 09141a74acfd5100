package entity

import (
	"encoding/json"
	"fmt"
	"sort"
)

func fields(e Entity) map[string]json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(e.Save(), &m); err != nil {
		panic(fmt.Sprintf("entity %s: saved state is not an object: %v", e.ID(), err))
	}
	return m
}

// Properties returns the property names of e in lexical order
func Properties(e Entity) []string {
	m := fields(e)
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Property returns the JSON value of a single top level property
func Property(e Entity, name string) (json.RawMessage, bool) {
	v, ok := fields(e)[name]
	return v, ok
}

// PropertyOf extracts a property from a saved state
func PropertyOf(state json.RawMessage, name string) (json.RawMessage, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(state, &m); err != nil {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

// SetProperty replaces one property of e with value. The write is reported
// to the registry as touching only that property.
func SetProperty(e Entity, name string, value json.RawMessage) error {
	m := fields(e)
	if _, ok := m[name]; !ok {
		return fmt.Errorf("%s has no property %q", e.Kind(), name)
	}
	m[name] = value
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode %s property %q: %w", e.Kind(), name, err)
	}
	return e.load(data, name)
}
