package types

import (
	"encoding/json"
	"time"
)

// FileVersion is the version written into new document files
const FileVersion = "1.0"

// File is the persisted form of a document
type File struct {
	Metadata Metadata `json:"metadata"`

	// History is the undo stack and Future the redo stack, both bottom first
	History []GroupRecord `json:"history"`
	Future  []GroupRecord `json:"future,omitempty"`

	Data Data `json:"data"`
}

// Metadata describes the file itself
type Metadata struct {
	Version   string    `json:"version"`
	UUID      string    `json:"uuid"` // Stable identifier of the document, not of the registry
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Data holds the entity state of a document
type Data struct {
	NextID   int            `json:"next_id"`
	Entities []EntityRecord `json:"entities"`
}

// EntityRecord is one saved entity
type EntityRecord struct {
	ID    int             `json:"id"`
	Type  Kind            `json:"type"`
	State json.RawMessage `json:"state"`
}

// GroupRecord is the persisted form of one history step. Items holds the
// undo side; Redo holds the redo side.
type GroupRecord struct {
	Text  string       `json:"text"`
	Items []ItemRecord `json:"items"`
	Redo  []ItemRecord `json:"redo,omitempty"`
	At    time.Time    `json:"at,omitzero"`
}

// ItemRecord is the persisted form of one history item
type ItemRecord struct {
	Type string          `json:"type"`
	Text string          `json:"text"`
	Data json.RawMessage `json:"data"`
}
