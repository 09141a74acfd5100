package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arthur-debert/diagstore/diagstore/entity"
	"github.com/arthur-debert/diagstore/diagstore/history"
	"github.com/arthur-debert/diagstore/diagstore/notify"
	"github.com/arthur-debert/diagstore/diagstore/storage"
	"github.com/arthur-debert/diagstore/internal/validation"
	"github.com/arthur-debert/diagstore/types"
	"github.com/google/uuid"
)

// ErrNoDocument is returned by Load when the store holds nothing yet
var ErrNoDocument = errors.New("no document stored")

// File returns the persisted form of the document
func (d *Document) File() (*types.File, error) {
	undo, redo, err := d.history.Records()
	if err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}

	data := types.Data{
		NextID:   d.nextID,
		Entities: make([]types.EntityRecord, 0, len(d.entities)),
	}
	for _, id := range d.IDs() {
		e := d.entities[id]
		data.Entities = append(data.Entities, types.EntityRecord{
			ID:    id.N,
			Type:  e.Kind(),
			State: e.Save(),
		})
	}

	return &types.File{
		Metadata: d.meta,
		History:  undo,
		Future:   redo,
		Data:     data,
	}, nil
}

// Marshal encodes the document, including its history, as indented JSON
func (d *Document) Marshal() ([]byte, error) {
	f, err := d.File()
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return out, nil
}

// Unmarshal replaces the document with the content of data and marks it
// clean. On error the document is left unchanged.
func (d *Document) Unmarshal(data []byte) error {
	var f types.File
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return d.Apply(&f)
}

// Apply replaces the document with f. Entity state comes from f.Data; the
// history stacks are restored without being replayed, so undo and redo work
// immediately. On error the document is left unchanged.
func (d *Document) Apply(f *types.File) error {
	if d.history.InTransaction() {
		panic("document: load inside an open transaction")
	}
	if err := validation.Validate(f); err != nil {
		return err
	}

	entities := make(map[entity.ID]entity.Entity, len(f.Data.Entities))
	for _, rec := range f.Data.Entities {
		id := entity.NewID(rec.ID, d.registry)
		e, err := entity.New(rec.Type, id)
		if err != nil {
			return err
		}
		if err := e.Load(rec.State); err != nil {
			return err
		}
		entities[id] = e
	}

	stacks, err := history.Decode(f.History, f.Future, d.factory)
	if err != nil {
		return err
	}

	d.loading++
	defer func() { d.loading-- }()

	// Observers still see the old entities and history here
	d.notifier.Publish(notify.Event{Kind: notify.AboutToClear})

	d.beginBatch()
	defer d.endBatch()

	d.replaceEntities(entities)
	d.history.Restore(stacks)
	d.nextID = nextID(f.Data, d.history)
	d.meta = f.Metadata
	if d.meta.Version == "" {
		d.meta.Version = types.FileVersion
	}
	if d.meta.UUID == "" {
		d.meta.UUID = uuid.NewString()
	}
	if d.meta.CreatedAt.IsZero() {
		d.meta.CreatedAt = d.now()
		d.meta.UpdatedAt = d.meta.CreatedAt
	}
	d.history.SetClean()

	d.logger.Debug("document loaded",
		"entities", len(entities),
		"undo_depth", d.history.UndoCount(),
		"redo_depth", d.history.RedoCount(),
		"next_id", d.nextID)
	return nil
}

// nextID exceeds every id named by the data or by any history item
func nextID(data types.Data, h *history.Manager) int {
	next := data.NextID
	for _, rec := range data.Entities {
		next = max(next, rec.ID+1)
	}
	h.Each(func(item history.Item) {
		if r, ok := item.(referencer); ok {
			next = max(next, r.entityNumber()+1)
		}
	})
	return next
}

// Save writes the document to s and marks it clean
func (d *Document) Save(ctx context.Context, s storage.Store) error {
	data, prev, err := d.marshalStamped()
	if err != nil {
		return err
	}
	if err := s.Write(ctx, data); err != nil {
		d.meta.UpdatedAt = prev
		return fmt.Errorf("failed to save document: %w", err)
	}
	d.SetClean()
	return nil
}

// Edit loads the document held by s, runs fn and writes the result back,
// all under the store's lock. An empty store starts from the current
// document. Nothing is written when fn leaves the document clean.
func (d *Document) Edit(ctx context.Context, s storage.Updater, fn func() error) error {
	var (
		prev    time.Time
		written bool
	)
	err := s.Update(ctx, func(data []byte) ([]byte, error) {
		if data != nil {
			if err := d.Unmarshal(data); err != nil {
				return nil, err
			}
		}
		if err := fn(); err != nil {
			return nil, err
		}
		if d.IsClean() {
			return nil, nil
		}
		out, p, err := d.marshalStamped()
		if err != nil {
			return nil, err
		}
		prev, written = p, true
		return out, nil
	})
	if err != nil {
		if written {
			d.meta.UpdatedAt = prev
		}
		return fmt.Errorf("failed to edit document: %w", err)
	}
	if written {
		d.SetClean()
	}
	return nil
}

// marshalStamped encodes the document with a fresh update time and returns
// the previous one so callers can roll back
func (d *Document) marshalStamped() ([]byte, time.Time, error) {
	prev := d.meta.UpdatedAt
	d.meta.UpdatedAt = d.now()
	data, err := d.Marshal()
	if err != nil {
		d.meta.UpdatedAt = prev
		return nil, prev, err
	}
	return data, prev, nil
}

// Load replaces the document with the one held by s. It returns
// ErrNoDocument when s is empty.
func (d *Document) Load(ctx context.Context, s storage.Store) error {
	data, err := s.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	if data == nil {
		return ErrNoDocument
	}
	return d.Unmarshal(data)
}
