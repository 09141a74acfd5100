// Package validation checks a decoded document file before it is applied
package validation

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/arthur-debert/diagstore/types"
	"github.com/google/uuid"
)

// ErrInvalidFile wraps every structural problem found in a document file
var ErrInvalidFile = errors.New("invalid document file")

// Validate checks the metadata, entity data and history of f
func Validate(f *types.File) error {
	if f == nil {
		return fmt.Errorf("%w: no content", ErrInvalidFile)
	}
	if err := ValidateMetadata(f.Metadata); err != nil {
		return err
	}
	if err := ValidateData(f.Data); err != nil {
		return err
	}
	if err := ValidateHistory("history", f.History); err != nil {
		return err
	}
	return ValidateHistory("future", f.Future)
}

// ValidateMetadata accepts files without metadata as well as current ones
func ValidateMetadata(m types.Metadata) error {
	switch m.Version {
	case "", types.FileVersion:
	default:
		return fmt.Errorf("%w: unsupported version %q", ErrInvalidFile, m.Version)
	}

	if m.UUID != "" {
		if _, err := uuid.Parse(m.UUID); err != nil {
			return fmt.Errorf("%w: metadata uuid %q: %v", ErrInvalidFile, m.UUID, err)
		}
	}

	if !m.CreatedAt.IsZero() && m.UpdatedAt.Before(m.CreatedAt) {
		return fmt.Errorf("%w: updated_at is before created_at", ErrInvalidFile)
	}
	return nil
}

// ValidateData checks that entity ids are unique and non-negative, kinds are
// known and every state is a JSON object
func ValidateData(d types.Data) error {
	if d.NextID < 0 {
		return fmt.Errorf("%w: negative next_id %d", ErrInvalidFile, d.NextID)
	}

	seen := make(map[int]bool, len(d.Entities))
	for i, rec := range d.Entities {
		if rec.ID < 0 {
			return fmt.Errorf("%w: entity %d has negative id %d", ErrInvalidFile, i, rec.ID)
		}
		if seen[rec.ID] {
			return fmt.Errorf("%w: duplicate entity id %d", ErrInvalidFile, rec.ID)
		}
		seen[rec.ID] = true

		if !rec.Type.IsValid() {
			return fmt.Errorf("%w: entity %d has unknown type %q", ErrInvalidFile, rec.ID, rec.Type)
		}
		if !isObject(rec.State) {
			return fmt.Errorf("%w: entity %d state is not a JSON object", ErrInvalidFile, rec.ID)
		}
	}
	return nil
}

// ValidateHistory checks the shape of a history stack. Item tags are only
// checked for syntax; the item factory decides whether they are known.
func ValidateHistory(stack string, groups []types.GroupRecord) error {
	for i, g := range groups {
		if len(g.Items) == 0 {
			return fmt.Errorf("%w: %s group %d (%q) has no items", ErrInvalidFile, stack, i, g.Text)
		}
		for _, items := range [][]types.ItemRecord{g.Items, g.Redo} {
			for j, item := range items {
				if !IsValidTag(item.Type) {
					return fmt.Errorf("%w: %s group %d item %d has invalid type %q", ErrInvalidFile, stack, i, j, item.Type)
				}
				if len(bytes.TrimSpace(item.Data)) == 0 {
					return fmt.Errorf("%w: %s group %d item %d has no data", ErrInvalidFile, stack, i, j)
				}
			}
		}
	}
	return nil
}

// IsValidTag checks if an item type tag is lowercase words joined by dashes
func IsValidTag(tag string) bool {
	if tag == "" || tag[0] == '-' || tag[len(tag)-1] == '-' {
		return false
	}
	for _, r := range tag {
		if (r < 'a' || r > 'z') && r != '-' {
			return false
		}
	}
	return true
}

func isObject(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) >= 2 && data[0] == '{' && data[len(data)-1] == '}'
}
