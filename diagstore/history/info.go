package history

import "time"

// GroupInfo provides read-only info about a group.
// Used for displaying undo/redo history to users.
type GroupInfo struct {
	Description string
	CommittedAt time.Time
	UndoItems   int
	RedoItems   int
}

func infoOf(g *Group) GroupInfo {
	return GroupInfo{
		Description: g.description,
		CommittedAt: g.committedAt,
		UndoItems:   len(g.undoItems),
		RedoItems:   len(g.redoItems),
	}
}

// UndoInfo returns info about the undo stack, oldest first
func (m *Manager) UndoInfo() []GroupInfo {
	result := make([]GroupInfo, len(m.undoStack))
	for i, g := range m.undoStack {
		result[i] = infoOf(g)
	}
	return result
}

// RedoInfo returns info about the redo stack, oldest first
func (m *Manager) RedoInfo() []GroupInfo {
	result := make([]GroupInfo, len(m.redoStack))
	for i, g := range m.redoStack {
		result[i] = infoOf(g)
	}
	return result
}

// PeekUndo returns info about the next undo step without removing it
func (m *Manager) PeekUndo() (GroupInfo, bool) {
	if len(m.undoStack) == 0 {
		return GroupInfo{}, false
	}
	return infoOf(m.undoStack[len(m.undoStack)-1]), true
}

// PeekRedo returns info about the next redo step without removing it
func (m *Manager) PeekRedo() (GroupInfo, bool) {
	if len(m.redoStack) == 0 {
		return GroupInfo{}, false
	}
	return infoOf(m.redoStack[len(m.redoStack)-1]), true
}
