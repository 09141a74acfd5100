// Package history provides snapshot based undo/redo for a document registry.
//
// # Items
//
// An Item captures enough state to be applied later. Undo and redo are both
// "apply a snapshot": an undo item holds the state from before a change, a
// redo item holds the state from after it. No item knows how to invert
// another.
//
// # Groups
//
// A Group is one user visible step: an ordered list of undo items and a
// parallel list of redo items. Adjacent items of the same merge class are
// coalesced on insert, asymmetrically:
//
//   - AddUndoItem keeps the earliest item of a run (the state before any
//     of the coalesced changes)
//   - AddRedoItem keeps the latest item of a run (the state after all of
//     them)
//
// # Transactions
//
// The Manager groups items into transactions. Transactions nest by
// reference count; only the outermost commit pushes the group:
//
//	m.StartTransaction("Move nodes")
//	m.AddUndoItem(before)
//	m.AddRedoItem(after)
//	m.CommitTransaction()
//
// CancelTransaction reverts everything recorded so far; a matching
// CommitTransaction is still required to close the transaction.
//
// # Persistence
//
// Items round-trip through ItemRecord ({"type", "text", "data"}); a Factory
// maps the type tag back to a constructor.
package history
