// Package doc is the rich-text document engine that annotations are anchored to.
//
// A document is an arena of immutable node snapshots keyed by stable NodeKeys.
// All edits run inside serialized transactions; committing a transaction
// produces a new State and reports the touched keys, per node kind, to the
// registered mutation listeners.
package doc

import "errors"

// Node errors
var (
	// ErrNodeNotFound indicates that a key does not resolve to a node in the pending state.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNotText indicates that a text operation was applied to an element.
	ErrNotText = errors.New("node is not a text node")

	// ErrNotElement indicates that a child operation was applied to a text node.
	ErrNotElement = errors.New("node is not an element")

	// ErrRootImmutable indicates an attempt to move or remove the root.
	ErrRootImmutable = errors.New("root node cannot be moved or removed")

	// ErrCycle indicates that an insertion would make a node its own ancestor.
	ErrCycle = errors.New("node cannot be inserted into its own subtree")
)

// Position errors
var (
	// ErrInvalidPoint indicates a point whose offset is out of range for its node.
	ErrInvalidPoint = errors.New("point out of range")

	// ErrNoSelection indicates that an operation needs a selection and none is set.
	ErrNoSelection = errors.New("no selection")
)

// Structure errors
var (
	// ErrNoResolver indicates that an element kind must be split or merged but
	// has no registered duplication resolver.
	ErrNoResolver = errors.New("no duplication resolver registered for kind")

	// ErrNotSiblings indicates that a merge or wrap was given nodes with different parents.
	ErrNotSiblings = errors.New("nodes are not adjacent siblings")
)

// Transaction errors
var (
	// ErrTxnClosed indicates use of a transaction after it committed or was discarded.
	ErrTxnClosed = errors.New("transaction is closed")
)
