// Package trellis provides a local-first document engine: a forest of nested
// text, list, map and tree containers whose concurrent edits from different
// replicas merge deterministically, with causally ordered commits, version
// travel and structural change events.
package trellis

import "errors"

// Identity errors
var (
	// ErrInvalidPeerID indicates that a peer id is reserved and cannot be used.
	ErrInvalidPeerID = errors.New("invalid peer id")

	// ErrInvalidID indicates that an op id string could not be parsed.
	ErrInvalidID = errors.New("invalid op id")

	// ErrInvalidContainerID indicates that a container id string could not be parsed.
	ErrInvalidContainerID = errors.New("invalid container id")
)

// History errors
var (
	// ErrNotFound indicates that an op id was never committed or is not yet
	// known to this replica.
	ErrNotFound = errors.New("change not found")

	// ErrInvalidFrontier indicates that a frontier references an op id
	// unknown to this replica's log.
	ErrInvalidFrontier = errors.New("invalid frontier")
)

// Commit errors
var (
	// ErrCommitInProgress indicates that a commit, import or checkout was
	// requested from inside a commit hook.
	ErrCommitInProgress = errors.New("operation not allowed while a commit is in progress")

	// ErrPreCommitRejected indicates that a pre-commit hook failed and the
	// change was not appended.
	ErrPreCommitRejected = errors.New("pre-commit hook rejected the change")

	// ErrCommitHookLoop indicates that commit hooks kept buffering ops
	// while a transition was committing pending work.
	ErrCommitHookLoop = errors.New("commit hooks keep buffering ops")
)

// State errors
var (
	// ErrDetached indicates that an edit was attempted while the document
	// shows a checked-out past version.
	ErrDetached = errors.New("document is detached; call Attach before editing")

	// ErrOutOfBound indicates that a position or length is out of range.
	ErrOutOfBound = errors.New("index out of bound")

	// ErrWrongContainerType indicates that a container id names a different kind.
	ErrWrongContainerType = errors.New("wrong container type")
)

// Tree errors
var (
	// ErrTreeNodeNotFound indicates that a tree node does not exist or was deleted.
	ErrTreeNodeNotFound = errors.New("tree node not found")

	// ErrCyclicMove indicates that a move would make a node its own ancestor.
	ErrCyclicMove = errors.New("move would create a cycle")
)

// Encoding errors
var (
	// ErrDecode indicates that import bytes are malformed or of the wrong kind.
	ErrDecode = errors.New("decode error")
)

// Lifecycle errors
var (
	// ErrClosed indicates that the document has been closed.
	ErrClosed = errors.New("document is closed")
)
