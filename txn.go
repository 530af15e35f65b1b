package trellis

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang/glog"
)

// CommitOptions annotates a commit. Zero values leave the field unset.
type CommitOptions struct {
	Message   string
	Timestamp int64
	Origin    string
}

// ChangeModifier lets a pre-commit hook set the message and timestamp of
// the change being committed. It stops working once the hook returns.
type ChangeModifier struct {
	doc     *Doc
	change  *Change
	expired bool
}

// SetMessage sets the commit message.
func (m *ChangeModifier) SetMessage(msg string) *ChangeModifier {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	if m.expired {
		glog.Warningf("[%s] change modifier used after its hook returned\n", m.doc.tag)
		return m
	}
	m.change.Message = msg
	return m
}

// SetTimestamp sets the commit timestamp in seconds.
func (m *ChangeModifier) SetTimestamp(ts int64) *ChangeModifier {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	if m.expired {
		glog.Warningf("[%s] change modifier used after its hook returned\n", m.doc.tag)
		return m
	}
	m.change.Timestamp = ts
	return m
}

func (m *ChangeModifier) expire() {
	m.doc.mu.Lock()
	m.expired = true
	m.doc.mu.Unlock()
}

// PreCommitEvent is passed to pre-commit hooks. ChangeMeta describes the
// change before the hook runs; the full change is visible through
// ExportJSONInIDSpan while the hook runs.
type PreCommitEvent struct {
	ChangeMeta ChangeMeta
	Origin     string
	Modifier   *ChangeModifier
}

// FirstCommitFromPeerEvent is passed to first-commit hooks.
type FirstCommitFromPeerEvent struct {
	Peer PeerID
}

// txnBuffer holds local ops applied to the state but not yet committed.
type txnBuffer struct {
	ops          []Op
	atoms        int
	startCounter Counter
	startLamport Lamport
}

// nextAtom returns the id and lamport of the next local atom.
// Requires d.mu.
func (d *Doc) nextAtom() (ID, Lamport) {
	if len(d.txn.ops) == 0 {
		d.txn.atoms = 0
		d.txn.startCounter = d.log.vv[d.peer]
		d.txn.startLamport = d.log.nextLamport()
	}
	n := d.txn.atoms
	return NewID(d.peer, d.txn.startCounter+Counter(n)), d.txn.startLamport + Lamport(n)
}

// pushOp applies a local op to the state and buffers it. op.Counter and
// lamport come from nextAtom. Requires d.mu.
func (d *Doc) pushOp(op Op, lamport Lamport) {
	d.reg.applyOp(d.peer, op, lamport)
	d.txn.ops = append(d.txn.ops, op)
	d.txn.atoms += op.AtomLen()
	d.stateVV[d.peer] = op.Counter + Counter(op.AtomLen())
}

// beginTransition serializes commits, imports and checkouts. Calls made
// from inside a commit hook fail with ErrCommitInProgress.
func (d *Doc) beginTransition() error {
	d.mu.Lock()
	closed, committing := d.closed, d.committing
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if committing {
		return ErrCommitInProgress
	}
	d.commitMu.Lock()
	return nil
}

func (d *Doc) endTransition() {
	d.commitMu.Unlock()
}

func noop() {}

// commitLocked turns the buffered ops into a change. The returned func
// delivers local update bytes and must be called after all locks are
// released. Requires d.commitMu.
func (d *Doc) commitLocked(opts CommitOptions) (*ChangeMeta, func(), error) {
	d.mu.Lock()
	if len(d.txn.ops) == 0 {
		d.mu.Unlock()
		return nil, noop, nil
	}
	n := len(d.txn.ops)
	change := &Change{
		ID:        NewID(d.peer, d.txn.startCounter),
		Lamport:   d.txn.startLamport,
		Timestamp: opts.Timestamp,
		Deps:      d.log.frontiers.Clone(),
		Message:   opts.Message,
		Ops:       slices.Clone(d.txn.ops[:n]),
	}
	if change.Timestamp == 0 && d.opts.RecordTimestamp {
		change.Timestamp = time.Now().Unix()
	}
	firstFromPeer := d.log.vv[d.peer] == 0
	d.committing = true
	d.pendingChange = change
	d.mu.Unlock()

	err := d.runPreCommit(change, opts.Origin)
	if err == nil && firstFromPeer {
		d.runFirstCommit(change.ID.Peer)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.committing = false
	d.pendingChange = nil
	if err != nil {
		glog.V(1).Infof("[%s] commit %s rejected: %s\n", d.tag, change.ID, err)
		return nil, noop, fmt.Errorf("%w: %w", ErrPreCommitRejected, err)
	}

	// ops buffered by hooks stay for the next commit
	atoms := change.AtomLen()
	d.txn.ops = slices.Clone(d.txn.ops[n:])
	d.txn.atoms -= atoms
	d.txn.startCounter += Counter(atoms)
	d.txn.startLamport += Lamport(atoms)

	fromVV, fromF := d.log.vv.Clone(), d.log.frontiers.Clone()
	d.log.append(change)
	d.emit(Local, opts.Origin, fromVV, d.log.vv.Clone(), fromF, d.log.frontiers.Clone())

	glog.V(1).Infof("[%s] commit %s lamport=%d atoms=%d\n", d.tag, change.ID, change.Lamport, atoms)

	meta := change.Meta()
	targets := d.subs.localUpdateTargets()
	if len(targets) == 0 {
		return &meta, noop, nil
	}
	update := encodeChanges(modeUpdates, []*Change{change})
	return &meta, func() {
		for _, fn := range targets {
			handleCallback(d.tag, func() {
				fn(update)
			})
		}
	}, nil
}

// maxHookCommits bounds the commits a transition makes to drain ops
// buffered by commit hooks.
const maxHookCommits = 8

// commitAllLocked commits the buffered ops, then the ops commit hooks
// buffered meanwhile, until nothing is buffered. Transitions that move the
// log frontier or the peer call it first. Requires d.commitMu.
func (d *Doc) commitAllLocked(opts CommitOptions) (*ChangeMeta, func(), error) {
	var notifies []func()
	notifyAll := func() {
		for _, fn := range notifies {
			fn()
		}
	}
	meta, notify, err := d.commitLocked(opts)
	notifies = append(notifies, notify)
	for n := 1; err == nil; n++ {
		d.mu.Lock()
		buffered := len(d.txn.ops)
		d.mu.Unlock()
		if buffered == 0 {
			break
		}
		if n == maxHookCommits {
			err = fmt.Errorf("%w: %d ops still buffered after %d commits", ErrCommitHookLoop, buffered, n)
			break
		}
		_, notify, err = d.commitLocked(CommitOptions{Origin: opts.Origin})
		notifies = append(notifies, notify)
	}
	return meta, notifyAll, err
}

func (d *Doc) runPreCommit(change *Change, origin string) error {
	for _, hook := range d.subs.preCommitTargets() {
		d.mu.Lock()
		meta := change.Meta()
		d.mu.Unlock()

		m := &ChangeModifier{doc: d, change: change}
		ev := &PreCommitEvent{ChangeMeta: meta, Origin: origin, Modifier: m}
		var hookErr error
		panicErr := handleCallback(d.tag, func() {
			hookErr = hook(ev)
		})
		m.expire()
		if panicErr != nil {
			return panicErr
		}
		if hookErr != nil {
			return hookErr
		}
	}
	return nil
}

func (d *Doc) runFirstCommit(peer PeerID) {
	for _, hook := range d.subs.firstCommitTargets() {
		handleCallback(d.tag, func() {
			hook(FirstCommitFromPeerEvent{Peer: peer})
		})
	}
}

// implicitCommit commits buffered ops before an export. Inside a commit
// hook it does nothing.
func (d *Doc) implicitCommit() (func(), error) {
	d.mu.Lock()
	committing := d.committing
	d.mu.Unlock()
	if committing {
		return noop, nil
	}
	if err := d.beginTransition(); err != nil {
		return noop, err
	}
	_, notify, err := d.commitLocked(CommitOptions{})
	d.endTransition()
	return notify, err
}
