package trellis

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
)

// DocOptions configures a Doc.
type DocOptions struct {
	// PeerID fixes the replica id. A random id is used when nil.
	PeerID *PeerID

	// RecordTimestamp stamps each commit with the wall clock (seconds)
	// unless the commit supplies its own timestamp.
	RecordTimestamp bool

	// Name tags log lines. Defaults to the instance ULID.
	Name string
}

// Doc is a replicated document: a forest of containers, its change log
// and its subscriptions.
//
// Mutation (commit, import, checkout) is serialized per Doc. Event batches
// are delivered in order on a separate goroutine; local update bytes and
// commit hooks are called synchronously.
type Doc struct {
	id   ulid.ULID
	tag  string
	opts DocOptions

	mu       sync.Mutex
	commitMu sync.Mutex

	// set while commit hooks run
	committing    bool
	pendingChange *Change
	closed        bool

	peer PeerID
	log  *oplog
	reg  *registry
	txn  txnBuffer

	// stateVV is the version shown to readers: the committed (or checked
	// out) version plus buffered local ops.
	stateVV           VersionVector
	detached          bool
	checkoutFrontiers Frontiers

	subs *subscriptionRegistry
	disp *dispatcher
}

// New creates an empty document.
func New(opts DocOptions) (*Doc, error) {
	peer := randomPeerID()
	if opts.PeerID != nil {
		if *opts.PeerID == math.MaxUint64 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidPeerID, *opts.PeerID)
		}
		peer = *opts.PeerID
	}
	id := ulid.Make()
	tag := opts.Name
	if tag == "" {
		tag = id.String()
	}
	return &Doc{
		id:      id,
		tag:     tag,
		opts:    opts,
		peer:    peer,
		log:     newOplog(),
		reg:     newRegistry(),
		stateVV: NewVersionVector(),
		subs:    newSubscriptionRegistry(),
		disp:    newDispatcher(tag),
	}, nil
}

// FromSnapshot creates a document from ExportSnapshot bytes.
func FromSnapshot(data []byte) (*Doc, error) {
	mode, changes, err := decodeExport(data)
	if err != nil {
		return nil, err
	}
	if mode != modeSnapshot {
		return nil, fmt.Errorf("%w: bytes are an update, not a snapshot", ErrDecode)
	}
	d, err := New(DocOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := d.importChanges(changes, ""); err != nil {
		return nil, err
	}
	return d, nil
}

// InstanceID returns the unique id of this Doc instance.
func (d *Doc) InstanceID() ulid.ULID {
	return d.id
}

// PeerID returns the peer id subsequent commits are attributed to.
func (d *Doc) PeerID() PeerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peer
}

// SetPeerID commits buffered ops, then attributes later commits to peer.
func (d *Doc) SetPeerID(peer PeerID) error {
	if peer == math.MaxUint64 {
		return fmt.Errorf("%w: %d", ErrInvalidPeerID, peer)
	}
	if err := d.beginTransition(); err != nil {
		return err
	}
	_, notify, err := d.commitAllLocked(CommitOptions{})
	if err == nil {
		d.mu.Lock()
		d.peer = peer
		d.mu.Unlock()
	}
	d.endTransition()
	notify()
	return err
}

// Commit turns the buffered ops into one change. It returns nil when
// nothing was buffered.
func (d *Doc) Commit() (*ChangeMeta, error) {
	return d.CommitWith(CommitOptions{})
}

// CommitWith commits with a message, timestamp or origin tag.
func (d *Doc) CommitWith(opts CommitOptions) (*ChangeMeta, error) {
	if err := d.beginTransition(); err != nil {
		return nil, err
	}
	meta, notify, err := d.commitLocked(opts)
	d.endTransition()
	notify()
	return meta, err
}

// Import merges export bytes (snapshot or update).
func (d *Doc) Import(data []byte) (ImportStatus, error) {
	return d.ImportWith(data, "")
}

// ImportWith merges export bytes, tagging the resulting events with origin.
func (d *Doc) ImportWith(data []byte, origin string) (ImportStatus, error) {
	_, changes, err := decodeExport(data)
	if err != nil {
		glog.Errorf("[%s] import rejected: %s\n", d.tag, err)
		return ImportStatus{}, err
	}
	return d.importChanges(changes, origin)
}

// ImportBatch merges several exports as one transition. If any input
// fails to decode nothing is merged.
func (d *Doc) ImportBatch(data [][]byte) (ImportStatus, error) {
	var all []*Change
	for i, b := range data {
		_, changes, err := decodeExport(b)
		if err != nil {
			glog.Errorf("[%s] import batch rejected at %d: %s\n", d.tag, i, err)
			return ImportStatus{}, fmt.Errorf("input %d: %w", i, err)
		}
		all = append(all, changes...)
	}
	return d.importChanges(all, "")
}

func (d *Doc) importChanges(changes []*Change, origin string) (ImportStatus, error) {
	if err := d.beginTransition(); err != nil {
		return ImportStatus{}, err
	}
	_, notify, err := d.commitAllLocked(CommitOptions{})
	if err != nil {
		d.endTransition()
		notify()
		return ImportStatus{}, err
	}

	d.mu.Lock()
	fromVV, fromF := d.log.vv.Clone(), d.log.frontiers.Clone()
	status := d.log.importChanges(changes, d.reg.applyChange)
	if !d.detached && !d.log.vv.Equal(fromVV) {
		d.stateVV = d.log.vv.Clone()
		d.emit(Import, origin, fromVV, d.stateVV.Clone(), fromF, d.log.frontiers.Clone())
	}
	glog.V(1).Infof("[%s] import %d changes, vv=%s pending=%d\n", d.tag, len(changes), d.log.vv, len(d.log.pending))
	d.mu.Unlock()

	d.endTransition()
	notify()
	return status, nil
}

// ExportFrom returns an update with every op not covered by vv.
func (d *Doc) ExportFrom(vv VersionVector) ([]byte, error) {
	notify, err := d.implicitCommit()
	notify()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return encodeChanges(modeUpdates, d.log.changesBetween(vv, d.log.vv)), nil
}

// ExportFromFrontiers returns an update with every op not in the causal
// closure of f.
func (d *Doc) ExportFromFrontiers(f Frontiers) ([]byte, error) {
	notify, err := d.implicitCommit()
	notify()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	vv, err := d.log.frontiersToVV(f)
	if err != nil {
		return nil, err
	}
	return encodeChanges(modeUpdates, d.log.changesBetween(vv, d.log.vv)), nil
}

// ExportSnapshot returns the full history.
func (d *Doc) ExportSnapshot() ([]byte, error) {
	notify, err := d.implicitCommit()
	notify()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return encodeChanges(modeSnapshot, d.log.all()), nil
}

// Checkout shows the version f. The document is detached until
// CheckoutToLatest or Attach. An empty frontier shows the empty document.
func (d *Doc) Checkout(f Frontiers) error {
	if err := d.beginTransition(); err != nil {
		return err
	}
	_, notify, err := d.commitAllLocked(CommitOptions{})
	if err == nil {
		err = d.checkoutLocked(f)
	}
	d.endTransition()
	notify()
	return err
}

func (d *Doc) checkoutLocked(f Frontiers) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	target, err := d.log.frontiersToVV(f)
	if err != nil {
		return err
	}
	fromVV, fromF := d.stateVV.Clone(), d.stateFrontiersLocked()
	d.stateVV = target
	d.detached = true
	d.checkoutFrontiers = d.log.vvToFrontiers(target)
	d.emit(Checkout, "", fromVV, target.Clone(), fromF, d.checkoutFrontiers.Clone())
	glog.V(1).Infof("[%s] checkout %s\n", d.tag, d.checkoutFrontiers)
	return nil
}

// CheckoutToLatest shows the latest version and re-enables editing.
func (d *Doc) CheckoutToLatest() error {
	if err := d.beginTransition(); err != nil {
		return err
	}
	defer d.endTransition()
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.detached {
		return nil
	}
	fromVV, fromF := d.stateVV.Clone(), d.stateFrontiersLocked()
	d.stateVV = d.log.vv.Clone()
	d.detached = false
	d.checkoutFrontiers = nil
	d.emit(Checkout, "", fromVV, d.stateVV.Clone(), fromF, d.log.frontiers.Clone())
	glog.V(1).Infof("[%s] attach %s\n", d.tag, d.log.frontiers)
	return nil
}

// Attach is CheckoutToLatest.
func (d *Doc) Attach() error {
	return d.CheckoutToLatest()
}

// IsDetached reports whether a past version is shown.
func (d *Doc) IsDetached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detached
}

// OplogVV returns the version vector of the whole log.
func (d *Doc) OplogVV() VersionVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.vv.Clone()
}

// OplogFrontiers returns the frontier of the whole log.
func (d *Doc) OplogFrontiers() Frontiers {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.frontiers.Clone()
}

// StateVV returns the committed version shown to readers.
func (d *Doc) StateVV() VersionVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detached {
		return d.stateVV.Clone()
	}
	return d.log.vv.Clone()
}

// StateFrontiers returns the frontier of the version shown to readers.
func (d *Doc) StateFrontiers() Frontiers {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateFrontiersLocked()
}

func (d *Doc) stateFrontiersLocked() Frontiers {
	if d.detached {
		return d.checkoutFrontiers.Clone()
	}
	return d.log.frontiers.Clone()
}

// FrontiersToVV returns the causal closure of f.
func (d *Doc) FrontiersToVV(f Frontiers) (VersionVector, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.frontiersToVV(f)
}

// VVToFrontiers returns the causally maximal ids of vv.
func (d *Doc) VVToFrontiers(vv VersionVector) (Frontiers, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !vv.Leq(d.log.vv) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFrontier, vv)
	}
	return d.log.vvToFrontiers(vv), nil
}

// CmpFrontiers compares two frontiers causally.
func (d *Doc) CmpFrontiers(a, b Frontiers) (PartialOrder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.cmpFrontiers(a, b)
}

// GetChangeAt returns the change containing id.
func (d *Doc) GetChangeAt(id ID) (ChangeMeta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.log.lookup(id)
	if !ok {
		return ChangeMeta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.Meta(), nil
}

// Changes returns every committed change ordered by lamport.
func (d *Doc) Changes() []ChangeMeta {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []ChangeMeta
	for _, c := range d.log.all() {
		out = append(out, c.Meta())
	}
	return out
}

// ExportJSONInIDSpan returns the canonical JSON records of the changes
// overlapping span, cut to the span. Inside a pre-commit hook this
// includes the change being committed.
func (d *Doc) ExportJSONInIDSpan(span IDSpan) []JSONChange {
	d.mu.Lock()
	defer d.mu.Unlock()
	changes := d.log.changesInSpan(span)
	if pc := d.pendingChange; pc != nil && pc.ID.Peer == span.Peer &&
		span.Start < pc.End() && span.End > pc.ID.Counter {
		changes = append(changes, pc.slice(span.Start, span.End))
	}
	slices.SortFunc(changes, changeOrder)
	out := make([]JSONChange, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.toJSON())
	}
	return out
}

// Diff returns the container diffs between two versions without changing
// the shown version. Paths follow the shape at to.
func (d *Doc) Diff(from, to Frontiers) ([]ContainerDiff, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fromVV, err := d.log.frontiersToVV(from)
	if err != nil {
		return nil, err
	}
	toVV, err := d.log.frontiersToVV(to)
	if err != nil {
		return nil, err
	}
	calc := &diffCalculator{reg: d.reg, from: fromVV, to: toVV, wrap: d.handle}
	return calc.calc(touchedContainers(d.log, fromVV, toVV)), nil
}

// Fork returns a new Doc with a random peer id and the full history.
func (d *Doc) Fork() (*Doc, error) {
	return d.ForkAt(d.OplogFrontiers())
}

// ForkAt returns a new Doc with a random peer id and the history up to f.
func (d *Doc) ForkAt(f Frontiers) (*Doc, error) {
	notify, err := d.implicitCommit()
	notify()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	vv, err := d.log.frontiersToVV(f)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	changes := d.log.changesBetween(NewVersionVector(), vv)
	opts := DocOptions{RecordTimestamp: d.opts.RecordTimestamp}
	d.mu.Unlock()

	fork, err := New(opts)
	if err != nil {
		return nil, err
	}
	if _, err := fork.importChanges(changes, ""); err != nil {
		return nil, err
	}
	return fork, nil
}

// PathTo returns the path of a container in the shown version.
func (d *Doc) PathTo(id ContainerID) (Path, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	loc := newLocator(d.reg, d.stateVV).locate(id)
	if loc == nil {
		return nil, false
	}
	return loc.path, true
}

// GetText returns the root text container with the given name.
func (d *Doc) GetText(name string) *Text {
	return d.root(name, TextType).(*Text)
}

// GetList returns the root list container with the given name.
func (d *Doc) GetList(name string) *List {
	return d.root(name, ListType).(*List)
}

// GetMap returns the root map container with the given name.
func (d *Doc) GetMap(name string) *Map {
	return d.root(name, MapType).(*Map)
}

// GetTree returns the root tree container with the given name.
func (d *Doc) GetTree(name string) *Tree {
	return d.root(name, TreeType).(*Tree)
}

func (d *Doc) root(name string, t ContainerType) Container {
	id := RootContainerID(name, t)
	d.mu.Lock()
	d.reg.ensure(id)
	d.mu.Unlock()
	return d.handle(id)
}

// GetContainer returns a handle for a known container.
func (d *Doc) GetContainer(id ContainerID) (Container, error) {
	d.mu.Lock()
	_, ok := d.reg.get(id)
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d.handle(id), nil
}

// handle wraps a container id. Handles hold no state of their own.
func (d *Doc) handle(id ContainerID) Container {
	switch id.Type {
	case TextType:
		return &Text{doc: d, id: id}
	case ListType:
		return &List{doc: d, id: id}
	case MapType:
		return &Map{doc: d, id: id}
	case TreeType:
		return &Tree{doc: d, id: id}
	}
	return nil
}

// DeepValue returns every root container as plain values.
func (d *Doc) DeepValue() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]any)
	for _, cs := range d.reg.roots() {
		out[cs.id.Root] = deepValue(d.reg, cs.id, d.stateVV)
	}
	return out
}

// ToJSON returns DeepValue as JSON.
func (d *Doc) ToJSON() ([]byte, error) {
	return json.Marshal(d.DeepValue())
}

// Subscribe registers fn for every event batch of the document.
func (d *Doc) Subscribe(fn func(*EventBatch)) *Subscription {
	return d.subs.addEvents(nil, fn)
}

// SubscribeContainer registers fn for the diffs of id and its descendants.
func (d *Doc) SubscribeContainer(id ContainerID, fn func(*EventBatch)) *Subscription {
	return d.subs.addEvents(&id, fn)
}

// SubscribeLocalUpdates registers fn to receive the update bytes of each
// local commit. fn is called synchronously after the commit completes.
func (d *Doc) SubscribeLocalUpdates(fn func([]byte)) *Subscription {
	return d.subs.addLocalUpdates(fn)
}

// SubscribeFirstCommitFromPeer registers fn to run during the first
// commit of each peer. Ops fn buffers land in a later commit.
func (d *Doc) SubscribeFirstCommitFromPeer(fn func(FirstCommitFromPeerEvent)) *Subscription {
	return d.subs.addFirstCommit(fn)
}

// SubscribePreCommit registers fn to run before each commit is appended.
// An error or panic from fn aborts the commit.
func (d *Doc) SubscribePreCommit(fn func(*PreCommitEvent) error) *Subscription {
	return d.subs.addPreCommit(fn)
}

// Flush waits until every event batch produced so far is delivered. It
// must not be called from a subscriber.
func (d *Doc) Flush() {
	d.disp.flush()
}

// Close delivers queued events and releases the delivery goroutine.
func (d *Doc) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	d.disp.close()
}

// emit computes the diffs of a transition and queues them for delivery.
// Requires d.mu.
func (d *Doc) emit(by TriggerKind, origin string, from, to VersionVector, fromF, toF Frontiers) {
	targets := d.subs.eventTargets()
	if len(targets) == 0 {
		return
	}
	calc := &diffCalculator{reg: d.reg, from: from, to: to, wrap: d.handle}
	events := calc.calc(touchedContainers(d.log, from, to))
	if len(events) == 0 {
		return
	}
	d.disp.enqueue(delivery{
		batch:   &EventBatch{By: by, Origin: origin, From: fromF, To: toF, Events: events},
		targets: targets,
	})
}

// editable checks that local edits are allowed. Requires d.mu.
func (d *Doc) editable() error {
	if d.closed {
		return ErrClosed
	}
	if d.detached {
		return ErrDetached
	}
	return nil
}

// Container is a handle to a container: *Text, *List, *Map or *Tree.
// Handles are cheap references; the Doc owns the state.
type Container interface {
	ID() ContainerID
	Type() ContainerType
	Subscribe(fn func(*EventBatch)) *Subscription
}
