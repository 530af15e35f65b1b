package trellis

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestTreeCreateAndOrder(t *testing.T) {
	doc := newTestDoc(t, 1)
	tree := doc.GetTree("tree")

	a, _ := tree.Create(nil)
	b, _ := tree.Create(nil)
	c, err := tree.CreateAt(nil, 0)
	if err != nil {
		t.Fatalf("CreateAt failed: %v", err)
	}
	d, err := tree.CreateAt(nil, 2)
	if err != nil {
		t.Fatalf("CreateAt failed: %v", err)
	}
	assert.Equal(t, tree.Children(nil), []TreeID{c, a, d, b})

	if _, err := tree.CreateAt(nil, 9); !errors.Is(err, ErrOutOfBound) {
		t.Fatalf("CreateAt(9): got %v, want ErrOutOfBound", err)
	}
	missing := TreeID(NewID(7, 7))
	if _, err := tree.Create(&missing); !errors.Is(err, ErrTreeNodeNotFound) {
		t.Fatalf("Create under missing parent: got %v, want ErrTreeNodeNotFound", err)
	}
	mustCommit(t, doc)

	// order survives a round trip
	other := newTestDoc(t, 2)
	syncDocs(t, doc, other)
	assert.Equal(t, other.GetTree("tree").Children(nil), []TreeID{c, a, d, b})
}

func TestTreeMove(t *testing.T) {
	doc := newTestDoc(t, 1)
	tree := doc.GetTree("tree")
	a, _ := tree.Create(nil)
	b, _ := tree.Create(nil)
	c, _ := tree.Create(&a)

	if err := tree.Move(c, &b); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	p, _ := tree.Parent(c)
	assert.Equal(t, *p, b)
	assert.Equal(t, len(tree.Children(&a)), 0)

	if err := tree.Move(a, &a); !errors.Is(err, ErrCyclicMove) {
		t.Fatalf("Move under itself: got %v, want ErrCyclicMove", err)
	}
	if err := tree.Move(a, &c); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if err := tree.Move(b, &a); !errors.Is(err, ErrCyclicMove) {
		t.Fatalf("Move under descendant: got %v, want ErrCyclicMove", err)
	}
	assert.Equal(t, tree.Nodes(), []TreeID{b, c, a})

	// reorder among siblings
	x, _ := tree.Create(nil)
	if err := tree.MoveTo(x, nil, 0); err != nil {
		t.Fatalf("MoveTo failed: %v", err)
	}
	assert.Equal(t, tree.Children(nil), []TreeID{x, b})
	if err := tree.Move(x, nil); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	assert.Equal(t, tree.Children(nil), []TreeID{b, x})
}

func TestTreeDelete(t *testing.T) {
	doc := newTestDoc(t, 1)
	tree := doc.GetTree("tree")
	a, _ := tree.Create(nil)
	b, _ := tree.Create(&a)

	if err := tree.Delete(a); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	assert.Equal(t, tree.Contains(a), false)
	assert.Equal(t, tree.Contains(b), false)
	if _, err := tree.Parent(b); !errors.Is(err, ErrTreeNodeNotFound) {
		t.Fatalf("Parent of deleted node: got %v, want ErrTreeNodeNotFound", err)
	}
	if err := tree.Delete(a); !errors.Is(err, ErrTreeNodeNotFound) {
		t.Fatalf("second Delete: got %v, want ErrTreeNodeNotFound", err)
	}
	if _, err := tree.Meta(b); !errors.Is(err, ErrTreeNodeNotFound) {
		t.Fatalf("Meta of deleted node: got %v, want ErrTreeNodeNotFound", err)
	}
}

func TestTreeConcurrentMovesDoNotCycle(t *testing.T) {
	a := newTestDoc(t, 1)
	tree := a.GetTree("tree")
	x, _ := tree.Create(nil)
	y, _ := tree.Create(nil)
	mustCommit(t, a)

	b := newTestDoc(t, 2)
	syncDocs(t, a, b)

	if err := tree.Move(x, &y); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	mustCommit(t, a)
	if err := b.GetTree("tree").Move(y, &x); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	mustCommit(t, b)

	syncDocs(t, a, b)
	syncDocs(t, b, a)

	for _, doc := range []*Doc{a, b} {
		tr := doc.GetTree("tree")
		px, err := tr.Parent(x)
		if err != nil {
			t.Fatalf("Parent failed: %v", err)
		}
		py, err := tr.Parent(y)
		if err != nil {
			t.Fatalf("Parent failed: %v", err)
		}
		// equal lamports: the lower peer's move applies first and the
		// other would close a cycle
		assert.Equal(t, *px, y)
		assert.Equal(t, py == nil, true)
	}
	assert.Equal(t, a.DeepValue(), b.DeepValue())
}

func TestTreeMeta(t *testing.T) {
	doc := newTestDoc(t, 1)
	tree := doc.GetTree("tree")
	node, _ := tree.Create(nil)
	meta, err := tree.Meta(node)
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	meta.Set("title", "hello")
	mustCommit(t, doc)

	path, ok := doc.PathTo(meta.ID())
	assert.Equal(t, ok, true)
	assert.Equal(t, path.Values(), []any{"tree", node.String()})

	value := tree.Value()
	assert.Equal(t, len(value), 1)
	item := value[0].(map[string]any)
	assert.Equal(t, item["id"], node.String())
	assert.Equal(t, item["parent"], nil)
	assert.Equal(t, item["index"], 0)
	assert.Equal(t, item["meta"], map[string]any{"title": "hello"})
}

func TestTreeEvents(t *testing.T) {
	doc := newTestDoc(t, 1)
	tree := doc.GetTree("tree")
	rec := &recorder{}
	tree.Subscribe(rec.record)

	a, _ := tree.Create(nil)
	b, _ := tree.Create(&a)
	mustCommit(t, doc)
	tree.Move(b, nil)
	mustCommit(t, doc)
	tree.Delete(a)
	mustCommit(t, doc)
	doc.Flush()

	batches := rec.all()
	assert.Equal(t, len(batches), 3)

	items := batches[0].Events[0].Diff.(*TreeDiff).Items
	assert.Equal(t, len(items), 2)
	assert.Equal(t, items[0].Target, a)
	assert.Equal(t, items[0].Action, TreeCreate)
	assert.Equal(t, items[1].Target, b)
	assert.Equal(t, *items[1].Parent, a)

	items = batches[1].Events[0].Diff.(*TreeDiff).Items
	assert.Equal(t, len(items), 1)
	assert.Equal(t, items[0].Action, TreeMove)
	assert.Equal(t, items[0].Parent == nil, true)
	assert.Equal(t, *items[0].OldParent, a)
	assert.Equal(t, items[0].Index, 1)

	items = batches[2].Events[0].Diff.(*TreeDiff).Items
	assert.Equal(t, len(items), 1)
	assert.Equal(t, items[0].Action, TreeDelete)
	assert.Equal(t, items[0].Target, a)
}

func TestTreeStateCache(t *testing.T) {
	s := newTreeStore()
	node := TreeID(NewID(1, 0))
	s.apply(NewID(1, 0), 0, &TreeOp{Action: TreeCreate, Target: node, Position: "a0"})
	s.apply(NewID(1, 1), 1, &TreeOp{Action: TreeDelete, Target: node})

	before, after := VersionVector{1: 1}, VersionVector{1: 2}
	first := s.stateAt(before)
	second := s.stateAt(after)
	// alternating versions reuse the replays
	assert.Equal(t, s.stateAt(before) == first, true)
	assert.Equal(t, s.stateAt(after) == second, true)
	assert.Equal(t, first.alive(node), true)
	assert.Equal(t, second.alive(node), false)

	s.apply(NewID(2, 0), 2, &TreeOp{Action: TreeCreate, Target: TreeID(NewID(2, 0)), Position: "a1"})
	assert.Equal(t, len(s.cache), 0)
}

func TestTextCommitSkipsTree(t *testing.T) {
	doc := newTestDoc(t, 1)
	rec := &recorder{}
	doc.Subscribe(rec.record)
	tree := doc.GetTree("tree")
	node, _ := tree.Create(nil)
	meta, err := tree.Meta(node)
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	meta.Set("title", "x")
	mustCommit(t, doc)

	doc.mu.Lock()
	cs, _ := doc.reg.get(tree.ID())
	clear(cs.tree.cache)
	doc.mu.Unlock()

	doc.GetText("text").Insert(0, "a")
	mustCommit(t, doc)
	doc.Flush()

	batches := rec.all()
	assert.Equal(t, len(batches), 2)
	assert.Equal(t, len(batches[1].Events), 1)
	doc.mu.Lock()
	assert.Equal(t, len(cs.tree.cache), 0)
	doc.mu.Unlock()
}
