package trellis

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

// recorder collects delivered batches.
type recorder struct {
	mu      sync.Mutex
	batches []*EventBatch
}

func (r *recorder) record(b *EventBatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
}

func (r *recorder) all() []*EventBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*EventBatch(nil), r.batches...)
}

func TestEventsBundlePerCommit(t *testing.T) {
	doc := newTestDoc(t, 1)
	rec := &recorder{}
	doc.Subscribe(rec.record)

	text := doc.GetText("text")
	list := doc.GetList("list")
	m := doc.GetMap("map")
	text.Insert(0, "hello")
	text.Insert(5, " world")
	list.Push(1)
	list.Push(2)
	m.Set("k", "v")
	mustCommit(t, doc)
	doc.Flush()

	batches := rec.all()
	assert.Equal(t, len(batches), 1)
	batch := batches[0]
	assert.Equal(t, batch.By, Local)
	assert.Equal(t, batch.From, Frontiers(nil))
	assert.Equal(t, batch.To, Frontiers{NewID(1, 13)})
	assert.Equal(t, len(batch.Events), 3)

	assert.Equal(t, batch.Events[0].Target, text.ID())
	assert.Equal(t, batch.Events[0].Diff.(*TextDiff).Ops, []TextDelta{{Insert: "hello world"}})
	assert.Equal(t, batch.Events[1].Target, list.ID())
	assert.Equal(t, batch.Events[1].Diff.(*ListDiff).Ops, []ListDelta{{Insert: []any{int64(1), int64(2)}}})
	assert.Equal(t, batch.Events[2].Target, m.ID())
	assert.Equal(t, batch.Events[2].Diff.(*MapDiff).Updated, map[string]any{"k": "v"})
	assert.Equal(t, batch.Events[2].Path.Values(), []any{"map"})
}

func TestTextDiffUsesUTF16(t *testing.T) {
	doc := newTestDoc(t, 1)
	text := doc.GetText("text")

	var mu sync.Mutex
	shadow := ""
	var last []TextDelta
	text.Subscribe(func(b *EventBatch) {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range b.Events {
			d := e.Diff.(*TextDiff)
			shadow = d.ApplyTo(shadow)
			last = d.Ops
		}
	})
	check := func(want string, ops []TextDelta) {
		t.Helper()
		mustCommit(t, doc)
		doc.Flush()
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, text.String(), want)
		assert.Equal(t, shadow, want)
		if ops != nil {
			assert.Equal(t, last, ops)
		}
	}

	text.Insert(0, "你好")
	check("你好", []TextDelta{{Insert: "你好"}})

	text.Insert(1, "👍")
	check("你👍好", []TextDelta{{Retain: 1}, {Insert: "👍"}})

	text.Insert(2, "x")
	check("你👍x好", []TextDelta{{Retain: 3}, {Insert: "x"}})

	text.Delete(1, 1)
	check("你x好", []TextDelta{{Retain: 1}, {Delete: 2}})

	text.Insert(3, "♪(^∇^*)")
	check("你x好♪(^∇^*)", []TextDelta{{Retain: 3}, {Insert: "♪(^∇^*)"}})

	// utf-16 addressing on the handle agrees with the events
	if err := text.InsertUTF16(0, "👍"); err != nil {
		t.Fatalf("InsertUTF16 failed: %v", err)
	}
	if err := text.InsertUTF16(1, "x"); err == nil {
		t.Fatalf("InsertUTF16 inside a surrogate pair should fail")
	}
	check("👍你x好♪(^∇^*)", nil)
	assert.Equal(t, text.LenUTF16(), 12)
	assert.Equal(t, text.Len(), 11)
}

func TestEventPaths(t *testing.T) {
	doc := newTestDoc(t, 1)
	rec := &recorder{}
	doc.Subscribe(rec.record)

	root := doc.GetMap("map")
	c, err := root.SetContainer("sub", MapType)
	if err != nil {
		t.Fatalf("SetContainer failed: %v", err)
	}
	sub := c.(*Map)
	c, err = sub.SetContainer("list", ListType)
	if err != nil {
		t.Fatalf("SetContainer failed: %v", err)
	}
	list := c.(*List)
	list.Push("a")
	c, err = list.InsertContainer(1, TextType)
	if err != nil {
		t.Fatalf("InsertContainer failed: %v", err)
	}
	inner := c.(*Text)
	inner.Insert(0, "x")
	mustCommit(t, doc)
	doc.Flush()

	batches := rec.all()
	assert.Equal(t, len(batches), 1)
	events := batches[0].Events
	assert.Equal(t, len(events), 4)
	assert.Equal(t, events[0].Path.Values(), []any{"map"})
	assert.Equal(t, events[1].Path.Values(), []any{"map", "sub"})
	assert.Equal(t, events[2].Path.Values(), []any{"map", "sub", "list"})
	assert.Equal(t, events[3].Path.Values(), []any{"map", "sub", "list", 1})
	assert.Equal(t, events[3].Target, inner.ID())

	// inserted containers arrive as live handles
	updated := events[0].Diff.(*MapDiff).Updated
	assert.Equal(t, updated["sub"].(*Map).ID(), sub.ID())
	ops := events[2].Diff.(*ListDiff).Ops
	assert.Equal(t, ops[0].Insert[0], "a")
	assert.Equal(t, ops[0].Insert[1].(*Text).String(), "x")

	path, ok := doc.PathTo(inner.ID())
	assert.Equal(t, ok, true)
	assert.Equal(t, path.String(), "map/sub/list/1")
}

func TestContainerSubscription(t *testing.T) {
	doc := newTestDoc(t, 1)
	root := doc.GetMap("map")
	c, _ := root.SetContainer("sub", MapType)
	sub := c.(*Map)
	mustCommit(t, doc)

	deep := &recorder{}
	sub.Subscribe(deep.record)
	other := &recorder{}
	doc.GetText("other").Subscribe(other.record)

	root.Set("top", 1)
	c, _ = sub.SetContainer("list", ListType)
	c.(*List).Push("a")
	mustCommit(t, doc)
	doc.Flush()

	batches := deep.all()
	assert.Equal(t, len(batches), 1)
	targets := []ContainerID{}
	for _, e := range batches[0].Events {
		targets = append(targets, e.Target)
	}
	assert.Equal(t, targets, []ContainerID{sub.ID(), c.ID()})
	assert.Equal(t, len(other.all()), 0)
}

func TestUnsubscribe(t *testing.T) {
	doc := newTestDoc(t, 1)
	rec := &recorder{}
	s := doc.Subscribe(rec.record)
	text := doc.GetText("text")

	text.Insert(0, "a")
	mustCommit(t, doc)
	doc.Flush()
	assert.Equal(t, len(rec.all()), 1)

	s.Unsubscribe()
	s.Unsubscribe()
	text.Insert(1, "b")
	mustCommit(t, doc)
	doc.Flush()
	assert.Equal(t, len(rec.all()), 1)
}

func TestUnsubscribeKeepsQueuedBatch(t *testing.T) {
	doc := newTestDoc(t, 1)
	rec := &recorder{}
	s := doc.Subscribe(rec.record)

	doc.GetText("text").Insert(0, "a")
	mustCommit(t, doc)
	s.Unsubscribe()
	doc.Flush()
	assert.Equal(t, len(rec.all()), 1)
}

func TestSubscriberPanicDoesNotStopDelivery(t *testing.T) {
	doc := newTestDoc(t, 1)
	doc.Subscribe(func(*EventBatch) {
		panic("subscriber failure")
	})
	rec := &recorder{}
	doc.Subscribe(rec.record)

	doc.GetText("text").Insert(0, "a")
	mustCommit(t, doc)
	doc.GetText("text").Insert(1, "b")
	mustCommit(t, doc)
	doc.Flush()
	assert.Equal(t, len(rec.all()), 2)
}

func TestEditFromEventHandler(t *testing.T) {
	doc := newTestDoc(t, 1)
	list := doc.GetList("list")

	var mu sync.Mutex
	seen := 0
	doc.Subscribe(func(b *EventBatch) {
		mu.Lock()
		seen++
		first := seen == 1
		mu.Unlock()
		if !first {
			return
		}
		for _, e := range b.Events {
			ld, ok := e.Diff.(*ListDiff)
			if !ok {
				continue
			}
			for _, op := range ld.Ops {
				for _, v := range op.Insert {
					if m, ok := v.(*Map); ok {
						m.Set("touched", true)
						doc.Commit()
					}
				}
			}
		}
	})

	c, err := list.InsertContainer(0, MapType)
	if err != nil {
		t.Fatalf("InsertContainer failed: %v", err)
	}
	mustCommit(t, doc)
	// the handler's own commit is queued behind the first flush marker
	doc.Flush()
	doc.Flush()

	mu.Lock()
	assert.Equal(t, seen, 2)
	mu.Unlock()
	v, ok := c.(*Map).Get("touched")
	assert.Equal(t, ok, true)
	assert.Equal(t, v, true)
}

func TestImportEventsCarryOrigin(t *testing.T) {
	a := newTestDoc(t, 1)
	a.GetMap("map").Set("k", "v")
	mustCommit(t, a)
	update, _ := a.ExportFrom(NewVersionVector())

	b := newTestDoc(t, 2)
	rec := &recorder{}
	b.Subscribe(rec.record)
	if _, err := b.ImportWith(update, "sync"); err != nil {
		t.Fatalf("ImportWith failed: %v", err)
	}
	b.Flush()

	batches := rec.all()
	assert.Equal(t, len(batches), 1)
	assert.Equal(t, batches[0].By, Import)
	assert.Equal(t, batches[0].Origin, "sync")
	assert.Equal(t, batches[0].To, Frontiers{NewID(1, 0)})
}

func TestCheckoutEvents(t *testing.T) {
	doc := newTestDoc(t, 1)
	text := doc.GetText("text")
	text.Insert(0, "abc")
	mustCommit(t, doc)
	f := doc.OplogFrontiers()
	text.Insert(3, "def")
	mustCommit(t, doc)

	var mu sync.Mutex
	shadow := text.String()
	var kinds []TriggerKind
	doc.Subscribe(func(b *EventBatch) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, b.By)
		for _, e := range b.Events {
			shadow = e.Diff.(*TextDiff).ApplyTo(shadow)
		}
	})

	if err := doc.Checkout(f); err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	doc.Flush()
	mu.Lock()
	assert.Equal(t, shadow, "abc")
	mu.Unlock()

	if err := doc.Checkout(Frontiers{}); err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	doc.Flush()
	mu.Lock()
	assert.Equal(t, shadow, "")
	mu.Unlock()

	if err := doc.CheckoutToLatest(); err != nil {
		t.Fatalf("CheckoutToLatest failed: %v", err)
	}
	doc.Flush()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, shadow, "abcdef")
	assert.Equal(t, kinds, []TriggerKind{Checkout, Checkout, Checkout})
}

func TestSubscriptionsSurviveGC(t *testing.T) {
	doc := newTestDoc(t, 1)
	var batches, updates atomic.Int32
	// the subscriptions are not held
	doc.Subscribe(func(*EventBatch) {
		batches.Add(1)
	})
	doc.SubscribeLocalUpdates(func([]byte) {
		updates.Add(1)
	})

	text := doc.GetText("text")
	for i := 0; i < 5; i++ {
		text.Insert(i, "a")
		runtime.GC()
		mustCommit(t, doc)
		runtime.GC()
		doc.Flush()
		assert.Equal(t, batches.Load(), int32(i+1))
		assert.Equal(t, updates.Load(), int32(i+1))
	}
}

func TestDroppedDocReleasesDispatcher(t *testing.T) {
	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		doc, err := New(DocOptions{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		doc.Subscribe(func(*EventBatch) {})
		doc.GetText("text").Insert(0, "x")
		if _, err := doc.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		doc.Flush()
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		runtime.GC()
		n := runtime.NumGoroutine()
		if n <= before {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("goroutines: %d before, %d after dropping the docs", before, n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
