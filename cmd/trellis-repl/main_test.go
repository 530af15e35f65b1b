package main

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/phroun/trellis"
)

func TestEventsToggleWhileDelivering(t *testing.T) {
	peer := trellis.PeerID(1)
	doc, err := trellis.New(trellis.DocOptions{PeerID: &peer})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer doc.Close()

	r := &REPL{docs: []*trellis.Doc{doc}}
	r.watch(0, doc)

	text := doc.GetText("text")
	for i := 0; i < 20; i++ {
		text.Insert(i, "x")
		if _, err := doc.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		if i%2 == 0 {
			r.handleCommand("events on")
		} else {
			r.handleCommand("events off")
		}
	}
	doc.Flush()
	assert.Equal(t, r.events.Load(), false)

	r.handleCommand("events maybe")
	assert.Equal(t, r.events.Load(), false)
	r.handleCommand("events on")
	assert.Equal(t, r.events.Load(), true)
}
