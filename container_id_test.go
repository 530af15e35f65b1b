package trellis

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestContainerIDString(t *testing.T) {
	tests := []struct {
		id   ContainerID
		want string
	}{
		{RootContainerID("list", ListType), "cid:root-list:List"},
		{RootContainerID("a:b", MapType), "cid:root-a:b:Map"},
		{NormalContainerID(NewID(7, 3), TextType), "cid:3@7:Text"},
		{NormalContainerID(NewID(1, 0), TreeType), "cid:0@1:Tree"},
	}
	for _, tt := range tests {
		if got := tt.id.String(); got != tt.want {
			t.Fatalf("String: got %q, want %q", got, tt.want)
		}
		parsed, err := ParseContainerID(tt.want)
		if err != nil {
			t.Fatalf("ParseContainerID(%q) failed: %v", tt.want, err)
		}
		assert.Equal(t, parsed, tt.id)
	}
	assert.Equal(t, RootContainerID("x", TextType).IsRoot(), true)
	assert.Equal(t, ContainerID{}.IsZero(), true)
}

func TestParseContainerIDErrors(t *testing.T) {
	for _, s := range []string{"", "cid:", "root-x:Text", "cid:root-:Text", "cid:root-x:Blob", "cid:1@@2:Map", "cid:x"} {
		if _, err := ParseContainerID(s); !errors.Is(err, ErrInvalidContainerID) {
			t.Fatalf("ParseContainerID(%q): got %v, want ErrInvalidContainerID", s, err)
		}
	}
}

func TestContainerIDJSON(t *testing.T) {
	in := map[string]ContainerID{"c": NormalContainerID(NewID(2, 9), MapType)}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	assert.Equal(t, string(b), `{"c":"cid:9@2:Map"}`)

	var out map[string]ContainerID
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	assert.Equal(t, out, in)
}

func TestPathValues(t *testing.T) {
	node := TreeID(NewID(4, 2))
	p := Path{Key("doc"), Seq(3), Node(node)}
	assert.Equal(t, p.Values(), []any{"doc", 3, "2@4"})
	assert.Equal(t, p.String(), "doc/3/2@4")

	parsed, err := ParseTreeID("2@4")
	if err != nil {
		t.Fatalf("ParseTreeID failed: %v", err)
	}
	assert.Equal(t, parsed, node)
}
