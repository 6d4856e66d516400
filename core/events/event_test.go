package events

import (
	"testing"

	"repchain/core/types"
)

type bare struct{}

func (bare) EventType() string { return "bare" }

type recorder struct{ got []string }

func (r *recorder) Emit(evt Event) { r.got = append(r.got, evt.EventType()) }

func TestRender(t *testing.T) {
	plain := &types.Event{Type: "plain", Attributes: map[string]string{"k": "v"}}
	if got := Render(plain); got.Type != "plain" || got.Attributes["k"] != "v" {
		t.Fatalf("plain event rendered as %+v", got)
	}
	if got := Render(CycleRetried{Cycle: 2, Attempt: 1}); got.Attributes["attempt"] != "1" {
		t.Fatalf("typed event rendered as %+v", got)
	}
	if got := Render(bare{}); got.Type != "bare" || got.Attributes != nil {
		t.Fatalf("bare event rendered as %+v", got)
	}
	if got := Render(nil); got.Type != "" {
		t.Fatalf("nil event rendered as %+v", got)
	}
}

func TestFanoutSkipsNil(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Fanout{a, nil, b}.Emit(bare{})
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("fanout delivered %v %v", a.got, b.got)
	}
}
