package rpc

import (
	"context"
	"testing"
	"time"

	"repchain/consensus/mining"
	"repchain/core/events"
	"repchain/core/types"
	"repchain/native/reputation"
)

func TestEventHubFiltersAndDropsLaggards(t *testing.T) {
	hub := NewEventHub(1)
	all, cancelAll := hub.Subscribe()
	defer cancelAll()
	retries, cancelRetries := hub.Subscribe(events.TypeCycleRetried)
	defer cancelRetries()

	hub.Emit(events.CycleConfirmed{Cycle: 3})
	select {
	case evt := <-all:
		if evt.Type != events.TypeCycleConfirmed || evt.Attributes["cycle"] != "3" {
			t.Fatalf("unexpected event %+v", evt)
		}
	default:
		t.Fatalf("unfiltered subscriber got nothing")
	}
	select {
	case evt := <-retries:
		t.Fatalf("filtered subscriber got %+v", evt)
	default:
	}

	// Two undrained events overflow a buffer of one.
	hub.Emit(events.CycleRetried{Cycle: 3, Attempt: 1})
	hub.Emit(events.CycleRetried{Cycle: 3, Attempt: 2})
	<-retries
	if _, ok := <-retries; ok {
		t.Fatalf("lagging subscriber should have been closed")
	}
	if n := hub.subscribers(); n != 1 {
		t.Fatalf("expected the drained subscriber to stay, have %d", n)
	}
}

func TestEventStreamOverWebsocket(t *testing.T) {
	hub := NewEventHub(0)
	h := newHarness(t, Config{Events: hub}, mining.WithEmitter(hub))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan types.Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- SubscribeEvents(ctx, h.srv.URL, []string{reputation.EventTypeUpdateLogged}, func(evt types.Event) {
			received <- evt
		})
	}()
	deadline := time.Now().Add(2 * time.Second)
	for hub.subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("websocket subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	params := AppendUpdateParams{Colony: "0x00000000000000000000000000000000000c0101", Skill: 2, Amount: "9"}
	if err := h.admin().Call(ctx, MethodAppendUpdate, params, nil, false); err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case evt := <-received:
		if evt.Type != reputation.EventTypeUpdateLogged || evt.Attributes["amount"] != "9" || evt.Attributes["cycle"] != "1" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case err := <-done:
		t.Fatalf("stream ended early: %v", err)
	case <-ctx.Done():
		t.Fatalf("no event received")
	}
}

func TestEventsURL(t *testing.T) {
	got, err := eventsURL("https://arbiter.example:8547/", []string{"a", "b"})
	if err != nil {
		t.Fatalf("events url: %v", err)
	}
	if got != "wss://arbiter.example:8547/ws?types=a%2Cb" {
		t.Fatalf("unexpected url %s", got)
	}
	if _, err := eventsURL("ftp://x", nil); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}
