package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"repchain/core/events"
	"repchain/core/types"
)

const (
	wsWriteTimeout     = 10 * time.Second
	defaultEventBuffer = 64
)

// EventHub fans mining events out to websocket subscribers. A subscriber
// that falls a full buffer behind is disconnected.
type EventHub struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	buffer int
}

type subscription struct {
	ch     chan types.Event
	filter map[string]struct{}
}

func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &EventHub{subs: make(map[*subscription]struct{}), buffer: buffer}
}

// Emit implements events.Emitter.
func (h *EventHub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	rendered := events.Render(evt)
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if len(sub.filter) > 0 {
			if _, ok := sub.filter[rendered.Type]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- rendered:
		default:
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

// Subscribe returns a channel of events restricted to eventTypes (all when
// empty). The channel is closed by cancel or when the subscriber lags.
func (h *EventHub) Subscribe(eventTypes ...string) (<-chan types.Event, func()) {
	sub := &subscription{ch: make(chan types.Event, h.buffer)}
	if len(eventTypes) > 0 {
		sub.filter = make(map[string]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			sub.filter[t] = struct{}{}
		}
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

func (h *EventHub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func splitTypes(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	updates, cancel := s.events.Subscribe(splitTypes(r.URL.Query().Get("types"))...)
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-updates:
			if !ok {
				_ = conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// SubscribeEvents streams events from the arbiter at endpoint (its HTTP
// JSON-RPC URL) into fn until ctx ends or the connection drops.
func SubscribeEvents(ctx context.Context, endpoint string, eventTypes []string, fn func(types.Event)) error {
	target, err := eventsURL(endpoint, eventTypes)
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("rpc: dial events: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var evt types.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return fmt.Errorf("rpc: decode event: %w", err)
		}
		fn(evt)
	}
}

func eventsURL(endpoint string, eventTypes []string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("rpc: events endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("rpc: unsupported events scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	if len(eventTypes) > 0 {
		u.RawQuery = url.Values{"types": {strings.Join(eventTypes, ",")}}.Encode()
	}
	return u.String(), nil
}
