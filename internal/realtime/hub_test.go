package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/consultcredit/internal/reputation"
	"github.com/mbd888/consultcredit/internal/usage"
)

func newTestHub(resolver fakeResolver) *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), resolver)
}

// fakeResolver maps the X-User header straight to a user ID.
type fakeResolver struct{}

func (fakeResolver) CurrentUser(r *http.Request) (string, error) {
	if u := r.Header.Get("X-User"); u != "" {
		return u, nil
	}
	return "", errors.New("no user")
}

func TestShouldSend_AllEvents(t *testing.T) {
	hub := newTestHub(fakeResolver{})
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventRankingRecomputed}
	if !hub.shouldSend(client, event) {
		t.Error("AllEvents subscription should receive public events")
	}
}

func TestShouldSend_PrivateEventsOnlyReachOwner(t *testing.T) {
	hub := newTestHub(fakeResolver{})
	owner := &Client{userID: "user_1", sub: Subscription{AllEvents: true}}
	other := &Client{userID: "user_2", sub: Subscription{AllEvents: true}}
	anon := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventUsageConsumed, UserID: "user_1"}
	if !hub.shouldSend(owner, event) {
		t.Error("owner should receive its own usage event")
	}
	if hub.shouldSend(other, event) {
		t.Error("another user must not receive the event")
	}
	if hub.shouldSend(anon, event) {
		t.Error("anonymous client must not receive private events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	hub := newTestHub(fakeResolver{})
	client := &Client{
		userID: "user_1",
		sub:    Subscription{EventTypes: []EventType{EventUsageReset}},
	}

	if !hub.shouldSend(client, &Event{Type: EventUsageReset, UserID: "user_1"}) {
		t.Error("should receive subscribed event type")
	}
	if hub.shouldSend(client, &Event{Type: EventUsageConsumed, UserID: "user_1"}) {
		t.Error("should not receive unsubscribed event type")
	}
	if hub.shouldSend(client, &Event{Type: EventRankingRecomputed}) {
		t.Error("should not receive ranking events when not subscribed")
	}
}

func TestShouldSend_MinTokensFilter(t *testing.T) {
	hub := newTestHub(fakeResolver{})
	client := &Client{userID: "user_1", sub: Subscription{MinTokens: 1000}}

	if hub.shouldSend(client, &Event{Type: EventUsageConsumed, UserID: "user_1", tokens: 900}) {
		t.Error("consumption below MinTokens should be filtered")
	}
	if !hub.shouldSend(client, &Event{Type: EventUsageConsumed, UserID: "user_1", tokens: 1080}) {
		t.Error("consumption above MinTokens should pass")
	}
	if !hub.shouldSend(client, &Event{Type: EventUsageToppedUp, UserID: "user_1"}) {
		t.Error("MinTokens only applies to consumption")
	}
}

func TestHub_Stats(t *testing.T) {
	hub := newTestHub(fakeResolver{})
	stats := hub.Stats()

	if stats["connectedClients"] != 0 {
		t.Errorf("expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"] != int64(0) {
		t.Errorf("expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := newTestHub(fakeResolver{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &Client{hub: hub, send: make(chan []byte, 8), sub: Subscription{AllEvents: true}}
	hub.register <- client
	waitFor(t, func() bool { return hub.Stats()["connectedClients"] == 1 })

	hub.unregister <- client
	waitFor(t, func() bool { return hub.Stats()["connectedClients"] == 0 })

	if _, ok := <-client.send; ok {
		t.Error("send channel should be closed after unregister")
	}
	if hub.Stats()["peakClients"] != int64(1) {
		t.Errorf("expected peak of 1, got %v", hub.Stats()["peakClients"])
	}
}

func TestHub_PublishUsageReachesOwner(t *testing.T) {
	hub := newTestHub(fakeResolver{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	owner := &Client{hub: hub, userID: "user_1", send: make(chan []byte, 8), sub: Subscription{AllEvents: true}}
	other := &Client{hub: hub, userID: "user_2", send: make(chan []byte, 8), sub: Subscription{AllEvents: true}}
	hub.register <- owner
	hub.register <- other

	hub.PublishUsage(usage.Event{
		Type:    usage.EventConsumed,
		UserID:  "user_1",
		Account: &usage.Account{UserID: "user_1", FreeAllowanceTotal: 7300, FreeAllowanceUsed: 900},
		Entries: []*usage.Entry{{Kind: usage.KindConsume, Tokens: 900, FromFree: 900}},
	})

	select {
	case msg := <-owner.send:
		var got Event
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("invalid payload: %v", err)
		}
		if got.Type != EventUsageConsumed || got.UserID != "user_1" {
			t.Errorf("unexpected event %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("owner did not receive usage event")
	}

	select {
	case msg := <-other.send:
		t.Errorf("other user received %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PublishRankingsTruncates(t *testing.T) {
	hub := newTestHub(fakeResolver{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	anon := &Client{hub: hub, send: make(chan []byte, 8), sub: Subscription{AllEvents: true}}
	hub.register <- anon

	entries := make([]reputation.RankEntry, 25)
	for i := range entries {
		entries[i] = reputation.RankEntry{Ranking: i + 1}
	}
	hub.PublishRankings(entries)

	select {
	case msg := <-anon.send:
		var got struct {
			Type EventType `json:"type"`
			Data struct {
				TotalExperts int               `json:"totalExperts"`
				Top          []json.RawMessage `json:"top"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("invalid payload: %v", err)
		}
		if got.Type != EventRankingRecomputed {
			t.Errorf("expected ranking event, got %s", got.Type)
		}
		if got.Data.TotalExperts != 25 {
			t.Errorf("expected 25 experts, got %d", got.Data.TotalExperts)
		}
		if len(got.Data.Top) != rankingPreview {
			t.Errorf("expected %d entries, got %d", rankingPreview, len(got.Data.Top))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("anonymous client did not receive ranking event")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	hub := newTestHub(fakeResolver{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop on context cancellation")
	}

	// Upgrades after shutdown are refused.
	w := httptest.NewRecorder()
	hub.HandleWebSocket(w, httptest.NewRequest("GET", "/v1/usage/stream", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after shutdown, got %d", w.Code)
	}
}

func TestHub_WebSocketResolvesUser(t *testing.T) {
	hub := newTestHub(fakeResolver{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	header := http.Header{}
	header.Set("X-User", "user_1")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	waitFor(t, func() bool { return hub.Stats()["connectedClients"] == 1 })

	hub.PublishUsage(usage.Event{Type: usage.EventToppedUp, UserID: "user_2"})
	hub.PublishUsage(usage.Event{Type: usage.EventToppedUp, UserID: "user_1"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if got.UserID != "user_1" {
		t.Errorf("expected only user_1 events, got %q", got.UserID)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
