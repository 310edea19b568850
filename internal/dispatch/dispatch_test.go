package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/taxi-dispatch/internal/models"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type collector struct {
	mu   sync.Mutex
	got  []models.Event
	gate chan struct{} // when set, Publish waits on it
	seen chan struct{}
}

func (c *collector) Name() string { return "collector" }

func (c *collector) Publish(_ context.Context, ev models.Event) error {
	if c.seen != nil {
		select {
		case c.seen <- struct{}{}:
		default:
		}
	}
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, ev)
	return nil
}

func (c *collector) events() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Event(nil), c.got...)
}

type failing struct{ panics bool }

func (f failing) Name() string { return "failing" }

func (f failing) Publish(context.Context, models.Event) error {
	if f.panics {
		panic("transport bug")
	}
	return errors.New("broker unreachable")
}

func rideEvent(id string, typ models.EventType) models.Event {
	return models.Event{Type: typ, RideID: id, PassengerID: "p1", DriverID: "d1", Status: models.StatusAccepted, Message: "m"}
}

func TestDispatcherFansOutInOrder(t *testing.T) {
	a, b := &collector{}, &collector{}
	d := New(quiet, 8, failing{}, a, failing{panics: true}, b)
	for _, id := range []string{"r1", "r2", "r3"} {
		d.Notify(rideEvent(id, models.EventAccepted))
	}
	d.Close()

	for _, c := range []*collector{a, b} {
		got := c.events()
		if len(got) != 3 {
			t.Fatalf("expected 3 events, got %d", len(got))
		}
		for i, id := range []string{"r1", "r2", "r3"} {
			if got[i].RideID != id {
				t.Fatalf("event %d: got %s, want %s", i, got[i].RideID, id)
			}
		}
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	c := &collector{gate: make(chan struct{}), seen: make(chan struct{}, 1)}
	d := New(quiet, 1, c)

	d.Notify(rideEvent("r1", models.EventRequested))
	select {
	case <-c.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first event")
	}

	done := make(chan struct{})
	go func() {
		d.Notify(rideEvent("r2", models.EventRequested)) // queued
		d.Notify(rideEvent("r3", models.EventRequested)) // dropped
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full queue")
	}

	close(c.gate)
	d.Close()
	got := c.events()
	if len(got) != 2 || got[0].RideID != "r1" || got[1].RideID != "r2" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
}

func TestNotifyAfterCloseIsDropped(t *testing.T) {
	c := &collector{}
	d := New(quiet, 1, c)
	d.Close()
	d.Close()
	d.Notify(rideEvent("late", models.EventCancelled))
	if len(c.events()) != 0 {
		t.Fatal("event delivered after Close")
	}
}

func TestRoutingKey(t *testing.T) {
	ev := models.Event{Status: models.StatusInProgress}
	if got := RoutingKey(ev); got != "ride.status.in_progress" {
		t.Fatalf("routing key = %q", got)
	}
}

func TestWebhookTransport(t *testing.T) {
	var got models.Event
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got.RideID == "bad" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh := NewWebhookTransport(srv.URL, "secret")
	if err := wh.Publish(context.Background(), rideEvent("r1", models.EventStarted)); err != nil {
		t.Fatal(err)
	}
	if got.RideID != "r1" || got.Type != models.EventStarted || auth != "Bearer secret" {
		t.Fatalf("unexpected delivery %+v auth=%q", got, auth)
	}
	if err := wh.Publish(context.Background(), rideEvent("bad", models.EventStarted)); err == nil {
		t.Fatal("expected error on non-2xx status")
	}
}

func TestWSRegistryDeliversToParties(t *testing.T) {
	reg := NewWSRegistry()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		reg.Serve(r.URL.Query().Get("id"), conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?id=p1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !reg.Connected("p1") {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// d1 is offline; that is not a delivery failure
	if err := reg.Publish(context.Background(), rideEvent("r1", models.EventAccepted)); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.RideID != "r1" || ev.Type != models.EventAccepted {
		t.Fatalf("unexpected event %+v", ev)
	}
	if err := reg.Send("nobody", ev); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}
