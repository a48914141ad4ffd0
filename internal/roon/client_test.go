package roon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roondisplay/internal/models"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func startCore(t *testing.T, handler func(*websocket.Conn)) *Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/api/v1/display") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(ts.Close)

	return New(strings.TrimPrefix(ts.URL, "http://"))
}

// readRegister consumes the register frame the client sends on connect
// and replies with a registered frame.
func readRegister(t *testing.T, conn *websocket.Conn) registerBody {
	t.Helper()
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Errorf("reading register: %v", err)
		return registerBody{}
	}
	if f.Name != "register" {
		t.Errorf("first frame = %q, want register", f.Name)
	}
	var body registerBody
	if err := json.Unmarshal(f.Body, &body); err != nil {
		t.Errorf("register body: %v", err)
	}
	regBody, _ := json.Marshal(registeredBody{
		CoreName: "Test Core",
		State:    json.RawMessage(`{"token":"abc"}`),
	})
	conn.WriteJSON(frame{Name: "registered", Body: regBody})
	return body
}

func sendFrame(t *testing.T, conn *websocket.Conn, name string, body any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	conn.WriteJSON(frame{Name: name, Body: data})
}

func nextEvent(t *testing.T, ch <-chan models.Event) models.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.Event{}
	}
}

func TestSubscribeRegistersAndStreamsZones(t *testing.T) {
	c := startCore(t, func(conn *websocket.Conn) {
		body := readRegister(t, conn)
		if body.ExtensionID != "roondisplay" {
			t.Errorf("extension_id = %q", body.ExtensionID)
		}

		// After registered the client subscribes to zones.
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Errorf("reading subscribe_zones: %v", err)
			return
		}
		if f.Name != "subscribe_zones" {
			t.Errorf("frame after registered = %q, want subscribe_zones", f.Name)
		}

		sendFrame(t, conn, "zones_changed", zonesChangedBody{
			Zones: []models.Zone{{ID: "z1", DisplayName: "Study", State: models.StatePlaying}},
		})
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	ev := nextEvent(t, ch)
	if ev.Kind != models.EventRegistered {
		t.Fatalf("first event kind = %q, want registered", ev.Kind)
	}
	if ev.CoreName != "Test Core" {
		t.Errorf("core name = %q", ev.CoreName)
	}

	ev = nextEvent(t, ch)
	if ev.Kind != models.EventCoreState {
		t.Fatalf("second event kind = %q, want core_state", ev.Kind)
	}
	if string(ev.CoreState) != `{"token":"abc"}` {
		t.Errorf("core state = %s", ev.CoreState)
	}

	ev = nextEvent(t, ch)
	if ev.Kind != models.EventZonesChanged {
		t.Fatalf("third event kind = %q, want zones_changed", ev.Kind)
	}
	if len(ev.Zones) != 1 || ev.Zones[0].ID != "z1" {
		t.Errorf("zones = %+v", ev.Zones)
	}
}

func TestSubscribeEmitsLostOnDisconnect(t *testing.T) {
	c := startCore(t, func(conn *websocket.Conn) {
		readRegister(t, conn)
		// Close right after registration to simulate a dropped core.
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	sawLost := false
	deadline := time.After(5 * time.Second)
	for !sawLost {
		select {
		case ev := <-ch:
			if ev.Kind == models.EventLost {
				sawLost = true
			}
		case <-deadline:
			t.Fatal("no lost event after disconnect")
		}
	}
}

func TestSubscribeReconnects(t *testing.T) {
	connectCount := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		connectCount++
		if connectCount == 1 {
			return // drop immediately to trigger reconnect
		}
		readRegister(t, conn)
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(ts.Close)

	c := New(strings.TrimPrefix(ts.URL, "http://"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	ev := nextEvent(t, ch)
	if ev.Kind != models.EventRegistered {
		t.Fatalf("event kind = %q, want registered", ev.Kind)
	}
	if connectCount < 2 {
		t.Errorf("expected at least 2 connections, got %d", connectCount)
	}
}

func TestReconnectForcesRedial(t *testing.T) {
	var mu sync.Mutex
	connects := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		connects++
		mu.Unlock()
		readRegister(t, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	c := New(strings.TrimPrefix(ts.URL, "http://"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if ev := nextEvent(t, ch); ev.Kind != models.EventRegistered {
		t.Fatalf("event kind = %q, want registered", ev.Kind)
	}

	c.Reconnect()

	if ev := nextEvent(t, ch); ev.Kind != models.EventLost {
		t.Fatalf("event kind = %q, want lost after reconnect kick", ev.Kind)
	}
	if ev := nextEvent(t, ch); ev.Kind != models.EventRegistered {
		t.Fatalf("event kind = %q, want registered after redial", ev.Kind)
	}

	mu.Lock()
	defer mu.Unlock()
	if connects < 2 {
		t.Errorf("expected at least 2 connections, got %d", connects)
	}
}

func TestRequestsFailWhenDisconnected(t *testing.T) {
	c := New("127.0.0.1:1")
	ctx := context.Background()

	if err := c.Control(ctx, "z1", "play"); !errors.Is(err, models.ErrNotConnected) {
		t.Errorf("Control err = %v, want ErrNotConnected", err)
	}
	if err := c.Seek(ctx, "z1", 30); !errors.Is(err, models.ErrNotConnected) {
		t.Errorf("Seek err = %v, want ErrNotConnected", err)
	}
	if err := c.SubscribeQueue(ctx, "z1", 50); !errors.Is(err, models.ErrNotConnected) {
		t.Errorf("SubscribeQueue err = %v, want ErrNotConnected", err)
	}
}

func TestControlRejectsUnknownCommand(t *testing.T) {
	c := New("127.0.0.1:1")
	err := c.Control(context.Background(), "z1", "rewind")
	if err == nil || errors.Is(err, models.ErrNotConnected) {
		t.Errorf("err = %v, want invalid control", err)
	}
}

func TestParseFrameDropsUnknownAndMalformed(t *testing.T) {
	if evs := parseFrame([]byte(`not json`)); evs != nil {
		t.Errorf("malformed frame produced events: %+v", evs)
	}
	if evs := parseFrame([]byte(`{"name":"browse_result","body":{}}`)); evs != nil {
		t.Errorf("unknown frame produced events: %+v", evs)
	}
	if evs := parseFrame([]byte(`{"name":"zones_changed","body":[1,2]}`)); evs != nil {
		t.Errorf("mistyped body produced events: %+v", evs)
	}
}

func TestParseFrameSeekAndQueue(t *testing.T) {
	pos := int64(42)
	data, _ := json.Marshal(zonesSeekBody{Seeks: []models.SeekUpdate{
		{ZoneID: "z1", SeekPosition: &pos, QueueTimeRemaining: 120},
	}})
	evs := parseFrame(mustFrame(t, "zones_seek_changed", data))
	if len(evs) != 1 || evs[0].Kind != models.EventZonesSeek {
		t.Fatalf("events = %+v", evs)
	}
	if evs[0].Seeks[0].ZoneID != "z1" || *evs[0].Seeks[0].SeekPosition != 42 {
		t.Errorf("seek = %+v", evs[0].Seeks[0])
	}

	data, _ = json.Marshal(queueChangesBody{Changes: []models.QueueChange{
		{Operation: models.QueueOpRemove, Index: 0, Count: 2},
	}})
	evs = parseFrame(mustFrame(t, "queue_changes", data))
	if len(evs) != 1 || evs[0].Kind != models.EventQueueChanges {
		t.Fatalf("events = %+v", evs)
	}
	if evs[0].QueueChanges[0].Count != 2 {
		t.Errorf("change = %+v", evs[0].QueueChanges[0])
	}
}

func mustFrame(t *testing.T, name string, body json.RawMessage) []byte {
	t.Helper()
	data, err := json.Marshal(frame{Name: name, Body: body})
	if err != nil {
		t.Fatal(err)
	}
	return data
}
