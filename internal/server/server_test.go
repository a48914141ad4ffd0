package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roondisplay/internal/images"
	"roondisplay/internal/models"
)

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	srv, engine := newTestServer(t)
	engine.connected = true
	engine.coreName = "Living Room Core"

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Connected || resp.CoreName != "Living Room Core" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleStatusDisconnected(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var resp statusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Connected {
		t.Error("expected disconnected status")
	}
	if resp.CoreName != "" {
		t.Errorf("core name = %q, want empty", resp.CoreName)
	}
}

func TestHandleZones(t *testing.T) {
	srv, engine := newTestServer(t)
	engine.zones = []models.Zone{
		{
			ID: "z1", DisplayName: "Study", State: models.StatePlaying,
			Outputs: []models.Output{{OutputID: "o1", DisplayName: "Study Speaker"}},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/zones", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var resp zonesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Zones) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	z := resp.Zones[0]
	if z.ZoneID != "z1" || z.State != "Playing" || len(z.Devices) != 1 || z.Devices[0] != "Study Speaker" {
		t.Errorf("zone = %+v", z)
	}
}

func TestHandleNowPlayingFiltersIdleZones(t *testing.T) {
	srv, engine := newTestServer(t)
	engine.views = []models.ZoneView{
		{ZoneID: "z1", ZoneName: "Study", State: "Playing", Track: "Song"},
		{ZoneID: "z2", ZoneName: "Kitchen", State: "Stopped"},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/now-playing", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var resp nowPlayingResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.NowPlaying[0].ZoneID != "z1" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleQueue(t *testing.T) {
	srv, engine := newTestServer(t)
	engine.queue = []models.QueueItem{
		{QueueItemID: 7, ThreeLine: models.ThreeLine{Line1: "Track", Line2: "Artist"}, Length: 240},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/queue/z1", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp queueResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("items = %+v", resp.Items)
	}
	item := resp.Items[0]
	if item.QueueItemID != 7 || item.Title != "Track" || item.Artist != "Artist" || item.Length != 240 {
		t.Errorf("item = %+v", item)
	}
}

func TestHandleQueueNotConnected(t *testing.T) {
	srv, engine := newTestServer(t)
	engine.queueErr = models.ErrNotConnected

	req := httptest.NewRequest(http.MethodGet, "/api/queue/z1", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandleControl(t *testing.T) {
	srv, engine := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/control/z1", strings.NewReader(`{"control":"playpause"}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(engine.controls) != 1 || engine.controls[0] != "z1:playpause" {
		t.Errorf("controls = %v", engine.controls)
	}
}

func TestHandleControlBadBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/control/z1", strings.NewReader(`{bad`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleControlNotConnected(t *testing.T) {
	srv, engine := newTestServer(t)
	engine.actErr = models.ErrNotConnected

	req := httptest.NewRequest(http.MethodPost, "/api/control/z1", strings.NewReader(`{"control":"play"}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandleReconnect(t *testing.T) {
	rc := &stubReconnector{}
	srv := NewServer(newStubEngine(), WithReconnector(rc))

	req := httptest.NewRequest(http.MethodPost, "/api/reconnect", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if rc.count() != 1 {
		t.Errorf("reconnect kicked %d times, want 1", rc.count())
	}
}

func TestHandleReconnectUnavailable(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/reconnect", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandleMuteUnknownZone(t *testing.T) {
	srv, engine := newTestServer(t)
	engine.actErr = models.ErrZoneNotFound

	req := httptest.NewRequest(http.MethodPost, "/api/mute/zX", strings.NewReader(`{"mute":true}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleSeekAndPlayFromQueue(t *testing.T) {
	srv, engine := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/seek/z1", strings.NewReader(`{"seconds":90}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("seek: expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/play-from-queue/z1", strings.NewReader(`{"queue_item_id":12}`))
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("play-from-queue: expected 200, got %d", w.Code)
	}

	if len(engine.seeks) != 1 || engine.seeks[0] != 90 {
		t.Errorf("seeks = %v", engine.seeks)
	}
	if len(engine.plays) != 1 || engine.plays[0] != 12 {
		t.Errorf("plays = %v", engine.plays)
	}
}

func TestHandleImageCached(t *testing.T) {
	srv, engine := newTestServer(t)
	engine.image = images.Entry{ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}}
	engine.imageOK = true

	req := httptest.NewRequest(http.MethodGet, "/image/img-1", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Errorf("cache control = %q", cc)
	}
	if w.Body.Len() != 2 {
		t.Errorf("body length = %d", w.Body.Len())
	}
}

func TestHandleImageMiss(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/image/missing", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestWSPushesConnectionStatusThenBroadcasts(t *testing.T) {
	engine := newStubEngine()
	engine.connected = true
	srv := NewServer(engine)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first models.Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != models.MessageConnectionChanged || first.Connected == nil || !*first.Connected {
		t.Errorf("first frame = %+v, want connection_changed true", first)
	}

	engine.broker.Publish(models.ZonesChangedMessage([]models.ZoneView{
		{ZoneID: "z1", ZoneName: "Study", State: "Playing"},
	}))

	var second models.Message
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatal(err)
	}
	if second.Type != models.MessageZonesChanged || len(second.NowPlaying) != 1 {
		t.Errorf("second frame = %+v", second)
	}
}
