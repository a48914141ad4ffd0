// Package roon implements the WebSocket transport to the core: it
// registers the display as an extension, subscribes to zone updates and
// translates incoming frames into the event stream the reconciler
// consumes. Outgoing control requests share the same connection.
package roon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"roondisplay/internal/models"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 10 * time.Second
	maxBackoff   = 30 * time.Second
)

// frame is the wire envelope in both directions. Requests carry a
// request_id for correlation; unsolicited core events leave it empty.
type frame struct {
	RequestID string          `json:"request_id,omitempty"`
	Name      string          `json:"name"`
	Body      json.RawMessage `json:"body,omitempty"`
}

type registerBody struct {
	ExtensionID string          `json:"extension_id"`
	DisplayName string          `json:"display_name"`
	Version     string          `json:"version"`
	State       json.RawMessage `json:"state,omitempty"`
}

type registeredBody struct {
	CoreName string          `json:"core_name"`
	State    json.RawMessage `json:"state,omitempty"`
}

type zonesChangedBody struct {
	Zones []models.Zone `json:"zones"`
}

type zonesRemovedBody struct {
	ZoneIDs []string `json:"zone_ids"`
}

type zonesSeekBody struct {
	Seeks []models.SeekUpdate `json:"seeks"`
}

type queueBody struct {
	Items []models.QueueItem `json:"items"`
}

type queueChangesBody struct {
	Changes []models.QueueChange `json:"changes"`
}

type imageBody struct {
	ImageKey    string `json:"image_key"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

type errorBody struct {
	Message string `json:"message"`
}

// Client maintains the connection to a core. One Client serves both
// directions: Subscribe starts the read loop feeding the event channel,
// and the request methods write on the same connection.
type Client struct {
	addr        string
	displayName string

	mu    sync.Mutex
	conn  *websocket.Conn
	state json.RawMessage // pairing blob, refreshed on every registration
}

type Option func(*Client)

// WithDisplayName sets the name this display registers under.
func WithDisplayName(name string) Option {
	return func(c *Client) { c.displayName = name }
}

// WithState seeds the saved pairing blob so a restart reconnects
// without re-authorization.
func WithState(blob []byte) Option {
	return func(c *Client) {
		if json.Valid(blob) {
			c.state = json.RawMessage(blob)
		}
	}
}

// New creates a client for the core at addr (host:port).
func New(addr string, opts ...Option) *Client {
	c := &Client{
		addr:        addr,
		displayName: "Remote Display",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe connects to the core and returns the ordered event stream.
// The connection is retried with exponential backoff until ctx is
// cancelled; the channel closes when the loop exits.
func (c *Client) Subscribe(ctx context.Context) (<-chan models.Event, error) {
	ch := make(chan models.Event, 16)
	go c.wsLoop(ctx, ch)
	return ch, nil
}

func (c *Client) wsLoop(ctx context.Context, ch chan<- models.Event) {
	defer close(ch)
	backoff := time.Second

	for {
		start := time.Now()
		err := c.wsConnect(ctx, ch)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("core ws %s: %v", c.addr, err)
		}
		if time.Since(start) > time.Minute {
			// The session was healthy; don't punish the redial.
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

func (c *Client) wsConnect(ctx context.Context, ch chan<- models.Event) error {
	wsURL := "ws://" + c.addr + "/api/v1/display"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	registered := false
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		if registered {
			select {
			case ch <- models.Event{Kind: models.EventLost}:
			case <-ctx.Done():
			}
		}
	}()

	if err := c.sendRegister(); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	// Ping goroutine
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(
					websocket.PingMessage, nil,
					time.Now().Add(writeTimeout),
				); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		events := parseFrame(msg)
		for _, ev := range events {
			if ev.Kind == models.EventRegistered {
				registered = true
				c.rememberState(msg)
				if err := c.send(frame{Name: "subscribe_zones", RequestID: uuid.NewString()}); err != nil {
					return fmt.Errorf("subscribe zones: %w", err)
				}
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// rememberState extracts the pairing blob from a registered frame so the
// next reconnect reuses the authorized token.
func (c *Client) rememberState(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return
	}
	var body registeredBody
	if err := json.Unmarshal(f.Body, &body); err != nil {
		return
	}
	if len(body.State) > 0 {
		c.mu.Lock()
		c.state = body.State
		c.mu.Unlock()
	}
}

// parseFrame translates one wire frame into events. Frames that fail to
// decode are logged and dropped; the stream keeps flowing.
func parseFrame(data []byte) []models.Event {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("core ws: malformed frame: %v", err)
		return nil
	}

	switch f.Name {
	case "core_found":
		var body registeredBody
		if err := json.Unmarshal(f.Body, &body); err != nil {
			log.Printf("core ws: malformed core_found body: %v", err)
			return nil
		}
		return []models.Event{{Kind: models.EventDiscovered, CoreName: body.CoreName}}

	case "registered":
		var body registeredBody
		if err := json.Unmarshal(f.Body, &body); err != nil {
			log.Printf("core ws: malformed registered body: %v", err)
			return nil
		}
		events := []models.Event{{Kind: models.EventRegistered, CoreName: body.CoreName}}
		if len(body.State) > 0 {
			events = append(events, models.Event{Kind: models.EventCoreState, CoreState: body.State})
		}
		return events

	case "zones_changed":
		var body zonesChangedBody
		if err := json.Unmarshal(f.Body, &body); err != nil {
			log.Printf("core ws: malformed zones_changed body: %v", err)
			return nil
		}
		return []models.Event{{Kind: models.EventZonesChanged, Zones: body.Zones}}

	case "zones_removed":
		var body zonesRemovedBody
		if err := json.Unmarshal(f.Body, &body); err != nil {
			log.Printf("core ws: malformed zones_removed body: %v", err)
			return nil
		}
		return []models.Event{{Kind: models.EventZonesRemoved, RemovedIDs: body.ZoneIDs}}

	case "zones_seek_changed":
		var body zonesSeekBody
		if err := json.Unmarshal(f.Body, &body); err != nil {
			log.Printf("core ws: malformed zones_seek_changed body: %v", err)
			return nil
		}
		return []models.Event{{Kind: models.EventZonesSeek, Seeks: body.Seeks}}

	case "queue":
		var body queueBody
		if err := json.Unmarshal(f.Body, &body); err != nil {
			log.Printf("core ws: malformed queue body: %v", err)
			return nil
		}
		return []models.Event{{Kind: models.EventQueueSnapshot, QueueItems: body.Items}}

	case "queue_changes":
		var body queueChangesBody
		if err := json.Unmarshal(f.Body, &body); err != nil {
			log.Printf("core ws: malformed queue_changes body: %v", err)
			return nil
		}
		return []models.Event{{Kind: models.EventQueueChanges, QueueChanges: body.Changes}}

	case "image":
		var body imageBody
		if err := json.Unmarshal(f.Body, &body); err != nil {
			log.Printf("core ws: malformed image body: %v", err)
			return nil
		}
		return []models.Event{{
			Kind:             models.EventImage,
			ImageKey:         body.ImageKey,
			ImageContentType: body.ContentType,
			ImageData:        body.Data,
		}}

	case "error":
		var body errorBody
		if err := json.Unmarshal(f.Body, &body); err != nil {
			log.Printf("core ws: malformed error body: %v", err)
			return nil
		}
		return []models.Event{{Kind: models.EventError, Err: fmt.Errorf("core: %s", body.Message)}}

	default:
		log.Printf("core ws: unknown frame %q, dropping", f.Name)
		return nil
	}
}

func (c *Client) sendRegister() error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	body, err := json.Marshal(registerBody{
		ExtensionID: "roondisplay",
		DisplayName: c.displayName,
		Version:     "1.0.0",
		State:       state,
	})
	if err != nil {
		return err
	}
	return c.send(frame{RequestID: uuid.NewString(), Name: "register", Body: body})
}

// send writes one frame on the current connection. Gorilla connections
// allow a single concurrent writer, so all writes go through the mutex.
func (c *Client) send(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return models.ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(f)
}

func (c *Client) request(name string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return c.send(frame{RequestID: uuid.NewString(), Name: name, Body: data})
}

// Connected reports whether a connection is currently up.
// Reconnect drops the current connection so the subscribe loop redials.
// A no-op when already disconnected; the loop is mid-redial anyway.
func (c *Client) Reconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

var validControls = map[string]bool{
	"play":      true,
	"pause":     true,
	"playpause": true,
	"stop":      true,
	"previous":  true,
	"next":      true,
}

// Control sends a playback command for a zone.
func (c *Client) Control(ctx context.Context, zoneID, control string) error {
	if !validControls[control] {
		return fmt.Errorf("invalid control %q", control)
	}
	return c.request("control", map[string]string{
		"zone_id": zoneID,
		"control": control,
	})
}

// Seek moves playback of a zone to an absolute position in seconds.
func (c *Client) Seek(ctx context.Context, zoneID string, seconds int) error {
	return c.request("seek", map[string]any{
		"zone_id": zoneID,
		"how":     "absolute",
		"seconds": seconds,
	})
}

// Mute sets the mute state of an output.
func (c *Client) Mute(ctx context.Context, outputID string, mute bool) error {
	how := "unmute"
	if mute {
		how = "mute"
	}
	return c.request("mute", map[string]string{
		"output_id": outputID,
		"how":       how,
	})
}

// PlayFromQueue starts playback of a zone from a queue item.
func (c *Client) PlayFromQueue(ctx context.Context, zoneID string, queueItemID uint32) error {
	return c.request("play_from_here", map[string]any{
		"zone_id":       zoneID,
		"queue_item_id": queueItemID,
	})
}

// SubscribeQueue subscribes to queue updates for a zone. The first
// response is a full snapshot, deltas follow.
func (c *Client) SubscribeQueue(ctx context.Context, zoneID string, maxItems int) error {
	return c.request("subscribe_queue", map[string]any{
		"zone_id":   zoneID,
		"max_items": maxItems,
	})
}

// UnsubscribeQueue drops the active queue subscription.
func (c *Client) UnsubscribeQueue(ctx context.Context) error {
	return c.request("unsubscribe_queue", struct{}{})
}

// RequestImage asks the core for a scaled rendition of an image. The
// bytes come back as an image event on the stream.
func (c *Client) RequestImage(ctx context.Context, imageKey string, width, height int) error {
	return c.request("image", map[string]any{
		"image_key": imageKey,
		"scale":     "fit",
		"width":     width,
		"height":    height,
		"format":    "image/jpeg",
	})
}
