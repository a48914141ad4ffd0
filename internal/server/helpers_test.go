package server

import (
	"context"
	"sync"
	"testing"

	"roondisplay/internal/broker"
	"roondisplay/internal/images"
	"roondisplay/internal/models"
)

// stubEngine is a canned Engine for handler tests.
type stubEngine struct {
	connected bool
	coreName  string
	zones     []models.Zone
	views     []models.ZoneView
	queue     []models.QueueItem
	queueErr  error
	image     images.Entry
	imageOK   bool

	broker *broker.Broker

	mu       sync.Mutex
	controls []string
	seeks    []int
	mutes    []bool
	plays    []uint32
	actErr   error
}

func newStubEngine() *stubEngine {
	return &stubEngine{broker: broker.New(8)}
}

func (e *stubEngine) Connected() bool { return e.connected }
func (e *stubEngine) CoreName() string { return e.coreName }
func (e *stubEngine) Zones() []models.Zone { return e.zones }

func (e *stubEngine) ZoneViews(ctx context.Context) []models.ZoneView { return e.views }

func (e *stubEngine) Queue(ctx context.Context, zoneID string) ([]models.QueueItem, error) {
	return e.queue, e.queueErr
}

func (e *stubEngine) Image(ctx context.Context, key string) (images.Entry, bool) {
	return e.image, e.imageOK
}

func (e *stubEngine) Control(ctx context.Context, zoneID, control string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.controls = append(e.controls, zoneID+":"+control)
	return e.actErr
}

func (e *stubEngine) Seek(ctx context.Context, zoneID string, seconds int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seeks = append(e.seeks, seconds)
	return e.actErr
}

func (e *stubEngine) Mute(ctx context.Context, zoneID string, mute bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mutes = append(e.mutes, mute)
	return e.actErr
}

func (e *stubEngine) PlayFromQueue(ctx context.Context, zoneID string, queueItemID uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plays = append(e.plays, queueItemID)
	return e.actErr
}

func (e *stubEngine) Subscribe() *broker.Subscriber { return e.broker.Subscribe() }

func (e *stubEngine) Unsubscribe(sub *broker.Subscriber) { e.broker.Unsubscribe(sub) }

func newTestServer(t *testing.T) (*Server, *stubEngine) {
	t.Helper()
	engine := newStubEngine()
	return NewServer(engine), engine
}

// stubReconnector counts manual reconnect kicks.
type stubReconnector struct {
	mu    sync.Mutex
	kicks int
}

func (r *stubReconnector) Reconnect() {
	r.mu.Lock()
	r.kicks++
	r.mu.Unlock()
}

func (r *stubReconnector) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kicks
}
