// Package reconciler consumes the upstream event stream and keeps every
// other component consistent with it: zone store mutations, settle-task
// scheduling, image fetches and viewer broadcasts all happen in event
// order on a single consumer goroutine.
package reconciler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"roondisplay/internal/broker"
	"roondisplay/internal/debounce"
	"roondisplay/internal/images"
	"roondisplay/internal/models"
	"roondisplay/internal/queue"
	"roondisplay/internal/zones"
)

const (
	// DefaultStopDelay is the settle window before a Stopped state is
	// broadcast. Track transitions routinely pass through Stopped for a
	// few hundred milliseconds; waiting suppresses the flicker.
	DefaultStopDelay = 500 * time.Millisecond

	// DefaultFormatDelay is the settle window before broadcasting when a
	// format-reporting device is playing, giving it time to pick up the
	// new stream before viewers fetch the format string.
	DefaultFormatDelay = 200 * time.Millisecond

	// DefaultFormatPrefix selects which zones are asked for format
	// detail, by display-name prefix. A heuristic, not a guarantee.
	DefaultFormatPrefix = "dCS Vivaldi"

	imageWidth  = 300
	imageHeight = 300

	imageWaitTimeout = 2 * time.Second
)

// Transport issues requests to the core. Requests are fire-and-forget:
// their effect only becomes visible when the core echoes events back
// through the stream.
type Transport interface {
	Control(ctx context.Context, zoneID, control string) error
	Seek(ctx context.Context, zoneID string, seconds int) error
	Mute(ctx context.Context, outputID string, mute bool) error
	PlayFromQueue(ctx context.Context, zoneID string, queueItemID uint32) error
	SubscribeQueue(ctx context.Context, zoneID string, maxItems int) error
	UnsubscribeQueue(ctx context.Context) error
	RequestImage(ctx context.Context, imageKey string, width, height int) error
}

// FormatProvider fetches the enriched format string for eligible playing
// zones, typically from a device on the LAN.
type FormatProvider interface {
	Format(ctx context.Context) (string, error)
}

// StateStore persists the opaque pairing blob the core hands out.
type StateStore interface {
	SaveCoreState(blob []byte) error
}

type Reconciler struct {
	store   *zones.Store
	imgs    *images.Cache
	queue   *queue.Manager
	settles *debounce.Table
	broker  *broker.Broker

	transport Transport

	stopDelay      time.Duration
	formatDelay    time.Duration
	formatProvider FormatProvider
	formatEligible func(models.Zone) bool

	stateStore StateStore

	mu        sync.RWMutex
	connected bool
	coreName  string

	// broadcasts carries requests for a zones_changed publish. A single
	// worker drains it so view building (which may hit the format
	// provider) never blocks event consumption, while publishes stay in
	// request order.
	broadcasts chan struct{}
}

type Option func(*Reconciler)

func WithStopDelay(d time.Duration) Option {
	return func(r *Reconciler) { r.stopDelay = d }
}

func WithFormatDelay(d time.Duration) Option {
	return func(r *Reconciler) { r.formatDelay = d }
}

// WithFormatProvider enables format enrichment for eligible zones.
func WithFormatProvider(p FormatProvider) Option {
	return func(r *Reconciler) { r.formatProvider = p }
}

// WithFormatPrefix changes the display-name prefix used to pick
// format-eligible zones.
func WithFormatPrefix(prefix string) Option {
	return func(r *Reconciler) {
		r.formatEligible = func(z models.Zone) bool {
			return strings.HasPrefix(z.DisplayName, prefix)
		}
	}
}

// WithFormatEligible replaces the eligibility predicate entirely.
func WithFormatEligible(fn func(models.Zone) bool) Option {
	return func(r *Reconciler) { r.formatEligible = fn }
}

// WithStateStore enables persistence of the core pairing blob.
func WithStateStore(s StateStore) Option {
	return func(r *Reconciler) { r.stateStore = s }
}

func New(transport Transport, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       zones.NewStore(),
		imgs:        images.NewCache(),
		queue:       queue.NewManager(),
		settles:     debounce.NewTable(),
		broker:      broker.New(broker.DefaultBacklog),
		transport:   transport,
		stopDelay:   DefaultStopDelay,
		formatDelay: DefaultFormatDelay,
		broadcasts:  make(chan struct{}, 32),
	}
	r.formatEligible = func(z models.Zone) bool {
		return strings.HasPrefix(z.DisplayName, DefaultFormatPrefix)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes events until the channel closes or ctx is cancelled. It
// is the only goroutine that mutates the zone store, the settle table
// and the queue slot; everything observable follows event order.
func (r *Reconciler) Run(ctx context.Context, events <-chan models.Event) error {
	defer r.broker.Close()
	defer r.settles.CancelAll()

	go r.broadcastLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.handle(ctx, ev)
		}
	}
}

func (r *Reconciler) handle(ctx context.Context, ev models.Event) {
	switch ev.Kind {
	case models.EventDiscovered:
		log.Printf("discovered core %s", ev.CoreName)
	case models.EventRegistered:
		r.handleRegistered(ev.CoreName)
	case models.EventLost:
		r.handleLost()
	case models.EventZonesChanged:
		r.handleZonesChanged(ctx, ev.Zones)
	case models.EventZonesRemoved:
		r.handleZonesRemoved(ev.RemovedIDs)
	case models.EventZonesSeek:
		r.handleZonesSeek(ev.Seeks)
	case models.EventQueueSnapshot:
		r.queue.StoreSnapshot(ev.QueueItems)
	case models.EventQueueChanges:
		if zoneID := r.queue.ApplyChanges(ev.QueueChanges); zoneID != "" {
			r.broker.Publish(models.QueueChangedMessage(zoneID))
		}
	case models.EventImage:
		r.imgs.Put(ev.ImageKey, ev.ImageContentType, ev.ImageData)
	case models.EventCoreState:
		r.handleCoreState(ev.CoreState)
	case models.EventError:
		log.Printf("core reported error: %v", ev.Err)
	default:
		log.Printf("unknown event kind %q, dropping", ev.Kind)
	}
}

func (r *Reconciler) handleRegistered(coreName string) {
	r.mu.Lock()
	r.connected = true
	r.coreName = coreName
	r.mu.Unlock()
	log.Printf("registered with core %s", coreName)
	r.broker.Publish(models.ConnectionChangedMessage(true))
}

func (r *Reconciler) handleLost() {
	r.mu.Lock()
	r.connected = false
	r.coreName = ""
	r.mu.Unlock()
	log.Printf("lost connection to core")

	r.store.Clear()
	r.queue.Reset()
	r.settles.CancelAll()
	// Fetches pending on the dead connection will never be answered;
	// cached images stay valid.
	r.imgs.ResetRequested()
	r.broker.Publish(models.ConnectionChangedMessage(false))
}

func (r *Reconciler) handleCoreState(blob []byte) {
	if r.stateStore == nil {
		return
	}
	if err := r.stateStore.SaveCoreState(blob); err != nil {
		log.Printf("saving core state: %v", err)
	}
}

func (r *Reconciler) handleZonesChanged(ctx context.Context, batch []models.Zone) {
	for _, z := range batch {
		if z.ID == "" || !z.State.Valid() {
			log.Printf("skipping malformed zone update: id=%q state=%q", z.ID, z.State)
			continue
		}
		r.store.Upsert(z)
		if np := z.NowPlaying; np != nil && np.ImageKey != "" {
			r.requestImage(ctx, np.ImageKey)
		}
	}

	// Classify the whole snapshot, not just the batch: settle decisions
	// depend on where every zone stands now.
	snapshot := r.store.Snapshot()
	var stopped, nonStop []string
	formatPlaying := false
	hasNonLoading := false
	for _, z := range snapshot {
		if z.State.Active() {
			nonStop = append(nonStop, z.ID)
		} else {
			stopped = append(stopped, z.ID)
		}
		if z.State != models.StateLoading {
			hasNonLoading = true
		}
		if z.State == models.StatePlaying && r.formatEligible(z) {
			formatPlaying = true
		}
	}

	// A zone that moved on from Stopped must not have its stale settle
	// fire.
	for _, id := range nonStop {
		if kind, ok := r.settles.Pending(id); ok && kind == debounce.StopSettle {
			log.Printf("cancelling pending stop for zone %s, state moved on", id)
			r.settles.Cancel(id)
		}
	}

	doubleStop := false
	for _, id := range stopped {
		if kind, ok := r.settles.Pending(id); ok && kind == debounce.StopSettle {
			// Stopped twice with no intervening state: the user meant it.
			log.Printf("zone %s stopped again, broadcasting immediately", id)
			r.settles.Cancel(id)
			doubleStop = true
			continue
		}
		r.settles.Schedule(id, debounce.StopSettle, r.stopDelay, r.requestBroadcast)
	}
	if doubleStop {
		r.requestBroadcast()
	}

	switch {
	case len(nonStop) == 0:
		// Nothing active; any stopped zones broadcast via their settles.
	case !hasNonLoading:
		log.Printf("skipping broadcast, all zones loading")
	case formatPlaying:
		// Keyed on the first active zone; the slot just carries the one
		// pending delayed broadcast for this batch.
		r.settles.Schedule(nonStop[0], debounce.FormatSettle, r.formatDelay, r.requestBroadcast)
	default:
		r.requestBroadcast()
	}
}

func (r *Reconciler) handleZonesRemoved(ids []string) {
	for _, id := range ids {
		r.settles.Cancel(id)
		r.store.Remove(id)
	}
	// Removal is unambiguous; no settle window.
	r.requestBroadcast()
}

func (r *Reconciler) handleZonesSeek(seeks []models.SeekUpdate) {
	for _, u := range seeks {
		r.store.PatchSeek(u.ZoneID, u.SeekPosition)
		// Seek ticks bypass the snapshot machinery entirely; they are
		// per-zone, high-frequency and cheap.
		r.broker.Publish(models.SeekUpdatedMessage(u))
	}
}

// requestImage issues an upstream fetch for an uncached image key, at
// most once per key, off the event loop.
func (r *Reconciler) requestImage(ctx context.Context, key string) {
	if !r.imgs.MarkRequested(key) {
		return
	}
	go func() {
		if err := r.transport.RequestImage(ctx, key, imageWidth, imageHeight); err != nil {
			log.Printf("requesting image %s: %v", key, err)
			// Unmark so the next update referencing the key retries.
			r.imgs.ClearRequested(key)
		}
	}()
}

// requestBroadcast asks the broadcast worker for a zones_changed
// publish. Never blocks; a full queue means enough publishes are already
// pending and the latest snapshot will be carried by one of them.
func (r *Reconciler) requestBroadcast() {
	select {
	case r.broadcasts <- struct{}{}:
	default:
		log.Printf("broadcast queue full, coalescing")
	}
}

func (r *Reconciler) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.broadcasts:
			views := r.ZoneViews(ctx)
			r.broker.Publish(models.ZonesChangedMessage(views))
		}
	}
}

// Subscribe registers a viewer for broadcast messages. New subscribers
// see messages published after registration only; they pull current
// state through the read accessors.
func (r *Reconciler) Subscribe() *broker.Subscriber {
	return r.broker.Subscribe()
}

func (r *Reconciler) Unsubscribe(sub *broker.Subscriber) {
	r.broker.Unsubscribe(sub)
}

func (r *Reconciler) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

func (r *Reconciler) CoreName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.coreName
}

func (r *Reconciler) Zones() []models.Zone {
	return r.store.Snapshot()
}

// ZoneViews builds the presentation projection for all zones. Format
// enrichment for eligible playing zones is fetched concurrently; a
// failed fetch leaves the format empty rather than failing the build.
func (r *Reconciler) ZoneViews(ctx context.Context) []models.ZoneView {
	snapshot := r.store.Snapshot()
	views := make([]models.ZoneView, len(snapshot))

	var g errgroup.Group
	for i, z := range snapshot {
		g.Go(func() error {
			format := ""
			if r.formatProvider != nil && z.State == models.StatePlaying && r.formatEligible(z) {
				f, err := r.formatProvider.Format(ctx)
				if err != nil {
					log.Printf("fetching format for zone %s: %v", z.DisplayName, err)
				} else {
					format = f
				}
			}
			views[i] = z.View(format)
			return nil
		})
	}
	g.Wait()
	return views
}

// Queue returns the cached queue for a zone, subscribing to it first
// when it is not the active queue zone.
func (r *Reconciler) Queue(ctx context.Context, zoneID string) ([]models.QueueItem, error) {
	if !r.Connected() {
		return nil, models.ErrNotConnected
	}
	if err := r.queue.EnsureSubscribed(ctx, r.transport, zoneID); err != nil {
		return nil, err
	}
	return r.queue.QueueFor(zoneID), nil
}

// Image returns the cached image for key, requesting it upstream and
// waiting briefly when missing. ok is false when nothing arrived in
// time.
func (r *Reconciler) Image(ctx context.Context, key string) (images.Entry, bool) {
	return r.imgs.Wait(ctx, key, imageWaitTimeout, func(ctx context.Context) error {
		return r.transport.RequestImage(ctx, key, imageWidth, imageHeight)
	})
}

// Control sends a playback command for a zone.
func (r *Reconciler) Control(ctx context.Context, zoneID, control string) error {
	if !r.Connected() {
		return models.ErrNotConnected
	}
	return r.transport.Control(ctx, zoneID, control)
}

// Seek moves a zone to an absolute position in seconds.
func (r *Reconciler) Seek(ctx context.Context, zoneID string, seconds int) error {
	if !r.Connected() {
		return models.ErrNotConnected
	}
	return r.transport.Seek(ctx, zoneID, seconds)
}

// Mute sets the mute state of a zone's first output.
func (r *Reconciler) Mute(ctx context.Context, zoneID string, mute bool) error {
	if !r.Connected() {
		return models.ErrNotConnected
	}
	z, ok := r.store.Get(zoneID)
	if !ok {
		return models.ErrZoneNotFound
	}
	if len(z.Outputs) == 0 {
		return fmt.Errorf("zone %s has no outputs", zoneID)
	}
	return r.transport.Mute(ctx, z.Outputs[0].OutputID, mute)
}

// PlayFromQueue starts playback of a zone from a queue item.
func (r *Reconciler) PlayFromQueue(ctx context.Context, zoneID string, queueItemID uint32) error {
	if !r.Connected() {
		return models.ErrNotConnected
	}
	return r.transport.PlayFromQueue(ctx, zoneID, queueItemID)
}
