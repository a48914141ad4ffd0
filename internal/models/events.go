package models

// EventKind tags the upstream event union. The reconciler switches
// exhaustively on it; new payload kinds extend this set rather than
// branching on strings.
type EventKind string

const (
	EventDiscovered    EventKind = "discovered"
	EventRegistered    EventKind = "registered"
	EventLost          EventKind = "lost"
	EventZonesChanged  EventKind = "zones_changed"
	EventZonesRemoved  EventKind = "zones_removed"
	EventZonesSeek     EventKind = "zones_seek"
	EventQueueSnapshot EventKind = "queue"
	EventQueueChanges  EventKind = "queue_changes"
	EventImage         EventKind = "image"
	EventCoreState     EventKind = "core_state"
	EventError         EventKind = "error"
)

// SeekUpdate is one entry of a zones-seek batch. These arrive about once
// a second per playing zone and carry only the position tick.
type SeekUpdate struct {
	ZoneID             string `json:"zone_id"`
	SeekPosition       *int64 `json:"seek_position,omitempty"`
	QueueTimeRemaining int64  `json:"queue_time_remaining"`
}

type QueueOperation string

const (
	QueueOpInsert QueueOperation = "insert"
	QueueOpRemove QueueOperation = "remove"
)

// QueueChange is one ordered delta operation against the subscribed
// zone's queue.
type QueueChange struct {
	Operation QueueOperation `json:"operation"`
	Index     int            `json:"index"`
	Count     int            `json:"count,omitempty"`
	Items     []QueueItem    `json:"items,omitempty"`
}

// Event is one element of the serialized upstream stream. Exactly the
// fields for its Kind are populated; everything else is zero.
type Event struct {
	Kind EventKind

	CoreName string // registered, discovered

	Zones        []Zone        // zones_changed
	RemovedIDs   []string      // zones_removed
	Seeks        []SeekUpdate  // zones_seek
	QueueItems   []QueueItem   // queue
	QueueChanges []QueueChange // queue_changes

	ImageKey         string // image
	ImageContentType string
	ImageData        []byte

	CoreState []byte // core_state, opaque persisted pairing blob

	Err error // error
}
