package models

// MessageType discriminates broadcast messages on the wire.
type MessageType string

const (
	MessageZonesChanged      MessageType = "zones_changed"
	MessageConnectionChanged MessageType = "connection_changed"
	MessageSeekUpdated       MessageType = "seek_updated"
	MessageQueueChanged      MessageType = "queue_changed"
)

// Message is one broadcast to viewers. Every message is self-contained:
// a subscriber that misses one resynchronizes from the next zones_changed
// or by re-pulling the read accessors, never from history.
type Message struct {
	Type MessageType `json:"type"`

	NowPlaying []ZoneView `json:"now_playing,omitempty"` // zones_changed

	Connected *bool `json:"connected,omitempty"` // connection_changed

	ZoneID             string `json:"zone_id,omitempty"`       // seek_updated, queue_changed
	SeekPosition       *int64 `json:"seek_position,omitempty"` // seek_updated
	QueueTimeRemaining int64  `json:"queue_time_remaining,omitempty"`
}

func ZonesChangedMessage(views []ZoneView) Message {
	return Message{Type: MessageZonesChanged, NowPlaying: views}
}

func ConnectionChangedMessage(connected bool) Message {
	return Message{Type: MessageConnectionChanged, Connected: &connected}
}

func SeekUpdatedMessage(u SeekUpdate) Message {
	return Message{
		Type:               MessageSeekUpdated,
		ZoneID:             u.ZoneID,
		SeekPosition:       u.SeekPosition,
		QueueTimeRemaining: u.QueueTimeRemaining,
	}
}

func QueueChangedMessage(zoneID string) Message {
	return Message{Type: MessageQueueChanged, ZoneID: zoneID}
}
