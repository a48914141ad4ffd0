package models

import "errors"

var ErrNotConnected = errors.New("not connected to core")
var ErrZoneNotFound = errors.New("zone not found")

type ZoneState string

const (
	StatePlaying ZoneState = "Playing"
	StatePaused  ZoneState = "Paused"
	StateLoading ZoneState = "Loading"
	StateStopped ZoneState = "Stopped"
)

func (s ZoneState) Valid() bool {
	switch s {
	case StatePlaying, StatePaused, StateLoading, StateStopped:
		return true
	}
	return false
}

// Active reports whether the state counts as "non-stop" for broadcast
// classification: loading, playing and paused zones are all active.
func (s ZoneState) Active() bool {
	return s == StatePlaying || s == StatePaused || s == StateLoading
}

// ThreeLine is the display text for a track: title, artist, album.
type ThreeLine struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
	Line3 string `json:"line3"`
}

type NowPlaying struct {
	ThreeLine    ThreeLine `json:"three_line"`
	SeekPosition *int64    `json:"seek_position,omitempty"` // seconds
	Length       *int      `json:"length,omitempty"`        // seconds
	ImageKey     string    `json:"image_key,omitempty"`
}

type SourceControlStatus string

const (
	SourceControlSelected      SourceControlStatus = "selected"
	SourceControlDeselected    SourceControlStatus = "deselected"
	SourceControlStandby       SourceControlStatus = "standby"
	SourceControlIndeterminate SourceControlStatus = "indeterminate"
)

type SourceControl struct {
	DisplayName string              `json:"display_name"`
	Status      SourceControlStatus `json:"status"`
}

type Output struct {
	OutputID       string          `json:"output_id"`
	DisplayName    string          `json:"display_name"`
	IsMuted        *bool           `json:"is_muted,omitempty"`
	SourceControls []SourceControl `json:"source_controls,omitempty"`
}

// Zone is one playback group as reported by the core. Zones are updated
// wholesale by zones-changed batches; only the seek position is patched
// independently.
type Zone struct {
	ID          string      `json:"zone_id"`
	DisplayName string      `json:"display_name"`
	State       ZoneState   `json:"state"`
	NowPlaying  *NowPlaying `json:"now_playing,omitempty"`
	Outputs     []Output    `json:"outputs,omitempty"`
}

// Name composes the display name for viewers, appending the selected
// source control of the first output in parentheses when one is marked
// selected.
func (z Zone) Name() string {
	if len(z.Outputs) == 0 {
		return z.DisplayName
	}
	for _, sc := range z.Outputs[0].SourceControls {
		if sc.Status == SourceControlSelected {
			return z.DisplayName + " (" + sc.DisplayName + ")"
		}
	}
	return z.DisplayName
}

// Muted returns the mute flag of the first output that reports one.
func (z Zone) Muted() *bool {
	for _, out := range z.Outputs {
		if out.IsMuted != nil {
			return out.IsMuted
		}
	}
	return nil
}

type QueueItem struct {
	QueueItemID uint32    `json:"queue_item_id"`
	ThreeLine   ThreeLine `json:"three_line"`
	Length      int       `json:"length"` // seconds
	ImageKey    string    `json:"image_key,omitempty"`
}

// ZoneView is the presentation-ready projection of a Zone, recomputed
// from the zone store at broadcast time.
type ZoneView struct {
	ZoneID          string `json:"zone_id"`
	ZoneName        string `json:"zone_name"`
	State           string `json:"state"`
	Track           string `json:"track,omitempty"`
	Artist          string `json:"artist,omitempty"`
	Album           string `json:"album,omitempty"`
	PositionSeconds *int64 `json:"position_seconds,omitempty"`
	LengthSeconds   *int   `json:"length_seconds,omitempty"`
	ImageKey        string `json:"image_key,omitempty"`
	IsMuted         *bool  `json:"is_muted,omitempty"`
	Format          string `json:"format,omitempty"`
}

// View builds the projection for a single zone. Format enrichment is the
// caller's concern; pass "" when none is available.
func (z Zone) View(format string) ZoneView {
	v := ZoneView{
		ZoneID:   z.ID,
		ZoneName: z.Name(),
		State:    string(z.State),
		IsMuted:  z.Muted(),
		Format:   format,
	}
	if np := z.NowPlaying; np != nil {
		v.Track = np.ThreeLine.Line1
		v.Artist = np.ThreeLine.Line2
		v.Album = np.ThreeLine.Line3
		v.PositionSeconds = np.SeekPosition
		v.LengthSeconds = np.Length
		v.ImageKey = np.ImageKey
	}
	return v
}
