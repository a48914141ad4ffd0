package server

import (
	"net/http"

	"roondisplay/internal/models"
)

type statusResponse struct {
	Connected bool   `json:"connected"`
	CoreName  string `json:"core_name,omitempty"`
	Message   string `json:"message"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	connected := s.engine.Connected()
	msg := "Not connected. Please authorize the extension on the core."
	if connected {
		msg = "Connected to core"
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Connected: connected,
		CoreName:  s.engine.CoreName(),
		Message:   msg,
	})
}

type zoneInfo struct {
	ZoneID      string   `json:"zone_id"`
	DisplayName string   `json:"display_name"`
	State       string   `json:"state"`
	Devices     []string `json:"devices"`
}

type zonesResponse struct {
	Zones []zoneInfo `json:"zones"`
	Count int        `json:"count"`
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	zones := s.engine.Zones()
	infos := make([]zoneInfo, 0, len(zones))
	for _, z := range zones {
		devices := make([]string, 0, len(z.Outputs))
		for _, out := range z.Outputs {
			devices = append(devices, out.DisplayName)
		}
		infos = append(infos, zoneInfo{
			ZoneID:      z.ID,
			DisplayName: z.DisplayName,
			State:       string(z.State),
			Devices:     devices,
		})
	}
	writeJSON(w, http.StatusOK, zonesResponse{Zones: infos, Count: len(infos)})
}

type nowPlayingResponse struct {
	NowPlaying []models.ZoneView `json:"now_playing"`
	Count      int               `json:"count"`
}

func (s *Server) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	views := s.engine.ZoneViews(r.Context())
	// Only zones with something to show.
	withTrack := make([]models.ZoneView, 0, len(views))
	for _, v := range views {
		if v.Track != "" {
			withTrack = append(withTrack, v)
		}
	}
	writeJSON(w, http.StatusOK, nowPlayingResponse{NowPlaying: withTrack, Count: len(withTrack)})
}
