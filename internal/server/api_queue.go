package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"roondisplay/internal/models"
)

type queueItemInfo struct {
	QueueItemID uint32 `json:"queue_item_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	Length      int    `json:"length"`
	ImageKey    string `json:"image_key,omitempty"`
}

type queueResponse struct {
	Items []queueItemInfo `json:"items"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")

	items, err := s.engine.Queue(r.Context(), zoneID)
	if err != nil {
		if errors.Is(err, models.ErrNotConnected) {
			writeError(w, http.StatusServiceUnavailable, "not connected to core")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	infos := make([]queueItemInfo, 0, len(items))
	for _, item := range items {
		infos = append(infos, queueItemInfo{
			QueueItemID: item.QueueItemID,
			Title:       item.ThreeLine.Line1,
			Artist:      item.ThreeLine.Line2,
			Album:       item.ThreeLine.Line3,
			Length:      item.Length,
			ImageKey:    item.ImageKey,
		})
	}
	writeJSON(w, http.StatusOK, queueResponse{Items: infos})
}
