// Package zones holds the authoritative in-memory map of zone state.
// The reconciler is the only writer; everything else reads through
// snapshots and accessors.
package zones

import (
	"sort"
	"sync"

	"roondisplay/internal/models"
)

type Store struct {
	mu    sync.RWMutex
	zones map[string]models.Zone
}

func NewStore() *Store {
	return &Store{zones: make(map[string]models.Zone)}
}

// Upsert replaces or inserts a zone by identifier.
func (s *Store) Upsert(z models.Zone) {
	s.mu.Lock()
	s.zones[z.ID] = z
	s.mu.Unlock()
}

// Remove deletes a zone. Returns false when the id was unknown.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[id]; !ok {
		return false
	}
	delete(s.zones, id)
	return true
}

func (s *Store) Get(id string) (models.Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[id]
	return z, ok
}

// PatchSeek updates only the seek position of an existing zone's
// now-playing descriptor. A zone without one, or an unknown id, is a
// no-op: seek ticks routinely race zone removal.
func (s *Store) PatchSeek(id string, pos *int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zones[id]
	if !ok || z.NowPlaying == nil {
		return false
	}
	np := *z.NowPlaying
	np.SeekPosition = pos
	z.NowPlaying = &np
	s.zones[id] = z
	return true
}

// Snapshot returns a point-in-time copy of all zones, ordered by display
// name for stable presentation. Debounce decisions and broadcast payloads
// are both built from the same snapshot.
func (s *Store) Snapshot() []models.Zone {
	s.mu.RLock()
	out := make([]models.Zone, 0, len(s.zones))
	for _, z := range s.zones {
		out = append(out, z)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.zones = make(map[string]models.Zone)
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.zones)
}
