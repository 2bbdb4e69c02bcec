// Package station owns the mutable per-station metadata (callsign, grid,
// antenna, login) shared by the decode workers and the uploaders.
package station

import (
	"strings"
	"sync"

	"digiskimmer/config"
)

// Station is a snapshot of one station's metadata.
type Station struct {
	Name     string
	Callsign string
	Grid     string
	Antenna  string
	Login    string
}

// LoginName returns the identity sent at the session login prompt. It falls
// back to the lowercased callsign when no explicit login is configured.
func (s Station) LoginName() string {
	if s.Login != "" {
		return s.Login
	}
	return strings.ToLower(s.Callsign)
}

type record struct {
	Station
	hasGrid    bool
	hasAntenna bool
}

// Store is the single owner of station metadata. All reads return copies and
// all mutations happen under its lock.
type Store struct {
	mu       sync.RWMutex
	stations map[string]*record
}

// NewStore seeds a store from the configured stations. Grid and antenna count
// as present only when configured non-empty.
func NewStore(stations map[string]config.StationConfig) *Store {
	s := &Store{stations: make(map[string]*record, len(stations))}
	for name, sc := range stations {
		s.stations[name] = &record{
			Station: Station{
				Name:     name,
				Callsign: sc.Callsign,
				Grid:     sc.Grid,
				Antenna:  sc.Antenna,
				Login:    sc.Login,
			},
			hasGrid:    sc.Grid != "",
			hasAntenna: sc.Antenna != "",
		}
	}
	return s
}

// Get returns a copy of the named station.
func (s *Store) Get(name string) (Station, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.stations[name]
	if !ok {
		return Station{}, false
	}
	return rec.Station, true
}

// Backfill sets grid and antenna for the named station when they are absent.
// Each field is written at most once over the store's lifetime, even when
// the supplied telemetry value is empty, so concurrent workers of the same
// station cannot overwrite each other. It reports which fields were set.
func (s *Store) Backfill(name, grid, antenna string) (gridSet, antennaSet bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.stations[name]
	if !ok {
		return false, false
	}
	if !rec.hasGrid {
		rec.Grid = grid
		rec.hasGrid = true
		gridSet = true
	}
	if !rec.hasAntenna {
		rec.Antenna = antenna
		rec.hasAntenna = true
		antennaSet = true
	}
	return gridSet, antennaSet
}

// NeedsBackfill reports whether grid or antenna is still absent.
func (s *Store) NeedsBackfill(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.stations[name]
	return ok && (!rec.hasGrid || !rec.hasAntenna)
}
