// Package zones owns the set of restricted parking areas and their persistence.
package zones

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"parking-violation-service/internal/domain/parking"
)

var (
	ErrDuplicateZone = errors.New("zone already exists")
	ErrZoneNotFound  = errors.New("zone not found")
)

// Source persists zone definitions. Implementations must preserve order.
type Source interface {
	Load(ctx context.Context) ([]parking.Zone, error)
	Save(ctx context.Context, zones []parking.Zone) error
}

type Store struct {
	mu    sync.RWMutex
	zones []parking.Zone

	// rejected holds records the source returned but the store refused to
	// serve. They are written back on every save so an operator can fix them.
	rejected []parking.Zone
	source   Source
	log      zerolog.Logger
}

func NewStore(source Source, log zerolog.Logger) *Store {
	return &Store{
		source: source,
		log:    log,
	}
}

// Load re-reads the source. Malformed zones are logged and left out of the
// active set instead of failing the whole load.
func (s *Store) Load(ctx context.Context) error {
	raw, err := s.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load zones: %w", err)
	}

	accepted, rejected := s.sanitize(raw)

	s.mu.Lock()
	s.zones = accepted
	s.rejected = rejected
	s.mu.Unlock()

	s.log.Info().
		Int("loaded", len(accepted)).
		Int("rejected", len(raw)-len(accepted)).
		Msg("parking zones loaded")
	return nil
}

func (s *Store) sanitize(raw []parking.Zone) (accepted, rejected []parking.Zone) {
	seen := make(map[string]bool, len(raw))
	accepted = make([]parking.Zone, 0, len(raw))
	for _, z := range raw {
		if err := z.Validate(); err != nil {
			s.log.Warn().Err(err).Str("zone_id", z.ID).Msg("rejected zone definition")
			rejected = append(rejected, z)
			continue
		}
		if seen[z.ID] {
			s.log.Warn().Str("zone_id", z.ID).Msg("rejected duplicate zone id")
			rejected = append(rejected, z)
			continue
		}
		seen[z.ID] = true
		accepted = append(accepted, z)
	}
	return accepted, rejected
}

// persist saves the served zones followed by the rejected records.
func (s *Store) persist(ctx context.Context, zones, rejected []parking.Zone) error {
	out := make([]parking.Zone, 0, len(zones)+len(rejected))
	out = append(out, zones...)
	out = append(out, rejected...)
	if err := s.source.Save(ctx, out); err != nil {
		return fmt.Errorf("failed to save zones: %w", err)
	}
	return nil
}

func withoutID(zones []parking.Zone, id string) []parking.Zone {
	out := make([]parking.Zone, 0, len(zones))
	for _, z := range zones {
		if z.ID != id {
			out = append(out, z)
		}
	}
	return out
}

// All returns every loaded zone, including inactive ones.
func (s *Store) All() []parking.Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]parking.Zone, len(s.zones))
	copy(out, s.zones)
	return out
}

// Active returns the zones that take part in violation detection, in definition order.
func (s *Store) Active() []parking.Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]parking.Zone, 0, len(s.zones))
	for _, z := range s.zones {
		if z.Active {
			out = append(out, z)
		}
	}
	return out
}

// Add appends a zone. A rejected record with the same id is replaced by it.
func (s *Store) Add(ctx context.Context, zone parking.Zone) error {
	if zone.ZoneType == "" {
		zone.ZoneType = parking.DefaultZoneType
	}
	if err := zone.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, z := range s.zones {
		if z.ID == zone.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateZone, zone.ID)
		}
	}

	next := append(append([]parking.Zone(nil), s.zones...), zone)
	rejected := withoutID(s.rejected, zone.ID)
	if err := s.persist(ctx, next, rejected); err != nil {
		return err
	}
	s.zones = next
	s.rejected = rejected

	s.log.Info().Str("zone_id", zone.ID).Int("points", len(zone.Polygon)).Msg("added parking zone")
	return nil
}

// Remove deletes every record with the id, served or rejected.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := withoutID(s.zones, id)
	rejected := withoutID(s.rejected, id)
	if len(next) == len(s.zones) && len(rejected) == len(s.rejected) {
		return fmt.Errorf("%w: %s", ErrZoneNotFound, id)
	}

	if err := s.persist(ctx, next, rejected); err != nil {
		return err
	}
	s.zones = next
	s.rejected = rejected

	s.log.Info().Str("zone_id", id).Msg("removed parking zone")
	return nil
}

// Clear drops every served zone. Malformed records stay in the source;
// valid duplicates are dropped with the zones they shadowed.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var malformed []parking.Zone
	for _, z := range s.rejected {
		if z.Validate() != nil {
			malformed = append(malformed, z)
		}
	}

	if err := s.persist(ctx, nil, malformed); err != nil {
		return err
	}
	s.zones = nil
	s.rejected = malformed

	s.log.Info().Int("kept_malformed", len(malformed)).Msg("cleared all parking zones")
	return nil
}
