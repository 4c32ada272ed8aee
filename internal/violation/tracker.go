// Package violation implements the per-track dwell state machine that turns
// zone occupancy into warnings and at-most-once penalties.
//
// A Tracker is not safe for concurrent use; the owning pipeline serialises
// every call.
package violation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"parking-violation-service/internal/domain/parking"
	"parking-violation-service/internal/penalty"
)

type State string

const (
	StateUntracked State = "untracked"
	StateInZone    State = "in_zone"
	StateWarning   State = "warning"
	StateViolation State = "violation"
)

// Status maps the state onto the per-detection status reported to callers.
func (s State) Status() parking.Status {
	switch s {
	case StateWarning:
		return parking.StatusWarning
	case StateViolation:
		return parking.StatusViolation
	}
	return parking.StatusNone
}

type MatchKind int

const (
	MatchNone MatchKind = iota
	// MatchReal means the centroid is inside a zone this frame.
	MatchReal
	// MatchGhost means the track left every zone but is still within the grace
	// period of its recorded zone.
	MatchGhost
)

func (k MatchKind) String() string {
	switch k {
	case MatchReal:
		return "real"
	case MatchGhost:
		return "ghost"
	}
	return "none"
}

type ZoneMatch struct {
	Kind   MatchKind
	ZoneID string
}

type Config struct {
	GracePeriod          time.Duration
	WarningThreshold     time.Duration
	ViolationThreshold   time.Duration
	NotificationCooldown time.Duration
}

func DefaultConfig() Config {
	return Config{
		GracePeriod:          5 * time.Second,
		WarningThreshold:     5 * time.Second,
		ViolationThreshold:   15 * time.Second,
		NotificationCooldown: 10 * time.Second,
	}
}

type Entry struct {
	EntryTime        time.Time
	ZoneID           string
	Warned           bool
	Penalized        bool
	Plate            string
	LastSeen         time.Time
	LastNotification time.Time
}

type Observation struct {
	Dwell       time.Duration
	State       State
	ZoneID      string
	IsPenalized bool
	Match       MatchKind
}

type Locator interface {
	Locate(p parking.Point, frameWidth, frameHeight int) (parking.Zone, bool)
}

// PlateMemory supplies the most trusted plate text known for a track.
type PlateMemory interface {
	BestText(trackID int) string
}

type Dispatcher interface {
	Dispatch(ctx context.Context, trackID int, plate, zoneID string) (penalty.Receipt, error)
	Notify(ctx context.Context, n penalty.Notification) error
}

type Tracker struct {
	cfg        Config
	locator    Locator
	plates     PlateMemory
	dispatcher Dispatcher
	log        zerolog.Logger

	entries   map[int]*Entry
	penalized map[int]time.Time
}

func NewTracker(cfg Config, locator Locator, plates PlateMemory, dispatcher Dispatcher, log zerolog.Logger) *Tracker {
	return &Tracker{
		cfg:        cfg,
		locator:    locator,
		plates:     plates,
		dispatcher: dispatcher,
		log:        log,
		entries:    make(map[int]*Entry),
		penalized:  make(map[int]time.Time),
	}
}

// Observe runs one frame of the state machine for a single detection.
func (t *Tracker) Observe(ctx context.Context, det parking.Detection, now time.Time, frameWidth, frameHeight int) Observation {
	id := det.TrackID
	if !det.Tracked() {
		return Observation{State: StateUntracked}
	}
	if det.Centroid == nil || !det.BBox.Valid() {
		t.log.Debug().Int("track_id", id).Msg("skipping detection without usable geometry")
		return Observation{State: StateUntracked, IsPenalized: t.IsPenalized(id)}
	}

	entry, exists := t.entries[id]
	match := t.match(*det.Centroid, entry, frameWidth, frameHeight)

	if match.Kind == MatchGhost && now.Sub(entry.LastSeen) > t.cfg.GracePeriod {
		t.log.Debug().
			Int("track_id", id).
			Dur("unseen", now.Sub(entry.LastSeen)).
			Msg("track lost past grace period, timer reset")
		delete(t.entries, id)
		return Observation{State: StateUntracked, IsPenalized: t.IsPenalized(id)}
	}

	if match.Kind == MatchNone {
		return Observation{State: StateUntracked, IsPenalized: t.IsPenalized(id)}
	}

	if !exists {
		entry = &Entry{
			EntryTime: now,
			ZoneID:    match.ZoneID,
			LastSeen:  now,
		}
		t.entries[id] = entry
		t.log.Debug().Int("track_id", id).Str("zone_id", match.ZoneID).Msg("track entered zone")
	}

	dwell := now.Sub(entry.EntryTime)
	if dwell < 0 {
		dwell = 0
	}

	var state State
	switch {
	case dwell >= t.cfg.ViolationThreshold:
		state = StateViolation
		if !entry.Penalized {
			t.penalize(ctx, id, det, entry, match.ZoneID, now)
		}
	case dwell >= t.cfg.WarningThreshold:
		state = StateWarning
		if !entry.Warned {
			t.warn(ctx, id, det, entry, match.ZoneID, now)
		}
	default:
		state = StateInZone
	}

	if det.PlateText != "" && entry.Plate == "" {
		entry.Plate = det.PlateText
	}
	if match.Kind == MatchReal {
		entry.LastSeen = now
	}

	return Observation{
		Dwell:       dwell,
		State:       state,
		ZoneID:      match.ZoneID,
		IsPenalized: entry.Penalized || t.IsPenalized(id),
		Match:       match.Kind,
	}
}

func (t *Tracker) match(centroid parking.Point, entry *Entry, w, h int) ZoneMatch {
	if zone, ok := t.locator.Locate(centroid, w, h); ok {
		return ZoneMatch{Kind: MatchReal, ZoneID: zone.ID}
	}
	if entry != nil {
		return ZoneMatch{Kind: MatchGhost, ZoneID: entry.ZoneID}
	}
	return ZoneMatch{}
}

func (t *Tracker) penalize(ctx context.Context, id int, det parking.Detection, entry *Entry, zoneID string, now time.Time) {
	entry.Penalized = true

	if at, ok := t.penalized[id]; ok {
		t.log.Info().
			Int("track_id", id).
			Time("penalized_at", at).
			Msg("track already penalized for this occupancy, skipping dispatch")
		return
	}
	t.penalized[id] = now

	plate := t.bestPlate(id, det, entry)
	receipt, err := t.dispatcher.Dispatch(ctx, id, plate, zoneID)
	if err != nil {
		// The flag stays set: a failed ledger write is never retried for the same occupancy.
		t.log.Error().Err(err).Int("track_id", id).Str("zone_id", zoneID).Msg("failed to dispatch penalty")
	} else {
		t.log.Info().
			Int("track_id", id).
			Str("plate", plate).
			Str("zone_id", zoneID).
			Float64("fine", receipt.FineAmount).
			Int("score", receipt.CurrentScore).
			Msg("parking violation penalized")
	}

	display := plate
	if display == "" {
		display = fmt.Sprintf("Vehicle %d", id)
	}
	t.notify(ctx, id, entry, penalty.Notification{
		TrackID: id,
		Kind:    penalty.KindViolation,
		ZoneID:  zoneID,
		Plate:   plate,
		Message: fmt.Sprintf("Violation recorded for %s. Fine has been issued.", display),
	}, now)
}

func (t *Tracker) warn(ctx context.Context, id int, det parking.Detection, entry *Entry, zoneID string, now time.Time) {
	entry.Warned = true

	plate := t.plates.BestText(id)
	if plate == "" {
		plate = det.PlateText
	}
	display := plate
	if display == "" {
		display = fmt.Sprintf("Vehicle %d", id)
	}
	t.log.Info().Int("track_id", id).Str("plate", plate).Str("zone_id", zoneID).Msg("parking warning issued")

	t.notify(ctx, id, entry, penalty.Notification{
		TrackID: id,
		Kind:    penalty.KindWarning,
		ZoneID:  zoneID,
		Plate:   plate,
		Message: fmt.Sprintf("%s, please move immediately. You are in a no parking zone.", display),
	}, now)
}

// notify enforces the per-track cooldown before handing the message to the sink.
func (t *Tracker) notify(ctx context.Context, id int, entry *Entry, n penalty.Notification, now time.Time) {
	if !entry.LastNotification.IsZero() && now.Sub(entry.LastNotification) < t.cfg.NotificationCooldown {
		t.log.Debug().Int("track_id", id).Str("kind", string(n.Kind)).Msg("notification suppressed by cooldown")
		return
	}
	entry.LastNotification = now

	if err := t.dispatcher.Notify(ctx, n); err != nil {
		t.log.Warn().Err(err).Int("track_id", id).Str("kind", string(n.Kind)).Msg("failed to send notification")
	}
}

// bestPlate prefers plate memory, then the current detection, then the plate
// cached on the entry.
func (t *Tracker) bestPlate(id int, det parking.Detection, entry *Entry) string {
	if text := t.plates.BestText(id); text != "" {
		return text
	}
	if det.PlateText != "" {
		return det.PlateText
	}
	if len(entry.Plate) >= minPlateLength {
		return entry.Plate
	}
	return ""
}

const minPlateLength = 4

// Cleanup drops entries of tracks absent from the frame for longer than the
// grace period. It returns the number of removed entries.
func (t *Tracker) Cleanup(active map[int]struct{}, now time.Time) int {
	removed := 0
	for id, entry := range t.entries {
		if _, ok := active[id]; ok {
			continue
		}
		if now.Sub(entry.LastSeen) > t.cfg.GracePeriod {
			delete(t.entries, id)
			removed++
			t.log.Debug().Int("track_id", id).Msg("track lost past grace period, timer reset")
		}
	}
	return removed
}

// Tracked reports whether the track currently has a dwell entry.
func (t *Tracker) Tracked(trackID int) bool {
	_, ok := t.entries[trackID]
	return ok
}

func (t *Tracker) Entry(trackID int) (Entry, bool) {
	e, ok := t.entries[trackID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (t *Tracker) IsPenalized(trackID int) bool {
	_, ok := t.penalized[trackID]
	return ok
}

type Stats struct {
	ActiveEntries   int `json:"active_entries"`
	PenalizedTracks int `json:"penalized_tracks"`
}

func (t *Tracker) Stats() Stats {
	return Stats{ActiveEntries: len(t.entries), PenalizedTracks: len(t.penalized)}
}

func (t *Tracker) Reset() {
	clear(t.entries)
	clear(t.penalized)
}
