// Package penalty forwards violation transitions to the external penalty
// ledger and notification sink.
package penalty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ViolationParking is the ledger kind recorded for zone dwell violations.
const ViolationParking = "parking_no_parking"

var ErrNoLedger = errors.New("penalty ledger not configured")

type Kind string

const (
	KindWarning   Kind = "warning"
	KindViolation Kind = "violation"
)

type Notification struct {
	ID      string    `json:"id"`
	TrackID int       `json:"track_id"`
	Kind    Kind      `json:"kind"`
	ZoneID  string    `json:"zone_id"`
	Plate   string    `json:"plate,omitempty"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

type ViolationRecord struct {
	DriverID      string
	ViolationKind string
	Location      string
	Plate         string
	Notes         string
	TrackID       int
	ZoneID        string
	DetectedAt    time.Time
}

type Receipt struct {
	ViolationID    int64   `json:"violation_id"`
	DriverID       string  `json:"driver_id"`
	FineAmount     float64 `json:"fine_amount"`
	PointsDeducted int     `json:"points_deducted"`
	CurrentScore   int     `json:"current_score"`
}

type Ledger interface {
	RecordViolation(ctx context.Context, rec ViolationRecord) (Receipt, error)
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Dispatcher struct {
	ledger   Ledger
	notifier Notifier
	timeout  time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewDispatcher accepts nil ledger or notifier; the missing capability is
// logged and skipped.
func NewDispatcher(ledger Ledger, notifier Notifier, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		ledger:   ledger,
		notifier: notifier,
		timeout:  timeout,
		now:      time.Now,
		log:      log,
	}
}

// PlaceholderID identifies a driver when no plate could be read.
func PlaceholderID(trackID int) string {
	return fmt.Sprintf("UNKNOWN-%d", trackID)
}

// Dispatch records one violation. It is not idempotent; callers guarantee a
// single call per occupancy.
func (d *Dispatcher) Dispatch(ctx context.Context, trackID int, plate, zoneID string) (Receipt, error) {
	plate = strings.TrimSpace(plate)
	driverID := plate
	if driverID == "" {
		driverID = PlaceholderID(trackID)
	}

	if d.ledger == nil {
		d.log.Warn().Str("driver_id", driverID).Str("zone_id", zoneID).Msg("penalty ledger not available, violation not recorded")
		return Receipt{}, ErrNoLedger
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	rec := ViolationRecord{
		DriverID:      driverID,
		ViolationKind: ViolationParking,
		Location:      "Zone: " + zoneID,
		Plate:         plate,
		Notes:         "Automated detection - illegal parking",
		TrackID:       trackID,
		ZoneID:        zoneID,
		DetectedAt:    d.now(),
	}

	receipt, err := d.ledger.RecordViolation(ctx, rec)
	if err != nil {
		d.log.Error().
			Err(err).
			Int("track_id", trackID).
			Str("driver_id", driverID).
			Str("zone_id", zoneID).
			Msg("failed to record violation")
		return Receipt{}, fmt.Errorf("failed to record violation: %w", err)
	}

	d.log.Info().
		Int64("violation_id", receipt.ViolationID).
		Int("track_id", trackID).
		Str("driver_id", driverID).
		Str("plate", plate).
		Float64("fine_amount", receipt.FineAmount).
		Int("points_deducted", receipt.PointsDeducted).
		Int("current_score", receipt.CurrentScore).
		Msg("recorded parking violation")
	return receipt, nil
}

// Notify hands a message to the sink. Delivery is fire-and-forget from the
// tracker's perspective; errors are only reported for logging.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.SentAt.IsZero() {
		n.SentAt = d.now()
	}

	if d.notifier == nil {
		d.log.Info().Int("track_id", n.TrackID).Str("kind", string(n.Kind)).Str("message", n.Message).Msg("notification (no sink configured)")
		return nil
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.notifier.Notify(ctx, n)
}
