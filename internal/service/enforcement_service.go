package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"parking-violation-service/internal/penalty"
	"parking-violation-service/internal/repository"
	"parking-violation-service/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// Policy is what one parking violation costs the driver.
type Policy struct {
	FineAmount         float64
	PointsPerViolation int
	InitialScore       int
}

// EnforcementService is the penalty ledger: it charges drivers for recorded
// violations and answers history queries.
type EnforcementService struct {
	repo     *repository.LedgerRepository
	policy   Policy
	cameraID string
	log      zerolog.Logger
}

func NewEnforcementService(repo *repository.LedgerRepository, policy Policy, cameraID string, log zerolog.Logger) *EnforcementService {
	return &EnforcementService{
		repo:     repo,
		policy:   policy,
		cameraID: cameraID,
		log:      log,
	}
}

// RecordViolation implements penalty.Ledger. A readable plate becomes the
// driver id in normalized form; otherwise the placeholder id is kept.
func (s *EnforcementService) RecordViolation(ctx context.Context, rec penalty.ViolationRecord) (penalty.Receipt, error) {
	if rec.DriverID == "" {
		return penalty.Receipt{}, fmt.Errorf("%w: driver_id is required", ErrInvalidInput)
	}
	if rec.ViolationKind == "" {
		return penalty.Receipt{}, fmt.Errorf("%w: violation kind is required", ErrInvalidInput)
	}

	driverID := rec.DriverID
	normalized := utils.NormalizePlate(rec.Plate)
	if normalized != "" {
		driverID = normalized
	}

	detectedAt := rec.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}

	v := &repository.ParkingViolation{
		DriverID:       driverID,
		Kind:           rec.ViolationKind,
		Location:       rec.Location,
		ZoneID:         rec.ZoneID,
		TrackID:        rec.TrackID,
		FineAmount:     s.policy.FineAmount,
		PointsDeducted: s.policy.PointsPerViolation,
		DetectedAt:     detectedAt.UTC(),
		Details: datatypes.JSONMap{
			"camera_id": s.cameraID,
			"track_id":  rec.TrackID,
		},
	}
	if normalized != "" {
		raw := strings.TrimSpace(rec.Plate)
		v.RawPlate = &raw
		v.NormalizedPlate = &normalized
	}
	if rec.Notes != "" {
		notes := rec.Notes
		v.Notes = &notes
	}

	driver, err := s.repo.RecordViolation(ctx, v, s.policy.InitialScore)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("driver_id", driverID).
			Str("zone_id", rec.ZoneID).
			Msg("failed to store parking violation")
		return penalty.Receipt{}, fmt.Errorf("failed to store parking violation: %w", err)
	}

	s.log.Info().
		Int64("violation_id", v.ID).
		Str("driver_id", driverID).
		Str("plate", normalized).
		Str("zone_id", rec.ZoneID).
		Int("score", driver.Score).
		Time("detected_at", v.DetectedAt).
		Msg("saved parking violation to database")

	return penalty.Receipt{
		ViolationID:    v.ID,
		DriverID:       driverID,
		FineAmount:     v.FineAmount,
		PointsDeducted: v.PointsDeducted,
		CurrentScore:   driver.Score,
	}, nil
}

func (s *EnforcementService) FindPlates(ctx context.Context, plateQuery string) ([]PlateInfo, error) {
	normalized := utils.NormalizePlate(plateQuery)
	if normalized == "" {
		return nil, fmt.Errorf("%w: plate query cannot be empty", ErrInvalidInput)
	}

	plates, err := s.repo.FindPlatesByNormalized(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find plates: %w", err)
	}

	result := make([]PlateInfo, 0, len(plates))
	for _, p := range plates {
		lastViolation, _ := s.repo.GetLastViolationTimeForPlate(ctx, p.ID)
		result = append(result, PlateInfo{
			ID:                p.ID,
			Number:            p.Number,
			Normalized:        p.Normalized,
			LastViolationTime: lastViolation,
		})
	}

	return result, nil
}

func (s *EnforcementService) FindViolations(ctx context.Context, plateQuery *string, from, to *string, limit, offset int) ([]ViolationInfo, error) {
	var normalizedPlate *string
	if plateQuery != nil {
		normalized := utils.NormalizePlate(*plateQuery)
		if normalized != "" {
			normalizedPlate = &normalized
		}
	}

	fromTime, err := parseTime(from, "from")
	if err != nil {
		return nil, err
	}
	toTime, err := parseTime(to, "to")
	if err != nil {
		return nil, err
	}
	if fromTime != nil && toTime != nil && toTime.Before(*fromTime) {
		return nil, fmt.Errorf("%w: to must not be before from", ErrInvalidInput)
	}

	limit, offset = clampPage(limit, offset)

	violations, err := s.repo.FindViolations(ctx, nil, normalizedPlate, fromTime, toTime, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find violations: %w", err)
	}
	return toViolationInfos(violations), nil
}

const recentViolations = 10

// GetDriver looks the driver up by id, falling back to the normalized form
// so plates can be passed as typed on the street.
func (s *EnforcementService) GetDriver(ctx context.Context, id string) (*DriverInfo, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: driver id is required", ErrInvalidInput)
	}

	driver, err := s.repo.GetDriver(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get driver: %w", err)
	}
	if driver == nil {
		if normalized := utils.NormalizePlate(id); normalized != "" && normalized != id {
			driver, err = s.repo.GetDriver(ctx, normalized)
			if err != nil {
				return nil, fmt.Errorf("failed to get driver: %w", err)
			}
		}
	}
	if driver == nil {
		return nil, fmt.Errorf("%w: driver %s", ErrNotFound, id)
	}

	violations, err := s.repo.FindViolations(ctx, &driver.ID, nil, nil, nil, recentViolations, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to find driver violations: %w", err)
	}

	return &DriverInfo{
		ID:               driver.ID,
		Score:            driver.Score,
		ViolationCount:   driver.ViolationCount,
		TotalFines:       driver.TotalFines,
		LastViolationAt:  driver.LastViolationAt,
		RecentViolations: toViolationInfos(violations),
	}, nil
}

// CleanupOldViolations deletes violations older than the given number of days.
func (s *EnforcementService) CleanupOldViolations(ctx context.Context, days int) (int64, error) {
	deleted, err := s.repo.DeleteOldViolations(ctx, days)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old violations")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old violations")
	}
	return deleted, nil
}

func parseTime(value *string, name string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *value)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s time format", ErrInvalidInput, name)
	}
	t = t.UTC()
	return &t, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func toViolationInfos(violations []repository.ParkingViolation) []ViolationInfo {
	result := make([]ViolationInfo, 0, len(violations))
	for _, v := range violations {
		result = append(result, ViolationInfo{
			ID:              v.ID,
			DriverID:        v.DriverID,
			PlateID:         v.PlateID,
			Kind:            v.Kind,
			Location:        v.Location,
			ZoneID:          v.ZoneID,
			TrackID:         v.TrackID,
			RawPlate:        v.RawPlate,
			NormalizedPlate: v.NormalizedPlate,
			Notes:           v.Notes,
			FineAmount:      v.FineAmount,
			PointsDeducted:  v.PointsDeducted,
			ScoreAfter:      v.ScoreAfter,
			DetectedAt:      v.DetectedAt,
		})
	}
	return result
}

type PlateInfo struct {
	ID                int64      `json:"id"`
	Number            string     `json:"number"`
	Normalized        string     `json:"normalized"`
	LastViolationTime *time.Time `json:"last_violation_time,omitempty"`
}

type ViolationInfo struct {
	ID              int64     `json:"id"`
	DriverID        string    `json:"driver_id"`
	PlateID         *int64    `json:"plate_id,omitempty"`
	Kind            string    `json:"kind"`
	Location        string    `json:"location"`
	ZoneID          string    `json:"zone_id"`
	TrackID         int       `json:"track_id"`
	RawPlate        *string   `json:"raw_plate,omitempty"`
	NormalizedPlate *string   `json:"normalized_plate,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
	FineAmount      float64   `json:"fine_amount"`
	PointsDeducted  int       `json:"points_deducted"`
	ScoreAfter      int       `json:"score_after"`
	DetectedAt      time.Time `json:"detected_at"`
}

type DriverInfo struct {
	ID               string          `json:"id"`
	Score            int             `json:"score"`
	ViolationCount   int             `json:"violation_count"`
	TotalFines       float64         `json:"total_fines"`
	LastViolationAt  *time.Time      `json:"last_violation_at,omitempty"`
	RecentViolations []ViolationInfo `json:"recent_violations"`
}
