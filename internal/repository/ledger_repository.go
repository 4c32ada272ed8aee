package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

type Plate struct {
	ID         int64  `gorm:"primaryKey"`
	Number     string `gorm:"not null"`
	Normalized string `gorm:"not null;uniqueIndex"`
	Country    *string
	Region     *string
	CreatedAt  time.Time
}

// Driver is identified by the normalized plate, or by a placeholder id when
// the plate was never read.
type Driver struct {
	ID              string `gorm:"primaryKey"`
	PlateID         *int64
	Score           int     `gorm:"not null"`
	ViolationCount  int     `gorm:"not null"`
	TotalFines      float64 `gorm:"not null"`
	LastViolationAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ParkingViolation struct {
	ID              int64  `gorm:"primaryKey"`
	DriverID        string `gorm:"not null;index"`
	PlateID         *int64
	Kind            string `gorm:"not null"`
	Location        string `gorm:"not null"`
	ZoneID          string `gorm:"not null"`
	TrackID         int
	RawPlate        *string
	NormalizedPlate *string `gorm:"index"`
	Notes           *string
	FineAmount      float64   `gorm:"not null"`
	PointsDeducted  int       `gorm:"not null"`
	ScoreAfter      int       `gorm:"not null"`
	DetectedAt      time.Time `gorm:"not null;index"`
	Details         datatypes.JSONMap
	CreatedAt       time.Time
}

// Models lists every table owned by the repositories, in creation order.
func Models() []any {
	return []any{&Plate{}, &Driver{}, &ParkingViolation{}, &ZoneRecord{}}
}

func (r *LedgerRepository) GetOrCreatePlate(ctx context.Context, normalized, original string) (int64, error) {
	return getOrCreatePlate(r.db.WithContext(ctx), normalized, original)
}

func getOrCreatePlate(tx *gorm.DB, normalized, original string) (int64, error) {
	var plate Plate
	err := tx.Where("normalized = ?", normalized).First(&plate).Error
	if err == nil {
		return plate.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	plate = Plate{
		Number:     original,
		Normalized: normalized,
		CreatedAt:  time.Now(),
	}
	if err := tx.Create(&plate).Error; err != nil {
		return 0, err
	}
	return plate.ID, nil
}

// RecordViolation stores the violation and charges the driver in one
// transaction. Drivers are created on first violation with initialScore; the
// score never drops below zero. v.ScoreAfter and v.ID are filled in.
func (r *LedgerRepository) RecordViolation(ctx context.Context, v *ParkingViolation, initialScore int) (*Driver, error) {
	var driver Driver

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if v.NormalizedPlate != nil && *v.NormalizedPlate != "" {
			raw := *v.NormalizedPlate
			if v.RawPlate != nil {
				raw = *v.RawPlate
			}
			plateID, err := getOrCreatePlate(tx, *v.NormalizedPlate, raw)
			if err != nil {
				return err
			}
			v.PlateID = &plateID
		}

		isNew := false
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", v.DriverID).
			First(&driver).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			isNew = true
			driver = Driver{
				ID:      v.DriverID,
				PlateID: v.PlateID,
				Score:   initialScore,
			}
		case err != nil:
			return err
		}

		driver.Score = max(0, driver.Score-v.PointsDeducted)
		driver.ViolationCount++
		driver.TotalFines += v.FineAmount
		detected := v.DetectedAt
		driver.LastViolationAt = &detected
		if driver.PlateID == nil {
			driver.PlateID = v.PlateID
		}
		if isNew {
			err = tx.Create(&driver).Error
		} else {
			err = tx.Save(&driver).Error
		}
		if err != nil {
			return err
		}

		v.ScoreAfter = driver.Score
		if v.CreatedAt.IsZero() {
			v.CreatedAt = time.Now()
		}
		return tx.Create(v).Error
	})
	if err != nil {
		return nil, err
	}
	return &driver, nil
}

func (r *LedgerRepository) GetDriver(ctx context.Context, id string) (*Driver, error) {
	var driver Driver
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&driver).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &driver, nil
}

func (r *LedgerRepository) FindPlatesByNormalized(ctx context.Context, normalized string) ([]Plate, error) {
	var plates []Plate
	err := r.db.WithContext(ctx).
		Where("normalized = ?", normalized).
		Find(&plates).Error
	return plates, err
}

func (r *LedgerRepository) FindViolations(ctx context.Context, driverID, normalizedPlate *string, from, to *time.Time, limit, offset int) ([]ParkingViolation, error) {
	query := r.db.WithContext(ctx).Model(&ParkingViolation{})

	if driverID != nil {
		query = query.Where("driver_id = ?", *driverID)
	}
	if normalizedPlate != nil {
		query = query.Where("normalized_plate = ?", *normalizedPlate)
	}
	if from != nil {
		query = query.Where("detected_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("detected_at <= ?", *to)
	}

	query = query.Order("detected_at DESC").Order("id DESC")

	if limit > 0 {
		query = query.Limit(min(limit, 100))
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var violations []ParkingViolation
	err := query.Find(&violations).Error
	return violations, err
}

func (r *LedgerRepository) GetLastViolationTimeForPlate(ctx context.Context, plateID int64) (*time.Time, error) {
	var v ParkingViolation
	err := r.db.WithContext(ctx).
		Where("plate_id = ?", plateID).
		Order("detected_at DESC").
		First(&v).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &v.DetectedAt, nil
}

// DeleteOldViolations removes violations detected more than days ago. Driver
// scores are left untouched.
func (r *LedgerRepository) DeleteOldViolations(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res := r.db.WithContext(ctx).
		Where("detected_at < ?", cutoff).
		Delete(&ParkingViolation{})
	return res.RowsAffected, res.Error
}
