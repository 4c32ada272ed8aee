package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"parking-violation-service/internal/domain/parking"
)

// ZoneRecord persists one restricted zone. Position keeps the definition
// order that zone lookup depends on.
type ZoneRecord struct {
	ID        string `gorm:"primaryKey"`
	Position  int    `gorm:"not null"`
	Name      string
	Polygon   datatypes.JSONType[[][2]float64] `gorm:"not null"`
	Color     datatypes.JSONType[[3]uint8]
	ZoneType  string `gorm:"not null"`
	Active    bool   `gorm:"not null"`
	CoordMode string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ZoneRecord) TableName() string { return "parking_zones" }

// ZoneRepository stores zones in the database for the zone store.
type ZoneRepository struct {
	db *gorm.DB
}

func NewZoneRepository(db *gorm.DB) *ZoneRepository {
	return &ZoneRepository{db: db}
}

func (r *ZoneRepository) Load(ctx context.Context) ([]parking.Zone, error) {
	var records []ZoneRecord
	if err := r.db.WithContext(ctx).Order("position ASC").Find(&records).Error; err != nil {
		return nil, err
	}

	zones := make([]parking.Zone, 0, len(records))
	for _, rec := range records {
		zones = append(zones, parking.Zone{
			ID:        rec.ID,
			Name:      rec.Name,
			Polygon:   rec.Polygon.Data(),
			Color:     rec.Color.Data(),
			ZoneType:  rec.ZoneType,
			Active:    rec.Active,
			CoordMode: parking.CoordMode(rec.CoordMode),
		})
	}
	return zones, nil
}

// Save replaces the stored zone set.
func (r *ZoneRepository) Save(ctx context.Context, zones []parking.Zone) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&ZoneRecord{}).Error; err != nil {
			return err
		}
		if len(zones) == 0 {
			return nil
		}

		now := time.Now()
		records := make([]ZoneRecord, 0, len(zones))
		for i, z := range zones {
			records = append(records, ZoneRecord{
				ID:        z.ID,
				Position:  i,
				Name:      z.Name,
				Polygon:   datatypes.NewJSONType(z.Polygon),
				Color:     datatypes.NewJSONType(z.Color),
				ZoneType:  z.ZoneType,
				Active:    z.Active,
				CoordMode: string(z.CoordMode),
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
		return tx.Create(&records).Error
	})
}
