package db

import (
	"fmt"

	"gorm.io/gorm"

	"parking-violation-service/internal/repository"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS plates (
		id              BIGSERIAL PRIMARY KEY,
		number          TEXT NOT NULL,
		normalized      TEXT NOT NULL,
		country         TEXT,
		region          TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_plates_normalized ON plates(normalized);`,
	`CREATE TABLE IF NOT EXISTS drivers (
		id                TEXT PRIMARY KEY,
		plate_id          BIGINT REFERENCES plates(id),
		score             INT NOT NULL,
		violation_count   INT NOT NULL DEFAULT 0,
		total_fines       NUMERIC(12,2) NOT NULL DEFAULT 0,
		last_violation_at TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS parking_violations (
		id               BIGSERIAL PRIMARY KEY,
		driver_id        TEXT NOT NULL REFERENCES drivers(id),
		plate_id         BIGINT REFERENCES plates(id),
		kind             TEXT NOT NULL,
		location         TEXT NOT NULL,
		zone_id          TEXT NOT NULL,
		track_id         INT,
		raw_plate        TEXT,
		normalized_plate TEXT,
		notes            TEXT,
		fine_amount      NUMERIC(12,2) NOT NULL,
		points_deducted  INT NOT NULL,
		score_after      INT NOT NULL,
		detected_at      TIMESTAMPTZ NOT NULL,
		details          JSONB,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_parking_violations_driver_id ON parking_violations(driver_id);`,
	`CREATE INDEX IF NOT EXISTS idx_parking_violations_normalized_plate ON parking_violations(normalized_plate);`,
	`CREATE INDEX IF NOT EXISTS idx_parking_violations_detected_at ON parking_violations(detected_at);`,
	`CREATE TABLE IF NOT EXISTS parking_zones (
		id          TEXT PRIMARY KEY,
		position    INT NOT NULL,
		name        TEXT,
		polygon     JSONB NOT NULL,
		color       JSONB,
		zone_type   TEXT NOT NULL DEFAULT 'no_parking',
		active      BOOLEAN NOT NULL DEFAULT true,
		coord_mode  TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Migrate brings the schema up to date. Postgres gets the hand-written DDL;
// sqlite, used for development and tests, is migrated from the gorm models.
func Migrate(db *gorm.DB) error {
	if db.Dialector.Name() == "postgres" {
		return runMigrations(db)
	}
	if err := db.AutoMigrate(repository.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
