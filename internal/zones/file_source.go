package zones

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"parking-violation-service/internal/domain/parking"
)

// FileSource keeps zones in a JSON file. A missing file is an empty zone list.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: filepath.Clean(path)}
}

func (f *FileSource) Load(_ context.Context) ([]parking.Zone, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return []parking.Zone{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read zones file: %w", err)
	}

	var zones []parking.Zone
	if err := json.Unmarshal(data, &zones); err != nil {
		return nil, fmt.Errorf("failed to parse zones file %s: %w", f.path, err)
	}
	return zones, nil
}

// Save writes to a temporary file and renames it over the target.
func (f *FileSource) Save(_ context.Context, zones []parking.Zone) error {
	if zones == nil {
		zones = []parking.Zone{}
	}
	data, err := json.MarshalIndent(zones, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode zones: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create zones dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".zones-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp zones file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write zones file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close zones file: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}
