package zones

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-violation-service/internal/domain/parking"
)

func fullFrame(id string) parking.Zone {
	return parking.Zone{
		ID:       id,
		Name:     "No Parking " + id,
		Polygon:  [][2]float64{{0, 0}, {0, 1}, {1, 1}, {1, 0}},
		Color:    [3]uint8{0, 0, 255},
		ZoneType: parking.DefaultZoneType,
		Active:   true,
	}
}

func newFileStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parking_zones.json")
	return NewStore(NewFileSource(path), zerolog.Nop()), path
}

func TestStoreMissingFileIsEmpty(t *testing.T) {
	s, _ := newFileStore(t)
	require.NoError(t, s.Load(context.Background()))
	assert.Empty(t, s.All())
}

func TestStoreAddPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	s, path := newFileStore(t)
	require.NoError(t, s.Load(ctx))

	require.NoError(t, s.Add(ctx, fullFrame("z1")))
	require.NoError(t, s.Add(ctx, fullFrame("z2")))

	reloaded := NewStore(NewFileSource(path), zerolog.Nop())
	require.NoError(t, reloaded.Load(ctx))

	all := reloaded.All()
	require.Len(t, all, 2)
	assert.Equal(t, "z1", all[0].ID)
	assert.Equal(t, "z2", all[1].ID)
	assert.Equal(t, [3]uint8{0, 0, 255}, all[0].Color)
}

func TestStoreRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)

	require.NoError(t, s.Add(ctx, fullFrame("z1")))
	err := s.Add(ctx, fullFrame("z1"))
	assert.ErrorIs(t, err, ErrDuplicateZone)
	assert.Len(t, s.All(), 1)
}

func TestStoreRejectsMalformedZone(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)

	z := fullFrame("bad")
	z.Polygon = z.Polygon[:2]
	assert.ErrorIs(t, s.Add(ctx, z), parking.ErrInvalidZone)

	z = fullFrame("mode")
	z.CoordMode = "polar"
	assert.ErrorIs(t, s.Add(ctx, z), parking.ErrInvalidZone)
	assert.Empty(t, s.All())
}

func TestStoreLoadExcludesInvalidZones(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "zones.json")
	data := `[
		{"id": "ok", "name": "ok", "polygon": [[0,0],[0,1],[1,1]], "color": [0,0,255], "zone_type": "no_parking", "active": true},
		{"id": "short", "name": "short", "polygon": [[0,0],[1,1]], "color": [0,0,255], "zone_type": "no_parking", "active": true},
		{"id": "ok", "name": "dup", "polygon": [[0,0],[0,1],[1,1]], "color": [0,0,255], "zone_type": "no_parking", "active": true}
	]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	s := NewStore(NewFileSource(path), zerolog.Nop())
	require.NoError(t, s.Load(ctx))

	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, "ok", all[0].ID)
	assert.Equal(t, "ok", all[0].Name)
}

func TestStoreActiveFiltersInactive(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)

	off := fullFrame("off")
	off.Active = false
	require.NoError(t, s.Add(ctx, fullFrame("on")))
	require.NoError(t, s.Add(ctx, off))

	active := s.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "on", active[0].ID)
}

func TestStoreRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	s, path := newFileStore(t)

	require.NoError(t, s.Add(ctx, fullFrame("z1")))
	require.NoError(t, s.Add(ctx, fullFrame("z2")))

	require.NoError(t, s.Remove(ctx, "z1"))
	assert.ErrorIs(t, s.Remove(ctx, "z1"), ErrZoneNotFound)
	require.Len(t, s.All(), 1)

	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, s.All())

	reloaded := NewStore(NewFileSource(path), zerolog.Nop())
	require.NoError(t, reloaded.Load(ctx))
	assert.Empty(t, reloaded.All())
}

func TestStoreAddDefaultsZoneType(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)

	z := fullFrame("z1")
	z.ZoneType = ""
	require.NoError(t, s.Add(ctx, z))
	assert.Equal(t, parking.DefaultZoneType, s.All()[0].ZoneType)
}

func writeZones(t *testing.T, path string) {
	t.Helper()
	data := `[
		{"id": "good", "name": "good", "polygon": [[0,0],[0,1],[1,1]], "color": [0,0,255], "zone_type": "no_parking", "active": true},
		{"id": "typo", "name": "typo", "polygon": [[0,0],[1,1]], "color": [0,0,255], "zone_type": "no_parking", "active": true}
	]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func storedIDs(t *testing.T, path string) []string {
	t.Helper()
	stored, err := NewFileSource(path).Load(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(stored))
	for _, z := range stored {
		ids = append(ids, z.ID)
	}
	return ids
}

func TestStoreMutationsKeepMalformedRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "zones.json")
	writeZones(t, path)

	s := NewStore(NewFileSource(path), zerolog.Nop())
	require.NoError(t, s.Load(ctx))
	require.Len(t, s.All(), 1)

	require.NoError(t, s.Add(ctx, fullFrame("new")))
	assert.ElementsMatch(t, []string{"good", "new", "typo"}, storedIDs(t, path))

	require.NoError(t, s.Remove(ctx, "good"))
	assert.ElementsMatch(t, []string{"new", "typo"}, storedIDs(t, path))

	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, s.All())
	assert.Equal(t, []string{"typo"}, storedIDs(t, path))
}

func TestStoreRemoveDeletesMalformedRecord(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "zones.json")
	writeZones(t, path)

	s := NewStore(NewFileSource(path), zerolog.Nop())
	require.NoError(t, s.Load(ctx))

	require.NoError(t, s.Remove(ctx, "typo"))
	assert.Equal(t, []string{"good"}, storedIDs(t, path))
	assert.ErrorIs(t, s.Remove(ctx, "typo"), ErrZoneNotFound)
}

func TestStoreAddReplacesMalformedRecord(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "zones.json")
	writeZones(t, path)

	s := NewStore(NewFileSource(path), zerolog.Nop())
	require.NoError(t, s.Load(ctx))

	require.NoError(t, s.Add(ctx, fullFrame("typo")))
	assert.ElementsMatch(t, []string{"good", "typo"}, storedIDs(t, path))

	reloaded := NewStore(NewFileSource(path), zerolog.Nop())
	require.NoError(t, reloaded.Load(ctx))
	assert.Len(t, reloaded.Active(), 2)
}
