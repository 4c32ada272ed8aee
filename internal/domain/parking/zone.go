package parking

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidZone = errors.New("invalid zone")

type CoordMode string

const (
	// CoordAuto infers the mode from the polygon: all coordinates <= 1.0 means normalized.
	CoordAuto       CoordMode = ""
	CoordNormalized CoordMode = "normalized"
	CoordAbsolute   CoordMode = "absolute"
)

const DefaultZoneType = "no_parking"

type Zone struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Polygon   [][2]float64 `json:"polygon"`
	Color     [3]uint8     `json:"color"`
	ZoneType  string       `json:"zone_type"`
	Active    bool         `json:"active"`
	CoordMode CoordMode    `json:"coord_mode,omitempty"`
}

// Normalized reports whether the polygon is expressed in 0..1 frame units.
func (z Zone) Normalized() bool {
	switch z.CoordMode {
	case CoordNormalized:
		return true
	case CoordAbsolute:
		return false
	}
	for _, p := range z.Polygon {
		if p[0] > 1.0 || p[1] > 1.0 {
			return false
		}
	}
	return true
}

func (z Zone) Validate() error {
	if z.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidZone)
	}
	if len(z.Polygon) < 3 {
		return fmt.Errorf("%w: zone %q has %d polygon points, need at least 3", ErrInvalidZone, z.ID, len(z.Polygon))
	}
	switch z.CoordMode {
	case CoordAuto, CoordNormalized, CoordAbsolute:
	default:
		return fmt.Errorf("%w: zone %q has unknown coordinate mode %q", ErrInvalidZone, z.ID, z.CoordMode)
	}
	for i, p := range z.Polygon {
		for _, c := range p {
			if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
				return fmt.Errorf("%w: zone %q point %d is out of range", ErrInvalidZone, z.ID, i)
			}
			if z.CoordMode == CoordNormalized && c > 1.0 {
				return fmt.Errorf("%w: zone %q point %d exceeds normalized range", ErrInvalidZone, z.ID, i)
			}
		}
	}
	return nil
}
