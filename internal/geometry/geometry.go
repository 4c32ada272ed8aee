// Package geometry resolves which restricted zone, if any, contains a point of a frame.
package geometry

import (
	"math"

	"parking-violation-service/internal/domain/parking"
)

const epsilon = 1e-9

// ZoneProvider returns the active zones in definition order.
type ZoneProvider interface {
	Active() []parking.Zone
}

type Engine struct {
	zones ZoneProvider
}

func NewEngine(zones ZoneProvider) *Engine {
	return &Engine{zones: zones}
}

// Locate returns the first zone containing p. Normalized polygons are scaled by
// the frame size before testing; points on an edge or vertex count as inside.
func (e *Engine) Locate(p parking.Point, frameWidth, frameHeight int) (parking.Zone, bool) {
	pt := [2]float64{float64(p.X), float64(p.Y)}
	for _, z := range e.zones.Active() {
		poly := z.Polygon
		if z.Normalized() {
			poly = Scale(poly, float64(frameWidth), float64(frameHeight))
		}
		if Contains(poly, pt) {
			return z, true
		}
	}
	return parking.Zone{}, false
}

func Scale(poly [][2]float64, w, h float64) [][2]float64 {
	out := make([][2]float64, len(poly))
	for i, p := range poly {
		out[i] = [2]float64{p[0] * w, p[1] * h}
	}
	return out
}

// Contains is an inclusive point-in-polygon test using ray casting.
func Contains(poly [][2]float64, pt [2]float64) bool {
	n := len(poly)
	if n < 3 {
		return false
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		a, b := poly[i], poly[j]
		if onSegment(a, b, pt) {
			return true
		}
		if (a[1] > pt[1]) != (b[1] > pt[1]) {
			xCross := (b[0]-a[0])*(pt[1]-a[1])/(b[1]-a[1]) + a[0]
			if pt[0] < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

func onSegment(a, b, p [2]float64) bool {
	cross := (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
	if math.Abs(cross) > epsilon*math.Max(1, math.Hypot(b[0]-a[0], b[1]-a[1])) {
		return false
	}
	return p[0] >= math.Min(a[0], b[0])-epsilon && p[0] <= math.Max(a[0], b[0])+epsilon &&
		p[1] >= math.Min(a[1], b[1])-epsilon && p[1] <= math.Max(a[1], b[1])+epsilon
}
