package parking

import (
	"time"
)

// UntrackedID marks a detection the external tracker did not assign an identity to.
const UntrackedID = -1

type Status string

const (
	StatusNone      Status = ""
	StatusWarning   Status = "warning"
	StatusViolation Status = "violation"
)

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b BBox) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

func (b BBox) Width() int  { return b.X2 - b.X1 }
func (b BBox) Height() int { return b.Y2 - b.Y1 }

func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Clamp restricts the box to a width x height frame.
func (b BBox) Clamp(width, height int) BBox {
	return BBox{
		X1: max(0, b.X1),
		Y1: max(0, b.Y1),
		X2: min(width, b.X2),
		Y2: min(height, b.Y2),
	}
}

func (b BBox) Offset(dx, dy int) BBox {
	return BBox{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

type Detection struct {
	TrackID    int       `json:"track_id"`
	ClassID    int       `json:"class_id"`
	Class      string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	BBox       BBox      `json:"bbox"`
	Centroid   *Point    `json:"centroid,omitempty"`
	Area       int       `json:"area"`
	Timestamp  time.Time `json:"timestamp"`

	HasPlate  bool   `json:"has_plate"`
	PlateBBox *BBox  `json:"plate_bbox,omitempty"`
	PlateText string `json:"plate_text,omitempty"`

	DwellSeconds float64 `json:"dwell_seconds"`
	Status       Status  `json:"status"`
	ZoneID       string  `json:"zone_id,omitempty"`
	IsPenalized  bool    `json:"is_penalized"`
}

func (d Detection) Tracked() bool {
	return d.TrackID != UntrackedID
}

type Frame struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Image     []byte    `json:"-"`
}

// Crop is a vehicle region submitted to the plate detector.
type Crop struct {
	TrackID       int     `json:"track_id"`
	BBox          BBox    `json:"bbox"`
	MinConfidence float64 `json:"min_confidence"`
}

// PlateCandidate is a plate box in crop-local coordinates.
type PlateCandidate struct {
	TrackID    int     `json:"track_id"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

type PlateInfo struct {
	BBox BBox
	Text string
}

type FrameResult struct {
	FrameID        int         `json:"frame_id"`
	Timestamp      time.Time   `json:"timestamp"`
	Detections     []Detection `json:"detections"`
	PlateBoxes     []BBox      `json:"plate_boxes"`
	VehicleCount   int         `json:"vehicle_count"`
	WarningCount   int         `json:"warning_count"`
	ViolationCount int         `json:"violation_count"`
	InferenceMS    float64     `json:"inference_ms"`
}
