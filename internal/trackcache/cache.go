// Package trackcache holds per-track memory that lets the pipeline skip
// expensive detector, plate and OCR calls between frames.
package trackcache

import (
	"time"

	"parking-violation-service/internal/domain/parking"
)

// PlateTopRejectFraction rejects plate candidates whose vertical centre falls
// in the top part of a vehicle crop.
const PlateTopRejectFraction = 0.3

// MinPlateTextLength is the shortest OCR text trusted as a plate.
const MinPlateTextLength = 4

type Config struct {
	DetectorInterval       int
	PlateInterval          int
	OCRCooldown            time.Duration
	MaxAgeFrames           int
	DefaultPlateConfidence float64
	TrackedPlateConfidence float64
	MinCropSize            int
}

func DefaultConfig() Config {
	return Config{
		DetectorInterval:       2,
		PlateInterval:          3,
		OCRCooldown:            2 * time.Second,
		MaxAgeFrames:           3000,
		DefaultPlateConfidence: 0.2,
		TrackedPlateConfidence: 0.1,
		MinCropSize:            20,
	}
}

type PlateMemory struct {
	BBox      parking.BBox
	Text      string
	SeenAt    time.Time
	AgeFrames int
}

// Cache is not safe for concurrent use; the pipeline serializes access to it.
type Cache struct {
	cfg Config

	lastDetections []parking.Detection
	haveDetections bool
	lastPlateBoxes []parking.BBox

	plates  map[int]*PlateMemory
	lastOCR map[int]time.Time
}

func New(cfg Config) *Cache {
	return &Cache{
		cfg:     cfg,
		plates:  make(map[int]*PlateMemory),
		lastOCR: make(map[int]time.Time),
	}
}

func every(frameIndex, interval int) bool {
	if interval <= 1 {
		return true
	}
	return frameIndex%interval == 0
}

func (c *Cache) ShouldRunDetector(frameIndex int) bool {
	return every(frameIndex, c.cfg.DetectorInterval)
}

func (c *Cache) ShouldRunPlateDetector(frameIndex int) bool {
	return every(frameIndex, c.cfg.PlateInterval)
}

// LastDetections returns the list stored by the last detector run, unchanged.
func (c *Cache) LastDetections() ([]parking.Detection, bool) {
	return c.lastDetections, c.haveDetections
}

func (c *Cache) StoreDetections(dets []parking.Detection) {
	c.lastDetections = dets
	c.haveDetections = true
}

func (c *Cache) LastPlateBoxes() []parking.BBox {
	return c.lastPlateBoxes
}

func (c *Cache) StorePlateBoxes(boxes []parking.BBox) {
	c.lastPlateBoxes = boxes
}

// ShouldRunOCR is true when nothing has been read for the track yet or the
// cooldown since the last successful read has elapsed.
func (c *Cache) ShouldRunOCR(trackID int, now time.Time) bool {
	if c.CachedText(trackID) == "" {
		return true
	}
	return now.Sub(c.lastOCR[trackID]) >= c.cfg.OCRCooldown
}

func (c *Cache) CachedText(trackID int) string {
	if m, ok := c.plates[trackID]; ok {
		return m.Text
	}
	return ""
}

// MarkOCR records a successful plate read for the track.
func (c *Cache) MarkOCR(trackID int, now time.Time) {
	c.lastOCR[trackID] = now
}

// RememberPlate refreshes the plate memory of a track.
func (c *Cache) RememberPlate(trackID int, bbox parking.BBox, text string, now time.Time) {
	c.plates[trackID] = &PlateMemory{
		BBox:   bbox,
		Text:   text,
		SeenAt: now,
	}
}

func (c *Cache) Plate(trackID int) (PlateMemory, bool) {
	m, ok := c.plates[trackID]
	if !ok {
		return PlateMemory{}, false
	}
	return *m, true
}

// BestText returns the remembered plate text if it is long enough to trust.
func (c *Cache) BestText(trackID int) string {
	text := c.CachedText(trackID)
	if len(text) < MinPlateTextLength {
		return ""
	}
	return text
}

// PlateConfidence returns the plate detector threshold for a vehicle. Tracks
// already dwelling in a zone get the looser threshold.
func (c *Cache) PlateConfidence(tracked bool) float64 {
	if tracked {
		return c.cfg.TrackedPlateConfidence
	}
	return c.cfg.DefaultPlateConfidence
}

// CropUsable reports whether a clamped vehicle crop is big enough for plate detection.
func (c *Cache) CropUsable(crop parking.BBox) bool {
	return crop.Width() >= c.cfg.MinCropSize && crop.Height() >= c.cfg.MinCropSize
}

// AcceptPlate applies the geometric filter to a crop-local candidate box.
func AcceptPlate(candidate parking.BBox, cropHeight int) bool {
	centerY := (candidate.Y1 + candidate.Y2) / 2
	return float64(centerY) >= float64(cropHeight)*PlateTopRejectFraction
}

// Age advances every plate memory by one frame, evicts entries that are too
// old or whose track is no longer detected, and returns the surviving plates.
func (c *Cache) Age(active map[int]struct{}) map[int]parking.PlateInfo {
	remembered := make(map[int]parking.PlateInfo, len(c.plates))
	for id, m := range c.plates {
		m.AgeFrames++
		_, present := active[id]
		if !present || m.AgeFrames >= c.cfg.MaxAgeFrames {
			delete(c.plates, id)
			delete(c.lastOCR, id)
			continue
		}
		remembered[id] = parking.PlateInfo{BBox: m.BBox, Text: m.Text}
	}
	return remembered
}

func (c *Cache) Len() int {
	return len(c.plates)
}

func (c *Cache) Reset() {
	c.lastDetections = nil
	c.haveDetections = false
	c.lastPlateBoxes = nil
	clear(c.plates)
	clear(c.lastOCR)
}
