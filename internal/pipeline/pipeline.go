// Package pipeline drives the per-frame detection stages and feeds the
// violation tracker.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parking-violation-service/internal/domain/parking"
	"parking-violation-service/internal/trackcache"
	"parking-violation-service/internal/violation"
)

// Detector is the external vehicle detector and tracker.
type Detector interface {
	Track(ctx context.Context, frame parking.Frame) ([]parking.Detection, error)
}

// PlateDetector finds plate boxes inside vehicle crops. Returned boxes are
// crop-local.
type PlateDetector interface {
	DetectPlates(ctx context.Context, frame parking.Frame, crops []parking.Crop) ([]parking.PlateCandidate, error)
}

// PlateReader runs OCR on an absolute plate box of the frame.
type PlateReader interface {
	ReadPlate(ctx context.Context, frame parking.Frame, box parking.BBox) (string, error)
}

type Options struct {
	PlatesEnabled bool
	// Now defaults to time.Now; frames carrying a timestamp use it instead.
	Now func() time.Time
}

type Pipeline struct {
	mu sync.Mutex

	detector Detector
	plates   PlateDetector
	reader   PlateReader
	cache    *trackcache.Cache
	tracker  *violation.Tracker

	platesEnabled bool
	now           func() time.Time
	log           zerolog.Logger

	processed int
}

// New wires the pipeline. plates and reader may be nil, which disables the
// plate stage or OCR respectively.
func New(
	detector Detector,
	plates PlateDetector,
	reader PlateReader,
	cache *trackcache.Cache,
	tracker *violation.Tracker,
	opts Options,
	log zerolog.Logger,
) *Pipeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		detector:      detector,
		plates:        plates,
		reader:        reader,
		cache:         cache,
		tracker:       tracker,
		platesEnabled: opts.PlatesEnabled && plates != nil,
		now:           now,
		log:           log,
	}
}

// ProcessFrame runs one frame through detection, plate recognition and the
// violation tracker. Frames are processed one at a time.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame parking.Frame) (*parking.FrameResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.now()
	ts := frame.Timestamp
	if ts.IsZero() {
		ts = start
	}

	dets := p.vehicles(ctx, frame, ts)
	active := trackIDs(dets)

	var plateBoxes []parking.BBox
	plateMap := make(map[int]parking.PlateInfo)
	if p.platesEnabled {
		if p.cache.ShouldRunPlateDetector(p.processed) {
			plateBoxes, plateMap = p.detectPlates(ctx, frame, dets, ts)
			p.cache.StorePlateBoxes(plateBoxes)
		} else {
			plateBoxes = append([]parking.BBox(nil), p.cache.LastPlateBoxes()...)
		}

		for id, info := range p.cache.Age(active) {
			if _, ok := plateMap[id]; ok {
				continue
			}
			plateMap[id] = info
			if !containsBox(plateBoxes, info.BBox) {
				plateBoxes = append(plateBoxes, info.BBox)
			}
		}
	}

	result := &parking.FrameResult{
		FrameID:    frame.Index,
		Timestamp:  ts,
		Detections: make([]parking.Detection, len(dets)),
		PlateBoxes: plateBoxes,
	}
	copy(result.Detections, dets)

	for i := range result.Detections {
		d := &result.Detections[i]
		if info, ok := plateMap[d.TrackID]; ok && d.Tracked() {
			box := info.BBox
			d.HasPlate = true
			d.PlateBBox = &box
			d.PlateText = info.Text
		}

		obs := p.tracker.Observe(ctx, *d, ts, frame.Width, frame.Height)
		d.DwellSeconds = obs.Dwell.Seconds()
		d.Status = obs.State.Status()
		d.ZoneID = obs.ZoneID
		d.IsPenalized = obs.IsPenalized

		switch d.Status {
		case parking.StatusWarning:
			result.WarningCount++
		case parking.StatusViolation:
			result.ViolationCount++
		}
	}

	if removed := p.tracker.Cleanup(active, ts); removed > 0 {
		p.log.Debug().Int("removed", removed).Msg("expired parking entries")
	}

	p.processed++
	result.VehicleCount = len(result.Detections)
	result.InferenceMS = float64(p.now().Sub(start).Microseconds()) / 1000

	return result, nil
}

// vehicles returns the detector output, reusing the previous list on skipped
// frames or when the detector fails.
func (p *Pipeline) vehicles(ctx context.Context, frame parking.Frame, ts time.Time) []parking.Detection {
	last, haveLast := p.cache.LastDetections()
	if haveLast && !p.cache.ShouldRunDetector(p.processed) {
		return last
	}

	dets, err := p.detector.Track(ctx, frame)
	if err != nil {
		p.log.Error().Err(err).Int("frame_id", frame.Index).Msg("vehicle detection failed, reusing previous detections")
		return last
	}

	for i := range dets {
		d := &dets[i]
		if d.Timestamp.IsZero() {
			d.Timestamp = ts
		}
		if d.Area == 0 && d.BBox.Valid() {
			d.Area = d.BBox.Width() * d.BBox.Height()
		}
	}
	p.cache.StoreDetections(dets)
	return dets
}

func (p *Pipeline) detectPlates(ctx context.Context, frame parking.Frame, dets []parking.Detection, now time.Time) ([]parking.BBox, map[int]parking.PlateInfo) {
	plateMap := make(map[int]parking.PlateInfo)

	crops := make([]parking.Crop, 0, len(dets))
	for _, d := range dets {
		if !d.Tracked() {
			continue
		}
		crop := d.BBox.Clamp(frame.Width, frame.Height)
		if !p.cache.CropUsable(crop) {
			continue
		}
		crops = append(crops, parking.Crop{
			TrackID:       d.TrackID,
			BBox:          crop,
			MinConfidence: p.cache.PlateConfidence(p.tracker.Tracked(d.TrackID)),
		})
	}
	if len(crops) == 0 {
		return nil, plateMap
	}

	candidates, err := p.plates.DetectPlates(ctx, frame, crops)
	if err != nil {
		p.log.Warn().Err(err).Int("frame_id", frame.Index).Msg("plate detection failed")
		return nil, plateMap
	}

	byTrack := make(map[int][]parking.PlateCandidate, len(crops))
	for _, c := range candidates {
		byTrack[c.TrackID] = append(byTrack[c.TrackID], c)
	}

	var boxes []parking.BBox
	for _, crop := range crops {
		id := crop.TrackID
		for _, cand := range byTrack[id] {
			if !trackcache.AcceptPlate(cand.BBox, crop.BBox.Height()) {
				continue
			}
			abs := cand.BBox.Offset(crop.BBox.X1, crop.BBox.Y1)
			text := p.readPlate(ctx, frame, id, abs, now)

			boxes = append(boxes, abs)
			plateMap[id] = parking.PlateInfo{BBox: abs, Text: text}
			p.cache.RememberPlate(id, abs, text, now)
			break
		}
	}
	return boxes, plateMap
}

// readPlate returns fresh OCR text when the cooldown allows it, otherwise the
// cached text for the track.
func (p *Pipeline) readPlate(ctx context.Context, frame parking.Frame, trackID int, box parking.BBox, now time.Time) string {
	text := p.cache.CachedText(trackID)
	if p.reader == nil || !p.cache.ShouldRunOCR(trackID, now) {
		return text
	}

	read, err := p.reader.ReadPlate(ctx, frame, box)
	if err != nil {
		p.log.Warn().Err(err).Int("track_id", trackID).Msg("plate OCR failed")
		return text
	}
	read = strings.TrimSpace(read)
	if read == "" {
		return text
	}

	p.cache.MarkOCR(trackID, now)
	p.log.Debug().Int("track_id", trackID).Str("plate", read).Msg("plate read")
	return read
}

// Reset clears every per-track map and the frame counter.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cache.Reset()
	p.tracker.Reset()
	p.processed = 0
	p.log.Info().Msg("detection state reset")
}

type Stats struct {
	FramesProcessed  int             `json:"frames_processed"`
	RememberedPlates int             `json:"remembered_plates"`
	Tracker          violation.Stats `json:"tracker"`
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		FramesProcessed:  p.processed,
		RememberedPlates: p.cache.Len(),
		Tracker:          p.tracker.Stats(),
	}
}

func trackIDs(dets []parking.Detection) map[int]struct{} {
	ids := make(map[int]struct{}, len(dets))
	for _, d := range dets {
		ids[d.TrackID] = struct{}{}
	}
	return ids
}

func containsBox(boxes []parking.BBox, box parking.BBox) bool {
	for _, b := range boxes {
		if b == box {
			return true
		}
	}
	return false
}
