package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-violation-service/internal/domain/parking"
	"parking-violation-service/internal/geometry"
	"parking-violation-service/internal/penalty"
	"parking-violation-service/internal/trackcache"
	"parking-violation-service/internal/violation"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type zoneList []parking.Zone

func (z zoneList) Active() []parking.Zone { return z }

type fakeDetector struct {
	dets  []parking.Detection
	err   error
	calls int
}

func (f *fakeDetector) Track(_ context.Context, _ parking.Frame) ([]parking.Detection, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]parking.Detection, len(f.dets))
	copy(out, f.dets)
	return out, nil
}

type fakePlates struct {
	candidates []parking.BBox
	crops      [][]parking.Crop
	err        error
}

func (f *fakePlates) DetectPlates(_ context.Context, _ parking.Frame, crops []parking.Crop) ([]parking.PlateCandidate, error) {
	f.crops = append(f.crops, crops)
	if f.err != nil {
		return nil, f.err
	}
	var out []parking.PlateCandidate
	for _, c := range crops {
		for _, box := range f.candidates {
			out = append(out, parking.PlateCandidate{TrackID: c.TrackID, BBox: box, Confidence: 0.8})
		}
	}
	return out, nil
}

type fakeReader struct {
	text  string
	boxes []parking.BBox
}

func (f *fakeReader) ReadPlate(_ context.Context, _ parking.Frame, box parking.BBox) (string, error) {
	f.boxes = append(f.boxes, box)
	return f.text, nil
}

type recordingLedger struct {
	records []penalty.ViolationRecord
}

func (l *recordingLedger) RecordViolation(_ context.Context, rec penalty.ViolationRecord) (penalty.Receipt, error) {
	l.records = append(l.records, rec)
	return penalty.Receipt{ViolationID: int64(len(l.records)), DriverID: rec.DriverID, FineAmount: 2500, PointsDeducted: 10, CurrentScore: 90}, nil
}

type recordingNotifier struct {
	sent []penalty.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg penalty.Notification) error {
	n.sent = append(n.sent, msg)
	return nil
}

// car sits at (100,100)-(300,300); its 200px crop accepts plates centred at or
// below y=60.
func car(id int) parking.Detection {
	return parking.Detection{
		TrackID:    id,
		Class:      "car",
		ClassID:    2,
		Confidence: 0.9,
		BBox:       parking.BBox{X1: 100, Y1: 100, X2: 300, Y2: 300},
		Centroid:   &parking.Point{X: 200, Y: 200},
	}
}

var (
	lowPlate  = parking.BBox{X1: 20, Y1: 120, X2: 120, Y2: 160}
	highPlate = parking.BBox{X1: 20, Y1: 10, X2: 120, Y2: 40}
	absPlate  = parking.BBox{X1: 120, Y1: 220, X2: 220, Y2: 260}
)

type fixture struct {
	pipe     *Pipeline
	detector *fakeDetector
	plates   *fakePlates
	reader   *fakeReader
	ledger   *recordingLedger
	notifier *recordingNotifier
}

func newFixture(t *testing.T, cfg trackcache.Config) *fixture {
	t.Helper()
	f := &fixture{
		detector: &fakeDetector{dets: []parking.Detection{car(1)}},
		plates:   &fakePlates{candidates: []parking.BBox{highPlate, lowPlate}},
		reader:   &fakeReader{text: "WP-CAB-1234"},
		ledger:   &recordingLedger{},
		notifier: &recordingNotifier{},
	}

	zone := parking.Zone{
		ID:      "Z1",
		Polygon: [][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		Active:  true,
	}
	cache := trackcache.New(cfg)
	dispatcher := penalty.NewDispatcher(f.ledger, f.notifier, 0, zerolog.Nop())
	tracker := violation.NewTracker(violation.DefaultConfig(), geometry.NewEngine(zoneList{zone}), cache, dispatcher, zerolog.Nop())

	f.pipe = New(f.detector, f.plates, f.reader, cache, tracker, Options{
		PlatesEnabled: true,
		Now:           func() time.Time { return t0 },
	}, zerolog.Nop())
	return f
}

func everyFrame() trackcache.Config {
	cfg := trackcache.DefaultConfig()
	cfg.DetectorInterval = 1
	cfg.PlateInterval = 1
	return cfg
}

func (f *fixture) process(t *testing.T, index int, seconds float64) *parking.FrameResult {
	t.Helper()
	res, err := f.pipe.ProcessFrame(context.Background(), parking.Frame{
		Index:     index,
		Timestamp: t0.Add(time.Duration(seconds * float64(time.Second))),
		Width:     1920,
		Height:    1080,
	})
	require.NoError(t, err)
	return res
}

func TestDetectorRunsOnInterval(t *testing.T) {
	cfg := everyFrame()
	cfg.DetectorInterval = 2
	f := newFixture(t, cfg)

	first := f.process(t, 0, 0)
	second := f.process(t, 1, 0.1)
	f.process(t, 2, 0.2)
	f.process(t, 3, 0.3)

	assert.Equal(t, 2, f.detector.calls)
	require.Len(t, second.Detections, 1)
	assert.Equal(t, first.Detections[0].BBox, second.Detections[0].BBox)
	assert.Equal(t, 40000, first.Detections[0].Area)
}

func TestDetectorFailureReusesPreviousDetections(t *testing.T) {
	f := newFixture(t, everyFrame())

	f.process(t, 0, 0)
	f.detector.err = errors.New("inference timeout")
	res := f.process(t, 1, 1)

	require.Len(t, res.Detections, 1)
	assert.Equal(t, 1, res.Detections[0].TrackID)
	assert.Equal(t, 1, res.VehicleCount)
}

func TestDetectorFailureWithoutHistory(t *testing.T) {
	f := newFixture(t, everyFrame())
	f.detector.err = errors.New("inference timeout")

	res := f.process(t, 0, 0)
	assert.Empty(t, res.Detections)
	assert.Zero(t, res.VehicleCount)
}

func TestPlateBoxesAreFilteredAndMadeAbsolute(t *testing.T) {
	f := newFixture(t, everyFrame())

	res := f.process(t, 0, 0)

	require.Len(t, res.Detections, 1)
	d := res.Detections[0]
	assert.True(t, d.HasPlate)
	require.NotNil(t, d.PlateBBox)
	assert.Equal(t, absPlate, *d.PlateBBox)
	assert.Equal(t, "WP-CAB-1234", d.PlateText)
	assert.Equal(t, []parking.BBox{absPlate}, res.PlateBoxes)
	assert.Equal(t, []parking.BBox{absPlate}, f.reader.boxes)
}

func TestPlateConfidenceLoosensForTrackedVehicles(t *testing.T) {
	f := newFixture(t, everyFrame())

	f.process(t, 0, 0)
	f.process(t, 1, 1)

	require.Len(t, f.plates.crops, 2)
	assert.InDelta(t, 0.2, f.plates.crops[0][0].MinConfidence, 1e-9)
	assert.InDelta(t, 0.1, f.plates.crops[1][0].MinConfidence, 1e-9)
	assert.Equal(t, parking.BBox{X1: 100, Y1: 100, X2: 300, Y2: 300}, f.plates.crops[0][0].BBox)
}

func TestSmallAndUntrackedVehiclesAreNotCropped(t *testing.T) {
	f := newFixture(t, everyFrame())
	tiny := car(2)
	tiny.BBox = parking.BBox{X1: 1905, Y1: 500, X2: 1950, Y2: 600}
	anon := car(parking.UntrackedID)
	f.detector.dets = []parking.Detection{tiny, anon}

	res := f.process(t, 0, 0)

	assert.Empty(t, f.plates.crops)
	assert.Empty(t, res.PlateBoxes)
	assert.Len(t, res.Detections, 2)
}

func TestOCRCooldown(t *testing.T) {
	f := newFixture(t, everyFrame())

	f.process(t, 0, 0)
	res := f.process(t, 1, 1)
	assert.Len(t, f.reader.boxes, 1)
	assert.Equal(t, "WP-CAB-1234", res.Detections[0].PlateText)

	f.reader.text = "WP-CAB-1235"
	res = f.process(t, 2, 2)
	assert.Len(t, f.reader.boxes, 2)
	assert.Equal(t, "WP-CAB-1235", res.Detections[0].PlateText)
}

func TestRememberedPlatesFillSkippedFrames(t *testing.T) {
	cfg := everyFrame()
	cfg.PlateInterval = 3
	f := newFixture(t, cfg)

	f.process(t, 0, 0)
	res := f.process(t, 1, 0.5)

	assert.Len(t, f.plates.crops, 1)
	assert.Equal(t, []parking.BBox{absPlate}, res.PlateBoxes)
	require.Len(t, res.Detections, 1)
	assert.True(t, res.Detections[0].HasPlate)
	assert.Equal(t, "WP-CAB-1234", res.Detections[0].PlateText)

	f.process(t, 2, 1)
	f.process(t, 3, 1.5)
	assert.Len(t, f.plates.crops, 2)
}

func TestPlateMemoryEvictedWhenVehicleLeaves(t *testing.T) {
	f := newFixture(t, everyFrame())

	f.process(t, 0, 0)
	assert.Equal(t, 1, f.pipe.Stats().RememberedPlates)

	f.detector.dets = nil
	res := f.process(t, 1, 1)
	assert.Empty(t, res.PlateBoxes)
	assert.Zero(t, f.pipe.Stats().RememberedPlates)
}

func TestPlateDetectorFailureYieldsNoBoxes(t *testing.T) {
	f := newFixture(t, everyFrame())
	f.plates.err = errors.New("plate model unavailable")

	res := f.process(t, 0, 0)
	assert.Empty(t, res.PlateBoxes)
	assert.False(t, res.Detections[0].HasPlate)
}

func TestParkedVehicleIsPenalizedOnce(t *testing.T) {
	f := newFixture(t, everyFrame())

	var res *parking.FrameResult
	for i := 0; i <= 20; i++ {
		res = f.process(t, i, float64(i))
		switch {
		case i < 5:
			assert.Zero(t, res.WarningCount, "frame %d", i)
		case i < 15:
			assert.Equal(t, 1, res.WarningCount, "frame %d", i)
		default:
			assert.Equal(t, 1, res.ViolationCount, "frame %d", i)
		}
	}

	d := res.Detections[0]
	assert.Equal(t, parking.StatusViolation, d.Status)
	assert.Equal(t, "Z1", d.ZoneID)
	assert.True(t, d.IsPenalized)
	assert.InDelta(t, 20.0, d.DwellSeconds, 1e-9)

	require.Len(t, f.ledger.records, 1)
	assert.Equal(t, "WP-CAB-1234", f.ledger.records[0].DriverID)
	assert.Equal(t, "Zone: Z1", f.ledger.records[0].Location)

	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, penalty.KindWarning, f.notifier.sent[0].Kind)
	assert.Equal(t, "WP-CAB-1234, please move immediately. You are in a no parking zone.", f.notifier.sent[0].Message)
	assert.Equal(t, penalty.KindViolation, f.notifier.sent[1].Kind)
	assert.Equal(t, "Violation recorded for WP-CAB-1234. Fine has been issued.", f.notifier.sent[1].Message)

	stats := f.pipe.Stats()
	assert.Equal(t, 21, stats.FramesProcessed)
	assert.Equal(t, 1, stats.Tracker.ActiveEntries)
	assert.Equal(t, 1, stats.Tracker.PenalizedTracks)
}

func TestResetClearsState(t *testing.T) {
	f := newFixture(t, everyFrame())
	for i := 0; i <= 16; i++ {
		f.process(t, i, float64(i))
	}
	require.Len(t, f.ledger.records, 1)

	f.pipe.Reset()
	assert.Equal(t, Stats{}, f.pipe.Stats())

	res := f.process(t, 17, 17)
	d := res.Detections[0]
	assert.Zero(t, d.DwellSeconds)
	assert.False(t, d.IsPenalized)
	assert.Equal(t, parking.StatusNone, d.Status)
	assert.Equal(t, 1, f.detector.calls-17)
}

func TestPlatesDisabled(t *testing.T) {
	f := newFixture(t, everyFrame())
	f.pipe.platesEnabled = false

	res := f.process(t, 0, 0)
	assert.Empty(t, f.plates.crops)
	assert.Nil(t, res.PlateBoxes)
	assert.False(t, res.Detections[0].HasPlate)
}

func TestConcurrentFramesAreSerialized(t *testing.T) {
	f := newFixture(t, everyFrame())

	const frames = 40
	var wg sync.WaitGroup
	for i := 0; i < frames; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.pipe.ProcessFrame(context.Background(), parking.Frame{
				Index:     i,
				Timestamp: t0.Add(time.Duration(i) * 100 * time.Millisecond),
				Width:     1920,
				Height:    1080,
			})
			assert.NoError(t, err)
			_ = f.pipe.Stats()
		}(i)
	}
	wg.Wait()

	stats := f.pipe.Stats()
	assert.Equal(t, frames, stats.FramesProcessed)
	assert.Equal(t, frames, f.detector.calls)
	assert.Equal(t, 1, stats.Tracker.ActiveEntries)
	assert.Empty(t, f.ledger.records)
	assert.Empty(t, f.notifier.sent)
}
