// Package inference talks to the external model server that runs vehicle
// tracking, plate detection and plate OCR.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"parking-violation-service/internal/domain/parking"
)

const (
	trackPath  = "/track"
	platesPath = "/plates"
	ocrPath    = "/ocr"
	healthPath = "/health"
)

type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type wireDetection struct {
	TrackID    *int    `json:"track_id"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
	Centroid   *[2]int `json:"centroid"`
	Area       int     `json:"area"`
}

func (w wireDetection) toDomain(ts time.Time) parking.Detection {
	d := parking.Detection{
		TrackID:    parking.UntrackedID,
		ClassID:    w.ClassID,
		Class:      w.ClassName,
		Confidence: w.Confidence,
		BBox:       parking.BBox{X1: w.BBox[0], Y1: w.BBox[1], X2: w.BBox[2], Y2: w.BBox[3]},
		Area:       w.Area,
		Timestamp:  ts,
	}
	if w.TrackID != nil {
		d.TrackID = *w.TrackID
	}
	if w.Centroid != nil {
		d.Centroid = &parking.Point{X: w.Centroid[0], Y: w.Centroid[1]}
	}
	return d
}

// Track sends the frame to the tracker endpoint. Detections without a
// track id come back with parking.UntrackedID.
func (c *Client) Track(ctx context.Context, frame parking.Frame) ([]parking.Detection, error) {
	var result struct {
		Detections []wireDetection `json:"detections"`
	}
	fields := map[string]string{
		"frame_index": strconv.Itoa(frame.Index),
		"width":       strconv.Itoa(frame.Width),
		"height":      strconv.Itoa(frame.Height),
	}
	if err := c.post(ctx, trackPath, frame.Image, fields, &result); err != nil {
		return nil, err
	}

	dets := make([]parking.Detection, 0, len(result.Detections))
	for _, w := range result.Detections {
		dets = append(dets, w.toDomain(frame.Timestamp))
	}
	return dets, nil
}

type wireCrop struct {
	TrackID       int     `json:"track_id"`
	BBox          [4]int  `json:"bbox"`
	MinConfidence float64 `json:"min_confidence"`
}

type wirePlate struct {
	TrackID    int     `json:"track_id"`
	BBox       [4]int  `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// DetectPlates asks for plate boxes inside each vehicle crop. The server
// answers in crop-local coordinates.
func (c *Client) DetectPlates(ctx context.Context, frame parking.Frame, crops []parking.Crop) ([]parking.PlateCandidate, error) {
	wire := make([]wireCrop, 0, len(crops))
	for _, cr := range crops {
		wire = append(wire, wireCrop{
			TrackID:       cr.TrackID,
			BBox:          boxArray(cr.BBox),
			MinConfidence: cr.MinConfidence,
		})
	}
	encoded, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode crops: %w", err)
	}

	var result struct {
		Plates []wirePlate `json:"plates"`
	}
	if err := c.post(ctx, platesPath, frame.Image, map[string]string{"crops": string(encoded)}, &result); err != nil {
		return nil, err
	}

	out := make([]parking.PlateCandidate, 0, len(result.Plates))
	for _, p := range result.Plates {
		out = append(out, parking.PlateCandidate{
			TrackID:    p.TrackID,
			BBox:       parking.BBox{X1: p.BBox[0], Y1: p.BBox[1], X2: p.BBox[2], Y2: p.BBox[3]},
			Confidence: p.Confidence,
		})
	}
	return out, nil
}

// ReadPlate runs OCR on an absolute plate region of the frame.
func (c *Client) ReadPlate(ctx context.Context, frame parking.Frame, box parking.BBox) (string, error) {
	encoded, err := json.Marshal(boxArray(box))
	if err != nil {
		return "", fmt.Errorf("encode bbox: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := c.post(ctx, ocrPath, frame.Image, map[string]string{"bbox": string(encoded)}, &result); err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}

// CheckHealth reports whether the model server answers its health probe.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, image []byte, fields map[string]string, out any) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(image)); err != nil {
		return fmt.Errorf("copy image data: %w", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("inference call")

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference %s failed with status: %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func boxArray(b parking.BBox) [4]int {
	return [4]int{b.X1, b.Y1, b.X2, b.Y2}
}
