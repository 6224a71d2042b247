package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"
)

// DetectedObjectCandidate is one raw detection before confidence
// filtering, in the source image's pixel coordinate space.
type DetectedObjectCandidate struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBoxXMin   float64 `json:"bbox_x_min"`
	BBoxYMin   float64 `json:"bbox_y_min"`
	BBoxXMax   float64 `json:"bbox_x_max"`
	BBoxYMax   float64 `json:"bbox_y_max"`
}

// ObjectDetector is satisfied by whatever backend classifies image
// content into labeled bounding boxes. The pipeline only depends on
// this interface so the backend (an external inference service, a
// local model server, ...) can be swapped without touching step 4/5
// of the per-image pipeline.
type ObjectDetector interface {
	Detect(ctx context.Context, imageBytes []byte, filename string) ([]DetectedObjectCandidate, error)
}

// HTTPObjectDetector talks to an external object-detection HTTP service
// over a single multipart "file" upload, mirroring the same net/http
// multipart idiom internal/faceservice uses for its own external
// service — there is no object-detection library anywhere in this
// module's dependency corpus to ground this on instead, so it is built
// directly against the stdlib HTTP client, exactly as the face-service
// grounding source itself does for its own HTTP calls.
type HTTPObjectDetector struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPObjectDetector(baseURL string, timeout time.Duration) *HTTPObjectDetector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPObjectDetector{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

func (d *HTTPObjectDetector) Detect(ctx context.Context, imageBytes []byte, filename string) ([]DetectedObjectCandidate, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(imageBytes); err != nil {
		return nil, fmt.Errorf("write image bytes: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", body)
	if err != nil {
		return nil, fmt.Errorf("build object detection request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("object detection request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read object detection response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("object detection service error: status %d: %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		Objects []DetectedObjectCandidate `json:"objects"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parse object detection response: %w", err)
	}
	return out.Objects, nil
}
