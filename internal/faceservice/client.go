package faceservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/openphotoalbum/photo-engine/internal/logging"
)

// Config configures the client's endpoints, auth, and request shaping.
type Config struct {
	BaseURL           string
	DetectionKey      string
	RecognitionKey    string
	RequestTimeout    time.Duration
	MaxConcurrency    int
	Limit             int
	DetProbThreshold  float64
	Plugins           []Plugin
}

// Client is the engine's handle onto the external face service.
// maxConcurrency is enforced pool-wide via a buffered-channel semaphore
// that Detect, Recognize, Verify and AddFace acquire for the duration of
// their request. ListSubjects, CreateSubject, DeleteSubject, ListFaces
// and DeleteFace do not acquire it and are not counted against the limit.
type Client struct {
	cfg        Config
	httpClient *http.Client
	sem        chan struct{}
	logger     *logging.Logger
}

func NewClient(cfg Config, log *logging.Logger) *Client {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		sem:        make(chan struct{}, cfg.MaxConcurrency),
		logger:     log.WithField("component", "face-service-client"),
	}
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() { <-c.sem }

func (c *Client) pluginQuery() string {
	names := make([]string, len(c.cfg.Plugins))
	for i, p := range c.cfg.Plugins {
		names[i] = string(p)
	}
	return strings.Join(names, ",")
}

func (c *Client) detectPath() string      { return c.cfg.BaseURL + "/detection/detect" }
func (c *Client) recognizePath() string   { return c.cfg.BaseURL + "/recognition/recognize" }
func (c *Client) verifyPath() string      { return c.cfg.BaseURL + "/verification/verify" }
func (c *Client) subjectsPath() string    { return c.cfg.BaseURL + "/recognition/subjects" }
func (c *Client) facesPath() string       { return c.cfg.BaseURL + "/recognition/faces" }

// Detect finds faces in imageBytes, returning bounding boxes plus
// whichever plugins (landmarks/gender/age/pose) were configured.
func (c *Client) Detect(ctx context.Context, imageBytes []byte, filename string) (*DetectionResponse, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.cfg.Limit))
	query.Set("det_prob_threshold", strconv.FormatFloat(c.cfg.DetProbThreshold, 'f', -1, 64))
	query.Set("face_plugins", c.pluginQuery())

	var resp DetectionResponse
	if err := c.doMultipart(ctx, c.detectPath()+"?"+query.Encode(), c.cfg.DetectionKey, imageBytes, filename, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Recognize finds faces and, for each, a ranked list of subject
// candidates.
func (c *Client) Recognize(ctx context.Context, imageBytes []byte, filename string) (*RecognitionResponse, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.cfg.Limit))
	query.Set("det_prob_threshold", strconv.FormatFloat(c.cfg.DetProbThreshold, 'f', -1, 64))
	query.Set("face_plugins", c.pluginQuery())

	var resp RecognitionResponse
	if err := c.doMultipart(ctx, c.recognizePath()+"?"+query.Encode(), c.cfg.RecognitionKey, imageBytes, filename, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Verify compares a source face crop against a single target face crop,
// returning a single similarity score.
func (c *Client) Verify(ctx context.Context, sourceBytes []byte, sourceFilename string, targetBytes []byte, targetFilename string) (*VerifyResponse, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	srcPart, err := writer.CreateFormFile("source_image", sourceFilename)
	if err != nil {
		return nil, fmt.Errorf("create source form part: %w", err)
	}
	if _, err := srcPart.Write(sourceBytes); err != nil {
		return nil, fmt.Errorf("write source bytes: %w", err)
	}

	tgtPart, err := writer.CreateFormFile("target_image", targetFilename)
	if err != nil {
		return nil, fmt.Errorf("create target form part: %w", err)
	}
	if _, err := tgtPart.Write(targetBytes); err != nil {
		return nil, fmt.Errorf("write target bytes: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyPath(), body)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-api-key", c.cfg.RecognitionKey)

	var resp VerifyResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddFace uploads imageBytes as a new face belonging to subject,
// creating the subject implicitly if it doesn't exist.
func (c *Client) AddFace(ctx context.Context, subject string, imageBytes []byte, filename string) (*AddFaceResponse, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	reqURL := fmt.Sprintf("%s?subject=%s", c.facesPath(), url.QueryEscape(subject))
	var resp AddFaceResponse
	if err := c.doMultipart(ctx, reqURL, c.cfg.RecognitionKey, imageBytes, filename, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddFaceFromPath reads the file at path and uploads it via AddFace.
func (c *Client) AddFaceFromPath(ctx context.Context, subject, path string) (*AddFaceResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read face image: %w", err)
	}
	return c.AddFace(ctx, subject, data, filepath.Base(path))
}

func (c *Client) ListSubjects(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.subjectsPath(), nil)
	if err != nil {
		return nil, fmt.Errorf("build list subjects request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.RecognitionKey)

	var resp SubjectListResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Subjects, nil
}

func (c *Client) CreateSubject(ctx context.Context, subject string) error {
	body, err := json.Marshal(map[string]string{"subject": subject})
	if err != nil {
		return fmt.Errorf("marshal subject body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.subjectsPath(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build create subject request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.RecognitionKey)
	return c.do(req, nil)
}

func (c *Client) DeleteSubject(ctx context.Context, subject string) error {
	reqURL := c.subjectsPath() + "/" + url.PathEscape(subject)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build delete subject request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.RecognitionKey)
	return c.do(req, nil)
}

func (c *Client) ListFaces(ctx context.Context, subject string) ([]FaceListItem, error) {
	reqURL := fmt.Sprintf("%s?subject=%s", c.facesPath(), url.QueryEscape(subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build list faces request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.RecognitionKey)

	var resp FaceListResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Faces, nil
}

func (c *Client) DeleteFace(ctx context.Context, imageID string) error {
	reqURL := c.facesPath() + "/" + url.PathEscape(imageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build delete face request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.RecognitionKey)
	return c.do(req, nil)
}

func (c *Client) doMultipart(ctx context.Context, reqURL, apiKey string, imageBytes []byte, filename string, out interface{}) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(imageBytes); err != nil {
		return fmt.Errorf("write image bytes: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-api-key", apiKey)

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("face service request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read face service response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse face service response: %w", err)
	}
	return nil
}
