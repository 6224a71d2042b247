package config

import (
	"fmt"
	"os"
	"strings"
)

// ConfigError enumerates every constraint violated by a candidate
// configuration. Load and ApplyRuntimeOverride never return a partial
// violation list — all checks run before reporting.
type ConfigError struct {
	Violations []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %d violation(s): %s", len(e.Violations), strings.Join(e.Violations, "; "))
}

// Validate checks every recognized option group and returns a ConfigError
// naming all violations found, or nil if the configuration is valid.
func Validate(c *Config) *ConfigError {
	var v []string

	if c.Database.Host == "" {
		v = append(v, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		v = append(v, "database.port must be in 1..65535")
	}
	if c.Database.Name == "" {
		v = append(v, "database.name is required")
	}

	if c.Storage.SourceDir == "" {
		v = append(v, "storage.sourceDir is required")
	} else if info, err := os.Stat(c.Storage.SourceDir); err != nil || !info.IsDir() {
		v = append(v, fmt.Sprintf("storage.sourceDir %q must exist", c.Storage.SourceDir))
	}
	if c.Storage.ProcessedDir == "" {
		v = append(v, "storage.processedDir is required")
	}
	switch c.Storage.DateGranularity {
	case "", "YYYY", "YYYY/MM", "YYYY/MM/DD":
	default:
		v = append(v, "storage.dateGranularity must be one of YYYY, YYYY/MM, YYYY/MM/DD")
	}

	if c.Processing.ObjectDetection.Enabled {
		oc := c.Processing.ObjectDetection.Confidence
		for name, val := range map[string]float64{"detection": oc.Detection, "search": oc.Search, "highQuality": oc.HighQuality} {
			if val < 0 || val > 1 {
				v = append(v, fmt.Sprintf("processing.objectDetection.confidence.%s must be in [0,1]", name))
			}
		}
		if c.Processing.ObjectDetection.BatchSize <= 0 {
			v = append(v, "processing.objectDetection.batchSize must be positive")
		}
		if c.ObjectService.BaseURL == "" {
			v = append(v, "objectService.baseUrl is required when processing.objectDetection.enabled is true")
		}
	}

	if c.FaceService.BaseURL == "" && c.Features.FaceDetection {
		v = append(v, "faceService.baseUrl is required when features.faceDetection is enabled")
	}
	if c.FaceService.MaxConcurrency < 0 {
		v = append(v, "faceService.maxConcurrency must be >= 0")
	}
	if c.FaceService.TimeoutSeconds < 0 {
		v = append(v, "faceService.timeout must be >= 0")
	}

	if c.Image.ThumbnailSize != 0 && (c.Image.ThumbnailSize < 32 || c.Image.ThumbnailSize > 2048) {
		v = append(v, "image.thumbnailSize must be in 32..2048")
	}
	if c.Image.JPEGQuality != 0 && (c.Image.JPEGQuality < 1 || c.Image.JPEGQuality > 100) {
		v = append(v, "image.jpegQuality must be in 1..100")
	}

	if c.Server.Port != 0 && (c.Server.Port < 1 || c.Server.Port > 65535) {
		v = append(v, "server.port must be in 1..65535")
	}
	if c.Server.ScanBatchSize <= 0 {
		v = append(v, "server.scanBatchSize must be positive")
	}

	if len(v) > 0 {
		return &ConfigError{Violations: v}
	}
	return nil
}
