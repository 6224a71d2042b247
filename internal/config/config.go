// Package config implements the engine's layered configuration resolver.
//
// Four sources are merged in increasing precedence: the built-in defaults
// file, the process environment (via an explicit name->path mapping),
// an optional user settings file, and runtime overrides applied after
// boot. Merging is deep per nested group; arrays replace rather than
// append.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// Config is the fully resolved, validated configuration tree.
type Config struct {
	Database   DatabaseConfig   `json:"database"`
	Storage    StorageConfig    `json:"storage"`
	Processing ProcessingConfig `json:"processing"`
	FaceService FaceServiceConfig `json:"faceService"`
	ObjectService ObjectServiceConfig `json:"objectService"`
	Image      ImageConfig      `json:"image"`
	Server     ServerConfig     `json:"server"`
	Features   FeaturesConfig   `json:"features"`
	Logging    LoggingConfig    `json:"logging"`
	Redis      RedisConfig      `json:"redis"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	SSLMode  string `json:"sslMode"`
}

// DSN returns a postgres connection string for this configuration.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	URL string `json:"url"`
}

type StorageConfig struct {
	SourceDir    string `json:"sourceDir"`
	ProcessedDir string `json:"processedDir"`
	LogsDir      string `json:"logsDir"`
	// DateGranularity is one of "YYYY", "YYYY/MM", "YYYY/MM/DD".
	DateGranularity string `json:"dateGranularity"`
}

type ProcessingConfig struct {
	ObjectDetection ObjectDetectionConfig `json:"objectDetection"`
	FaceDetection   FaceDetectionConfig   `json:"faceDetection"`
	FaceRecognition FaceRecognitionConfig `json:"faceRecognition"`
}

type ObjectDetectionConfig struct {
	Enabled    bool                  `json:"enabled"`
	Confidence ObjectConfidenceConfig `json:"confidence"`
	BatchSize  int                   `json:"batchSize"`
	ImageResize struct {
		W int `json:"w"`
		H int `json:"h"`
	} `json:"imageResize"`
}

type ObjectConfidenceConfig struct {
	Detection   float64 `json:"detection"`
	Search      float64 `json:"search"`
	HighQuality float64 `json:"highQuality"`
}

type FaceDetectionConfig struct {
	Enabled    bool `json:"enabled"`
	Confidence struct {
		Detection  float64 `json:"detection"`
		Review     float64 `json:"review"`
		AutoAssign float64 `json:"autoAssign"`
		Gender     float64 `json:"gender"`
		Age        float64 `json:"age"`
	} `json:"confidence"`
}

type FaceRecognitionConfig struct {
	Confidence struct {
		Review     float64 `json:"review"`
		AutoAssign float64 `json:"autoAssign"`
		Similarity float64 `json:"similarity"`
	} `json:"confidence"`
	Workflow struct {
		AutoTrainingEnabled     bool `json:"autoTrainingEnabled"`
		MinFacesThreshold       int  `json:"minFacesThreshold"`
		TrainingIntervalHours   int  `json:"trainingIntervalHours"`
		MaxSuggestionsPerPerson int  `json:"maxSuggestionsPerPerson"`
		MaxClusterSize          int  `json:"maxClusterSize"`
	} `json:"workflow"`
}

type FaceServiceConfig struct {
	BaseURL         string `json:"baseUrl"`
	DetectAPIKey    string `json:"detectApiKey"`
	RecognizeAPIKey string `json:"recognizeApiKey"`
	TimeoutSeconds  int    `json:"timeout"`
	MaxConcurrency  int    `json:"maxConcurrency"`
}

// ObjectServiceConfig is the connection target for the external
// object-detection service the enrichment pipeline calls into; this
// specifies only the detection confidence thresholds and contract, not
// a wire endpoint, so this group is this module's own addition needed
// to actually reach an HTTPObjectDetector.
type ObjectServiceConfig struct {
	BaseURL        string `json:"baseUrl"`
	TimeoutSeconds int    `json:"timeout"`
}

type ImageConfig struct {
	ThumbnailSize int `json:"thumbnailSize"`
	JPEGQuality   int `json:"jpegQuality"`
}

type ServerConfig struct {
	Port           int `json:"port"`
	GalleryPageSize int `json:"galleryPageSize"`
	SearchLimit     int `json:"searchLimit"`
	ScanBatchSize   int `json:"scanBatchSize"`
	// OpsPort is the internal ops HTTP surface (/health, /status,
	// /metrics, /pause, /resume) — separate from server.port, which is
	// the out-of-scope gallery API's port.
	OpsPort int `json:"opsPort"`
	// JobTimeoutSeconds bounds a single job's run time (default 5min).
	JobTimeoutSeconds int `json:"jobTimeoutSeconds"`
}

type FeaturesConfig struct {
	ObjectDetection bool `json:"objectDetection"`
	FaceDetection   bool `json:"faceDetection"`
	FaceRecognition bool `json:"faceRecognition"`
	SmartAlbums     bool `json:"smartAlbums"`
	Geolocation     bool `json:"geolocation"`
	Astrophotography bool `json:"astrophotography"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Resolver loads and holds the four-stage merged configuration and
// supports re-validated runtime overrides.
type Resolver struct {
	mu      sync.RWMutex
	current *Config

	defaultsPath string
	settingsPath string
}

// NewResolver creates a Resolver for the given defaults/settings file paths.
// settingsPath may point to a file that does not exist; it is simply skipped.
func NewResolver(defaultsPath, settingsPath string) *Resolver {
	return &Resolver{defaultsPath: defaultsPath, settingsPath: settingsPath}
}

// Load merges, in increasing precedence, the defaults file (required),
// the process environment (per envMapping) and the settings file
// (optional), and returns the validated Config. Runtime overrides are
// applied afterwards through ApplyRuntimeOverride. The result is cached
// for Current().
func (r *Resolver) Load() (*Config, error) {
	merged := map[string]interface{}{}

	defaultsRaw, err := os.ReadFile(r.defaultsPath)
	if err != nil {
		return nil, &ConfigError{Violations: []string{fmt.Sprintf("defaults file %s: %v", r.defaultsPath, err)}}
	}
	var defaults map[string]interface{}
	if err := json.Unmarshal(defaultsRaw, &defaults); err != nil {
		return nil, &ConfigError{Violations: []string{fmt.Sprintf("defaults file %s: invalid json: %v", r.defaultsPath, err)}}
	}
	merged = deepMerge(merged, defaults)

	envOverrides := loadEnvOverrides()
	merged = deepMerge(merged, envOverrides)

	if settingsRaw, err := os.ReadFile(r.settingsPath); err == nil {
		var settings map[string]interface{}
		if err := json.Unmarshal(settingsRaw, &settings); err != nil {
			return nil, &ConfigError{Violations: []string{fmt.Sprintf("settings file %s: invalid json: %v", r.settingsPath, err)}}
		}
		merged = deepMerge(merged, settings)
	}

	cfg, verr := decodeAndValidate(merged)
	if verr != nil {
		return nil, verr
	}

	r.mu.Lock()
	r.current = cfg
	r.mu.Unlock()

	return cfg, nil
}

// Current returns the last successfully resolved configuration.
func (r *Resolver) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// ApplyRuntimeOverride deep-merges patch onto the current configuration,
// re-validates the result, and swaps it in atomically only if valid.
func (r *Resolver) ApplyRuntimeOverride(patch map[string]interface{}) (*Config, error) {
	r.mu.RLock()
	base := r.current
	r.mu.RUnlock()
	if base == nil {
		return nil, &ConfigError{Violations: []string{"no configuration loaded yet"}}
	}

	baseMap, err := toMap(base)
	if err != nil {
		return nil, &ConfigError{Violations: []string{fmt.Sprintf("re-encode current config: %v", err)}}
	}
	merged := deepMerge(baseMap, patch)

	cfg, verr := decodeAndValidate(merged)
	if verr != nil {
		return nil, verr
	}

	r.mu.Lock()
	r.current = cfg
	r.mu.Unlock()

	return cfg, nil
}

func decodeAndValidate(merged map[string]interface{}) (*Config, *ConfigError) {
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, &ConfigError{Violations: []string{fmt.Sprintf("encode merged config: %v", err)}}
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, &ConfigError{Violations: []string{fmt.Sprintf("decode merged config: %v", err)}}
	}
	if cerr := Validate(&cfg); cerr != nil {
		return nil, cerr
	}
	return &cfg, nil
}

func toMap(cfg *Config) (map[string]interface{}, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMerge merges src onto dst recursively per nested object; arrays and
// scalars in src replace the corresponding value in dst wholesale.
func deepMerge(dst, src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(dst))
	for k, v := range dst {
		out[k] = v
	}
	for k, sv := range src {
		if dv, ok := out[k]; ok {
			dMap, dIsMap := dv.(map[string]interface{})
			sMap, sIsMap := sv.(map[string]interface{})
			if dIsMap && sIsMap {
				out[k] = deepMerge(dMap, sMap)
				continue
			}
		}
		out[k] = sv
	}
	return out
}

// getEnv / getIntEnv are small helpers for the leaf conversions used
// while building the env-override map.
func getEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && v != ""
}

func getIntEnv(key string) (int, bool) {
	v, ok := getEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getFloatEnv(key string) (float64, bool) {
	v, ok := getEnv(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func getBoolEnv(key string) (bool, bool) {
	v, ok := getEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
