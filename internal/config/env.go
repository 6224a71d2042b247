package config

// setAt assigns value into the nested map at the given dotted path,
// creating intermediate objects as needed.
func setAt(m map[string]interface{}, path []string, value interface{}) {
	if len(path) == 1 {
		m[path[0]] = value
		return
	}
	next, ok := m[path[0]].(map[string]interface{})
	if !ok {
		next = map[string]interface{}{}
		m[path[0]] = next
	}
	setAt(next, path[1:], value)
}

// envMapping is the explicit ENV_NAME -> config.path mapping required by
// the resolver; legacy names are accepted as aliases (with a warning
// logged by the caller that notices LegacyWarnings()).
var envMapping = []struct {
	env    string
	path   []string
	kind   string // "string", "int", "float", "bool"
	legacy bool
}{
	{"DB_HOST", []string{"database", "host"}, "string", false},
	{"DB_PORT", []string{"database", "port"}, "int", false},
	{"DB_USER", []string{"database", "user"}, "string", false},
	{"DB_PASSWORD", []string{"database", "password"}, "string", false},
	{"DB_NAME", []string{"database", "name"}, "string", false},
	{"DB_SSLMODE", []string{"database", "sslMode"}, "string", false},
	{"POSTGRES_HOST", []string{"database", "host"}, "string", true},

	{"REDIS_URL", []string{"redis", "url"}, "string", false},

	{"SOURCE_DIR", []string{"storage", "sourceDir"}, "string", false},
	{"PROCESSED_DIR", []string{"storage", "processedDir"}, "string", false},
	{"LOGS_DIR", []string{"storage", "logsDir"}, "string", false},
	{"DATE_GRANULARITY", []string{"storage", "dateGranularity"}, "string", false},
	{"UPLOADS_DIR", []string{"storage", "sourceDir"}, "string", true},
	{"MEDIA_DIR", []string{"storage", "processedDir"}, "string", true},

	{"OBJECT_DETECTION_ENABLED", []string{"processing", "objectDetection", "enabled"}, "bool", false},
	{"OBJECT_DETECTION_THRESHOLD", []string{"processing", "objectDetection", "confidence", "detection"}, "float", false},
	{"OBJECT_DETECTION_BATCH_SIZE", []string{"processing", "objectDetection", "batchSize"}, "int", false},

	{"FACE_DETECTION_ENABLED", []string{"processing", "faceDetection", "enabled"}, "bool", false},
	{"FACE_AUTO_ASSIGN_THRESHOLD", []string{"processing", "faceRecognition", "confidence", "autoAssign"}, "float", false},
	{"FACE_MIN_TRAINING_COUNT", []string{"processing", "faceRecognition", "workflow", "minFacesThreshold"}, "int", false},

	{"COMPREFACE_URL", []string{"faceService", "baseUrl"}, "string", false},
	{"COMPREFACE_DETECT_API_KEY", []string{"faceService", "detectApiKey"}, "string", false},
	{"COMPREFACE_RECOGNIZE_API_KEY", []string{"faceService", "recognizeApiKey"}, "string", false},
	{"COMPREFACE_TIMEOUT", []string{"faceService", "timeout"}, "int", false},
	{"COMPREFACE_MAX_CONCURRENCY", []string{"faceService", "maxConcurrency"}, "int", false},

	{"OBJECT_SERVICE_URL", []string{"objectService", "baseUrl"}, "string", false},
	{"OBJECT_SERVICE_TIMEOUT", []string{"objectService", "timeout"}, "int", false},

	{"THUMBNAIL_SIZE", []string{"image", "thumbnailSize"}, "int", false},
	{"JPEG_QUALITY", []string{"image", "jpegQuality"}, "int", false},

	{"API_PORT", []string{"server", "port"}, "int", false},
	{"GALLERY_PAGE_SIZE", []string{"server", "galleryPageSize"}, "int", false},
	{"SEARCH_LIMIT", []string{"server", "searchLimit"}, "int", false},
	{"SCAN_BATCH_SIZE", []string{"server", "scanBatchSize"}, "int", false},
	{"OPS_PORT", []string{"server", "opsPort"}, "int", false},
	{"JOB_TIMEOUT_SECONDS", []string{"server", "jobTimeoutSeconds"}, "int", false},

	{"LOG_LEVEL", []string{"logging", "level"}, "string", false},
	{"LOG_FORMAT", []string{"logging", "format"}, "string", false},
}

// legacyWarnings accumulates legacy env names seen during the most recent
// loadEnvOverrides call, for the caller to log.
var legacyWarnings []string

// LegacyWarnings returns and clears env names that were accepted under a
// deprecated alias during the last Load().
func LegacyWarnings() []string {
	w := legacyWarnings
	legacyWarnings = nil
	return w
}

func loadEnvOverrides() map[string]interface{} {
	legacyWarnings = nil
	out := map[string]interface{}{}
	for _, m := range envMapping {
		var (
			value interface{}
			ok    bool
		)
		switch m.kind {
		case "int":
			value, ok = getIntEnv(m.env)
		case "float":
			value, ok = getFloatEnv(m.env)
		case "bool":
			value, ok = getBoolEnv(m.env)
		default:
			value, ok = getEnv(m.env)
		}
		if !ok {
			continue
		}
		if m.legacy {
			legacyWarnings = append(legacyWarnings, m.env)
		}
		setAt(out, m.path, value)
	}
	return out
}
