package pipeline

import (
	"regexp"
	"strings"
)

const screenshotThreshold = 60

var screenshotFilenamePattern = regexp.MustCompile(`(?i)(screenshot|screen shot|screen_shot|scrn|capture)`)

// screenResolutions are common device/monitor resolutions (width x
// height, either orientation) that real photos essentially never match
// exactly.
var screenResolutions = map[[2]int]bool{
	{1920, 1080}: true, {1080, 1920}: true,
	{1366, 768}: true, {768, 1366}: true,
	{2560, 1440}: true, {1440, 2560}: true,
	{3840, 2160}: true, {2160, 3840}: true,
	{1242, 2688}: true, {2688, 1242}: true, // iPhone
	{1125, 2436}: true, {2436, 1125}: true,
	{1170, 2532}: true, {2532, 1170}: true,
	{828, 1792}: true, {1792, 828}: true,
	{1080, 2340}: true, {2340, 1080}: true, // common Android
	{1440, 3200}: true, {3200, 1440}: true,
}

var uiObjectClasses = map[string]bool{
	"laptop": true, "tv": true, "monitor": true, "cell phone": true,
	"keyboard": true, "mouse": true, "remote": true,
}

var photoSubjectClasses = map[string]bool{
	"person": true, "dog": true, "cat": true, "car": true, "bird": true,
	"tree": true, "food": true, "mountain": true, "beach": true,
}

// ScreenshotInput is everything the heuristic needs about one image.
type ScreenshotInput struct {
	Filename        string
	MimeType        string
	Width, Height    int
	CameraMake       string
	CameraModel      string
	Software         string
	FocalLength      float64
	Aperture         float64
	ISO              int
	ObjectClasses    []string
}

// ScreenshotResult is the heuristic's verdict.
type ScreenshotResult struct {
	IsScreenshot bool
	Score        int
	Reasons      []string
}

// DetectScreenshot scores in against a weighted set of signals (filename
// and software patterns, camera-metadata absence, PNG type, known screen
// resolutions, detected objects, aspect ratio) and flags the
// image as a screenshot once the cumulative score reaches
// screenshotThreshold.
func DetectScreenshot(in ScreenshotInput) ScreenshotResult {
	var score int
	var reasons []string
	signals := 0

	if screenshotFilenamePattern.MatchString(in.Filename) {
		score += 40
		reasons = append(reasons, "filename matches screenshot pattern")
		signals++
	}

	if in.CameraMake == "" && in.CameraModel == "" {
		score += 15
		reasons = append(reasons, "missing camera metadata")
		signals++
	}

	if in.Software != "" && screenshotFilenamePattern.MatchString(in.Software) {
		score += 25
		reasons = append(reasons, "software field indicates screenshot tool")
		signals++
	}
	// Also catch common non-regex screenshot software markers.
	lowerSoftware := strings.ToLower(in.Software)
	if strings.Contains(lowerSoftware, "screenshot") || strings.Contains(lowerSoftware, "snagit") ||
		strings.Contains(lowerSoftware, "greenshot") || strings.Contains(lowerSoftware, "lightshot") {
		if !strings.Contains(strings.Join(reasons, ","), "software field") {
			score += 25
			reasons = append(reasons, "software field indicates screenshot tool")
			signals++
		}
	}

	if in.FocalLength == 0 && in.Aperture == 0 && in.ISO == 0 {
		score += 10
		reasons = append(reasons, "missing focal length, aperture, and ISO")
		signals++
	}

	if strings.EqualFold(in.MimeType, "image/png") {
		score += 15
		reasons = append(reasons, "PNG mime type")
		signals++
	}

	if screenResolutions[[2]int{in.Width, in.Height}] {
		score += 20
		reasons = append(reasons, "resolution matches a known screen resolution")
		signals++
	}

	hasUIObject := false
	hasPhotoSubject := false
	for _, class := range in.ObjectClasses {
		if uiObjectClasses[class] {
			hasUIObject = true
		}
		if photoSubjectClasses[class] {
			hasPhotoSubject = true
		}
	}
	if hasUIObject {
		score += 15
		reasons = append(reasons, "contains UI/device objects")
		signals++
	}
	if !hasPhotoSubject {
		score += 10
		reasons = append(reasons, "absence of typical photo-subject objects")
		signals++
	}

	if in.Width > 0 && in.Height > 0 {
		ratio := float64(in.Width) / float64(in.Height)
		if ratio > 0.9 && ratio < 1.1 {
			score += 5
			reasons = append(reasons, "near-square aspect ratio")
			signals++
		}
	}

	if signals >= 3 {
		score += 5
		reasons = append(reasons, "multiple corroborating signals")
	}

	return ScreenshotResult{
		IsScreenshot: score >= screenshotThreshold,
		Score:        score,
		Reasons:      reasons,
	}
}
