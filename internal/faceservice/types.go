// Package faceservice is the face service client: a thin typed
// wrapper over an external CompreFace-compatible HTTP face-recognition
// service, with separate detection/recognition API keys, a plugin list,
// and bounded request concurrency.
package faceservice

// Plugin is one of the optional CompreFace face-plugins a request can ask
// for alongside the base detection/recognition result.
type Plugin string

const (
	PluginLandmarks Plugin = "landmarks"
	PluginGender    Plugin = "gender"
	PluginAge       Plugin = "age"
	PluginPose      Plugin = "pose"
)

// BoundingBox is a detected face's box in the source image, in pixels.
type BoundingBox struct {
	XMin        int     `json:"x_min"`
	YMin        int     `json:"y_min"`
	XMax        int     `json:"x_max"`
	YMax        int     `json:"y_max"`
	Probability float64 `json:"probability"`
}

type AgeRange struct {
	Low         int     `json:"low"`
	High        int     `json:"high"`
	Probability float64 `json:"probability"`
}

type Gender struct {
	Value       string  `json:"value"`
	Probability float64 `json:"probability"`
}

type Pose struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
}

// DetectedFace is one face found by Detect.
type DetectedFace struct {
	Box        BoundingBox      `json:"box"`
	Age        AgeRange         `json:"age"`
	Gender     Gender           `json:"gender"`
	Pose       Pose             `json:"pose"`
	Landmarks  map[string][]int `json:"landmarks"`
}

type DetectionResponse struct {
	Result []DetectedFace `json:"result"`
}

// SubjectMatch is one ranked candidate Recognize returns for a face.
type SubjectMatch struct {
	Subject    string  `json:"subject"`
	Similarity float64 `json:"similarity"`
}

// RecognitionResult is one detected face plus its ranked subject matches.
type RecognitionResult struct {
	Box      BoundingBox    `json:"box"`
	Subjects []SubjectMatch `json:"subjects"`
	Age      AgeRange       `json:"age"`
	Gender   Gender         `json:"gender"`
}

type RecognitionResponse struct {
	Result []RecognitionResult `json:"result"`
}

// VerifyResponse is the result of comparing a source image against a
// single target image.
type VerifyResponse struct {
	Result []struct {
		SourceImageFace struct {
			Box BoundingBox `json:"box"`
		} `json:"source_image_face"`
		FaceMatches []SubjectMatch `json:"face_matches"`
	} `json:"result"`
}

// Similarity extracts the top similarity score from a verify response, or
// 0 if no match was returned.
func (r *VerifyResponse) Similarity() float64 {
	if r == nil || len(r.Result) == 0 || len(r.Result[0].FaceMatches) == 0 {
		return 0
	}
	best := 0.0
	for _, m := range r.Result[0].FaceMatches {
		if m.Similarity > best {
			best = m.Similarity
		}
	}
	return best
}

type AddFaceResponse struct {
	ImageID string `json:"image_id"`
	Subject string `json:"subject"`
}

type SubjectListResponse struct {
	Subjects []string `json:"subjects"`
}

type FaceListItem struct {
	ImageID string `json:"image_id"`
	Subject string `json:"subject"`
}

type FaceListResponse struct {
	Faces []FaceListItem `json:"faces"`
}
