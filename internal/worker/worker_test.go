package worker

import (
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/openphotoalbum/photo-engine/internal/queue"
)

func TestDecodePayloadRoundTrips(t *testing.T) {
	body, err := json.Marshal(queue.Payload{
		JobID: "job-1", Kind: queue.KindImageProcessing,
		Data: map[string]interface{}{"path": "/photos/a.jpg"},
	})
	if err != nil {
		t.Fatal(err)
	}
	task := asynq.NewTask(string(queue.KindImageProcessing), body)

	p, err := decodePayload(task)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if p.JobID != "job-1" || p.Kind != queue.KindImageProcessing {
		t.Errorf("decodePayload = %+v, want job-1/image_processing", p)
	}
}

func TestDecodePayloadInvalidJSON(t *testing.T) {
	task := asynq.NewTask("image_processing", []byte("not json"))
	if _, err := decodePayload(task); err == nil {
		t.Error("decodePayload with invalid JSON: want error, got nil")
	}
}

func TestStringData(t *testing.T) {
	data := map[string]interface{}{"path": "/a.jpg", "count": 3}

	if v, ok := stringData(data, "path"); !ok || v != "/a.jpg" {
		t.Errorf("stringData(path) = (%q, %v), want (/a.jpg, true)", v, ok)
	}
	if _, ok := stringData(data, "count"); ok {
		t.Error("stringData(count): want ok=false for non-string value")
	}
	if _, ok := stringData(data, "missing"); ok {
		t.Error("stringData(missing): want ok=false")
	}
}

func TestInt64Data(t *testing.T) {
	data := map[string]interface{}{"image_id": float64(42), "path": "/a.jpg"}

	if v, ok := int64Data(data, "image_id"); !ok || v != 42 {
		t.Errorf("int64Data(image_id) = (%d, %v), want (42, true)", v, ok)
	}
	if _, ok := int64Data(data, "path"); ok {
		t.Error("int64Data(path): want ok=false for non-numeric value")
	}
	if _, ok := int64Data(data, "missing"); ok {
		t.Error("int64Data(missing): want ok=false")
	}
}
