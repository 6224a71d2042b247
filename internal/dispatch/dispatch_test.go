package dispatch

import (
	"testing"
	"time"

	"github.com/openphotoalbum/photo-engine/internal/logging"
)

func TestNewAppliesDefaults(t *testing.T) {
	d := New(nil, nil, nil, nil, Config{}, logging.Nop())

	if d.batchSize != 8 {
		t.Errorf("batchSize = %d, want default 8", d.batchSize)
	}
	if d.drainEvery != 10*time.Second {
		t.Errorf("drainEvery = %v, want default 10s", d.drainEvery)
	}
	if d.scanEvery != 5*time.Minute {
		t.Errorf("scanEvery = %v, want default 5m", d.scanEvery)
	}
}

func TestNewKeepsExplicitConfig(t *testing.T) {
	cfg := Config{BatchSize: 20, DrainInterval: 30 * time.Second, ScanInterval: time.Minute}
	d := New(nil, nil, nil, nil, cfg, logging.Nop())

	if d.batchSize != 20 {
		t.Errorf("batchSize = %d, want 20", d.batchSize)
	}
	if d.drainEvery != 30*time.Second {
		t.Errorf("drainEvery = %v, want 30s", d.drainEvery)
	}
	if d.scanEvery != time.Minute {
		t.Errorf("scanEvery = %v, want 1m", d.scanEvery)
	}
}
