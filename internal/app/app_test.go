package app

import (
	"context"
	"path/filepath"
	"testing"

	"go.ngs.io/dsg-ingest/internal/config"
	"go.ngs.io/dsg-ingest/internal/logger"
)

func TestNew_Bolt(t *testing.T) {
	cfg := &config.Config{
		Datastore:          config.DatastoreBolt,
		BoltPath:           filepath.Join(t.TempDir(), "nested", "dsg.db"),
		DatasetCacheDir:    t.TempDir(),
		ReadRetries:        1,
		MaxConcurrentLoads: 1,
	}
	a, err := New(context.Background(), cfg, logger.NewLogfLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Store == nil || a.Loads == nil || a.Metrics == nil {
		t.Fatalf("incomplete app: %+v", a)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestNew_UnknownDatastore(t *testing.T) {
	if _, err := New(context.Background(), &config.Config{Datastore: "sqlite"}, nil); err == nil {
		t.Error("expected error")
	}
}
