package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/scrypster/casetrace/internal/config"
	"github.com/scrypster/casetrace/internal/storage/memory"
	"github.com/scrypster/casetrace/pkg/types"
)

func TestReadPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	content := `{
		"report_id": "rpt:1",
		"username": "maria",
		"profiles": [{"site": "GitHub", "url": "https://github.com/maria"}]
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	payload, err := readPayload(path)
	if err != nil {
		t.Fatalf("readPayload: %v", err)
	}
	if payload.ReportID != "rpt:1" || len(payload.Profiles) != 1 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestReadPayloadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	if _, err := readPayload(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestIngestAssignsReportID(t *testing.T) {
	a := &app{cfg: config.LoadConfig(), store: memory.NewEntityStore()}

	payload, err := readPayloadFromString(t, `{
		"username": "maria",
		"profiles": [{"site": "GitHub", "url": "https://github.com/maria"}]
	}`)
	if err != nil {
		t.Fatalf("readPayload: %v", err)
	}

	if err := a.ingest(context.Background(), payload); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if payload.ReportID == "" {
		t.Fatal("ingest should assign a report ID")
	}

	entities, err := a.store.ReportEntities(context.Background(), payload.ReportID, "")
	if err != nil {
		t.Fatalf("ReportEntities: %v", err)
	}
	if len(entities) == 0 {
		t.Fatal("ingest stored no entities")
	}
}

func TestOpenStoreUnknownEngine(t *testing.T) {
	cfg := config.LoadConfig()
	cfg.Storage.StorageEngine = "redis"
	if _, err := openStore(cfg); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

func readPayloadFromString(t *testing.T, content string) (*types.ReportPayload, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	return readPayload(path)
}
