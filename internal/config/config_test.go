package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Pool.Workers != 2 {
		t.Errorf("default workers = %d, want 2", cfg.Pool.Workers)
	}
	if cfg.Segment.WindowMS != 20000 || cfg.Segment.OverlapMS != 2000 || cfg.Segment.MinMS != 1000 {
		t.Errorf("default segment config = %+v, want 20000/2000/1000", cfg.Segment)
	}
	if cfg.LLM.Model != "deepseek-r1:32b" {
		t.Errorf("default llm model = %q", cfg.LLM.Model)
	}
	if cfg.Retention.Days != 30 {
		t.Errorf("default retention days = %d, want 30", cfg.Retention.Days)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RECAPD_PORT", "9100")
	t.Setenv("RECAPD_WORKERS", "4")
	t.Setenv("RECAPD_DATA_DIR", "/tmp/recapd-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Pool.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Pool.Workers)
	}
	if cfg.DataDir() != "/tmp/recapd-test" {
		t.Errorf("data dir = %q, want /tmp/recapd-test", cfg.DataDir())
	}
	if cfg.DBPath() != "/tmp/recapd-test/recapd.db" {
		t.Errorf("db path = %q", cfg.DBPath())
	}
	if cfg.WorkspaceDir() != "/tmp/recapd-test/workspace" {
		t.Errorf("workspace dir = %q", cfg.WorkspaceDir())
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("RECAPD_PORT", "70000")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestLoad_InvalidSegmentWindow(t *testing.T) {
	t.Setenv("RECAPD_SEGMENT_WINDOW_MS", "1000")
	t.Setenv("RECAPD_SEGMENT_OVERLAP_MS", "2000")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when overlap exceeds window")
	}
}
