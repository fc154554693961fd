package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skobkin/berryweather/internal/config"
	"github.com/skobkin/berryweather/internal/domain"
	"github.com/skobkin/berryweather/internal/persistence"
)

func TestRunRejectsUnknownFlag(t *testing.T) {
	if err := run([]string{"-no-such-flag"}); err == nil {
		t.Fatalf("expected flag parse error")
	}
}

func TestRunFailsWithoutSerialPort(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	err := run([]string{"-config", cfgPath})
	if err == nil || !strings.Contains(err.Error(), "serial port is required") {
		t.Fatalf("expected config validation error, got %v", err)
	}
}

func TestRunVersion(t *testing.T) {
	if err := run([]string{"-version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
}

func TestRunClearDB(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	cfg := config.Default()
	cfg.Radio.SerialPort = "/dev/ttyBERRYTEST0"
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	ctx := context.Background()
	dbPath := filepath.Join(dir, "berryweather.db")
	db, err := persistence.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := persistence.NewSatelliteRepo(db).Upsert(ctx, domain.SatelliteStatus{Address: 2, DeviceID: "garden", UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("seed satellite: %v", err)
	}
	_ = db.Close()

	if err := run([]string{"-config", cfgPath, "-clear-db"}); err != nil {
		t.Fatalf("clear-db: %v", err)
	}

	db, err = persistence.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer func() { _ = db.Close() }()
	items, err := persistence.NewSatelliteRepo(db).ListSortedByLastHeard(ctx)
	if err != nil {
		t.Fatalf("list satellites: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected satellites to be cleared, got %+v", items)
	}
}
