package main

import (
	"path/filepath"
	"strings"
	"testing"
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
