package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	_, cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8081" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Actions.TickInterval != 2*time.Second {
		t.Errorf("tick interval = %v", cfg.Actions.TickInterval)
	}
	if cfg.Actions.QueueMax != 100 {
		t.Errorf("queue max = %d", cfg.Actions.QueueMax)
	}
	if cfg.Collections.MaxDevices != 200 || cfg.Collections.MaxDiagnostics != 200 {
		t.Errorf("collection caps = %d/%d", cfg.Collections.MaxDevices, cfg.Collections.MaxDiagnostics)
	}
	if cfg.MQTT.Enabled || cfg.Probe.Enabled {
		t.Error("optional integrations must default to disabled")
	}
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "borderd.yaml")
	body := []byte("server:\n  addr: \":9999\"\nactions:\n  queue_max: 10\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Actions.QueueMax != 10 {
		t.Errorf("queue max = %d", cfg.Actions.QueueMax)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	v := viper.New()
	v.Set("logging.level", "nope")
	if _, err := NewLogger(v); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		v := viper.New()
		v.Set("logging.level", "info")
		v.Set("logging.format", format)
		if _, err := NewLogger(v); err != nil {
			t.Errorf("format %q: %v", format, err)
		}
	}

	v := viper.New()
	v.Set("logging.level", "info")
	v.Set("logging.format", "xml")
	if _, err := NewLogger(v); err == nil {
		t.Error("expected error for invalid format")
	}
}
