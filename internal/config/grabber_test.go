package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/lepton.grabber/internal/monitoring"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsFileMatchesDefaultGrabberConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", DefaultConfigPath))
	if err != nil {
		t.Fatalf("Load defaults: %v", err)
	}
	if diff := cmp.Diff(DefaultGrabberConfig(), cfg); diff != "" {
		t.Errorf("defaults file mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyConfigGetters(t *testing.T) {
	cfg := &GrabberConfig{}
	def := DefaultGrabberConfig()

	if cfg.GetSPIDevice() != def.GetSPIDevice() || cfg.GetSPIDevice() != "/dev/spidev0.0" {
		t.Errorf("GetSPIDevice() = %q", cfg.GetSPIDevice())
	}
	if cfg.GetSPISpeedHz() != 32000000 || cfg.GetSPIMode() != 3 || cfg.GetSPIBitsPerWord() != 8 || cfg.GetSPIDelayUsecs() != 50 {
		t.Errorf("SPI defaults = %d %d %d %d", cfg.GetSPISpeedHz(), cfg.GetSPIMode(), cfg.GetSPIBitsPerWord(), cfg.GetSPIDelayUsecs())
	}
	if cfg.GetI2CDevice() != "/dev/i2c-1" || cfg.GetCCIAddress() != 0x2A {
		t.Errorf("CCI defaults = %q 0x%X", cfg.GetI2CDevice(), cfg.GetCCIAddress())
	}
	if cfg.GetPacketSize() != 164 || cfg.GetPacketsPerSegment() != 60 || cfg.GetSegmentRateHz() != 106 {
		t.Errorf("geometry defaults = %d %d %f", cfg.GetPacketSize(), cfg.GetPacketsPerSegment(), cfg.GetSegmentRateHz())
	}
	if cfg.GetResyncThreshold() != 10 || cfg.GetResyncQuiet() != 185*time.Millisecond {
		t.Errorf("resync defaults = %d %v", cfg.GetResyncThreshold(), cfg.GetResyncQuiet())
	}
	if !cfg.GetStrictSequence() || cfg.GetDebugLevel() != monitoring.LevelInfo || cfg.GetStatsWindow() != 512 {
		t.Errorf("loop defaults = %v %v %d", cfg.GetStrictSequence(), cfg.GetDebugLevel(), cfg.GetStatsWindow())
	}
	if cfg.GetDBPath() != "" || cfg.GetRecordPcap() != "" || cfg.GetTelemetry() {
		t.Error("persistence and telemetry should be disabled by default")
	}
}

func TestTelemetryChangesPacketsPerSegment(t *testing.T) {
	cfg := &GrabberConfig{Telemetry: ptrBool(true)}
	if got := cfg.GetPacketsPerSegment(); got != 61 {
		t.Errorf("GetPacketsPerSegment() with telemetry = %d, want 61", got)
	}
	cfg.PacketsPerSegment = ptrInt(60)
	if got := cfg.GetPacketsPerSegment(); got != 60 {
		t.Errorf("explicit packets_per_segment = %d, want 60", got)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "grabber.json", `{
  "spi_device": "/dev/spidev1.0",
  "resync_quiet": "250ms",
  "strict_sequence": false,
  "debug_level": "full"
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GetSPIDevice() != "/dev/spidev1.0" {
		t.Errorf("GetSPIDevice() = %q", cfg.GetSPIDevice())
	}
	if cfg.GetResyncQuiet() != 250*time.Millisecond {
		t.Errorf("GetResyncQuiet() = %v", cfg.GetResyncQuiet())
	}
	if cfg.GetStrictSequence() {
		t.Error("strict_sequence should be false")
	}
	if cfg.GetDebugLevel() != monitoring.LevelFull {
		t.Errorf("GetDebugLevel() = %v", cfg.GetDebugLevel())
	}
	// unset fields keep defaults
	if cfg.GetResyncThreshold() != 10 {
		t.Errorf("GetResyncThreshold() = %d", cfg.GetResyncThreshold())
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "grabber.yaml", `
spi_speed_hz: 20000000
i2c_device: none
telemetry: true
db_path: /var/lib/grabber/sessions.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GetSPISpeedHz() != 20000000 {
		t.Errorf("GetSPISpeedHz() = %d", cfg.GetSPISpeedHz())
	}
	if cfg.GetI2CDevice() != "none" {
		t.Errorf("GetI2CDevice() = %q", cfg.GetI2CDevice())
	}
	if cfg.GetPacketsPerSegment() != 61 {
		t.Errorf("GetPacketsPerSegment() = %d", cfg.GetPacketsPerSegment())
	}
	if cfg.GetDBPath() != "/var/lib/grabber/sessions.db" {
		t.Errorf("GetDBPath() = %q", cfg.GetDBPath())
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name, file, content, want string
	}{
		{"extension", "grabber.toml", `a = 1`, "extension"},
		{"bad json", "grabber.json", `{`, "failed to parse"},
		{"bad mode", "grabber.json", `{"spi_mode": 4}`, "spi_mode"},
		{"bad bits", "grabber.yml", "spi_bits_per_word: 12\n", "spi_bits_per_word"},
		{"bad speed", "grabber.json", `{"spi_speed_hz": 40000000}`, "spi_speed_hz"},
		{"bad quiet", "grabber.json", `{"resync_quiet": "soon"}`, "resync_quiet"},
		{"negative quiet", "grabber.json", `{"resync_quiet": "-1s"}`, "resync_quiet"},
		{"bad level", "grabber.json", `{"debug_level": "loud"}`, "debug level"},
		{"bad threshold", "grabber.json", `{"resync_threshold": 0}`, "resync_threshold"},
		{"bad address", "grabber.json", `{"cci_address": 200}`, "cci_address"},
		{"short packets", "grabber.json", `{"packet_size": 4}`, "packet_size"},
		{"few packets", "grabber.json", `{"packets_per_segment": 20}`, "packets_per_segment"},
		{"stats window", "grabber.json", `{"stats_window": 1}`, "stats_window"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Load error = %v, want containing %q", err, tc.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsLargeFile(t *testing.T) {
	big := `{"spi_device": "` + strings.Repeat("x", maxFileSize) + `"}`
	if _, err := Load(writeFile(t, "big.json", big)); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("Load error = %v", err)
	}
}
