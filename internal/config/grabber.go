package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/banshee-data/lepton.grabber/internal/monitoring"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/grabber.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// GrabberConfig is the grabber's file configuration. Unset fields fall back
// to the defaults returned by the Get* methods, so partial files are safe.
type GrabberConfig struct {
	// SPI bus
	SPIDevice      *string `json:"spi_device,omitempty"`
	SPISpeedHz     *uint32 `json:"spi_speed_hz,omitempty"`
	SPIMode        *int    `json:"spi_mode,omitempty"`
	SPIBitsPerWord *int    `json:"spi_bits_per_word,omitempty"`
	SPIDelayUsecs  *int    `json:"spi_delay_usecs,omitempty"`

	// Control channel; "none" disables it.
	I2CDevice  *string `json:"i2c_device,omitempty"`
	CCIAddress *int    `json:"cci_address,omitempty"`

	// VoSPI stream
	Telemetry         *bool    `json:"telemetry,omitempty"`
	PacketSize        *int     `json:"packet_size,omitempty"`
	PacketsPerSegment *int     `json:"packets_per_segment,omitempty"`
	SegmentRateHz     *float64 `json:"segment_rate_hz,omitempty"`

	// Acquisition loop
	ResyncThreshold *int    `json:"resync_threshold,omitempty"`
	ResyncQuiet     *string `json:"resync_quiet,omitempty"` // duration string like "185ms"
	StrictSequence  *bool   `json:"strict_sequence,omitempty"`
	DebugLevel      *string `json:"debug_level,omitempty"`
	StatsWindow     *int    `json:"stats_window,omitempty"`

	// Persistence; empty disables.
	DBPath     *string `json:"db_path,omitempty"`
	RecordPcap *string `json:"record_pcap,omitempty"`
}

func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrUint32(v uint32) *uint32    { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// DefaultGrabberConfig returns a config with every field set to its default.
func DefaultGrabberConfig() *GrabberConfig {
	return &GrabberConfig{
		SPIDevice:         ptrString("/dev/spidev0.0"),
		SPISpeedHz:        ptrUint32(32000000),
		SPIMode:           ptrInt(3),
		SPIBitsPerWord:    ptrInt(8),
		SPIDelayUsecs:     ptrInt(50),
		I2CDevice:         ptrString("/dev/i2c-1"),
		CCIAddress:        ptrInt(0x2A),
		Telemetry:         ptrBool(false),
		PacketSize:        ptrInt(164),
		PacketsPerSegment: ptrInt(60),
		SegmentRateHz:     ptrFloat64(106),
		ResyncThreshold:   ptrInt(10),
		ResyncQuiet:       ptrString("185ms"),
		StrictSequence:    ptrBool(true),
		DebugLevel:        ptrString("info"),
		StatsWindow:       ptrInt(512),
		DBPath:            ptrString(""),
		RecordPcap:        ptrString(""),
	}
}

// Load reads a GrabberConfig from a .json, .yaml or .yml file and
// validates it.
func Load(path string) (*GrabberConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &GrabberConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		// yaml.Unmarshal converts to JSON first, so the json tags apply.
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *GrabberConfig) Validate() error {
	if c.SPIMode != nil && (*c.SPIMode < 0 || *c.SPIMode > 3) {
		return fmt.Errorf("spi_mode must be between 0 and 3, got %d", *c.SPIMode)
	}
	if c.SPIBitsPerWord != nil && *c.SPIBitsPerWord != 8 && *c.SPIBitsPerWord != 16 {
		return fmt.Errorf("spi_bits_per_word must be 8 or 16, got %d", *c.SPIBitsPerWord)
	}
	if c.SPISpeedHz != nil && (*c.SPISpeedHz == 0 || *c.SPISpeedHz > 32000000) {
		return fmt.Errorf("spi_speed_hz must be between 1 and 32000000, got %d", *c.SPISpeedHz)
	}
	if c.SPIDelayUsecs != nil && (*c.SPIDelayUsecs < 0 || *c.SPIDelayUsecs > 0xFFFF) {
		return fmt.Errorf("spi_delay_usecs out of range: %d", *c.SPIDelayUsecs)
	}
	if c.CCIAddress != nil && (*c.CCIAddress <= 0 || *c.CCIAddress > 0x7F) {
		return fmt.Errorf("cci_address must be a 7-bit address, got 0x%X", *c.CCIAddress)
	}
	if c.PacketSize != nil && *c.PacketSize <= 4 {
		return fmt.Errorf("packet_size must exceed the 4 byte header, got %d", *c.PacketSize)
	}
	if c.PacketsPerSegment != nil && (*c.PacketsPerSegment <= 20 || *c.PacketsPerSegment > 256) {
		return fmt.Errorf("packets_per_segment must be between 21 and 256, got %d", *c.PacketsPerSegment)
	}
	if c.SegmentRateHz != nil && *c.SegmentRateHz <= 0 {
		return fmt.Errorf("segment_rate_hz must be positive, got %f", *c.SegmentRateHz)
	}
	if c.ResyncThreshold != nil && *c.ResyncThreshold < 1 {
		return fmt.Errorf("resync_threshold must be at least 1, got %d", *c.ResyncThreshold)
	}
	if c.ResyncQuiet != nil && *c.ResyncQuiet != "" {
		d, err := time.ParseDuration(*c.ResyncQuiet)
		if err != nil {
			return fmt.Errorf("invalid resync_quiet '%s': %w", *c.ResyncQuiet, err)
		}
		if d <= 0 {
			return fmt.Errorf("resync_quiet must be positive, got %s", d)
		}
	}
	if c.DebugLevel != nil {
		if _, err := monitoring.ParseLevel(*c.DebugLevel); err != nil {
			return err
		}
	}
	if c.StatsWindow != nil && *c.StatsWindow < 2 {
		return fmt.Errorf("stats_window must be at least 2, got %d", *c.StatsWindow)
	}
	return nil
}

// GetSPIDevice returns the SPI device path or the default.
func (c *GrabberConfig) GetSPIDevice() string {
	if c.SPIDevice == nil || *c.SPIDevice == "" {
		return "/dev/spidev0.0"
	}
	return *c.SPIDevice
}

func (c *GrabberConfig) GetSPISpeedHz() uint32 {
	if c.SPISpeedHz == nil {
		return 32000000
	}
	return *c.SPISpeedHz
}

func (c *GrabberConfig) GetSPIMode() int {
	if c.SPIMode == nil {
		return 3
	}
	return *c.SPIMode
}

func (c *GrabberConfig) GetSPIBitsPerWord() int {
	if c.SPIBitsPerWord == nil {
		return 8
	}
	return *c.SPIBitsPerWord
}

func (c *GrabberConfig) GetSPIDelayUsecs() int {
	if c.SPIDelayUsecs == nil {
		return 50
	}
	return *c.SPIDelayUsecs
}

// GetI2CDevice returns the control bus path; "none" disables the control
// channel.
func (c *GrabberConfig) GetI2CDevice() string {
	if c.I2CDevice == nil || *c.I2CDevice == "" {
		return "/dev/i2c-1"
	}
	return *c.I2CDevice
}

func (c *GrabberConfig) GetCCIAddress() int {
	if c.CCIAddress == nil {
		return 0x2A
	}
	return *c.CCIAddress
}

func (c *GrabberConfig) GetTelemetry() bool {
	if c.Telemetry == nil {
		return false
	}
	return *c.Telemetry
}

func (c *GrabberConfig) GetPacketSize() int {
	if c.PacketSize == nil {
		return 164
	}
	return *c.PacketSize
}

// GetPacketsPerSegment returns the configured value, or 61 with telemetry
// enabled and 60 otherwise.
func (c *GrabberConfig) GetPacketsPerSegment() int {
	if c.PacketsPerSegment != nil {
		return *c.PacketsPerSegment
	}
	if c.GetTelemetry() {
		return 61
	}
	return 60
}

func (c *GrabberConfig) GetSegmentRateHz() float64 {
	if c.SegmentRateHz == nil {
		return 106
	}
	return *c.SegmentRateHz
}

func (c *GrabberConfig) GetResyncThreshold() int {
	if c.ResyncThreshold == nil {
		return 10
	}
	return *c.ResyncThreshold
}

// GetResyncQuiet parses and returns the resync quiet period.
func (c *GrabberConfig) GetResyncQuiet() time.Duration {
	if c.ResyncQuiet == nil || *c.ResyncQuiet == "" {
		return 185 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.ResyncQuiet)
	if err != nil || d <= 0 {
		return 185 * time.Millisecond
	}
	return d
}

func (c *GrabberConfig) GetStrictSequence() bool {
	if c.StrictSequence == nil {
		return true
	}
	return *c.StrictSequence
}

// GetDebugLevel returns the parsed debug level, LevelInfo when unset or
// invalid.
func (c *GrabberConfig) GetDebugLevel() monitoring.Level {
	if c.DebugLevel == nil {
		return monitoring.LevelInfo
	}
	l, err := monitoring.ParseLevel(*c.DebugLevel)
	if err != nil {
		return monitoring.LevelInfo
	}
	return l
}

func (c *GrabberConfig) GetStatsWindow() int {
	if c.StatsWindow == nil {
		return 512
	}
	return *c.StatsWindow
}

func (c *GrabberConfig) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

func (c *GrabberConfig) GetRecordPcap() string {
	if c.RecordPcap == nil {
		return ""
	}
	return *c.RecordPcap
}
