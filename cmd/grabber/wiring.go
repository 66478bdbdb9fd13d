package main

import (
	"fmt"
	"strings"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/lepton.grabber/internal/config"
	"github.com/banshee-data/lepton.grabber/internal/monitoring"
	"github.com/banshee-data/lepton.grabber/internal/spidev"
	"github.com/banshee-data/lepton.grabber/internal/vospi"
)

// healthService is the service name reported by the gRPC health server in
// addition to the overall ("") status.
const healthService = "lepton.grabber"

// overrides are command-line values replacing config file fields. Empty
// strings leave the file value in place.
type overrides struct {
	SPIDevice  string
	I2CDevice  string
	DBPath     string
	RecordPcap string
	DebugLevel string
}

func applyOverrides(cfg *config.GrabberConfig, o overrides) error {
	set := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	set(&cfg.SPIDevice, o.SPIDevice)
	set(&cfg.I2CDevice, o.I2CDevice)
	set(&cfg.DBPath, o.DBPath)
	set(&cfg.RecordPcap, o.RecordPcap)
	set(&cfg.DebugLevel, o.DebugLevel)
	return cfg.Validate()
}

func geometryFromConfig(cfg *config.GrabberConfig) vospi.Geometry {
	return vospi.Geometry{
		PacketSize:        cfg.GetPacketSize(),
		PacketsPerSegment: cfg.GetPacketsPerSegment(),
		SegmentsPerFrame:  vospi.SegmentsPerFrame,
		SegmentRate:       cfg.GetSegmentRateHz(),
	}
}

func portOptionsFromConfig(cfg *config.GrabberConfig) spidev.PortOptions {
	return spidev.PortOptions{
		Mode:        spidev.Mode(cfg.GetSPIMode()),
		BitsPerWord: uint8(cfg.GetSPIBitsPerWord()),
		SpeedHz:     cfg.GetSPISpeedHz(),
		DelayUsecs:  uint16(cfg.GetSPIDelayUsecs()),
	}
}

// transportChoice selects where segments come from when not reading the
// configured SPI device.
type transportChoice struct {
	Dev    bool
	Replay string
}

// openTransport builds the transport for the selected source, wrapped in a
// pcap recorder when record_pcap is set. It returns the transport, the
// session mode ("dev", "replay" or "device") and a device label.
func openTransport(cfg *config.GrabberConfig, geom vospi.Geometry, choice transportChoice, log monitoring.Verbosity) (spidev.Transport, string, string, error) {
	var (
		t      spidev.Transport
		mode   string
		device string
	)
	switch {
	case choice.Dev:
		t = vospi.NewSimulator(vospi.SimulatorConfig{
			Geometry:       geom,
			DiscardsBefore: 3,
			Pace:           geom.SegmentPeriod(),
		})
		mode, device = "dev", "simulator"
	case choice.Replay != "":
		t = spidev.NewReplayTransport(choice.Replay, true)
		mode, device = "replay", choice.Replay
	default:
		d, err := spidev.NewDevice(cfg.GetSPIDevice(), portOptionsFromConfig(cfg), log)
		if err != nil {
			return nil, "", "", err
		}
		t = d
		mode, device = "device", cfg.GetSPIDevice()
	}

	if path := cfg.GetRecordPcap(); path != "" {
		r, err := spidev.NewRecorder(t, path)
		if err != nil {
			return nil, "", "", err
		}
		log.Infof("recording transfers to %s", path)
		t = r
	}
	return t, mode, device, nil
}

// setServing reports the acquisition state through the health server. A nil
// server is ignored.
func setServing(hs *health.Server, serving bool) {
	if hs == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus("", status)
	hs.SetServingStatus(healthService, status)
}

// parseRadiometry accepts on/off style values for -radiometry.
func parseRadiometry(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "enable":
		return true, nil
	case "off", "false", "0", "disable":
		return false, nil
	}
	return false, fmt.Errorf("invalid radiometry value %q: expected on or off", s)
}
