package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/lepton.grabber/internal/cci"
	"github.com/banshee-data/lepton.grabber/internal/config"
	"github.com/banshee-data/lepton.grabber/internal/db"
	"github.com/banshee-data/lepton.grabber/internal/monitoring"
	"github.com/banshee-data/lepton.grabber/internal/spidev"
	"github.com/banshee-data/lepton.grabber/internal/version"
	"github.com/banshee-data/lepton.grabber/internal/vospi"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON or YAML config file (built-in defaults when empty)")
	spiDevice   = flag.String("spi", "", "SPI device for the video stream (overrides config)")
	i2cDevice   = flag.String("i2c", "", "I2C device for the control channel, or \"none\" (overrides config)")
	listen      = flag.String("listen", ":8080", "HTTP debug listen address")
	grpcListen  = flag.String("grpc-listen", "", "gRPC health listen address (disabled when empty)")
	devMode     = flag.Bool("dev", false, "Read from the simulated sensor instead of hardware")
	replayPath  = flag.String("replay", "", "Replay a pcap recording instead of reading hardware")
	recordPath  = flag.String("record", "", "Record every transfer to this pcap file (overrides config)")
	dbPath      = flag.String("db", "", "Session database path (overrides config; sessions are not stored when empty)")
	debugLevel  = flag.String("debug", "", "Debug level: none, info or full (overrides config)")
	readTemp    = flag.Bool("temp", false, "Print the FPA temperature and exit")
	runFFC      = flag.Bool("ffc", false, "Run a flat field correction and exit")
	radiometry  = flag.String("radiometry", "", "Set radiometry on or off and exit")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	// Subcommand: grabber migrate <action>
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		path := fs.String("db", "sessions.db", "Session database path")
		fs.Parse(os.Args[2:])
		if err := db.RunMigrateCommand(fs.Args(), *path, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *devMode && *replayPath != "" {
		log.Fatal("-dev and -replay are mutually exclusive")
	}

	cfg := config.DefaultGrabberConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if err := applyOverrides(cfg, overrides{
		SPIDevice:  *spiDevice,
		I2CDevice:  *i2cDevice,
		DBPath:     *dbPath,
		RecordPcap: *recordPath,
		DebugLevel: *debugLevel,
	}); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	verbosity := monitoring.Verbosity{Level: cfg.GetDebugLevel()}
	controller := cci.NewController(cfg.GetI2CDevice(), uint16(cfg.GetCCIAddress()), cci.LeptonOptions{
		Log: monitoring.Verbosity{Level: verbosity.Level, Prefix: "[cci] "},
	})
	defer controller.Close()

	if *readTemp || *runFFC || *radiometry != "" {
		if err := runControl(os.Stdout, controller, controlRequest{
			Temperature: *readTemp,
			FFC:         *runFFC,
			Radiometry:  *radiometry,
		}); err != nil {
			log.Fatalf("control channel: %v", err)
		}
		return
	}

	if err := run(cfg, controller, verbosity); err != nil {
		log.Fatalf("grabber: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func run(cfg *config.GrabberConfig, controller cci.Controller, verbosity monitoring.Verbosity) error {
	geom := geometryFromConfig(cfg)

	transport, mode, device, err := openTransport(cfg, geom, transportChoice{
		Dev:    *devMode,
		Replay: *replayPath,
	}, monitoring.Verbosity{Level: verbosity.Level, Prefix: "[spidev] "})
	if err != nil {
		return err
	}
	if rec, ok := transport.(*spidev.Recorder); ok {
		defer func() {
			if err := rec.Finish(); err != nil {
				log.Printf("failed to finish recording: %v", err)
			}
			log.Printf("recorded %d transfers (%d not written)", rec.Records(), rec.WriteErrors())
		}()
	}

	var store *db.DB
	if path := cfg.GetDBPath(); path != "" {
		if store, err = db.NewDB(path); err != nil {
			return fmt.Errorf("failed to open session database: %w", err)
		}
		defer store.Close()
	}

	var hs *health.Server
	if *grpcListen != "" {
		hs = health.NewServer()
		hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	sessions, err := newSessionLog(store, device, mode, time.Now())
	if err != nil {
		return err
	}
	if k, err := controller.FPATemperature(); err == nil {
		verbosity.Infof("FPA temperature %.2f K (%.2f °C)", k, cci.KelvinToCelsius(k))
		sessions.setFPATemperature(k)
	} else if !errors.Is(err, cci.ErrDisabled) {
		verbosity.Errorf("failed to read FPA temperature: %v", err)
	}

	grabber, err := vospi.NewGrabber(transport, vospi.Config{
		Geometry:        geom,
		ResyncThreshold: cfg.GetResyncThreshold(),
		ResyncQuiet:     cfg.GetResyncQuiet(),
		StrictSequence:  cfg.GetStrictSequence(),
		Log:             monitoring.Verbosity{Level: verbosity.Level, Prefix: "[vospi] "},
		StatsWindow:     cfg.GetStatsWindow(),
		OnFrame:         sessions.frame,
		OnResync:        sessions.resync,
		OnStop: func(st vospi.Stats) {
			setServing(hs, false)
			sessions.stopped(st, time.Now())
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := grabber.Start(ctx); err != nil {
		sessions.openFailed(err, time.Now())
		return err
	}
	setServing(hs, true)
	log.Printf("%s", version.String())
	log.Printf("acquiring from %s (%s mode, %d packets of %d bytes per segment)",
		device, mode, geom.PacketsPerSegment, geom.PacketSize)

	var wg sync.WaitGroup

	if hs != nil {
		lis, err := net.Listen("tcp", *grpcListen)
		if err != nil {
			grabber.Stop()
			return fmt.Errorf("failed to listen on %s: %w", *grpcListen, err)
		}
		server := grpc.NewServer()
		healthpb.RegisterHealthServer(server, hs)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("gRPC health server listening on %s", lis.Addr())
			if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Printf("gRPC server error: %v", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			hs.Shutdown()
			server.GracefulStop()
			log.Printf("gRPC server stopped")
		}()
	}

	// HTTP debug server
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		grabber.AttachAdminRoutes(mux)
		cci.AttachAdminRoutes(mux, controller)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach session store routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("HTTP server error: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	<-ctx.Done()
	grabber.Stop()
	wg.Wait()
	return nil
}
