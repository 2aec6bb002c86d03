// ABOUTME: Entry point for the trackbridge publishing server
// ABOUTME: Parses CLI flags and publishes audio files, streams or a test tone as room tracks
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/resonate-audio/trackbridge/internal/config"
	"github.com/resonate-audio/trackbridge/internal/metrics"
	"github.com/resonate-audio/trackbridge/internal/source"
	"github.com/resonate-audio/trackbridge/internal/ui"
	"github.com/resonate-audio/trackbridge/internal/version"
	"github.com/resonate-audio/trackbridge/pkg/publisher"
)

// trackFlags collects repeated -track name=path flags
type trackFlags []string

func (t *trackFlags) String() string     { return strings.Join(*t, ",") }
func (t *trackFlags) Set(v string) error { *t = append(*t, v); return nil }

var (
	configFile  = flag.String("config", "", "YAML configuration file")
	envFile     = flag.String("env", ".env", "Environment file loaded before TRACKBRIDGE_* variables")
	port        = flag.Int("port", 0, "WebSocket server port")
	name        = flag.String("name", "", "Server friendly name (default: hostname-trackbridge-server)")
	roomName    = flag.String("room", "", "Room served by this publisher")
	audioFile   = flag.String("audio", "", "Audio file or URL to stream (MP3, FLAC). If not specified, plays a test tone")
	sampleRate  = flag.Int("rate", 0, "Published sample rate; sources at other rates are resampled")
	channels    = flag.Int("channels", 0, "Channel count of the test tone")
	logFile     = flag.String("log-file", "", "Log file path")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	noMDNS      = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	useTUI      = flag.Bool("tui", false, "Show a dashboard instead of streaming logs")
	tracks      trackFlags
)

func main() {
	flag.Var(&tracks, "track", "Publish an extra track as name=path (repeatable)")
	flag.Parse()

	cfg, err := config.Load(*configFile, *envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyFlags(&cfg.Server)
	if err := cfg.Server.Validate(); err != nil {
		log.Fatalf("Invalid configuration: server config: %v", err)
	}
	sc := cfg.Server

	f, err := os.OpenFile(sc.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()
	if *useTUI {
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	serverName := sc.Name
	if serverName == "" || serverName == config.Default().Server.Name {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-trackbridge-server", hostname)
	}

	log.Printf("Starting %s %s: %s on port %d, room %s", version.ServerProduct, version.Version, serverName, sc.Port, sc.Room)
	if sc.Debug {
		log.Printf("Debug logging enabled")
	}
	log.Printf("Logging to: %s", sc.LogFile)
	log.Printf("Press Ctrl-C to stop")

	published, err := openTracks(sc)
	if err != nil {
		log.Fatalf("Failed to open audio: %v", err)
	}

	srv, err := publisher.NewServer(publisher.ServerConfig{
		Port:       sc.Port,
		Name:       serverName,
		Room:       sc.Room,
		Tracks:     published,
		EnableMDNS: sc.MDNS,
		Debug:      sc.Debug,
	})
	if err != nil {
		for _, t := range published {
			t.Source.Close()
		}
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *metricsAddr != "" {
		reg, err := metrics.NewRegistry(metrics.NewServerCollector(srv.Stats))
		if err != nil {
			log.Fatalf("Failed to create metrics registry: %v", err)
		}
		go func() {
			if err := metrics.Serve(ctx, *metricsAddr, reg); err != nil {
				log.Printf("Metrics: %v", err)
			}
		}()
	}

	if *useTUI {
		controls := ui.NewControls()
		names := make([]string, len(published))
		for i, t := range published {
			names[i] = t.Name
		}
		prog := ui.RunServer(ui.ServerInfo{
			Name:   serverName,
			Addr:   fmt.Sprintf(":%d", sc.Port),
			Room:   sc.Room,
			Tracks: names,
		}, srv.Stats, controls)
		go func() {
			if _, err := prog.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
			cancel()
		}()
		go func() {
			select {
			case <-controls.Quit:
				cancel()
			case <-ctx.Done():
				prog.Quit()
			}
		}()
	}

	go func() {
		<-ctx.Done()
		log.Printf("Shutting down gracefully...")
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Printf("Server stopped")
}

// applyFlags overrides configuration with flags given on the command line
func applyFlags(sc *config.ServerConfig) {
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			sc.Port = *port
		case "name":
			sc.Name = *name
		case "room":
			sc.Room = *roomName
		case "audio":
			sc.Audio = *audioFile
		case "rate":
			sc.SampleRate = *sampleRate
		case "channels":
			sc.Channels = *channels
		case "log-file":
			sc.LogFile = *logFile
		case "debug":
			sc.Debug = *debug
		case "no-mdns":
			sc.MDNS = !*noMDNS
		}
	})
}

// openTracks opens the main source plus any -track sources
func openTracks(sc config.ServerConfig) ([]publisher.Track, error) {
	var out []publisher.Track
	closeAll := func() {
		for _, t := range out {
			t.Source.Close()
		}
	}

	var primary publisher.Source
	if sc.Audio == "" {
		primary = publisher.NewTestTone(sc.SampleRate, sc.Channels)
	} else {
		src, err := source.Open(sc.Audio, sc.SampleRate)
		if err != nil {
			return nil, err
		}
		primary = src
	}
	out = append(out, publisher.Track{Name: trackTitle(sc.Audio, "main"), Source: primary})

	for _, arg := range tracks {
		trackName, path, ok := strings.Cut(arg, "=")
		if !ok || trackName == "" {
			closeAll()
			return nil, fmt.Errorf("invalid -track %q: want name=path", arg)
		}
		src, err := source.Open(path, sc.SampleRate)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("track %s: %w", trackName, err)
		}
		out = append(out, publisher.Track{Name: trackName, Source: src})
	}

	return out, nil
}

// trackTitle names a track after its file, falling back to def
func trackTitle(path, def string) string {
	if title := source.Title(path); title != "" {
		return title
	}
	return def
}
