// ABOUTME: Entry point for the trackbridge player
// ABOUTME: Parses CLI flags, loads configuration and plays one remote track
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/resonate-audio/trackbridge/internal/config"
	"github.com/resonate-audio/trackbridge/internal/discovery"
	"github.com/resonate-audio/trackbridge/internal/metrics"
	"github.com/resonate-audio/trackbridge/internal/telemetry"
	"github.com/resonate-audio/trackbridge/internal/ui"
	"github.com/resonate-audio/trackbridge/internal/version"
	"github.com/resonate-audio/trackbridge/pkg/trackbridge"
)

var (
	configFile   = flag.String("config", "", "YAML configuration file")
	envFile      = flag.String("env", ".env", "Environment file loaded before TRACKBRIDGE_* variables")
	serverAddr   = flag.String("server", "", "Publisher address host:port (skip mDNS)")
	transport    = flag.String("transport", "", "Transport: ws or whep")
	whepEndpoint = flag.String("whep", "", "WHEP endpoint URL for the whep transport")
	roomName     = flag.String("room", "", "Room to join")
	trackName    = flag.String("track", "", "Track name or sid (default: first audio track)")
	name         = flag.String("name", "", "Player friendly name (default: hostname-trackbridge-player)")
	codec        = flag.String("codec", "", "Preferred wire codec: opus or pcm")
	volume       = flag.Int("volume", 0, "Initial volume 0-100")
	bufferMs     = flag.Int("buffer-ms", 0, "Bridge buffer window in milliseconds")
	outputName   = flag.String("output", "", "Audio output: malgo, oto or null")
	metricsAddr  = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	traceFlag    = flag.String("trace", "", "Trace exporter: stdout, otlp or none")
	logFile      = flag.String("log-file", "", "Log file path")
	noTUI        = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.Load(*configFile, *envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	pc := cfg.Player

	useTUI := !pc.NoTUI

	f, err := os.OpenFile(pc.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	playerName := pc.Name
	if playerName == "" || playerName == config.Default().Player.Name {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		playerName = fmt.Sprintf("%s-trackbridge-player", hostname)
	}
	log.Printf("Starting %s: %s", version.String(), playerName)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "trackbridge-player",
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Printf("Tracing shutdown: %v", err)
		}
	}()

	var tuiProg *tea.Program
	var controls *ui.Controls
	if useTUI {
		controls = ui.NewControls()
		tuiProg = ui.Run(controls, pc.Volume)
		go func() {
			if _, err := tuiProg.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
			cancel()
		}()
	}

	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	server := pc.Server
	if pc.Transport == trackbridge.TransportWebSocket && server == "" {
		server, err = discoverServer(ctx, playerName, pc.Room)
		if err != nil {
			exit(tuiProg, "Discovery failed: %v", err)
		}
	}
	serverLabel := server
	if pc.Transport == trackbridge.TransportWHEP {
		serverLabel = pc.WHEPEndpoint
	}

	player, err := trackbridge.NewPlayer(trackbridge.PlayerConfig{
		Transport:    pc.Transport,
		ServerAddr:   server,
		WHEPEndpoint: pc.WHEPEndpoint,
		BearerToken:  pc.BearerToken,
		Room:         pc.Room,
		Track:        pc.Track,
		PlayerName:   playerName,
		Codec:        pc.Codec,
		Volume:       pc.Volume,
		BufferMs:     pc.BufferMs,
		Output:       pc.Output,
		DeviceInfo: trackbridge.DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
		Tracer: tp.Tracer(),
		OnStateChange: func(state trackbridge.PlayerState) {
			connected := state.Connected
			volume := state.Volume
			muted := state.Muted
			updateTUI(ui.StatusMsg{
				Connected:  &connected,
				ServerName: serverLabel,
				Transport:  pc.Transport,
				Room:       state.Room,
				Track:      state.Track,
				State:      state.State,
				Codec:      state.Codec,
				SampleRate: state.SampleRate,
				Channels:   state.Channels,
				BitDepth:   16,
				Volume:     &volume,
				Muted:      &muted,
			})
			if !useTUI {
				log.Printf("State: %s room=%s track=%s %dHz/%dch", state.State, state.Room, state.Track, state.SampleRate, state.Channels)
			}
		},
		OnError: func(err error) {
			log.Printf("Player error: %v", err)
		},
	})
	if err != nil {
		exit(tuiProg, "Failed to create player: %v", err)
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
	err = player.Connect(connectCtx)
	connectCancel()
	if err != nil {
		exit(tuiProg, "Connection failed: %v", err)
	}
	log.Printf("Connected to %s", serverLabel)

	if pc.MetricsAddr != "" {
		reg, err := metrics.NewRegistry(metrics.NewStreamCollector(player.Stats))
		if err != nil {
			log.Fatalf("Failed to create metrics registry: %v", err)
		}
		go func() {
			if err := metrics.Serve(ctx, pc.MetricsAddr, reg); err != nil {
				log.Printf("Metrics: %v", err)
			}
		}()
	}

	if controls != nil {
		go handleControls(ctx, player, controls, cancel)
	}
	go statsLoop(ctx, player, updateTUI, useTUI)

	<-ctx.Done()
	log.Printf("Shutting down")

	if tuiProg != nil {
		tuiProg.Quit()
	}
	if err := player.Close(); err != nil {
		log.Printf("Error closing player: %v", err)
	}
	log.Printf("Player stopped")
}

// applyFlags overrides configuration with flags given on the command line
func applyFlags(cfg *config.Config) {
	pc := &cfg.Player
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "server":
			pc.Server = *serverAddr
		case "transport":
			pc.Transport = *transport
		case "whep":
			pc.WHEPEndpoint = *whepEndpoint
			if pc.Transport == "ws" && !isSet("transport") {
				pc.Transport = "whep"
			}
		case "room":
			pc.Room = *roomName
		case "track":
			pc.Track = *trackName
		case "name":
			pc.Name = *name
		case "codec":
			pc.Codec = *codec
		case "volume":
			pc.Volume = *volume
		case "buffer-ms":
			pc.BufferMs = *bufferMs
		case "output":
			pc.Output = *outputName
		case "metrics-addr":
			pc.MetricsAddr = *metricsAddr
		case "trace":
			cfg.Telemetry.Exporter = *traceFlag
		case "log-file":
			pc.LogFile = *logFile
		case "no-tui":
			pc.NoTUI = *noTUI
		}
	})
}

func isSet(name string) bool {
	set := false
	flag.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			set = true
		}
	})
	return set
}

// discoverServer browses mDNS for a publisher serving room
func discoverServer(ctx context.Context, playerName, room string) (string, error) {
	log.Printf("Starting server discovery...")
	disc := discovery.NewManager(discovery.Config{ServiceName: playerName})
	defer disc.Stop()

	if err := disc.Browse(); err != nil {
		return "", err
	}

	timeout := time.After(10 * time.Second)
	for {
		select {
		case server := <-disc.Servers():
			if server.Room != "" && server.Room != room {
				log.Printf("Skipping %s: serves room %s", server.Name, server.Room)
				continue
			}
			log.Printf("Discovered server %s at %s", server.Name, server.Addr())
			return server.Addr(), nil
		case <-timeout:
			return "", fmt.Errorf("no server found for room %s after 10 seconds", room)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// handleControls applies keyboard requests from the TUI
func handleControls(ctx context.Context, player *trackbridge.Player, controls *ui.Controls, quit context.CancelFunc) {
	for {
		select {
		case v := <-controls.Volume:
			log.Printf("Volume change: %d%%, muted=%v", v.Volume, v.Muted)
			player.SetVolume(v.Volume)
			player.Mute(v.Muted)
		case <-controls.Quit:
			log.Printf("Received quit signal from TUI")
			quit()
			return
		case <-ctx.Done():
			return
		}
	}
}

// statsLoop feeds stream counters to the TUI, or to the log without one
func statsLoop(ctx context.Context, player *trackbridge.Player, updateTUI func(ui.StatusMsg), useTUI bool) {
	interval := 500 * time.Millisecond
	if !useTUI {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := player.Stats()
			if useTUI {
				updateTUI(ui.StatusMsg{Stats: &stats})
				continue
			}
			log.Printf("Stats: frames=%d buffered=%d/%d underruns=%d overflows=%d dropped=%dB",
				stats.FramesReceived, stats.Buffered, stats.Capacity, stats.Underruns, stats.Overflows, stats.BytesDropped)
		case <-ctx.Done():
			return
		}
	}
}

// exit restores the terminal before logging a fatal error
func exit(tuiProg *tea.Program, format string, args ...interface{}) {
	if tuiProg != nil {
		tuiProg.Kill()
		tuiProg.Wait()
		log.SetOutput(io.MultiWriter(os.Stderr, log.Writer()))
	}
	log.Fatalf(format, args...)
}
