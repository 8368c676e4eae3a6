// ABOUTME: Entry point for the Auralis daemon
// ABOUTME: Parses flags, starts the engine, the WebSocket bridge and the TUI
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

	"github.com/Resonate-Protocol/auralis/internal/bridge"
	"github.com/Resonate-Protocol/auralis/internal/config"
	"github.com/Resonate-Protocol/auralis/internal/engine"
	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/Resonate-Protocol/auralis/internal/pulse"
	"github.com/Resonate-Protocol/auralis/internal/ui"
	"github.com/Resonate-Protocol/auralis/internal/version"
)

var (
	configPath  = flag.String("config", "", "YAML config file (default: built-in defaults)")
	port        = flag.Int("port", 8928, "WebSocket bridge port")
	name        = flag.String("name", "", "Daemon friendly name (default: hostname-auralis)")
	logFile     = flag.String("log-file", "auralis.log", "Log file path")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	noMDNS      = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	simulate    = flag.Bool("simulate", false, "Use an in-memory audio server instead of pactl")
	listEvents  = flag.Bool("list", false, "Print every endpoint event to stdout (implies -no-tui)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const shutdownTimeout = 10 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	useTUI := !(*noTUI || *listEvents)

	// Set up logging
	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	daemonName := cfg.Bridge.Name
	if daemonName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		daemonName = fmt.Sprintf("%s-auralis", hostname)
	}

	log.Printf("Starting %s: %s on port %d", version.String(), daemonName, cfg.Bridge.Port)
	if *debug {
		log.Printf("Debug logging enabled")
	}
	log.Printf("Logging to: %s", cfg.LogFile)

	facility, source := audioSubsystem()

	e := engine.New(cfg.EngineConfig(), facility, source)
	if err := e.Start(); err != nil {
		log.Fatalf("Engine error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := bridge.NewHub()
	go hub.Run(ctx, e.Events())

	requestShutdown := func(reason string) {
		log.Printf("%s, shutting down gracefully...", reason)
		select {
		case e.Commands() <- graph.Shutdown():
		case <-e.Done():
		case <-time.After(shutdownTimeout):
			log.Printf("Warning: command queue stuck, stopping without teardown")
			e.Stop()
		}
	}

	br := bridge.New(bridge.Config{
		Port:       cfg.Bridge.Port,
		Name:       daemonName,
		EnableMDNS: cfg.Bridge.MDNS,
		Debug:      *debug,
	}, hub, e.Commands())
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		if err := br.Start(); err != nil {
			log.Printf("Bridge error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		requestShutdown(fmt.Sprintf("Received %v signal", sig))
	}()

	if *listEvents {
		go printEvents(hub.Subscribe(256))
	}

	var tui *ui.TUI
	if useTUI {
		tui = ui.New(daemonName, hub, e.Commands())
		go func() {
			if err := tui.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
			// Quitting the TUI already queued Shutdown; this covers a crash
			select {
			case <-e.Done():
			default:
				requestShutdown("TUI closed")
			}
		}()
	}

	<-e.Done()
	log.Printf("Engine finished, stopping")

	if tui != nil {
		tui.Stop()
	}
	br.Stop()
	<-bridgeDone
	e.Stop()
	log.Printf("Stopped cleanly")
}

// loadConfig reads the config file and applies explicitly set flags on top
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.Bridge.Port = *port
		case "name":
			cfg.Bridge.Name = *name
		case "log-file":
			cfg.LogFile = *logFile
		case "no-mdns":
			cfg.Bridge.MDNS = !*noMDNS
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// audioSubsystem returns pactl, or the simulator seeded with a few devices
func audioSubsystem() (engine.Facility, pulse.Source) {
	if !*simulate {
		runner := pulse.ExecRunner{}
		return pulse.NewPactl(runner), pulse.NewWatcher(runner)
	}

	log.Printf("Simulating the audio server")
	sim := pulse.NewSimulator()
	sim.AddSink("alsa_output.living_room", "Living Room")
	sim.AddSink("alsa_output.kitchen", "Kitchen")
	sim.AddSink("bluez_output.headphones", "Sony Headphones")
	sim.AddStream("firefox", "Firefox", "YouTube")
	return sim, sim
}

func printEvents(sub *bridge.Subscription) {
	for _, orb := range sub.Snapshot {
		fmt.Println(graph.AddEvent(orb))
	}
	for ev := range sub.Events {
		fmt.Println(ev)
	}
}
