package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pcsc-tools/cardid-agent/internal/api"
	"github.com/pcsc-tools/cardid-agent/internal/config"
	"github.com/pcsc-tools/cardid-agent/internal/core"
	"github.com/pcsc-tools/cardid-agent/internal/logging"
	"github.com/pcsc-tools/cardid-agent/internal/service"
	"github.com/pcsc-tools/cardid-agent/internal/settings"
	"github.com/pcsc-tools/cardid-agent/internal/tray"
	"github.com/pcsc-tools/cardid-agent/internal/welcome"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information and exit")
	noTrayFlag := flag.Bool("no-tray", false, "Run without system tray (headless mode)")
	readerFlag := flag.String("reader", "", "PC/SC reader to monitor (overrides CARDID_AGENT_READER)")
	listReadersFlag := flag.Bool("list-readers", false, "Print the readers known to PC/SC and exit")
	settingsFlag := flag.String("settings", "", "Path to the settings file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Card ID Agent - reads card identifiers from a PC/SC reader\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  cardid-agent [flags]\n")
		fmt.Fprintf(os.Stderr, "  cardid-agent <command>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  install     Install auto-start service\n")
		fmt.Fprintf(os.Stderr, "  uninstall   Remove auto-start service\n")
		fmt.Fprintf(os.Stderr, "  readers     List PC/SC readers\n")
		fmt.Fprintf(os.Stderr, "  version     Print version information\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  CARDID_AGENT_PORT       Port to listen on (default: %d)\n", config.DefaultPort)
		fmt.Fprintf(os.Stderr, "  CARDID_AGENT_HOST       Host to bind to (default: %s)\n", config.DefaultHost)
		fmt.Fprintf(os.Stderr, "  CARDID_AGENT_READER     Reader to monitor (default: %s)\n", config.DefaultReader)
		fmt.Fprintf(os.Stderr, "  CARDID_AGENT_AUTOSTART  Start monitoring at launch (true/false)\n")
		fmt.Fprintf(os.Stderr, "  CARDID_AGENT_MDNS       Advertise the API over mDNS (true/false)\n")
	}

	flag.Parse()

	if *versionFlag {
		printVersion()
		return
	}

	if *settingsFlag != "" {
		settings.SetPath(*settingsFlag)
	}

	cfg := config.Load()
	prefs, err := settings.Load()
	if err != nil {
		log.Printf("Failed to load settings, using defaults: %v", err)
	}
	cfg.ApplyDefaults(prefs.ReaderName, prefs.StartMonitorOnLaunch)
	if *readerFlag != "" {
		cfg.SetReader(*readerFlag)
	}

	args := flag.Args()
	if *listReadersFlag {
		args = []string{"readers"}
	}
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			return
		case "readers":
			if err := printReaders(); err != nil {
				log.Fatalf("Failed to list readers: %v", err)
			}
			return
		case "install":
			if err := service.New(cfg).Install(); err != nil {
				log.Fatalf("Failed to install service: %v", err)
			}
			fmt.Println("Auto-start service installed successfully")
			return
		case "uninstall":
			if err := service.New(cfg).Uninstall(); err != nil {
				log.Fatalf("Failed to uninstall service: %v", err)
			}
			fmt.Println("Auto-start service removed successfully")
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			flag.Usage()
			os.Exit(1)
		}
	}

	run(cfg, prefs, *noTrayFlag)
}

func printVersion() {
	fmt.Printf("cardid-agent %s\n", api.Version)
	fmt.Printf("Build time: %s\n", api.BuildTime)
	fmt.Printf("Git commit: %s\n", api.GitCommit)
}

func printReaders() error {
	ctx, err := core.DefaultContextFactory{}.EstablishContext()
	if err != nil {
		return err
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return err
	}
	if len(readers) == 0 {
		fmt.Println("No readers found")
		return nil
	}
	for _, r := range readers {
		fmt.Println(r)
	}
	return nil
}

func run(cfg *config.Config, prefs *settings.Settings, headless bool) {
	logging.Init(1000, logging.LevelDebug)
	logging.Info(logging.CatSystem, "Card ID Agent starting", map[string]any{
		"version": api.Version,
		"reader":  cfg.Reader,
	})

	if logging.InitSentry(logging.SentryConfig{
		Version:        api.Version,
		Reader:         cfg.Reader,
		CrashReporting: prefs.CrashReporting,
	}) {
		defer logging.FlushSentry(2 * time.Second)
	}

	agent, err := core.NewAgent(core.DefaultContextFactory{}, cfg.Reader)
	if err != nil {
		var unavailable *core.ServiceUnavailableError
		if errors.As(err, &unavailable) {
			log.Fatalf("PC/SC service is not available: %v", err)
		}
		log.Fatalf("Failed to start agent: %v", err)
	}
	defer agent.Close()

	if cfg.AutoStart {
		if err := agent.StartMonitor(); err != nil {
			var notFound *core.ReaderNotFoundError
			if errors.As(err, &notFound) {
				log.Fatalf("%v (available: %v)", err, notFound.Available)
			}
			log.Fatalf("Failed to start monitoring: %v", err)
		}
	}

	go logCardEvents(agent)

	api.SetController(agent)
	api.SetConfig(cfg)

	mux := api.NewMux()
	mux.HandleFunc("/v1/ws", api.InitWebSocket())

	addr := cfg.Address()
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var advertiser *api.Advertiser
	if cfg.MDNS {
		advertiser, err = api.Advertise(cfg.Port, cfg.Reader)
		if err != nil {
			logging.Warn(logging.CatSystem, "mDNS advertisement failed", map[string]any{
				"error": err.Error(),
			})
		}
	}

	shutdown := func() {
		log.Println("Shutting down...")
		advertiser.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logging.Warn(logging.CatSystem, "HTTP server shutdown failed", map[string]any{
				"error": err.Error(),
			})
		}
		if err := agent.Close(); err != nil {
			logging.Warn(logging.CatReader, "Failed to release PC/SC context", map[string]any{
				"error": err.Error(),
			})
		}
	}
	api.SetShutdownHandler(func() {
		shutdown()
		os.Exit(0)
	})

	startServer := func() {
		log.Printf("cardid-agent %s listening on http://%s\n", api.Version, addr)
		log.Printf("WebSocket available at ws://%s/v1/ws\n", addr)
		logging.Info(logging.CatSystem, "Server started", map[string]any{
			"address": addr,
		})

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}

	if !headless && tray.IsSupported() {
		log.Println("Starting with system tray...")

		if welcome.IsFirstRun() {
			go func() {
				welcome.ShowWelcome()
				if welcome.PromptCrashReporting() {
					if err := settings.SetCrashReporting(true); err != nil {
						logging.Warn(logging.CatSystem, "Failed to save crash reporting preference", map[string]any{
							"error": err.Error(),
						})
					}
				}
				if welcome.PromptAutostart() {
					if err := service.New(cfg).Install(); err != nil && !errors.Is(err, service.ErrAlreadyInstalled) {
						logging.Warn(logging.CatSystem, "Failed to enable autostart", map[string]any{
							"error": err.Error(),
						})
					}
				}
				_ = welcome.MarkAsShown() // Ignore error - non-critical
			}()
		}

		trayApp := tray.New(addr, agent, shutdown)

		// Blocks on the main thread until quit (required for macOS Cocoa)
		trayApp.RunWithServer(startServer)
		return
	}

	if headless {
		log.Println("Running in headless mode (no system tray)")
	} else {
		log.Println("System tray not supported on this platform, running headless")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		shutdown()
	}()

	startServer()
}

// logCardEvents mirrors identifiers and monitor failures to stdout.
func logCardEvents(agent *core.Agent) {
	defer logging.RecoverAndLog("card event logger", false)

	events, _ := agent.Subscribe(0)
	for ev := range events {
		switch ev.Type {
		case core.EventCard:
			if ev.Result.Err != nil {
				log.Printf("read failed on %s: %v", ev.Result.Reader, ev.Result.Err)
			} else if ev.Result.UID != "" {
				log.Printf("card %s on %s", ev.Result.UID, ev.Result.Reader)
			}
		case core.EventMonitorError:
			log.Printf("monitoring stopped: %s", ev.Error)
		}
	}
}
