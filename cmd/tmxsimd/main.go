// Command tmxsimd runs the Telnet terminal multiplexer: it wires the
// config-loaded line count and console keymap into internal/tmxr and
// internal/console, hot-reloads line labels/enable state/log bindings from
// a manifest file via discovery.Watcher, serves the operator dashboard
// from server, and drives everything from one cooperative poll loop
// (spec §5), grounded on the teacher's main.go startup sequence: flag
// parsing, file-redirected logging, signal handling, a cleanup ticker,
// and a final blocking Run call.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"tmxsim/config"
	"tmxsim/discovery"
	"tmxsim/internal/console"
	"tmxsim/internal/logfile"
	"tmxsim/internal/opcmd"
	"tmxsim/internal/telnet"
	"tmxsim/internal/tmxr"
	"tmxsim/logs"
	"tmxsim/server"
)

var Version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	os.MkdirAll(cfg.Logs.Path, 0755)
	logFile, err := os.OpenFile(cfg.Logs.Path+"/tmxsimd.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		log.SetOutput(logFile)
	}

	log.Infof("Starting tmxsimd v%s", Version)
	log.Infof("  lines: %d  telnet port: %d", cfg.Mux.Lines, cfg.Mux.Port)
	log.Infof("  log path: %s", cfg.Logs.Path)
	log.Infof("  dashboard port: %d", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	registry := &logfile.Registry{}

	mplex := tmxr.New(cfg.Mux.Lines, cfg.Mux.SimName, cfg.Mux.DeviceName, registry, log.StandardLogger())
	if cfg.Mux.Mantra == "vax" {
		mplex.Mantra = telnet.VAXMantra
	}
	if cfg.Mux.BusyMessage != "" {
		mplex.BusyMessage = cfg.Mux.BusyMessage
	}
	if cfg.Mux.ConnectOrder != "" {
		if err := mplex.SetConnectOrder(cfg.Mux.ConnectOrder); err != nil {
			log.Warnf("connect_order: %v", err)
		}
	}
	if cfg.Mux.Buffered > 0 {
		if err := mplex.Configure("BUFFERED=" + strconv.Itoa(cfg.Mux.Buffered)); err != nil {
			log.Warnf("buffered: %v", err)
		}
	}
	if cfg.Mux.Port > 0 {
		if err := mplex.Configure(strconv.Itoa(cfg.Mux.Port)); err != nil {
			log.Fatalf("failed to open telnet master on port %d: %v", cfg.Mux.Port, err)
		}
	}

	localConsole := console.NewPosixConsole()
	if err := localConsole.Init(); err != nil {
		log.Warnf("local console init: %v", err)
	}

	adapter := console.New(mplex, localConsole, log.StandardLogger())
	km := adapter.Keymap()
	if cfg.Console.WRU != 0 {
		km.Interrupt = byte(cfg.Console.WRU)
	}
	if cfg.Console.Break != 0 {
		km.Break = byte(cfg.Console.Break)
	}
	if cfg.Console.Del != 0 {
		km.Delete = byte(cfg.Console.Del)
	}
	if cfg.Console.PChar != 0 {
		km.PChar = cfg.Console.PChar
	}
	adapter.SetKeymap(km)

	radix := opcmd.Radix8
	if cfg.Console.Radix == 16 {
		radix = opcmd.Radix16
	}
	dispatcher := opcmd.New(mplex, adapter, registry, radix)

	logWriter := logs.NewWriter(cfg.Logs.Path, cfg.Logs.RetentionDays)
	defer logWriter.Close()

	watcher := discovery.NewWatcher(cfg.Manifest.Path, cfg.Logs.Path)
	watcher.OnChange(func(m discovery.Manifest) {
		for _, spec := range m.Lines {
			if spec.Index < 0 || spec.Index >= len(mplex.Lines) {
				log.Warnf("manifest: line index %d out of range", spec.Index)
				continue
			}
			line := mplex.Lines[spec.Index]
			if spec.Label != "" {
				line.SetLabel(spec.Label)
			}
			line.SetEnabled(spec.Enabled)
			if spec.LogPath != "" {
				ref, err := logWriter.Open(line.Label())
				if err != nil {
					log.Warnf("manifest: open log for line %d: %v", spec.Index, err)
					continue
				}
				line.SetLog(ref)
			}
		}
		log.Infof("manifest: applied %d line entries", len(m.Lines))
	})
	go watcher.Run(ctx)

	stopRequested := func() bool {
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}
	switch adapter.CheckConsole(cfg.Console.CheckTimeout, stopRequested) {
	case console.KeyStop:
		log.Info("console check interrupted, exiting")
		return
	case console.KeyLost:
		log.Warn("no console Telnet connection within timeout, continuing anyway")
	}

	srv := server.New(cfg.Server.Port, mplex, logWriter, dispatcher)

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logWriter.Cleanup()
			}
		}
	}()

	go pollLoop(ctx, mplex, adapter)

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("dashboard error: %v", err)
	}
}

// pollLoop is the simulator's own cooperative scheduling tick (spec §5):
// connection accept, RX drain, TX drain, and local keyboard/console
// service all happen here rather than in a goroutine per connection.
func pollLoop(ctx context.Context, mplex *tmxr.Multiplexer, adapter *console.Adapter) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mplex.PollConn()
			mplex.PollRX()
			mplex.PollTX()
			if c, result := adapter.PollKbd(); result == console.KeyChar {
				adapter.PutChar(c)
			}
		}
	}
}
