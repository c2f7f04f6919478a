package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rustpanel-project/rustpanel/internal/api"
	"github.com/rustpanel-project/rustpanel/internal/bridge"
	"github.com/rustpanel-project/rustpanel/internal/cli"
	"github.com/rustpanel-project/rustpanel/internal/config"
	"github.com/rustpanel-project/rustpanel/internal/db"
	"github.com/rustpanel-project/rustpanel/internal/events"
	"github.com/rustpanel-project/rustpanel/internal/health"
	"github.com/rustpanel-project/rustpanel/internal/metrics"
	"github.com/rustpanel-project/rustpanel/internal/monitor"
	"github.com/rustpanel-project/rustpanel/internal/rpc"
	"github.com/rustpanel-project/rustpanel/internal/scheduler"
	"github.com/rustpanel-project/rustpanel/internal/telemetry"
	"github.com/rustpanel-project/rustpanel/internal/util"
)

const dispatchQueueSize = 256

type runOptions struct {
	configDir string
	noCLI     bool
	connect   bool
}

func (o *runOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.configDir, "config", "c", config.DefaultConfigDir, "configuration directory")
	cmd.Flags().BoolVar(&o.noCLI, "no-cli", false, "disable the interactive console")
	cmd.Flags().BoolVar(&o.connect, "connect", false, "connect to the configured server on startup")
}

func runCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the panel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

func setupCmd() *cobra.Command {
	var configDir string
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Run the interactive configuration wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			return config.RunSetupWizard(cfg)
		},
	}
	cmd.Flags().StringVarP(&configDir, "config", "c", config.DefaultConfigDir, "configuration directory")
	return cmd
}

func run(parent context.Context, opts *runOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	printBanner()

	// Defaults until the configuration is loaded
	if _, err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.IsFirstRun() && !opts.noCLI {
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg); err != nil {
			return fmt.Errorf("setup wizard failed: %w", err)
		}
	}

	logging := cfg.GetLogging()
	logCloser, err := util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxSizeMB:  logging.MaxSizeMB,
		MaxBackups: logging.MaxBackups,
		MaxAgeDays: logging.MaxAgeDays,
		Console:    logging.Console,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	} else {
		defer logCloser.Close()
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return errors.New("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", version).
		Str("hostname", sysInfo.Hostname).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", sysInfo.CPUThreads).
		Msg("starting RustPanel")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eventBus := events.NewEventBus()
	m := metrics.New()

	// quit from the console
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		cancel()
		return nil
	})

	var store *db.Store
	if cfg.GetDatabase().Enabled {
		store, err = db.Open(cfg.GetDatabase().Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open history database, history disabled")
			store = nil
		}
	}

	// Inbound path: bridge -> router (serial executor) -> bus
	executor := rpc.NewSerialExecutor(dispatchQueueSize)
	router := rpc.NewRouter(executor, m)
	rpc.RegisterDefaults(router, eventBus)

	bc := cfg.GetBridge()
	client := bridge.NewClient(router, eventBus, m, bridge.Options{
		ConnectTimeout:    bc.ConnectTimeout(),
		WriteTimeout:      bc.WriteTimeout(),
		CloseTimeout:      bc.CloseTimeout(),
		MaxMessageSize:    bc.MaxMessageBytes(),
		ReceiveBufferSize: bc.ReceiveBufferSize,
	})

	polling := cfg.GetPolling()
	pollers := []*scheduler.Poller{
		scheduler.NewPoller("server_info", polling.ServerInfoInterval(), rpc.ServerInfoRequest, client, m),
		scheduler.NewPoller("map_entities", polling.EntityInterval(), rpc.MapEntitiesRequest, client, m),
	}
	for _, p := range pollers {
		p.Attach(ctx, eventBus)
	}

	// Interfaces stay nil, not typed-nil, when the database is off
	var (
		serverStore monitor.ServerStore
		apiStore    api.Store
		saved       cli.SavedServers
		pruner      scheduler.HistoryPruner
		sizer       scheduler.SizeReporter
	)
	if store != nil {
		serverStore, apiStore, saved, pruner = store, store, store, store
		sizer = store.Database()
	}

	mon := monitor.NewManager(cfg, eventBus, client, serverStore)
	apiSrv := api.NewServer(cfg, eventBus, mon, apiStore, m, version)
	sched := scheduler.NewScheduler(cfg, eventBus, pruner, sizer)
	console := cli.NewCLI(cfg, eventBus, mon, saved, os.Stdin, os.Stdout)
	healthMgr := health.NewManager(cfg, eventBus, mon, health.DefaultIntervals())

	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetMQTT().Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup
	goTask := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("task", name).Msg("starting")
			fn()
		}()
	}

	if cfg.GetAPI().Enabled {
		goTask("api", func() {
			if err := apiSrv.Start(ctx); err != nil {
				log.Error().Err(err).Msg("API server stopped")
			}
		})
	}

	goTask("health", func() { healthMgr.Start(ctx) })
	goTask("scheduler", func() { sched.Start(ctx) })

	if mqttHandler != nil {
		goTask("mqtt", func() {
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		})
	}

	if opts.connect || bc.AutoConnect {
		goTask("auto_connect", func() {
			if err := mon.ConnectConfigured(ctx); err != nil {
				log.Warn().Err(err).Msg("auto connect failed")
			}
		})
	}

	if !opts.noCLI {
		// The console goroutine may stay blocked on stdin; it is not waited for.
		go console.Start(ctx)
	}

	<-ctx.Done()
	log.Info().Msg("initiating graceful shutdown...")

	mon.Disconnect()
	for _, p := range pollers {
		p.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds")
	}

	executor.Close()
	eventBus.Stop()
	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}

	log.Info().Msg("RustPanel stopped")
	return nil
}
