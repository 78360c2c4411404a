package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/discovery"
	"github.com/dronearena/server/internal/engine"
	gonet "github.com/dronearena/server/internal/net"
	"github.com/dronearena/server/internal/observer"
	"github.com/dronearena/server/internal/persist"
	"github.com/dronearena/server/internal/pubsub"
	"github.com/dronearena/server/internal/scripting"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(name, group string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            Drone Arena  v0.1.0            \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m         game engine · physics · rules     \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mengine:\033[0m %s \033[90m(group: %s)\033[0m\n\n", name, group)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, value any) {
	s := fmt.Sprint(value)
	dotsLen := 42 - len(label) - len(s)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), s)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	flagPath := flag.String("config", "config/arena.toml", "path to the TOML config file")
	flag.Parse()

	// 1. Load config
	cfgPath := config.Path(*flagPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.Group)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Discovery backend
	printSection("discovery")
	disc, closeDisc, err := openDiscovery(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDisc()
	printOK(fmt.Sprintf("%s backend ready", cfg.Discovery.Backend))
	fmt.Println()

	// 4. Scripts
	printSection("scripting")
	scripts, err := scripting.NewEngine(cfg.Scripting.Dir, log)
	if err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	defer scripts.Close()
	if cfg.Scripting.Dir == "" {
		printOK("no script dir, built-in rules only")
	} else {
		printOK("Lua scripts loaded from " + cfg.Scripting.Dir)
	}
	printStat("game mode", cfg.Game.Mode)
	printStat("arena", fmt.Sprintf("%gx%gx%g", cfg.Arena.Width, cfg.Arena.Depth, cfg.Arena.Height))
	printStat("max health", cfg.Arena.MaxHealth)
	fmt.Println()

	// 5. Transport and observer
	netServer, err := gonet.NewServer(cfg.Network, log)
	if err != nil {
		return fmt.Errorf("network: %w", err)
	}
	go netServer.AcceptLoop()
	go netServer.Dispatch(ctx)

	publishers := pubsub.Fanout{netServer}
	var obs *observer.Server
	if cfg.Observer.Enabled {
		obs, err = observer.NewServer(cfg.Observer, log)
		if err != nil {
			return fmt.Errorf("observer: %w", err)
		}
		defer obs.Close()
		publishers = append(publishers, obs)
		go func() {
			if err := obs.ListenAndServe(ctx, cfg.Observer.BindAddress); err != nil {
				log.Error("observer server stopped", zap.Error(err))
			}
		}()
	}

	// 6. Engine
	eng, err := engine.New(engine.Deps{
		Config:     cfg,
		ConfigPath: cfgPath,
		Log:        log,
		Subscriber: netServer,
		Publisher:  publishers,
		Discovery:  disc,
		Scripting:  scripts,
		Address:    netServer.Addr().String(),
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	printSection("ready")
	printReady("listening on " + netServer.Addr().String())
	if obs != nil {
		printReady("observer on ws://" + cfg.Observer.BindAddress + "/observe")
	}
	printReady(fmt.Sprintf("physics broadcast every %s", cfg.Physics.BroadcastInterval))
	fmt.Println()

	err = eng.Run(ctx)
	log.Info("shutting down")
	netServer.Shutdown()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	log.Info("engine stopped")
	return nil
}

// openDiscovery returns the configured discoverer and a func releasing what
// it holds.
func openDiscovery(ctx context.Context, cfg *config.Config, log *zap.Logger) (discovery.Discoverer, func(), error) {
	if cfg.Discovery.Backend != "postgres" {
		return discovery.NewMemory(), func() {}, nil
	}

	dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(dbCtx, cfg.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	printOK("PostgreSQL connected")

	applied, err := persist.RunMigrations(dbCtx, db.Pool)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	printStat("schema version", applied)

	repo := persist.NewInstanceRepo(db)
	d := discovery.NewPostgres(repo, cfg.Discovery.PollInterval, cfg.Discovery.TTL, log)
	return d, db.Close, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
