package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/uberlobby/internal/config"
	"github.com/udisondev/uberlobby/internal/db"
	"github.com/udisondev/uberlobby/internal/filter"
	"github.com/udisondev/uberlobby/internal/geoip"
	"github.com/udisondev/uberlobby/internal/lobby"
	"github.com/udisondev/uberlobby/internal/mail"
	"github.com/udisondev/uberlobby/internal/natserver"
	"github.com/udisondev/uberlobby/internal/ops"
)

const defaultConfigPath = "config/lobbyserver.yaml"

// cliArgs are command-line overrides on top of the YAML/env config.
// Zero values mean "not given".
type cliArgs struct {
	configPath string
	port       int
	natPort    int
	output     string
	sighup     bool
	springVer  string
	maxThreads int
	sqlURL     string
	noCensor   bool
	agreement  string
	proxies    string
	loadArgs   string
}

func registerFlags(a *cliArgs) {
	flag.StringVar(&a.configPath, "config", defaultConfigPath, "path to the YAML config file")
	flag.IntVar(&a.port, "p", 0, "lobby TCP port (overrides config)")
	flag.IntVar(&a.port, "port", 0, "lobby TCP port (overrides config)")
	flag.IntVar(&a.natPort, "n", 0, "NAT helper UDP port (overrides config)")
	flag.IntVar(&a.natPort, "natport", 0, "NAT helper UDP port (overrides config)")
	flag.StringVar(&a.output, "o", "", "log to this file instead of stdout")
	flag.StringVar(&a.output, "output", "", "log to this file instead of stdout")
	flag.BoolVar(&a.sighup, "u", false, "reload data files on SIGHUP")
	flag.BoolVar(&a.sighup, "sighup", false, "reload data files on SIGHUP")
	flag.StringVar(&a.springVer, "v", "", "spring version advertised in the banner (overrides config)")
	flag.StringVar(&a.springVer, "latestspringversion", "", "spring version advertised in the banner (overrides config)")
	flag.IntVar(&a.maxThreads, "m", 0, "GOMAXPROCS cap, 0 leaves it automatic")
	flag.IntVar(&a.maxThreads, "maxthreads", 0, "GOMAXPROCS cap, 0 leaves it automatic")
	flag.StringVar(&a.sqlURL, "s", "", "database URL (overrides config)")
	flag.StringVar(&a.sqlURL, "sqlurl", "", "database URL (overrides config)")
	flag.BoolVar(&a.noCensor, "c", false, "disable the chat word filter")
	flag.BoolVar(&a.noCensor, "no-censor", false, "disable the chat word filter")
	flag.StringVar(&a.agreement, "a", "", "agreement file (overrides config)")
	flag.StringVar(&a.agreement, "agreement", "", "agreement file (overrides config)")
	flag.StringVar(&a.proxies, "proxies", "", "trusted proxies file (overrides config)")
	flag.StringVar(&a.loadArgs, "g", "", "read additional flags from this file")
	flag.StringVar(&a.loadArgs, "loadargs", "", "read additional flags from this file")
}

func parseArgs() (cliArgs, error) {
	var args cliArgs
	registerFlags(&args)
	flag.Parse()

	// One extra round for -g/--loadargs, without recursing.
	if args.loadArgs != "" {
		data, err := os.ReadFile(args.loadArgs)
		if err != nil {
			return args, fmt.Errorf("reading args file: %w", err)
		}
		if err := flag.CommandLine.Parse(strings.Fields(string(data))); err != nil {
			return args, fmt.Errorf("parsing args file %s: %w", args.loadArgs, err)
		}
	}
	return args, nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	args, err := parseArgs()
	if err != nil {
		return err
	}

	cfg, err := config.Load(args.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if args.port != 0 {
		cfg.Port = args.port
	}
	if args.natPort != 0 {
		cfg.NATPort = args.natPort
	}
	if args.springVer != "" {
		cfg.SpringVersion = args.springVer
	}
	if args.agreement != "" {
		cfg.AgreementFile = args.agreement
	}
	if args.proxies != "" {
		cfg.ProxiesFile = args.proxies
	}
	if args.sighup {
		cfg.SIGHUPReload = true
	}
	if args.noCensor {
		cfg.Censor = false
	}

	logOut := os.Stdout
	if args.output != "" {
		f, err := os.OpenFile(args.output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	if args.maxThreads > 0 {
		runtime.GOMAXPROCS(args.maxThreads)
	}
	slog.Info("uberlobby starting",
		"version", cfg.ServerVersion, "port", cfg.Port, "gomaxprocs", runtime.GOMAXPROCS(0))

	dsn := cfg.Database.DSN()
	if args.sqlURL != "" {
		dsn = args.sqlURL
	}
	database, err := db.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.Info("database connected")

	if err := db.RunMigrations(ctx, dsn); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database migrations applied")

	geo, err := geoip.Load(cfg.GeoIPFile)
	if err != nil {
		return fmt.Errorf("loading geoip database: %w", err)
	}
	wordFilter, err := filter.Load(cfg.WordlistFile)
	if err != nil {
		return fmt.Errorf("loading word filter: %w", err)
	}
	slog.Info("data files loaded", "geoip_ranges", geo.Len(), "filter_words", wordFilter.Len())

	mailQueue := mail.NewQueue(mail.NewSMTPSender(cfg.Mail), 256)

	server := lobby.NewServer(cfg, lobby.NewStore(database), geo, wordFilter, mailQueue)
	natHelper := natserver.New(cfg.BindAddress, cfg.NATPort, server)
	opsServer := ops.New(cfg.BindAddress, cfg.OpsPort, server)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.SIGHUPReload {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		go func() {
			for {
				select {
				case <-gctx.Done():
					return
				case <-hup:
					slog.Info("SIGHUP received, reloading data files")
					server.Reload()
				}
			}
		}()
	}

	g.Go(func() error {
		if err := server.Run(gctx); err != nil {
			return fmt.Errorf("lobby server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := server.RunScheduler(gctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := natHelper.Run(gctx); err != nil {
			return fmt.Errorf("NAT helper: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := opsServer.Run(gctx); err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := mailQueue.Run(gctx); err != nil {
			return fmt.Errorf("mail queue: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
