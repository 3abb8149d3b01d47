package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CodedInternet/gocrane/comms"
	"github.com/CodedInternet/gocrane/crane"
	"github.com/CodedInternet/gocrane/simulator"
	"github.com/CodedInternet/gocrane/store"
	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

type EnvConfig struct {
	CraneAddr  string `env:"CRANE_ADDR" envDefault:"ws://127.0.0.1:8080"`
	Listen     string `env:"LISTEN" envDefault:"0.0.0.0:8000"`
	DBPath     string `env:"DB_PATH" envDefault:"./tmp/dev.db"`
	Geometry   string `env:"GEOMETRY"`
	Simulated  bool   `env:"SIMULATED" envDefault:"false"`
	SimAddr    string `env:"SIM_ADDR" envDefault:"127.0.0.1:8080"`
	MaxRetries uint64 `env:"MAX_RETRIES" envDefault:"0"`
	JWTSecret  string `env:"JWT_SECRET" envDefault:"xWumOlRfhu+LBi2F2e1yF4FiaopQ5mr8klL4fpILnlI="`
	JWTIssuer  string `env:"JWT_ISSUER" envDefault:"DEV"`
	Debug      bool   `env:"DEBUG" envDefault:"false"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	Shell      bool   `env:"SHELL_ENABLED" envDefault:"true"`
}

func loadConfig(args []string) (EnvConfig, error) {
	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	// process flags, they win over the environment
	fs := flag.NewFlagSet("gocrane", flag.ContinueOnError)
	fs.BoolVar(&cfg.Simulated, "sim", cfg.Simulated, "Run the crane simulator in process and connect to it")
	fs.StringVar(&cfg.Listen, "port", cfg.Listen, "Specify the ip:port to listen on")
	fs.StringVar(&cfg.CraneAddr, "crane", cfg.CraneAddr, "WebSocket URL of the crane")
	fs.StringVar(&cfg.Geometry, "geometry", cfg.Geometry, "YAML file describing the crane links")
	fs.Uint64Var(&cfg.MaxRetries, "retries", cfg.MaxRetries, "Reconnection attempts after a failed session, 0 disables reconnection")
	fs.BoolVar(&cfg.Shell, "shell", cfg.Shell, "Start the interactive operator shell")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Disable authentication on the telemetry stream and log verbosely")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.Simulated {
		cfg.CraneAddr = "ws://" + cfg.SimAddr
	}
	return cfg, nil
}

func newLogger(cfg EnvConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Debug && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Str("app", "gocrane").Logger()
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("exiting")
	}
}

func run(cfg EnvConfig, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	geometry, err := crane.LoadGeometry(cfg.Geometry)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close() // close database when finished

	if cfg.Simulated {
		// listen before dialing so the first session finds the simulator up
		ln, err := net.Listen("tcp", cfg.SimAddr)
		if err != nil {
			return fmt.Errorf("simulator: %w", err)
		}
		sim := simulator.NewServer(simulator.NewDefaultCrane(), logger.With().Str("component", "simulator").Logger())
		go func() {
			if err := sim.Serve(ctx, ln); err != nil {
				logger.Error().Err(err).Msg("simulator stopped")
			}
		}()
	}

	stream := NewStream(geometry, logger.With().Str("component", "stream").Logger())
	sessionLogger := logger.With().Str("component", "session").Logger()
	observer := comms.Observers{
		comms.LogObserver{Logger: sessionLogger},
		comms.ObserverFuncs{Telemetry: stream.Publish},
	}
	supervisor := comms.NewSupervisor(comms.NewWSDialer(cfg.CraneAddr), observer, sessionLogger, cfg.MaxRetries)

	app := &App{
		Logger:     logger.With().Str("component", "api").Logger(),
		Store:      st,
		Supervisor: supervisor,
		Geometry:   geometry,
		Auth:       &Auth{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer, Store: st},
		Stream:     stream,
	}

	srv := &http.Server{Addr: cfg.Listen, Handler: app.Router(cfg.Debug)}
	go func() {
		logger.Info().Str("addr", cfg.Listen).Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if cfg.Shell {
		// Start an instance of the shell so it can be controlled from the CLI
		shell := app.NewShell()
		go func() {
			shell.Run()
			stop()
		}()
		defer shell.Close()
	}

	logger.Info().Str("crane", cfg.CraneAddr).Uint64("max_retries", cfg.MaxRetries).Msg("connecting")
	if err := supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("crane connection closed for good")
	}

	// keep serving the last known state until told to stop
	<-ctx.Done()
	return nil
}
