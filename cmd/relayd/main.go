package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/npezzotti/room-relay/internal/api"
	"github.com/npezzotti/room-relay/internal/auth"
	"github.com/npezzotti/room-relay/internal/config"
	"github.com/npezzotti/room-relay/internal/database"
	"github.com/npezzotti/room-relay/internal/relay"
	"github.com/npezzotti/room-relay/internal/server"
	"github.com/npezzotti/room-relay/internal/stats"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	// a missing .env file is fine
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("loading .env: %v", err)
	}

	cmd := &cli.Command{
		Name:  "relayd",
		Usage: "room-based chat relay over WebSocket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   "localhost:8000",
				Usage:   "server address",
				Sources: cli.EnvVars("RELAY_ADDR"),
			},
			&cli.StringFlag{
				Name:    "store",
				Value:   config.BackendMemory,
				Usage:   "message store backend: memory, postgres or redis",
				Sources: cli.EnvVars("RELAY_STORE"),
			},
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "postgres connection string or redis address",
				Sources: cli.EnvVars("RELAY_DSN", "DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "signing-key",
				Usage:   "base64 encoded HS256 key; enables token authentication",
				Sources: cli.EnvVars("RELAY_SIGNING_KEY"),
			},
			&cli.StringSliceFlag{
				Name:    "allowed-origins",
				Usage:   "origins allowed to open WebSocket connections",
				Sources: cli.EnvVars("RELAY_ALLOWED_ORIGINS"),
			},
			&cli.IntFlag{
				Name:    "history-limit",
				Value:   config.DefaultHistoryLimit,
				Usage:   "maximum messages returned by fetchHistory",
				Sources: cli.EnvVars("RELAY_HISTORY_LIMIT"),
			},
			&cli.IntFlag{
				Name:    "max-content-length",
				Value:   config.DefaultMaxContentLength,
				Usage:   "maximum message size in bytes",
				Sources: cli.EnvVars("RELAY_MAX_CONTENT_LENGTH"),
			},
			&cli.IntFlag{
				Name:    "persist-attempts",
				Value:   config.DefaultPersistAttempts,
				Usage:   "attempts to store a message before reporting failure",
				Sources: cli.EnvVars("RELAY_PERSIST_ATTEMPTS"),
			},
			&cli.IntFlag{
				Name:    "send-buffer",
				Value:   config.DefaultSendBuffer,
				Usage:   "events buffered per connection before dropping",
				Sources: cli.EnvVars("RELAY_SEND_BUFFER"),
			},
			&cli.DurationFlag{
				Name:    "shutdown-timeout",
				Value:   config.DefaultShutdownTimeout,
				Usage:   "time allowed for graceful shutdown",
				Sources: cli.EnvVars("RELAY_SHUTDOWN_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "log source file and line",
				Sources: cli.EnvVars("RELAY_DEBUG"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger := log.New(os.Stderr, "[room-relay] ", log.LstdFlags)
	if cmd.Bool("debug") {
		logger.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	cfg, err := config.NewConfig(
		cmd.String("addr"),
		cmd.String("store"),
		cmd.String("dsn"),
		cmd.String("signing-key"),
		cmd.StringSlice("allowed-origins"),
	)
	if err != nil {
		return err
	}
	cfg.HistoryLimit = cmd.Int("history-limit")
	cfg.MaxContentLength = cmd.Int("max-content-length")
	cfg.PersistAttempts = cmd.Int("persist-attempts")
	cfg.SendBuffer = cmd.Int("send-buffer")
	cfg.ShutdownTimeout = cmd.Duration("shutdown-timeout")
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := database.NewMessageStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Println("store close:", err)
		}
	}()

	var resolver auth.IdentityResolver = auth.PayloadResolver{}
	if cfg.SigningKey != nil {
		resolver = auth.NewJWTResolver(cfg.SigningKey)
	} else {
		logger.Println("no signing key configured, trusting client supplied identities")
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	for _, metric := range stats.Metrics {
		statsUpdater.RegisterMetric(metric)
	}

	svc, err := relay.GetOrCreate(func() (*relay.Service, error) {
		return relay.NewService(logger, store, resolver, statsUpdater, cfg)
	})
	if err != nil {
		return err
	}

	chatServer := server.NewChatServer(logger, svc, cfg.SendBuffer)
	app := api.NewRelayApp(mux, logger, chatServer, store, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := shutdownAll(shutdownCtx, logger, app.Shutdown, chatServer.Shutdown); err != nil {
			return err
		}

		logger.Println("shutdown complete")
		return nil
	})

	return g.Wait()
}

// shutdownAll runs every step even when an earlier one fails and returns
// the joined errors.
func shutdownAll(ctx context.Context, logger *log.Logger, steps ...func(context.Context) error) error {
	var errs []error
	for _, step := range steps {
		if err := step(ctx); err != nil {
			logger.Println("shutdown:", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
