package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dotsem/CapyShell/internal/broadcast"
	"github.com/dotsem/CapyShell/internal/config"
	"github.com/dotsem/CapyShell/internal/domain"
	"github.com/dotsem/CapyShell/internal/mpris"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Logger configuration
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),

		// Provide dependencies
		fx.Provide(
			newLogger,
			newConfig,
			newBusClient,
			broadcast.NewBroadcaster,
			newMediaClient,
		),

		// Lifecycle hooks
		fx.Invoke(registerHooks),
	)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start the application
	if err := app.Start(ctx); err != nil {
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	// Stop the application gracefully
	if err := app.Stop(context.Background()); err != nil {
		panic(err)
	}
}

// newLogger creates a new zap logger instance
func newLogger() (*zap.Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// newConfig builds the env-driven application configuration
func newConfig(logger *zap.Logger) domain.Config {
	return config.NewAppConfig(logger)
}

// newBusClient opens the single shared session-bus connection
func newBusClient() (mpris.DBusClient, error) {
	return mpris.NewStdDBusClient()
}

// newMediaClient wires the media client to its injected collaborators
func newMediaClient(logger *zap.Logger, cfg domain.Config, conn mpris.DBusClient, b *broadcast.Broadcaster) *mpris.Client {
	return mpris.NewClient(logger, cfg, conn, b)
}

// registerHooks sets up application lifecycle hooks
func registerHooks(lc fx.Lifecycle, logger *zap.Logger, client *mpris.Client, b *broadcast.Broadcaster, conn mpris.DBusClient) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// The shell UI is the real consumer; the daemon logs what it
			// would render so headless runs are observable
			b.OnUpdate(func(data domain.MprisData) {
				logger.Info("Media update",
					zap.String("title", data.Title),
					zap.String("artist", data.Artist),
					zap.String("status", string(data.Status)),
					zap.String("source", data.SourceName),
					zap.Float64("position", data.InterpolatedPositionSecs()))
			})
			b.OnSourcesChanged(func(sources []domain.PlayerSource, active string) {
				names := make([]string, len(sources))
				for i, s := range sources {
					names[i] = s.ShortName
				}
				logger.Info("Media sources changed",
					zap.Strings("sources", names),
					zap.String("active", active))
			})

			runCtx, c := context.WithCancel(context.Background())
			cancel = c

			if _, err := client.Start(runCtx); err != nil {
				c()
				return err
			}

			logger.Info("Media client started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			if cancel != nil {
				cancel()
			}
			return conn.Close()
		},
	})
}
