// Package mpris implements the media-player remote-control client: it
// discovers MPRIS players on the session bus, keeps a resilient control
// session against the selected one, and publishes full-state snapshots.
package mpris

import (
	"context"
	"fmt"

	"github.com/dotsem/CapyShell/internal/domain"
	"github.com/dotsem/CapyShell/internal/prefs"
	"go.uber.org/zap"
)

// commandQueueDepth bounds the command channel. Commands are idempotent
// in effect, so dropping under pressure is acceptable.
const commandQueueDepth = 32

// CommandSender is the handle the UI uses to push commands into the
// session loop. It is safe for concurrent use and never blocks; dropping
// the handle does not stop the background session.
type CommandSender struct {
	ch chan domain.PlayerCommand
}

// Send enqueues a command. When the queue is full the oldest queued
// command is discarded to make room: re-issued intents self-correct once
// state is refetched, stalling the UI thread would not.
func (s *CommandSender) Send(cmd domain.PlayerCommand) {
	select {
	case s.ch <- cmd:
		return
	default:
	}

	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- cmd:
	default:
	}
}

// Client owns the outer discovery/rebind loop and the command channel.
// All collaborators are injected; nothing here is process-global.
type Client struct {
	logger *zap.Logger
	cfg    domain.Config
	conn   DBusClient
	sink   domain.Sink

	pref     *prefs.SourcePreference
	commands chan domain.PlayerCommand
	sender   *CommandSender
}

// NewClient creates a media client over an already-open bus connection
func NewClient(logger *zap.Logger, cfg domain.Config, conn DBusClient, sink domain.Sink) *Client {
	commands := make(chan domain.PlayerCommand, commandQueueDepth)
	return &Client{
		logger:   logger,
		cfg:      cfg,
		conn:     conn,
		sink:     sink,
		commands: commands,
		sender:   &CommandSender{ch: commands},
	}
}

// Start loads the source preference, runs an initial discovery pass and
// launches the background loop. Transport failures surface here and only
// here; everything after this degrades to the "no active player" state
// internally.
func (c *Client) Start(ctx context.Context) (*CommandSender, error) {
	c.pref = prefs.Load(c.cfg.PreferencePath())
	if c.pref.Favorite != nil {
		c.logger.Info("Source preference loaded", zap.String("favorite", *c.pref.Favorite))
	}

	sources, err := DiscoverSources(c.conn)
	if err != nil {
		return nil, fmt.Errorf("initial discovery failed: %w", err)
	}

	active := ""
	if src := c.pref.SelectSource(sources); src != nil {
		active = src.BusName
	}
	c.logSources(sources, active)
	c.sink.PublishSources(sources, active)

	go c.run(ctx, active)

	return c.sender, nil
}

// run alternates between Bound (one session per selected player) and Idle
// (periodic discovery polls). It only exits with the context; player
// start/stop cycles are absorbed by indefinite retry.
func (c *Client) run(ctx context.Context, active string) {
	for ctx.Err() == nil {
		if active == "" {
			sleepCtx(ctx, c.cfg.NoPlayerPollInterval())
			if ctx.Err() != nil {
				return
			}

			sources, err := DiscoverSources(c.conn)
			if err != nil {
				c.logger.Warn("Discovery failed", zap.Error(err))
				continue
			}
			if src := c.pref.SelectSource(sources); src != nil {
				active = src.BusName
				c.logSources(sources, active)
				c.sink.PublishSources(sources, active)
			}
			continue
		}

		c.logger.Info("Binding to player", zap.String("busName", active))
		sess := &session{
			logger:   c.logger,
			conn:     c.conn,
			cfg:      c.cfg,
			sink:     c.sink,
			pref:     c.pref,
			commands: c.commands,
			busName:  active,
		}

		sw, err := sess.run(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case sw != nil:
			// Clean rebind: a fresh session gets fresh subscriptions
			// instead of mutating the old one in place
			c.logger.Info("Switching source", zap.String("busName", sw.busName))
			active = sw.busName
			c.sink.PublishSources(sw.sources, active)
			continue
		case err != nil:
			c.logger.Warn("Player session ended", zap.Error(err))
		default:
			c.logger.Info("Player session ended")
		}

		// No active player is a valid, displayable state
		c.sink.PublishUpdate(domain.MprisData{Status: domain.StatusStopped})

		sleepCtx(ctx, c.cfg.ReconnectDelay())
		if ctx.Err() != nil {
			return
		}

		active = ""
		sources, derr := DiscoverSources(c.conn)
		if derr != nil {
			c.logger.Warn("Discovery failed after disconnect", zap.Error(derr))
			continue
		}
		if src := c.pref.SelectSource(sources); src != nil {
			active = src.BusName
		}
		c.logSources(sources, active)
		c.sink.PublishSources(sources, active)
	}
}

func (c *Client) logSources(sources []domain.PlayerSource, active string) {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.ShortName
	}
	c.logger.Info("Discovered media sources",
		zap.Strings("sources", names),
		zap.String("active", active))
}
