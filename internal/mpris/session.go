package mpris

import (
	"context"
	"errors"
	"time"

	"github.com/dotsem/CapyShell/internal/domain"
	"github.com/dotsem/CapyShell/internal/prefs"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// errDisconnected reports that the bound player stopped responding.
// It never escapes the client's outer loop.
var errDisconnected = errors.New("player disconnected")

const signalChanSize = 64

// switchRequest asks the outer loop to rebind to a different player
type switchRequest struct {
	busName string
	sources []domain.PlayerSource
}

// session is one binding to a single player. It lives from proxy setup to
// the first disconnect, switch request, or context cancellation, and is
// the only consumer of the command channel while it runs.
type session struct {
	logger   *zap.Logger
	conn     DBusClient
	cfg      domain.Config
	sink     domain.Sink
	pref     *prefs.SourcePreference
	commands <-chan domain.PlayerCommand

	busName string
	// owner is the unique bus name of the player, used to attribute signals
	owner string
	// lastTrackID comes from the most recent fetch; absolute seeks need it
	lastTrackID string
}

// run drives the session until it ends. A non-nil switchRequest means a
// SwitchSource command matched and the caller should rebind immediately;
// an error means the player went away.
func (s *session) run(ctx context.Context) (*switchRequest, error) {
	propsMatch := []dbus.MatchOption{
		dbus.WithMatchSender(s.busName),
		dbus.WithMatchObjectPath(mprisObjectPath),
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
	}
	seekedMatch := []dbus.MatchOption{
		dbus.WithMatchSender(s.busName),
		dbus.WithMatchObjectPath(mprisObjectPath),
		dbus.WithMatchInterface(playerInterface),
		dbus.WithMatchMember("Seeked"),
	}

	if err := s.conn.AddMatchSignal(propsMatch...); err != nil {
		return nil, err
	}
	defer func() {
		if err := s.conn.RemoveMatchSignal(propsMatch...); err != nil {
			s.logger.Debug("Failed to remove match rule", zap.Error(err))
		}
	}()

	if err := s.conn.AddMatchSignal(seekedMatch...); err != nil {
		return nil, err
	}
	defer func() {
		if err := s.conn.RemoveMatchSignal(seekedMatch...); err != nil {
			s.logger.Debug("Failed to remove match rule", zap.Error(err))
		}
	}()

	signals := make(chan *dbus.Signal, signalChanSize)
	s.conn.Signal(signals)
	defer s.conn.RemoveSignal(signals)

	// Signals arrive tagged with the player's unique name, not the
	// well-known name the match rule was built from
	if owner, err := s.conn.GetNameOwner(s.busName); err == nil {
		s.owner = owner
	}

	// Initial fetch, then a second one after a short delay so consumers
	// that attach to the broadcaster just after startup still get state
	sleepCtx(ctx, s.cfg.SettleDelay())
	s.refresh()
	sleepCtx(ctx, s.cfg.SecondFetchDelay())
	s.refresh()

	idle := time.NewTimer(s.cfg.IdleTimeout())
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case sig := <-signals:
			if !s.isTrigger(sig) {
				continue
			}
			// The signal is a trigger only; its payload is never parsed.
			// A full refetch is always correct and these events are rare.
			s.logger.Debug("Change signal received", zap.String("signal", sig.Name))
			s.refresh()

		case cmd := <-s.commands:
			sw, err := s.handleCommand(cmd)
			if err != nil {
				return nil, err
			}
			if sw != nil {
				return sw, nil
			}

		case <-idle.C:
			// Quiet players that drop off the bus without any signal are
			// only caught here, by a cheap property read
			if _, err := s.conn.GetProperty(s.busName, mprisObjectPath, propPlaybackStatus); err != nil {
				s.logger.Warn("Player no longer responding",
					zap.String("busName", s.busName),
					zap.Error(err))
				return nil, errDisconnected
			}
			idle.Reset(s.cfg.IdleTimeout())
			continue
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(s.cfg.IdleTimeout())
	}
}

// isTrigger reports whether a bus signal should cause a refetch. Only the
// player's own PropertiesChanged (for the player interface) and Seeked
// signals qualify.
func (s *session) isTrigger(sig *dbus.Signal) bool {
	if sig == nil {
		return false
	}
	if s.owner != "" && sig.Sender != s.owner && sig.Sender != s.busName {
		return false
	}

	switch sig.Name {
	case propertiesInterface + ".PropertiesChanged":
		if len(sig.Body) < 1 {
			return false
		}
		iface, ok := sig.Body[0].(string)
		return ok && iface == playerInterface
	case playerInterface + ".Seeked":
		return true
	default:
		return false
	}
}

// handleCommand executes one user command. Playback commands are followed
// by a fixed delay and an unconditional refetch: some players skip change
// signals for certain transitions while paused, so the poll backs up the
// signal-driven path.
func (s *session) handleCommand(cmd domain.PlayerCommand) (*switchRequest, error) {
	switch cmd.Kind {
	case domain.CommandPlayPause:
		s.call("PlayPause")
		s.settleAndRefresh()

	case domain.CommandNext:
		s.call("Next")
		s.settleAndRefresh()

	case domain.CommandPrevious:
		s.call("Previous")
		s.settleAndRefresh()

	case domain.CommandSeek:
		s.call("Seek", cmd.AmountUS)
		s.settleAndRefresh()

	case domain.CommandSetPosition:
		if s.lastTrackID == "" {
			// Absolute seeks target a track id; without one from the last
			// fetch the command is dropped rather than guessed at
			s.logger.Debug("Dropping SetPosition, no track id known")
			return nil, nil
		}
		s.call("SetPosition", dbus.ObjectPath(s.lastTrackID), cmd.AmountUS)
		s.settleAndRefresh()

	case domain.CommandSwitchSource:
		sources, err := DiscoverSources(s.conn)
		if err != nil {
			s.logger.Warn("Discovery failed during source switch", zap.Error(err))
			return nil, nil
		}
		for _, src := range sources {
			if src.ShortName == cmd.Source {
				return &switchRequest{busName: src.BusName, sources: sources}, nil
			}
		}
		s.logger.Warn("Requested source not found", zap.String("source", cmd.Source))

	case domain.CommandSetFavorite:
		s.pref.SetFavorite(cmd.Source)
		s.savePreference()

	case domain.CommandClearFavorite:
		s.pref.ClearFavorite()
		s.savePreference()
	}

	return nil, nil
}

// call invokes a player-interface method. Call failures do not end the
// session; the liveness probe decides that.
func (s *session) call(method string, args ...any) {
	if err := s.conn.Call(s.busName, mprisObjectPath, playerInterface+"."+method, args...); err != nil {
		s.logger.Warn("Player method call failed",
			zap.String("method", method),
			zap.Error(err))
	}
}

func (s *session) settleAndRefresh() {
	time.Sleep(s.cfg.CommandSettleDelay())
	s.refresh()
}

// refresh performs one full property fetch and publishes the snapshot
func (s *session) refresh() {
	data := s.fetchState()
	s.lastTrackID = data.TrackID
	s.sink.PublishUpdate(data)
}

// fetchState reads all player properties in one round. Every field
// defaults safely when a read fails or a variant has a surprising type.
func (s *session) fetchState() domain.MprisData {
	var metadata map[string]dbus.Variant
	if v, err := s.conn.GetProperty(s.busName, mprisObjectPath, propMetadata); err == nil {
		if m, ok := v.Value().(map[string]dbus.Variant); ok {
			metadata = m
		}
	}

	status := ""
	if v, err := s.conn.GetProperty(s.busName, mprisObjectPath, propPlaybackStatus); err == nil {
		if str, ok := v.Value().(string); ok {
			status = str
		}
	}

	var positionUS int64
	if v, err := s.conn.GetProperty(s.busName, mprisObjectPath, propPosition); err == nil {
		if p, ok := v.Value().(int64); ok {
			positionUS = p
		}
	}

	return domain.MprisData{
		Title:               metadataString(metadata, "xesam:title"),
		Artist:              metadataArtists(metadata, "xesam:artist"),
		Album:               metadataString(metadata, "xesam:album"),
		ArtURL:              metadataString(metadata, "mpris:artUrl"),
		LengthUS:            metadataInt64(metadata, "mpris:length"),
		Status:              domain.ParsePlaybackStatus(status),
		TrackID:             metadataTrackID(metadata),
		PositionUS:          positionUS,
		PositionTimestampMS: time.Now().UnixMilli(),
		SourceName:          ShortName(s.busName),
		SourceBusName:       s.busName,
	}
}

func (s *session) savePreference() {
	path := s.cfg.PreferencePath()
	if err := s.pref.Save(path); err != nil {
		s.logger.Warn("Failed to save source preference",
			zap.String("path", path),
			zap.Error(err))
	}
}

// sleepCtx sleeps for d or until ctx is cancelled
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
