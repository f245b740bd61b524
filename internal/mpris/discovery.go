package mpris

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dotsem/CapyShell/internal/domain"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisObjectPath = "/org/mpris/MediaPlayer2"

	playerInterface     = "org.mpris.MediaPlayer2.Player"
	propertiesInterface = "org.freedesktop.DBus.Properties"

	propIdentity       = "org.mpris.MediaPlayer2.Identity"
	propMetadata       = "org.mpris.MediaPlayer2.Player.Metadata"
	propPlaybackStatus = "org.mpris.MediaPlayer2.Player.PlaybackStatus"
	propPosition       = "org.mpris.MediaPlayer2.Player.Position"
	propCanSeek        = "org.mpris.MediaPlayer2.Player.CanSeek"

	// preferredShortName sorts first so a bare "pick the first source"
	// lands on the player most users run
	preferredShortName = "spotify"
)

// ShortName derives the user-facing token from a full MPRIS bus name.
// "org.mpris.MediaPlayer2.spotify" -> "spotify"
// "org.mpris.MediaPlayer2.firefox.instance_1_234" -> "firefox"
func ShortName(busName string) string {
	rest := strings.TrimPrefix(busName, mprisPrefix)
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return busName
	}
	return rest
}

// DiscoverSources enumerates every MPRIS player currently on the bus.
// A single player failing its identity or capability query does not abort
// the pass; its fields fall back to safe defaults instead.
func DiscoverSources(conn DBusClient) ([]domain.PlayerSource, error) {
	names, err := conn.ListNames()
	if err != nil {
		return nil, fmt.Errorf("failed to list bus names: %w", err)
	}

	sources := make([]domain.PlayerSource, 0, 4)
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}

		short := ShortName(name)

		identity := short
		if v, err := conn.GetProperty(name, mprisObjectPath, propIdentity); err == nil {
			if s, ok := v.Value().(string); ok && s != "" {
				identity = s
			}
		}

		canSeek := false
		if v, err := conn.GetProperty(name, mprisObjectPath, propCanSeek); err == nil {
			if b, ok := v.Value().(bool); ok {
				canSeek = b
			}
		}

		sources = append(sources, domain.PlayerSource{
			BusName:   name,
			Identity:  identity,
			ShortName: short,
			// MPRIS players always implement play/pause; only seek varies
			CanPlay:  true,
			CanPause: true,
			CanSeek:  canSeek,
		})
	}

	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		aPref := a.ShortName == preferredShortName
		bPref := b.ShortName == preferredShortName
		if aPref != bPref {
			return aPref
		}
		return a.ShortName < b.ShortName
	})

	return sources, nil
}
