package domain

import "time"

// PlaybackStatus represents the current state of the media player
type PlaybackStatus string

const (
	// StatusPlaying indicates the media is currently playing
	StatusPlaying PlaybackStatus = "Playing"
	// StatusPaused indicates the media is paused
	StatusPaused PlaybackStatus = "Paused"
	// StatusStopped indicates the media is stopped
	StatusStopped PlaybackStatus = "Stopped"
)

// ParsePlaybackStatus converts an MPRIS status string to a PlaybackStatus.
// Anything unrecognized maps to Stopped, never to Playing.
func ParsePlaybackStatus(s string) PlaybackStatus {
	switch s {
	case "Playing":
		return StatusPlaying
	case "Paused":
		return StatusPaused
	default:
		return StatusStopped
	}
}

// IsPlaying reports whether the status is Playing
func (s PlaybackStatus) IsPlaying() bool {
	return s == StatusPlaying
}

// PlayerSource is one discovered MPRIS player on the session bus.
// Source lists are rebuilt in full on every discovery pass, never mutated.
type PlayerSource struct {
	// BusName is the full D-Bus name, e.g. "org.mpris.MediaPlayer2.spotify"
	BusName string
	// Identity is the human-readable name from MPRIS, e.g. "Spotify"
	Identity string
	// ShortName is extracted from the bus name, e.g. "spotify"
	ShortName string
	CanPlay   bool
	CanPause  bool
	CanSeek   bool
}

// CommandKind identifies a PlayerCommand variant
type CommandKind int

const (
	CommandPlayPause CommandKind = iota
	CommandNext
	CommandPrevious
	// CommandSeek moves playback by a relative offset (AmountUS)
	CommandSeek
	// CommandSetPosition jumps to an absolute position (AmountUS)
	CommandSetPosition
	// CommandSwitchSource rebinds to the source named in Source
	CommandSwitchSource
	CommandSetFavorite
	CommandClearFavorite
)

// PlayerCommand is a user intent sent into the session loop
type PlayerCommand struct {
	Kind CommandKind
	// AmountUS carries the Seek offset or SetPosition target, in microseconds
	AmountUS int64
	// Source carries the short name for SwitchSource/SetFavorite
	Source string
}

// MprisData is the state snapshot handed to consumers on every refetch.
// All fields come from a single query round; nothing is reused across tracks.
type MprisData struct {
	Title    string
	Artist   string
	Album    string
	ArtURL   string
	LengthUS int64
	Status   PlaybackStatus
	// TrackID is the opaque per-track identifier used for absolute seeks
	TrackID string

	// PositionUS is the last position reported by the bus (microseconds)
	PositionUS int64
	// PositionTimestampMS is the wall-clock time the position was fetched (unix millis)
	PositionTimestampMS int64

	// SourceName is the short name of the active source, e.g. "spotify"
	SourceName string
	// SourceBusName is the full D-Bus name of the active source
	SourceBusName string
}

// InterpolatedPositionUSAt returns the playback position at the given
// wall-clock time (unix millis) without querying the bus. While playing,
// elapsed time since the fetch is added and the result is clamped to
// [0, LengthUS]; otherwise the fetched position is returned as-is.
func (d *MprisData) InterpolatedPositionUSAt(nowMS int64) int64 {
	if !d.Status.IsPlaying() {
		return d.PositionUS
	}

	elapsedMS := nowMS - d.PositionTimestampMS
	if elapsedMS < 0 {
		elapsedMS = 0
	}

	pos := d.PositionUS + elapsedMS*1000
	if pos > d.LengthUS {
		pos = d.LengthUS
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

// InterpolatedPositionUS returns the interpolated position as of now
func (d *MprisData) InterpolatedPositionUS() int64 {
	return d.InterpolatedPositionUSAt(time.Now().UnixMilli())
}

// InterpolatedPositionSecs returns the interpolated position in seconds
func (d *MprisData) InterpolatedPositionSecs() float64 {
	return float64(d.InterpolatedPositionUS()) / 1e6
}

// LengthSecs returns the track length in seconds
func (d *MprisData) LengthSecs() float64 {
	return float64(d.LengthUS) / 1e6
}
