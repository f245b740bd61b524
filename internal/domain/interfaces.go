package domain

import "time"

// UpdateListener receives a fresh snapshot on every refetch (never a delta)
type UpdateListener func(MprisData)

// SourcesListener is notified whenever the discovered source list or the
// active selection changes. activeBusName is empty when no player is bound.
type SourcesListener func(sources []PlayerSource, activeBusName string)

// Sink receives everything the media client publishes.
// Implementations must be safe to call from the session task while
// listeners are being registered from other goroutines.
type Sink interface {
	// PublishUpdate fans a snapshot out to all update listeners
	PublishUpdate(MprisData)

	// PublishSources fans a source-list change out to all sources listeners
	PublishSources(sources []PlayerSource, activeBusName string)
}

// Config exposes the client's tunable constants. The delays are empirical
// workarounds for players with incomplete signal emission, so they are
// configuration rather than hardcoded protocol assumptions.
type Config interface {
	// PreferencePath is where the favorite-source JSON file lives
	PreferencePath() string

	// SettleDelay is waited before the first fetch of a new session
	SettleDelay() time.Duration

	// SecondFetchDelay is waited before the repeated initial fetch that
	// covers consumers subscribing slightly after the session starts
	SecondFetchDelay() time.Duration

	// CommandSettleDelay is waited between issuing a playback command and
	// the unconditional refetch that backs up missing change signals
	CommandSettleDelay() time.Duration

	// IdleTimeout is how long the session waits with no events before
	// probing the player for liveness
	IdleTimeout() time.Duration

	// ReconnectDelay is waited after a session ends before rediscovery
	ReconnectDelay() time.Duration

	// NoPlayerPollInterval is the discovery poll period while no player
	// is present at all
	NoPlayerPollInterval() time.Duration
}
