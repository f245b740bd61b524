package mpris

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dotsem/CapyShell/internal/domain"
	"github.com/dotsem/CapyShell/internal/mpris/mocks"
	"github.com/dotsem/CapyShell/internal/prefs"
	"github.com/godbus/dbus/v5"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

const testBus = "org.mpris.MediaPlayer2.spotify"

// testConfig implements domain.Config with per-test timings
type testConfig struct {
	prefPath      string
	settle        time.Duration
	secondFetch   time.Duration
	commandSettle time.Duration
	idle          time.Duration
	reconnect     time.Duration
	noPlayerPoll  time.Duration
}

func (c *testConfig) PreferencePath() string              { return c.prefPath }
func (c *testConfig) SettleDelay() time.Duration          { return c.settle }
func (c *testConfig) SecondFetchDelay() time.Duration     { return c.secondFetch }
func (c *testConfig) CommandSettleDelay() time.Duration   { return c.commandSettle }
func (c *testConfig) IdleTimeout() time.Duration          { return c.idle }
func (c *testConfig) ReconnectDelay() time.Duration       { return c.reconnect }
func (c *testConfig) NoPlayerPollInterval() time.Duration { return c.noPlayerPoll }

// fastConfig keeps the session responsive but the liveness probe out of
// the way unless a test wants it
func fastConfig(t *testing.T) *testConfig {
	return &testConfig{
		prefPath:      filepath.Join(t.TempDir(), "mpris.json"),
		settle:        time.Millisecond,
		secondFetch:   time.Millisecond,
		commandSettle: time.Millisecond,
		idle:          time.Hour,
		reconnect:     time.Millisecond,
		noPlayerPoll:  time.Hour,
	}
}

// captureSink records publications on buffered channels for assertions
type captureSink struct {
	updates chan domain.MprisData
	actives chan string
}

func newCaptureSink() *captureSink {
	return &captureSink{
		updates: make(chan domain.MprisData, 32),
		actives: make(chan string, 32),
	}
}

func (s *captureSink) PublishUpdate(d domain.MprisData) { s.updates <- d }

func (s *captureSink) PublishSources(_ []domain.PlayerSource, active string) {
	s.actives <- active
}

func waitUpdate(t *testing.T, ch <-chan domain.MprisData) domain.MprisData {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for snapshot update")
		return domain.MprisData{}
	}
}

func waitActive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case a := <-ch:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for sources notification")
		return ""
	}
}

// expectSessionPlumbing wires the match-rule and signal-channel calls every
// session performs, capturing the registered signal channel
func expectSessionPlumbing(conn *mocks.MockDBusClient, owner string) *signalInjector {
	inj := &signalInjector{}
	conn.EXPECT().AddMatchSignal(gomock.Any()).Return(nil).Times(2)
	conn.EXPECT().RemoveMatchSignal(gomock.Any()).Return(nil).Times(2)
	conn.EXPECT().Signal(gomock.Any()).Do(func(ch chan<- *dbus.Signal) {
		inj.set(ch)
	})
	conn.EXPECT().RemoveSignal(gomock.Any())
	conn.EXPECT().GetNameOwner(testBus).Return(owner, nil)
	return inj
}

type signalInjector struct {
	mu sync.Mutex
	ch chan<- *dbus.Signal
}

func (i *signalInjector) set(ch chan<- *dbus.Signal) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ch = ch
}

func (i *signalInjector) send(sig *dbus.Signal) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.ch != nil {
		i.ch <- sig
	}
}

// expectState makes every property fetch succeed with the given values
func expectState(conn *mocks.MockDBusClient, metadata map[string]dbus.Variant, status string, positionUS int64) {
	conn.EXPECT().GetProperty(testBus, mprisObjectPath, propMetadata).
		Return(dbus.MakeVariant(metadata), nil).AnyTimes()
	conn.EXPECT().GetProperty(testBus, mprisObjectPath, propPlaybackStatus).
		Return(dbus.MakeVariant(status), nil).AnyTimes()
	conn.EXPECT().GetProperty(testBus, mprisObjectPath, propPosition).
		Return(dbus.MakeVariant(positionUS), nil).AnyTimes()
}

func startSession(t *testing.T, conn *mocks.MockDBusClient, cfg *testConfig, sink *captureSink, commands chan domain.PlayerCommand) (context.CancelFunc, <-chan error, *session) {
	t.Helper()

	sess := &session{
		logger:   zap.NewNop(),
		conn:     conn,
		cfg:      cfg,
		sink:     sink,
		pref:     &prefs.SourcePreference{},
		commands: commands,
		busName:  testBus,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := sess.run(ctx)
		done <- err
	}()
	return cancel, done, sess
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for session to end")
		return nil
	}
}

// TestSession_InitialDoubleFetch verifies the two startup fetches and that
// snapshots carry source identification.
func TestSession_InitialDoubleFetch(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := mocks.NewMockDBusClient(ctrl)

	expectSessionPlumbing(conn, ":1.42")
	expectState(conn, map[string]dbus.Variant{
		"xesam:title":  dbus.MakeVariant("Bohemian Rhapsody"),
		"xesam:artist": dbus.MakeVariant([]string{"Queen"}),
		"mpris:length": dbus.MakeVariant(int64(354_000_000)),
	}, "Playing", int64(10_000_000))

	sink := newCaptureSink()
	cancel, done, _ := startSession(t, conn, fastConfig(t), sink, make(chan domain.PlayerCommand, 4))
	defer cancel()

	for i := 0; i < 2; i++ {
		data := waitUpdate(t, sink.updates)
		if data.Title != "Bohemian Rhapsody" {
			t.Errorf("Title: want 'Bohemian Rhapsody', got %q", data.Title)
		}
		if data.Artist != "Queen" {
			t.Errorf("Artist: want 'Queen', got %q", data.Artist)
		}
		if data.Status != domain.StatusPlaying {
			t.Errorf("Status: want Playing, got %v", data.Status)
		}
		if data.SourceName != "spotify" || data.SourceBusName != testBus {
			t.Errorf("Source: got %q / %q", data.SourceName, data.SourceBusName)
		}
		if data.PositionUS != 10_000_000 {
			t.Errorf("PositionUS: want 10000000, got %d", data.PositionUS)
		}
	}

	cancel()
	if err := waitDone(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// TestSession_SignalTriggersRefetch verifies trigger-then-refetch: a change
// signal causes one full fetch, with no payload parsing; unrelated signals
// are ignored.
func TestSession_SignalTriggersRefetch(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := mocks.NewMockDBusClient(ctrl)

	inj := expectSessionPlumbing(conn, ":1.42")
	expectState(conn, map[string]dbus.Variant{
		"xesam:title": dbus.MakeVariant("Song"),
	}, "Paused", int64(0))

	sink := newCaptureSink()
	cancel, done, _ := startSession(t, conn, fastConfig(t), sink, make(chan domain.PlayerCommand, 4))
	defer cancel()

	// Drain the two startup fetches
	waitUpdate(t, sink.updates)
	waitUpdate(t, sink.updates)

	// Unrelated interface on the same path: must not trigger
	inj.send(&dbus.Signal{
		Name:   "org.freedesktop.DBus.Properties.PropertiesChanged",
		Sender: ":1.42",
		Body:   []any{"org.mpris.MediaPlayer2", map[string]dbus.Variant{}, []string{}},
	})
	// Wrong sender: must not trigger
	inj.send(&dbus.Signal{
		Name:   "org.freedesktop.DBus.Properties.PropertiesChanged",
		Sender: ":1.99",
		Body:   []any{playerInterface, map[string]dbus.Variant{}, []string{}},
	})
	// Real player-interface change: triggers exactly one refetch
	inj.send(&dbus.Signal{
		Name:   "org.freedesktop.DBus.Properties.PropertiesChanged",
		Sender: ":1.42",
		Body:   []any{playerInterface, map[string]dbus.Variant{}, []string{}},
	})

	data := waitUpdate(t, sink.updates)
	if data.Title != "Song" {
		t.Errorf("Title: want 'Song', got %q", data.Title)
	}

	// Seeked also triggers
	inj.send(&dbus.Signal{
		Name:   playerInterface + ".Seeked",
		Sender: ":1.42",
		Body:   []any{int64(5_000_000)},
	})
	waitUpdate(t, sink.updates)

	select {
	case <-sink.updates:
		t.Error("Ignored signals should not have produced extra updates")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	waitDone(t, done)
}

// TestSession_PlaybackCommandPollsAfterDelay verifies the delay-then-poll
// backstop: a command invokes the player method and is always followed by
// a refetch even without any signal.
func TestSession_PlaybackCommandPollsAfterDelay(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := mocks.NewMockDBusClient(ctrl)

	expectSessionPlumbing(conn, ":1.42")
	expectState(conn, map[string]dbus.Variant{}, "Paused", int64(0))
	conn.EXPECT().Call(testBus, mprisObjectPath, playerInterface+".PlayPause").Return(nil)
	conn.EXPECT().Call(testBus, mprisObjectPath, playerInterface+".Seek", int64(-5_000_000)).Return(nil)

	sink := newCaptureSink()
	commands := make(chan domain.PlayerCommand, 4)
	cancel, done, _ := startSession(t, conn, fastConfig(t), sink, commands)
	defer cancel()

	waitUpdate(t, sink.updates)
	waitUpdate(t, sink.updates)

	commands <- domain.PlayerCommand{Kind: domain.CommandPlayPause}
	waitUpdate(t, sink.updates)

	commands <- domain.PlayerCommand{Kind: domain.CommandSeek, AmountUS: -5_000_000}
	waitUpdate(t, sink.updates)

	cancel()
	waitDone(t, done)
}

// TestSession_SetPositionWithoutTrackIDDropped verifies the silent-drop
// rule: no track id from the last fetch means no SetPosition call at all.
func TestSession_SetPositionWithoutTrackIDDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := mocks.NewMockDBusClient(ctrl)

	expectSessionPlumbing(conn, ":1.42")
	// Metadata deliberately lacks mpris:trackid
	expectState(conn, map[string]dbus.Variant{
		"xesam:title": dbus.MakeVariant("Untracked"),
	}, "Playing", int64(0))
	// Only the follow-up PlayPause may reach the player; an unexpected
	// SetPosition call would fail the controller
	conn.EXPECT().Call(testBus, mprisObjectPath, playerInterface+".PlayPause").Return(nil)

	sink := newCaptureSink()
	commands := make(chan domain.PlayerCommand, 4)
	cancel, done, _ := startSession(t, conn, fastConfig(t), sink, commands)
	defer cancel()

	waitUpdate(t, sink.updates)
	waitUpdate(t, sink.updates)

	commands <- domain.PlayerCommand{Kind: domain.CommandSetPosition, AmountUS: 30_000_000}
	// Ordered channel: once PlayPause has been processed, SetPosition was
	// consumed and dropped
	commands <- domain.PlayerCommand{Kind: domain.CommandPlayPause}
	waitUpdate(t, sink.updates)

	cancel()
	waitDone(t, done)
}

// TestSession_SetPositionUsesTrackID verifies absolute seeks resolve the
// track id from the last fetch.
func TestSession_SetPositionUsesTrackID(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := mocks.NewMockDBusClient(ctrl)

	expectSessionPlumbing(conn, ":1.42")
	expectState(conn, map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(dbus.ObjectPath("/org/mpris/track/7")),
	}, "Playing", int64(0))
	conn.EXPECT().Call(testBus, mprisObjectPath, playerInterface+".SetPosition",
		dbus.ObjectPath("/org/mpris/track/7"), int64(30_000_000)).Return(nil)

	sink := newCaptureSink()
	commands := make(chan domain.PlayerCommand, 4)
	cancel, done, _ := startSession(t, conn, fastConfig(t), sink, commands)
	defer cancel()

	waitUpdate(t, sink.updates)
	waitUpdate(t, sink.updates)

	commands <- domain.PlayerCommand{Kind: domain.CommandSetPosition, AmountUS: 30_000_000}
	waitUpdate(t, sink.updates)

	cancel()
	waitDone(t, done)
}

// TestSession_LivenessProbeFailureDisconnects verifies the idle-timeout
// probe is the disconnect detector and fires the teardown exactly once.
func TestSession_LivenessProbeFailureDisconnects(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := mocks.NewMockDBusClient(ctrl)

	expectSessionPlumbing(conn, ":1.42")
	conn.EXPECT().GetProperty(testBus, mprisObjectPath, propMetadata).
		Return(dbus.MakeVariant(map[string]dbus.Variant{}), nil).AnyTimes()
	conn.EXPECT().GetProperty(testBus, mprisObjectPath, propPosition).
		Return(dbus.MakeVariant(int64(0)), nil).AnyTimes()
	// The status read serves both the fetch (defaults to Stopped) and the
	// probe (fails the session)
	conn.EXPECT().GetProperty(testBus, mprisObjectPath, propPlaybackStatus).
		Return(dbus.Variant{}, errors.New("no reply")).AnyTimes()

	cfg := fastConfig(t)
	cfg.idle = 5 * time.Millisecond

	sink := newCaptureSink()
	cancel, done, _ := startSession(t, conn, cfg, sink, make(chan domain.PlayerCommand, 4))
	defer cancel()

	err := waitDone(t, done)
	if !errors.Is(err, errDisconnected) {
		t.Errorf("Expected errDisconnected, got %v", err)
	}
}

// TestSession_SwitchSourceReturnsRebindTarget verifies a matching
// SwitchSource ends the session with the new bus name instead of mutating
// the binding in place.
func TestSession_SwitchSourceReturnsRebindTarget(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := mocks.NewMockDBusClient(ctrl)

	const vlcBus = "org.mpris.MediaPlayer2.vlc"

	expectSessionPlumbing(conn, ":1.42")
	expectState(conn, map[string]dbus.Variant{}, "Playing", int64(0))

	// SwitchSource triggers a discovery pass
	conn.EXPECT().ListNames().Return([]string{testBus, vlcBus}, nil)
	for _, bus := range []string{testBus, vlcBus} {
		conn.EXPECT().GetProperty(bus, mprisObjectPath, propIdentity).
			Return(dbus.MakeVariant("Player"), nil)
		conn.EXPECT().GetProperty(bus, mprisObjectPath, propCanSeek).
			Return(dbus.MakeVariant(true), nil)
	}

	sink := newCaptureSink()
	commands := make(chan domain.PlayerCommand, 4)

	sess := &session{
		logger:   zap.NewNop(),
		conn:     conn,
		cfg:      fastConfig(t),
		sink:     sink,
		pref:     &prefs.SourcePreference{},
		commands: commands,
		busName:  testBus,
	}

	done := make(chan struct{})
	var sw *switchRequest
	var runErr error
	go func() {
		sw, runErr = sess.run(context.Background())
		close(done)
	}()

	waitUpdate(t, sink.updates)
	waitUpdate(t, sink.updates)
	commands <- domain.PlayerCommand{Kind: domain.CommandSwitchSource, Source: "vlc"}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for session to end")
	}

	if runErr != nil {
		t.Fatalf("Unexpected error: %v", runErr)
	}
	if sw == nil || sw.busName != vlcBus {
		t.Fatalf("Expected switch to %s, got %+v", vlcBus, sw)
	}
	if len(sw.sources) != 2 {
		t.Errorf("Expected 2 sources in switch request, got %d", len(sw.sources))
	}
}

// TestSession_SetFavoritePersists verifies favorite mutations hit the
// preference file without ending the binding.
func TestSession_SetFavoritePersists(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := mocks.NewMockDBusClient(ctrl)

	expectSessionPlumbing(conn, ":1.42")
	expectState(conn, map[string]dbus.Variant{}, "Playing", int64(0))

	cfg := fastConfig(t)
	sink := newCaptureSink()
	commands := make(chan domain.PlayerCommand, 4)
	cancel, done, sess := startSession(t, conn, cfg, sink, commands)
	defer cancel()

	waitUpdate(t, sink.updates)
	waitUpdate(t, sink.updates)

	commands <- domain.PlayerCommand{Kind: domain.CommandSetFavorite, Source: "vlc"}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(cfg.prefPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Preference file was never written")
		}
		time.Sleep(5 * time.Millisecond)
	}

	loaded := prefs.Load(cfg.prefPath)
	if loaded.Favorite == nil || *loaded.Favorite != "vlc" {
		t.Errorf("Expected persisted favorite 'vlc', got %+v", loaded.Favorite)
	}
	if sess.pref.Favorite == nil || *sess.pref.Favorite != "vlc" {
		t.Errorf("Expected in-memory favorite 'vlc', got %+v", sess.pref.Favorite)
	}

	cancel()
	waitDone(t, done)
}
