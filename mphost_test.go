package mphost

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiyoru/mphost/bancho"
)

const waitFor = 2 * time.Second

// fakeTransport scripts the connection: tests feed raw lines in and
// read the bot's outbound traffic from channels.
type fakeTransport struct {
	msgs   chan bancho.Message
	errs   chan error
	out    chan sentLine
	joins  chan string
	pacing time.Duration

	mu         sync.Mutex
	connects   int
	reconnects int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		msgs:   make(chan bancho.Message, 64),
		errs:   make(chan error, 1),
		out:    make(chan sentLine, 64),
		joins:  make(chan string, 16),
		pacing: time.Millisecond,
	}
}

func (tr *fakeTransport) Privmsg(target, body string) error {
	tr.out <- sentLine{Target: target, Body: body}
	return nil
}

func (tr *fakeTransport) Join(channel string) error {
	tr.joins <- channel
	return nil
}

func (tr *fakeTransport) Send(line string) error {
	tr.out <- sentLine{Body: line}
	return nil
}

func (tr *fakeTransport) Messages() <-chan bancho.Message { return tr.msgs }
func (tr *fakeTransport) Errors() <-chan error            { return tr.errs }
func (tr *fakeTransport) Pacing() time.Duration           { return tr.pacing }
func (tr *fakeTransport) Close() error                    { return nil }

func (tr *fakeTransport) Connect(ctx context.Context) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.connects++
	return nil
}

func (tr *fakeTransport) Reconnect(ctx context.Context) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.reconnects++
	return nil
}

func (tr *fakeTransport) connectCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.connects
}

func (tr *fakeTransport) reconnectCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.reconnects
}

func (tr *fakeTransport) feed(t *testing.T, raw string) {
	t.Helper()
	select {
	case tr.msgs <- bancho.ParseMessage(raw):
	case <-time.After(waitFor):
		t.Fatal("message queue full")
	}
}

// awaitLine drains outbound lines until body shows up.
func (tr *fakeTransport) awaitLine(t *testing.T, body string) sentLine {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case line := <-tr.out:
			if line.Body == body {
				return line
			}
		case <-deadline:
			t.Fatalf("no %q within %v", body, waitFor)
		}
	}
}

// nextLine returns the next outbound line without skipping.
func (tr *fakeTransport) nextLine(t *testing.T) sentLine {
	t.Helper()
	select {
	case line := <-tr.out:
		return line
	case <-time.After(waitFor):
		t.Fatal("no outbound line")
		return sentLine{}
	}
}

func (tr *fakeTransport) awaitJoin(t *testing.T) string {
	t.Helper()
	select {
	case channel := <-tr.joins:
		return channel
	case <-time.After(waitFor):
		t.Fatal("no join")
		return ""
	}
}

func botConfig() *Config {
	return &Config{
		Username: "mp host",
		Password: "secret",
		Rooms: []RoomConfig{
			{Name: "test room", Password: "pw", MinStar: 4, MaxStar: 6},
		},
	}
}

func startBot(t *testing.T, cfg *Config, tr *fakeTransport, options ...BotOption) *Bot {
	t.Helper()
	base := []BotOption{
		WithBotSetupPause(time.Millisecond),
		WithBotReconcileInterval(5 * time.Millisecond),
	}
	bot, err := NewBot(cfg, tr, append(base, options...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("bot did not stop")
		}
	})
	return bot
}

// bindTestRoom walks the creation handshake and returns the channel id.
func bindTestRoom(t *testing.T, tr *fakeTransport) string {
	t.Helper()
	line := tr.awaitLine(t, "mp make test room")
	assert.Equal(t, bancho.Referee, line.Target)

	tr.feed(t, ":BanchoBot!cho@ppy.sh PRIVMSG mp_host :Created the tournament match https://osu.ppy.sh/mp/107466444 test room")
	tr.awaitLine(t, "!mp mods Freemod")
	return "#mp_107466444"
}

func TestBotCreatesAndBindsRoom(t *testing.T) {
	tr := newFakeTransport()
	bot := startBot(t, botConfig(), tr)

	roomID := bindTestRoom(t, tr)

	room, ok := bot.Registry().ByID(roomID)
	require.True(t, ok)
	assert.Equal(t, "test room", room.cfg.Name)
	assert.Equal(t, roomID, tr.awaitJoin(t), "reconciler joins the fresh channel")
	assert.Equal(t, 1, tr.connectCount())
}

func TestBotRoutesRoomTraffic(t *testing.T) {
	tr := newFakeTransport()
	startBot(t, botConfig(), tr)
	roomID := bindTestRoom(t, tr)

	// referee notification drives the session
	tr.feed(t, ":BanchoBot!cho@ppy.sh PRIVMSG "+roomID+" :Alice joined in slot 1.")
	line := tr.awaitLine(t, "!mp host Alice")
	assert.Equal(t, roomID, line.Target)

	// player chat drives commands
	tr.feed(t, ":Alice!cho@ppy.sh PRIVMSG "+roomID+" :!queue")
	tr.awaitLine(t, "Queue: Alice")
}

func TestBotDropsUnmanagedRoomTraffic(t *testing.T) {
	tr := newFakeTransport()
	startBot(t, botConfig(), tr)
	roomID := bindTestRoom(t, tr)

	tr.feed(t, ":Alice!cho@ppy.sh PRIVMSG #mp_999 :!queue")
	tr.feed(t, ":Alice!cho@ppy.sh PRIVMSG "+roomID+" :!users")

	// Both lines are processed in order; only the managed room answers.
	line := tr.nextLine(t)
	assert.Equal(t, roomID, line.Target)
	assert.Equal(t, "Users: ", line.Body)
}

func TestBotReconnectsAfterTransportError(t *testing.T) {
	tr := newFakeTransport()
	startBot(t, botConfig(), tr)
	roomID := bindTestRoom(t, tr)
	tr.awaitJoin(t)

	tr.errs <- io.ErrUnexpectedEOF

	require.Eventually(t, func() bool { return tr.reconnectCount() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, roomID, tr.awaitJoin(t), "room is rejoined after the drop")
}

func TestBotRemakesClosedRoom(t *testing.T) {
	tr := newFakeTransport()
	bot := startBot(t, botConfig(), tr)
	roomID := bindTestRoom(t, tr)

	tr.feed(t, ":BanchoBot!cho@ppy.sh PRIVMSG "+roomID+" :Closed the match")

	// The reconciler notices the reset room and asks for a new channel.
	line := tr.awaitLine(t, "mp make test room")
	assert.Equal(t, bancho.Referee, line.Target)
	_, ok := bot.Registry().ByID(roomID)
	assert.False(t, ok, "stale channel id is dropped")
}

func TestBotSnapshot(t *testing.T) {
	tr := newFakeTransport()
	bot := startBot(t, botConfig(), tr)
	roomID := bindTestRoom(t, tr)

	tr.feed(t, ":BanchoBot!cho@ppy.sh PRIVMSG "+roomID+" :Alice joined in slot 1.")
	tr.awaitLine(t, "!mp host Alice")

	require.Eventually(t, func() bool {
		sn := bot.Snapshot()
		return len(sn) == 1 && sn[0].Host == "Alice" && sn[0].Connected
	}, waitFor, 5*time.Millisecond)

	sn := bot.Snapshot()
	assert.Equal(t, "test room", sn[0].Name)
	assert.Equal(t, roomID, sn[0].RoomID)
	assert.Equal(t, []string{"Alice"}, sn[0].Users)
}

func TestBotClosesRoomsOnShutdown(t *testing.T) {
	tr := newFakeTransport()
	cfg := botConfig()

	bot, err := NewBot(cfg, tr,
		WithBotSetupPause(time.Millisecond),
		WithBotReconcileInterval(5*time.Millisecond),
		WithBotCloseRooms(),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	roomID := bindTestRoom(t, tr)
	cancel()

	line := tr.awaitLine(t, "!mp close")
	assert.Equal(t, roomID, line.Target)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("bot did not stop")
	}
}

func TestBotShutdownFlushHonorsPacing(t *testing.T) {
	tr := newFakeTransport()
	tr.pacing = 300 * time.Millisecond

	bot, err := NewBot(botConfig(), tr,
		WithBotSetupPause(time.Millisecond),
		WithBotReconcileInterval(5*time.Millisecond),
		WithBotCloseRooms(),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	bindTestRoom(t, tr)
	cancel()
	tr.awaitLine(t, "!mp close")

	// One queued close line at 300ms pacing holds the flush window
	// open past 300ms, so the loop must still be draining at 150ms.
	select {
	case <-done:
		t.Fatal("run returned before the close line could flush")
	case <-time.After(150 * time.Millisecond):
	}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("bot did not stop")
	}
}

func TestNewBotLoadsCatalog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "5.0.json"), []byte(catalogJSON), 0o644))

	cfg := botConfig()
	cfg.Rooms[0].BotMode = AutoPick
	cfg.Rooms[0].BeatmapsetFilename = "5.0.json"

	bot, err := NewBot(cfg, newFakeTransport(), WithBotCatalogDir(dir))

	require.NoError(t, err)
	require.Len(t, bot.Registry().Rooms(), 1)
	assert.Len(t, bot.Registry().Rooms()[0].beatmaps, 3)
}

func TestNewBotMissingCatalog(t *testing.T) {
	cfg := botConfig()
	cfg.Rooms[0].BotMode = AutoPick
	cfg.Rooms[0].BeatmapsetFilename = "absent.json"

	_, err := NewBot(cfg, newFakeTransport(), WithBotCatalogDir(t.TempDir()))

	require.Error(t, err)
	assert.Contains(t, err.Error(), `room "test room"`)
}

func TestNewBotEmptyCatalog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "5.0.json"), []byte("[]"), 0o644))

	cfg := botConfig()
	cfg.Rooms[0].BotMode = AutoPick
	cfg.Rooms[0].BeatmapsetFilename = "5.0.json"

	_, err := NewBot(cfg, newFakeTransport(), WithBotCatalogDir(dir))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no beatmaps")
}

func TestNewBotRejectsBadConfig(t *testing.T) {
	_, err := NewBot(&Config{Username: "u", Password: "p"}, newFakeTransport())
	assert.Error(t, err)

	_, err = NewBot(botConfig(), newFakeTransport(), WithBotReconcileInterval(0))
	assert.Error(t, err)
}
