// Package mphost runs automated host rotation and beatmap policy
// enforcement for osu! multiplayer rooms over Bancho IRC. A single Bot
// drives all configured rooms on one connection: BanchoBot's
// notifications become typed events, each room applies them to its
// session state, and control flows back as paced chat commands.
package mphost

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keiyoru/mphost/bancho"
)

const (
	// DefaultReconcileInterval is how often rooms are nudged toward
	// their desired created/joined state.
	DefaultReconcileInterval = time.Second

	// DefaultFetchTTL is how long fetched beatmap pages stay cached.
	DefaultFetchTTL = 10 * time.Minute
)

// Transport is the connection surface the bot drives. *bancho.Client
// implements it; tests substitute a scripted transport.
type Transport interface {
	Conn
	Send(line string) error
	Pacing() time.Duration
	Messages() <-chan bancho.Message
	Errors() <-chan error
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Close() error
}

// Bot owns the transport, the room registry and the event loop. All
// room state is mutated on the Run goroutine only.
type Bot struct {
	client   Transport
	registry *Registry
	policy   *Policy
	metrics  *Metrics
	log      zerolog.Logger

	fetcher        Fetcher
	catalogDir     string
	setupPause     time.Duration
	reconcileEvery time.Duration
	closeRooms     bool

	snapshot atomic.Value // []RoomStatus
}

// BotOption configures a Bot on construction.
type BotOption func(b *Bot) error

// WithBotLogger replaces the default logger.
func WithBotLogger(logger zerolog.Logger) BotOption {
	return func(b *Bot) error {
		b.log = logger
		return nil
	}
}

// WithBotMetrics installs a collector set registered elsewhere.
func WithBotMetrics(m *Metrics) BotOption {
	return func(b *Bot) error {
		b.metrics = m
		return nil
	}
}

// WithBotFetcher injects the beatmap page fetcher.
func WithBotFetcher(f Fetcher) BotOption {
	return func(b *Bot) error {
		b.fetcher = f
		return nil
	}
}

// WithBotCatalogDir points AutoPick rooms at their beatmapset files.
func WithBotCatalogDir(dir string) BotOption {
	return func(b *Bot) error {
		b.catalogDir = dir
		return nil
	}
}

// WithBotReconcileInterval overrides the reconcile tick.
func WithBotReconcileInterval(d time.Duration) BotOption {
	return func(b *Bot) error {
		if d <= 0 {
			return fmt.Errorf("reconcile interval must be positive, got %v", d)
		}
		b.reconcileEvery = d
		return nil
	}
}

// WithBotSetupPause overrides the pause inside room bring-up.
func WithBotSetupPause(d time.Duration) BotOption {
	return func(b *Bot) error {
		b.setupPause = d
		return nil
	}
}

// WithBotCloseRooms makes shutdown close every live room with
// "!mp close" before the transport goes down.
func WithBotCloseRooms() BotOption {
	return func(b *Bot) error {
		b.closeRooms = true
		return nil
	}
}

// NewBot validates cfg, loads AutoPick catalogs and assembles the room
// registry. Catalog problems are fatal here rather than mid-session.
func NewBot(cfg *Config, client Transport, options ...BotOption) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bot{
		client:         client,
		log:            log.Logger.With().Str("caller", "Bot").Logger(),
		catalogDir:     "beatmapsets",
		setupPause:     defaultSetupPause,
		reconcileEvery: DefaultReconcileInterval,
	}
	for _, o := range options {
		if err := o(b); err != nil {
			return nil, err
		}
	}

	if b.metrics == nil {
		b.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if b.fetcher == nil {
		b.fetcher = NewCachedFetcher(NewHTTPFetcher(), DefaultFetchTTL)
	}
	b.policy = NewPolicy(b.fetcher)

	conn := countingConn{Conn: client, metrics: b.metrics}
	rooms := make([]*Room, 0, len(cfg.Rooms))
	for _, rc := range cfg.Rooms {
		room := newRoom(rc, conn, b.policy, b.metrics)
		room.setupPause = b.setupPause
		if rc.BotMode == AutoPick {
			records, err := LoadCatalog(filepath.Join(b.catalogDir, rc.BeatmapsetFilename))
			if err != nil {
				return nil, fmt.Errorf("room %q: %w", rc.Name, err)
			}
			if len(records) == 0 {
				return nil, fmt.Errorf("room %q: catalog %s has no beatmaps", rc.Name, rc.BeatmapsetFilename)
			}
			ShuffleCatalog(records)
			room.beatmaps = records
			b.log.Info().
				Str("room", rc.Name).
				Int("beatmaps", len(records)).
				Float64("min", rc.MinStar).
				Float64("max", rc.MaxStar).
				Msg("catalog loaded")
		}
		rooms = append(rooms, room)
	}
	b.registry = NewRegistry(rooms)
	return b, nil
}

// Registry exposes the room registry, mainly for inspection.
func (b *Bot) Registry() *Registry {
	return b.registry
}

// Run connects and drives the event loop until ctx is cancelled or the
// transport fails beyond recovery. The startup connect is a single
// attempt; once running, drops are reconnected with backoff.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.client.Connect(ctx); err != nil {
		return fmt.Errorf("startup connect: %w", err)
	}

	ticker := time.NewTicker(b.reconcileEvery)
	defer ticker.Stop()

	b.registry.Reconcile(b.client)
	b.publish()

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil

		case m := <-b.client.Messages():
			b.dispatch(ctx, m)

		case err := <-b.client.Errors():
			b.log.Warn().Err(err).Msg("transport dropped, reconnecting")
			b.metrics.Reconnects.Inc()
			b.registry.MarkAllDisconnected()
			if err := b.client.Reconnect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("reconnect: %w", err)
			}
			b.registry.Reconcile(b.client)

		case <-ticker.C:
			b.registry.Reconcile(b.client)
		}
		b.publish()
	}
}

// dispatch routes one classified line. Unroutable lines are dropped.
func (b *Bot) dispatch(ctx context.Context, m bancho.Message) {
	b.metrics.Lines.WithLabelValues(m.Kind.String()).Inc()

	switch m.Kind {
	case bancho.KindPrivate:
		b.onPrivate(ctx, m)
	case bancho.KindRoom:
		b.onRoom(ctx, m)
	default:
		b.log.Debug().Str("raw", m.Raw).Msg("line ignored")
	}
}

// onPrivate watches for the referee's creation notice and binds the
// new channel to the configured room of the same name.
func (b *Bot) onPrivate(ctx context.Context, m bancho.Message) {
	if m.Sender != bancho.Referee {
		b.log.Debug().Str("sender", m.Sender).Str("body", m.Body).Msg("private message ignored")
		return
	}
	id, name, ok := bancho.ParseMatchCreated(m.Body)
	if !ok {
		b.log.Debug().Str("body", m.Body).Msg("referee notice ignored")
		return
	}
	room, ok := b.registry.Bind(name, id)
	if !ok {
		b.log.Warn().Str("name", name).Str("room_id", id).Msg("created room matches no config")
		return
	}
	room.bind(ctx, id)
}

func (b *Bot) onRoom(ctx context.Context, m bancho.Message) {
	room, ok := b.registry.ByID(m.Room)
	if !ok {
		b.log.Debug().Str("room_id", m.Room).Msg("message for unmanaged room")
		return
	}

	if m.Sender == bancho.Referee {
		ev, ok := bancho.ParseEvent(m.Body)
		if !ok {
			b.log.Debug().Str("body", m.Body).Msg("notification ignored")
			return
		}
		b.metrics.Events.WithLabelValues(eventName(ev)).Inc()
		room.HandleEvent(ctx, ev)
		if _, closed := ev.(bancho.MatchClosed); closed {
			b.registry.Unbind(m.Room)
		}
		return
	}

	if m.Sender == "" {
		return
	}
	if name := commandName(m.Body); name != "" {
		b.metrics.Commands.WithLabelValues(name).Inc()
	}
	room.HandleCommand(m.Sender, m.Body)
}

// shutdown optionally closes every live room. The lines ride the paced
// queue, so leave the writer time to flush before the caller closes the
// transport.
func (b *Bot) shutdown() {
	if !b.closeRooms {
		return
	}
	queued := 0
	for _, room := range b.registry.Rooms() {
		if room.id == "" {
			continue
		}
		b.log.Info().Str("room_id", room.id).Msg("closing room")
		if err := b.client.Privmsg(room.id, "!mp close"); err == nil {
			queued++
		}
	}
	if queued > 0 {
		time.Sleep(time.Duration(queued)*b.client.Pacing() + 100*time.Millisecond)
	}
}

// publish refreshes the read-only snapshot consumed by the status API.
func (b *Bot) publish() {
	rooms := b.registry.Rooms()
	statuses := make([]RoomStatus, 0, len(rooms))
	connected := 0
	for _, room := range rooms {
		st := room.status()
		if st.Connected {
			connected++
		}
		statuses = append(statuses, st)
	}
	b.metrics.ConnectedRooms.Set(float64(connected))
	b.snapshot.Store(statuses)
}

// Snapshot returns the most recent room states. Safe from any
// goroutine.
func (b *Bot) Snapshot() []RoomStatus {
	statuses, _ := b.snapshot.Load().([]RoomStatus)
	return statuses
}

func eventName(ev bancho.Event) string {
	switch ev.(type) {
	case bancho.UserJoined:
		return "user_joined"
	case bancho.UserLeft:
		return "user_left"
	case bancho.HostChanged:
		return "host_changed"
	case bancho.MatchStarted:
		return "match_started"
	case bancho.MatchFinished:
		return "match_finished"
	case bancho.MatchReady:
		return "match_ready"
	case bancho.BeatmapPicked:
		return "beatmap_picked"
	case bancho.BeatmapSet:
		return "beatmap_set"
	case bancho.Slot:
		return "slot"
	case bancho.PlayerCount:
		return "players"
	case bancho.MatchClosed:
		return "room_closed"
	}
	return "unknown"
}
