package mphost

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keiyoru/mphost/bancho"
)

// Conn is the outbound surface a room needs: room chat and channel
// joins. bancho.Client satisfies it.
type Conn interface {
	Privmsg(target, body string) error
	Join(channel string) error
}

const defaultSetupPause = time.Second

// Room is the per-room session. One exists for every configured room
// and lives for the whole process; a transient disconnect only drops
// the connected flag. Every method runs on the bot's event loop, so the
// struct needs no locking.
type Room struct {
	cfg     RoomConfig
	conn    Conn
	policy  *Policy
	metrics *Metrics
	log     zerolog.Logger

	setupPause time.Duration

	id         string // "#mp_<digits>" while bound, empty otherwise
	created    bool
	connected  bool
	configured bool

	users      []string
	checkUsers map[string]struct{}
	totalUsers int

	currentBeatmap int
	skipVoters     map[string]struct{}

	beatmaps []BeatmapRecord
}

func newRoom(cfg RoomConfig, conn Conn, policy *Policy, metrics *Metrics) *Room {
	return &Room{
		cfg:            cfg,
		conn:           conn,
		policy:         policy,
		metrics:        metrics,
		log:            log.Logger.With().Str("caller", "Room").Str("room", cfg.Name).Logger(),
		setupPause:     defaultSetupPause,
		currentBeatmap: cfg.CurrentBeatmap,
		checkUsers:     map[string]struct{}{},
		skipVoters:     map[string]struct{}{},
	}
}

// say queues one chat line to the room channel.
func (r *Room) say(body string) {
	if r.id == "" {
		return
	}
	if err := r.conn.Privmsg(r.id, body); err != nil {
		r.log.Warn().Err(err).Msg("room message not queued")
	}
}

// bind attaches the server-assigned channel and runs the bring-up
// sequence. Rebinding after a confirmed close is allowed; the registry
// keeps its id index in step.
func (r *Room) bind(ctx context.Context, id string) {
	r.id = id
	r.created = true
	r.log.Info().Str("room_id", id).Msg("room bound")
	r.bringUp(ctx)
}

// bringUp issues the one-time room setup and seeds the first host or
// map. The pause lets Bancho apply the rename before the mode change
// lands.
func (r *Room) bringUp(ctx context.Context) {
	r.say("!mp name " + r.cfg.Name)
	r.say("!mp password " + r.cfg.Password)

	select {
	case <-time.After(r.setupPause):
	case <-ctx.Done():
		return
	}

	r.say(fmt.Sprintf("!mp set %d %d %d", r.cfg.TeamMode, r.cfg.ScoreMode, r.cfg.RoomSize))
	r.say("!mp mods Freemod")
	r.configured = true
	r.rotate()
}

// HandleEvent applies one BanchoBot notification to the room state.
func (r *Room) HandleEvent(ctx context.Context, ev bancho.Event) {
	switch ev := ev.(type) {
	case bancho.UserJoined:
		r.onUserJoined(ev.User)
	case bancho.UserLeft:
		r.onUserLeft(ev.User)
	case bancho.HostChanged:
		r.onHostChanged(ev.User)
	case bancho.MatchStarted:
		r.onMatchStarted()
	case bancho.MatchFinished:
		r.onMatchFinished()
	case bancho.MatchReady:
		r.log.Info().Msg("all players ready")
		r.say("!mp start")
	case bancho.BeatmapPicked:
		r.onBeatmapPicked(ctx, ev)
	case bancho.BeatmapSet:
		r.onBeatmapSet(ctx, ev)
	case bancho.Slot:
		r.onSlot(ev)
	case bancho.PlayerCount:
		r.totalUsers = ev.Count
	case bancho.MatchClosed:
		r.onClosed()
	}
}

func (r *Room) onUserJoined(user string) {
	if !r.hasUser(user) {
		r.users = append(r.users, user)
		r.log.Info().Str("user", user).Int("users", len(r.users)).Msg("user joined")
	}
	// the first arrival seeds the host
	if r.cfg.BotMode == AutoHost && len(r.users) == 1 {
		r.rotate()
	}
}

func (r *Room) onUserLeft(user string) {
	if r.cfg.BotMode == AutoHost && len(r.users) > 0 && r.users[0] == user {
		r.rotate()
	}
	r.removeUser(user)
	r.log.Info().Str("user", user).Int("users", len(r.users)).Msg("user left")
}

func (r *Room) onHostChanged(user string) {
	r.clearSkipVoters()
	if r.cfg.BotMode != AutoHost || len(r.users) == 0 {
		return
	}
	switch {
	case len(r.users) > 1 && user == r.users[1]:
		// host passed to the next in queue, an orderly rotation
		r.cycleUsers()
	case user != r.users[0]:
		// host escaped the queue, take it back
		r.log.Info().Str("user", user).Msg("host reassigned out of order")
		r.say("!mp host " + r.users[0])
	}
}

func (r *Room) onMatchStarted() {
	r.log.Info().Msg("match started")
	r.clearSkipVoters()
	// the running pick is locked in; advance so the next host is ready
	if r.cfg.BotMode == AutoHost {
		r.rotate()
	}
}

func (r *Room) onMatchFinished() {
	r.log.Info().Msg("match finished")
	r.say("!mp settings | Queue: " + r.queue())
	if r.cfg.BotMode == AutoPick {
		r.rotate()
	}
}

// onBeatmapPicked enforces the star window on a host's manual pick. A
// violation resets the room to the previously accepted map with the
// reason suffixed; current_beatmap moves only on acceptance.
func (r *Room) onBeatmapPicked(ctx context.Context, pick bancho.BeatmapPicked) {
	res := r.policy.EvaluatePick(ctx, pick.Version, pick.URL, r.cfg.MinStar, r.cfg.MaxStar)
	if v := res.Violation; v != nil {
		if r.metrics != nil {
			r.metrics.Violations.WithLabelValues(v.Tag).Inc()
		}
		r.log.Info().Str("tag", v.Tag).Str("url", pick.URL).Msg("pick rejected")
		r.say(fmt.Sprintf("!mp map %d %d | Rule Violation [%s]: %s",
			r.currentBeatmap, r.cfg.PlayMode, v.Tag, v.Message))
		return
	}

	r.currentBeatmap = res.MapID
	r.say(res.Announce)
	r.log.Info().Int("beatmap", res.MapID).Msg("pick accepted")
}

// onBeatmapSet confirms the bot's own "!mp map" in AutoPick rooms and
// announces download links. A failed metadata fetch only skips the
// announcement.
func (r *Room) onBeatmapSet(ctx context.Context, set bancho.BeatmapSet) {
	if r.cfg.BotMode != AutoPick {
		return
	}
	r.clearSkipVoters()
	r.currentBeatmap = set.MapID
	r.log.Info().Str("title", set.Title).Int("beatmap", set.MapID).Msg("beatmap set")

	info, err := r.policy.Lookup(ctx, set.URL)
	if err != nil {
		r.log.Warn().Err(err).Str("url", set.URL).Msg("beatmap lookup failed")
		return
	}
	setID := info.ID
	if setID == 0 {
		setID = set.MapID
	}
	if links := BeatmapLinks(set.Title, setID); links != "" {
		r.say("Links: " + links)
	}
}

// onSlot folds one settings listing line into membership. Once the
// sweep covers the announced player count, users absent from it are
// offline and get evicted.
func (r *Room) onSlot(slot bancho.Slot) {
	if slot.User == "" {
		return
	}
	if !r.hasUser(slot.User) {
		r.users = append(r.users, slot.User)
	}
	r.checkUsers[slot.User] = struct{}{}

	if len(r.checkUsers) < r.totalUsers {
		return
	}
	kept := r.users[:0]
	for _, user := range r.users {
		if _, seen := r.checkUsers[user]; seen {
			kept = append(kept, user)
			continue
		}
		delete(r.skipVoters, user)
		r.log.Info().Str("user", user).Msg("user offline, evicted")
	}
	r.users = kept
	clear(r.checkUsers)
}

func (r *Room) onClosed() {
	r.log.Warn().Msg("room closed")
	r.id = ""
	r.created = false
	r.connected = false
	r.configured = false
	r.users = nil
	r.totalUsers = 0
	clear(r.checkUsers)
	r.clearSkipVoters()
}

// voteSkip records one skip vote per user per round. The host skipping
// themselves rotates immediately; otherwise rotation fires at half the
// room, rounded half up.
func (r *Room) voteSkip(sender string) {
	if !r.hasUser(sender) {
		return
	}
	if _, voted := r.skipVoters[sender]; voted {
		return
	}
	r.skipVoters[sender] = struct{}{}

	votes := len(r.skipVoters)
	threshold := int(math.Round(float64(len(r.users)) / 2))
	hostSkip := r.cfg.BotMode == AutoHost && sender == r.users[0]

	if votes >= threshold || hostSkip {
		r.log.Info().Int("votes", votes).Int("threshold", threshold).Msg("skip passed")
		r.rotate()
		return
	}
	r.say(fmt.Sprintf("Skip voting: %d / %d", votes, threshold))
}

// rotate advances the round: next host in AutoHost, next catalog map in
// AutoPick. Always resets the skip vote.
func (r *Room) rotate() {
	switch {
	case r.cfg.BotMode == AutoHost && len(r.users) > 0:
		r.cycleUsers()
		r.say("!mp host " + r.users[0])
	case r.cfg.BotMode == AutoPick && len(r.beatmaps) > 0:
		r.say(fmt.Sprintf("!mp map %d %d", r.beatmaps[0].ID, r.cfg.PlayMode))
		r.beatmaps = append(r.beatmaps[1:], r.beatmaps[0])
	}
	r.clearSkipVoters()
}

// queue renders the next five entries of whichever queue the mode uses.
func (r *Room) queue() string {
	if r.cfg.BotMode == AutoPick {
		entries := make([]string, 0, 5)
		for _, bm := range r.beatmaps[:min(5, len(r.beatmaps))] {
			entries = append(entries, fmt.Sprintf("[https://osu.ppy.sh/b/%d %s]", bm.ID, bm.Title))
		}
		return strings.Join(entries, ", ")
	}
	return strings.Join(r.users[:min(5, len(r.users))], ", ")
}

func (r *Room) hasUser(user string) bool {
	for _, u := range r.users {
		if u == user {
			return true
		}
	}
	return false
}

func (r *Room) removeUser(user string) {
	delete(r.skipVoters, user)
	for i, u := range r.users {
		if u == user {
			r.users = append(r.users[:i], r.users[i+1:]...)
			return
		}
	}
}

func (r *Room) cycleUsers() {
	if len(r.users) > 1 {
		r.users = append(r.users[1:], r.users[0])
	}
}

func (r *Room) clearSkipVoters() {
	clear(r.skipVoters)
}

// RoomStatus is a read-only view of one room for the status API.
type RoomStatus struct {
	Name           string   `json:"name"`
	RoomID         string   `json:"room_id,omitempty"`
	Mode           string   `json:"mode"`
	Created        bool     `json:"created"`
	Connected      bool     `json:"connected"`
	Configured     bool     `json:"configured"`
	Users          []string `json:"users"`
	Host           string   `json:"host,omitempty"`
	CurrentBeatmap int      `json:"current_beatmap,omitempty"`
	QueuedBeatmaps int      `json:"queued_beatmaps,omitempty"`
	SkipVotes      int      `json:"skip_votes"`
}

func (r *Room) status() RoomStatus {
	st := RoomStatus{
		Name:           r.cfg.Name,
		RoomID:         r.id,
		Mode:           r.cfg.BotMode.String(),
		Created:        r.created,
		Connected:      r.connected,
		Configured:     r.configured,
		Users:          append([]string(nil), r.users...),
		CurrentBeatmap: r.currentBeatmap,
		QueuedBeatmaps: len(r.beatmaps),
		SkipVotes:      len(r.skipVoters),
	}
	if r.cfg.BotMode == AutoHost && len(r.users) > 0 {
		st.Host = r.users[0]
	}
	return st
}
