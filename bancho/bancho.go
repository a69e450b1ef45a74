// Package bancho implements the wire level of osu!'s Bancho IRC service:
// line framing over TCP, classification of inbound lines, and the grammar
// of BanchoBot's multiplayer room notifications.
package bancho

import (
	"strings"
)

const (
	// DefaultAddr is Bancho's public IRC endpoint.
	DefaultAddr = "irc.ppy.sh:6667"

	// Referee is the server-side bot that owns tournament rooms and emits
	// all room notifications parsed by this package.
	Referee = "BanchoBot"

	// ServerPrefix starts every line originating from the server itself.
	ServerPrefix = ":cho.ppy.sh"

	// RoomPrefix starts every tournament room channel name.
	RoomPrefix = "#mp_"

	// ReadBufferSize bounds a single transport read.
	ReadBufferSize = 2048
)

// IRC commands used on the wire.
const (
	PASS    = "PASS"
	NICK    = "NICK"
	JOIN    = "JOIN"
	PING    = "PING"
	PONG    = "PONG"
	PRIVMSG = "PRIVMSG"
)

// TeamMode is the `!mp set` team mode argument.
type TeamMode int

const (
	HeadToHead TeamMode = iota
	TagCoop
	TeamVs
	TagTeamVs
)

func (m TeamMode) String() string {
	switch m {
	case HeadToHead:
		return "HeadToHead"
	case TagCoop:
		return "TagCoop"
	case TeamVs:
		return "TeamVs"
	case TagTeamVs:
		return "TagTeamVs"
	}
	return "Unknown"
}

// ScoreMode is the `!mp set` win condition argument.
type ScoreMode int

const (
	Score ScoreMode = iota
	Accuracy
	Combo
	ScoreV2
)

func (m ScoreMode) String() string {
	switch m {
	case Score:
		return "Score"
	case Accuracy:
		return "Accuracy"
	case Combo:
		return "Combo"
	case ScoreV2:
		return "ScoreV2"
	}
	return "Unknown"
}

// PlayMode is the game mode argument of `!mp map`.
type PlayMode int

const (
	Osu PlayMode = iota
	Taiko
	CatchTheBeat
	Mania
)

func (m PlayMode) String() string {
	switch m {
	case Osu:
		return "osu!"
	case Taiko:
		return "Taiko"
	case CatchTheBeat:
		return "Catch the Beat"
	case Mania:
		return "osu!Mania"
	}
	return "Unknown"
}

// validRoles is the closed set of tokens Bancho prints in the bracketed
// tail of a slot line. Anything else means the brackets belong to the
// username.
var validRoles = map[string]struct{}{
	"Host":        {},
	"TeamBlue":    {},
	"TeamRed":     {},
	"Hidden":      {},
	"HardRock":    {},
	"SuddenDeath": {},
	"Flashlight":  {},
	"SpunOut":     {},
	"NoFail":      {},
	"Easy":        {},
	"Relax":       {},
	"Relax2":      {},
}

// IsRole reports whether token is a known slot role or mod marker.
func IsRole(token string) bool {
	_, ok := validRoles[strings.TrimSpace(token)]
	return ok
}

// NormalizeUsername converts a displayed osu! username to its IRC form:
// outer whitespace stripped and inner spaces replaced by underscores.
func NormalizeUsername(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}

// IsRoomChannel reports whether target names a tournament room channel.
func IsRoomChannel(target string) bool {
	return strings.HasPrefix(target, RoomPrefix)
}
