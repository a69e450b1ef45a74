package mphost

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keiyoru/mphost/bancho"
)

// Registry indexes rooms two ways: by configured name for binding
// creation notices, and by server channel id for routing room traffic.
// Only the bot loop touches it.
type Registry struct {
	rooms  []*Room
	byName map[string]*Room
	byID   map[string]*Room
	log    zerolog.Logger
}

func NewRegistry(rooms []*Room) *Registry {
	reg := &Registry{
		rooms:  rooms,
		byName: make(map[string]*Room, len(rooms)),
		byID:   make(map[string]*Room, len(rooms)),
		log:    log.Logger.With().Str("caller", "Registry").Logger(),
	}
	for _, room := range rooms {
		reg.byName[room.cfg.Name] = room
	}
	return reg
}

// Rooms returns all rooms in configuration order.
func (reg *Registry) Rooms() []*Room {
	return reg.rooms
}

func (reg *Registry) ByID(id string) (*Room, bool) {
	room, ok := reg.byID[id]
	return room, ok
}

func (reg *Registry) ByName(name string) (*Room, bool) {
	room, ok := reg.byName[strings.TrimSpace(name)]
	return room, ok
}

// Bind points a server-assigned channel id at the named room. Both
// indices move in the same step; a stale id left from a closed room is
// dropped.
func (reg *Registry) Bind(name, id string) (*Room, bool) {
	room, ok := reg.byName[strings.TrimSpace(name)]
	if !ok {
		return nil, false
	}
	if room.id != "" {
		delete(reg.byID, room.id)
	}
	reg.byID[id] = room
	return room, true
}

// Unbind drops the id index entry of a closed room.
func (reg *Registry) Unbind(id string) {
	delete(reg.byID, id)
}

// MarkAllDisconnected flags every room for a rejoin, keeping created
// state so existing rooms are joined rather than remade.
func (reg *Registry) MarkAllDisconnected() {
	for _, room := range reg.rooms {
		room.connected = false
	}
}

// Reconcile pushes every room toward its desired state: joined when its
// channel exists, requested from the referee when it does not.
func (reg *Registry) Reconcile(c Conn) {
	for _, room := range reg.rooms {
		switch {
		case room.id != "" && !room.connected:
			if err := c.Join(room.id); err != nil {
				reg.log.Warn().Err(err).Str("room_id", room.id).Msg("join not queued")
				continue
			}
			room.connected = true
		case room.id == "" && !room.created:
			if err := c.Privmsg(bancho.Referee, "mp make "+room.cfg.Name); err != nil {
				reg.log.Warn().Err(err).Str("room", room.cfg.Name).Msg("make not queued")
				continue
			}
			room.created = true
		}
	}
}
