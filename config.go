package mphost

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/keiyoru/mphost/bancho"
)

// BotMode selects how a room drives its rounds.
type BotMode int

const (
	// AutoHost cycles host privilege through the user queue.
	AutoHost BotMode = iota
	// AutoPick cycles through a prepared beatmap queue; nobody holds host.
	AutoPick
)

func (m BotMode) String() string {
	switch m {
	case AutoHost:
		return "AutoHost"
	case AutoPick:
		return "AutoPick"
	}
	return "Unknown"
}

// DefaultRoomSize is the slot count used when a room does not set one.
const DefaultRoomSize = 16

// RoomConfig describes one managed room. Immutable after load.
type RoomConfig struct {
	Name               string           `json:"name"`
	Password           string           `json:"password"`
	TeamMode           bancho.TeamMode  `json:"team_mode"`
	ScoreMode          bancho.ScoreMode `json:"score_mode"`
	PlayMode           bancho.PlayMode  `json:"play_mode"`
	BotMode            BotMode          `json:"bot_mode"`
	MinStar            float64          `json:"min"`
	MaxStar            float64          `json:"max"`
	RoomSize           int              `json:"room_size"`
	CurrentBeatmap     int              `json:"current_beatmap"`
	BeatmapsetFilename string           `json:"beatmapset_filename"`
}

// Config is the top-level JSON configuration: one IRC account plus the
// rooms it manages.
type Config struct {
	Username string       `json:"username"`
	Password string       `json:"password"`
	Rooms    []RoomConfig `json:"rooms"`
}

// LoadConfig reads and validates a configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes room names, applies defaults and rejects
// configurations the bot cannot run: missing credentials, duplicate
// room names, or an AutoPick room without a beatmapset file.
func (c *Config) Validate() error {
	if c.Username == "" || c.Password == "" {
		return errors.New("username and password are required")
	}
	if len(c.Rooms) == 0 {
		return errors.New("at least one room is required")
	}

	names := make(map[string]struct{}, len(c.Rooms))
	for i := range c.Rooms {
		room := &c.Rooms[i]
		room.Name = strings.TrimSpace(room.Name)
		if room.Name == "" {
			return fmt.Errorf("room %d: name is required", i)
		}
		if _, dup := names[room.Name]; dup {
			return fmt.Errorf("room %q: duplicate name", room.Name)
		}
		names[room.Name] = struct{}{}

		if room.RoomSize == 0 {
			room.RoomSize = DefaultRoomSize
		}
		if room.MinStar > room.MaxStar {
			return fmt.Errorf("room %q: min %g above max %g", room.Name, room.MinStar, room.MaxStar)
		}
		if room.BotMode == AutoPick && room.BeatmapsetFilename == "" {
			return fmt.Errorf("room %q: beatmapset_filename is required in AutoPick mode", room.Name)
		}
	}
	return nil
}

// ServerConfig carries process-level settings taken from MPHOST_*
// environment variables, optionally seeded from a .env file.
type ServerConfig struct {
	IRCAddr       string        `envconfig:"IRC_ADDR" default:"irc.ppy.sh:6667"`
	BeatmapsetDir string        `envconfig:"BEATMAPSET_DIR" default:"beatmapsets"`
	StatusAddr    string        `envconfig:"STATUS_ADDR" default:":8090"`
	LogDir        string        `envconfig:"LOG_DIR" default:"logs"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
	FetchCacheTTL time.Duration `envconfig:"FETCH_CACHE_TTL" default:"10m"`
}

// LoadServerConfig resolves the environment-backed settings.
func LoadServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := envconfig.Process("mphost", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	return cfg, nil
}
