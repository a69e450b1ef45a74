package bancho

import (
	"regexp"
	"strconv"
	"strings"
)

// Event is one parsed BanchoBot room notification. The concrete types
// below form a closed set; consumers switch exhaustively over them.
type Event interface {
	event()
}

type (
	// UserJoined fires on "<name> joined in slot N.".
	UserJoined struct {
		User string
	}

	// UserLeft fires on "<name> left the game.".
	UserLeft struct {
		User string
	}

	// HostChanged fires on "<name> became the host.".
	HostChanged struct {
		User string
	}

	// MatchStarted fires on "The match has started!".
	MatchStarted struct{}

	// MatchFinished fires on "The match has finished!".
	MatchFinished struct{}

	// MatchReady fires on "All players are ready".
	MatchReady struct{}

	// BeatmapPicked fires when a user changes the map by hand.
	BeatmapPicked struct {
		Title   string
		Version string
		URL     string
		MapID   int
	}

	// BeatmapSet fires when Bancho confirms a map set with "!mp map".
	BeatmapSet struct {
		Title string
		URL   string
		MapID int
	}

	// PlayerCount fires on "Players: N", announcing the expected size
	// of the slot sweep that follows.
	PlayerCount struct {
		Count int
	}

	// MatchClosed fires on "Closed the match".
	MatchClosed struct{}
)

func (UserJoined) event()    {}
func (UserLeft) event()      {}
func (HostChanged) event()   {}
func (MatchStarted) event()  {}
func (MatchFinished) event() {}
func (MatchReady) event()    {}
func (BeatmapPicked) event() {}
func (BeatmapSet) event()    {}
func (PlayerCount) event()   {}
func (MatchClosed) event()   {}
func (Slot) event()          {}

// Canonical grammar of the notifications this bot reacts to. Each cue
// has a small parser below; ParseEvent tries them in table order.
var (
	// "Beatmap changed to: <title> [<version>] (<url>)"
	rePicked = regexp.MustCompile(`Beatmap.*?: (.*?) \[(.*?)\] \((.*?)\)`)

	// "Created the tournament match https://osu.ppy.sh/mp/<id> <name>"
	reCreated = regexp.MustCompile(`https://osu\.ppy\.sh/mp/(\d+) (.*)`)
)

const (
	cueJoined   = " joined in slot"
	cueLeft     = " left the game."
	cueHost     = " became the host."
	cueStarted  = "The match has started!"
	cueFinished = "The match has finished!"
	cueReady    = "All players are ready"
	cuePicked   = "Beatmap changed to: "
	cueSet      = "Changed beatmap to "
	cueSlot     = "Slot "
	cuePlayers  = "Players: "
	cueClosed   = "Closed the match"
	cueCreated  = "Created the tournament match"
)

// ParseEvent matches body against the notification grammar. The second
// return is false when body is not a known cue; such lines are dropped
// by the caller.
func ParseEvent(body string) (Event, bool) {
	switch {
	case strings.Contains(body, cueJoined):
		name, _, _ := strings.Cut(body, cueJoined)
		return UserJoined{User: NormalizeUsername(name)}, true

	case strings.HasSuffix(body, cueLeft):
		name := strings.TrimSuffix(body, cueLeft)
		return UserLeft{User: NormalizeUsername(name)}, true

	case strings.HasSuffix(body, cueHost):
		name := strings.TrimSuffix(body, cueHost)
		return HostChanged{User: NormalizeUsername(name)}, true

	case body == cueStarted:
		return MatchStarted{}, true

	case body == cueFinished:
		return MatchFinished{}, true

	case body == cueReady:
		return MatchReady{}, true

	case strings.HasPrefix(body, cuePicked):
		return parsePicked(body)

	case strings.HasPrefix(body, cueSet):
		return parseSet(body)

	case strings.HasPrefix(body, cueSlot):
		return ParseSlot(body)

	case strings.HasPrefix(body, cuePlayers):
		return parsePlayers(body)

	case body == cueClosed:
		return MatchClosed{}, true
	}
	return nil, false
}

func parsePicked(body string) (Event, bool) {
	m := rePicked.FindStringSubmatch(body)
	if m == nil {
		return nil, false
	}
	return BeatmapPicked{
		Title:   m[1],
		Version: m[2],
		URL:     m[3],
		MapID:   mapIDFromURL(m[3]),
	}, true
}

func parseSet(body string) (Event, bool) {
	words := strings.Fields(body)
	if len(words) < 4 {
		return nil, false
	}
	url := words[3]
	return BeatmapSet{
		Title: strings.Join(words[4:], " "),
		URL:   url,
		MapID: mapIDFromURL(url),
	}, true
}

func parsePlayers(body string) (Event, bool) {
	n, err := strconv.Atoi(body[strings.LastIndex(body, " ")+1:])
	if err != nil {
		return nil, false
	}
	return PlayerCount{Count: n}, true
}

// ParseMatchCreated parses the private notice BanchoBot sends after a
// "mp make" request. It returns the assigned room channel and the match
// name used to bind the room to its configuration.
func ParseMatchCreated(body string) (roomID, name string, ok bool) {
	if !strings.HasPrefix(body, cueCreated) {
		return "", "", false
	}
	m := reCreated.FindStringSubmatch(body)
	if m == nil {
		return "", "", false
	}
	return RoomPrefix + m[1], m[2], true
}

// mapIDFromURL pulls the numeric tail of a beatmap URL, 0 when absent.
func mapIDFromURL(url string) int {
	id, err := strconv.Atoi(url[strings.LastIndex(url, "/")+1:])
	if err != nil {
		return 0
	}
	return id
}
