package bancho

import (
	"strings"
)

// Kind classifies an inbound IRC line.
type Kind int

const (
	// KindUnknown marks lines outside the dialect this bot reacts to.
	KindUnknown Kind = iota
	// KindServer marks lines originating from the server itself.
	KindServer
	// KindPrivate marks user-to-user PRIVMSG lines.
	KindPrivate
	// KindRoom marks PRIVMSG lines addressed to a tournament room.
	KindRoom
)

func (k Kind) String() string {
	switch k {
	case KindServer:
		return "server"
	case KindPrivate:
		return "private"
	case KindRoom:
		return "room"
	}
	return "unknown"
}

// Message is one classified IRC line.
type Message struct {
	Kind   Kind
	Sender string // normalized nick, empty when not parseable
	Room   string // "#mp_<digits>" for KindRoom, empty otherwise
	Body   string // text after the first " :" separator
	Raw    string
}

// ParseMessage classifies a single complete line (terminator already
// stripped). It never fails: lines that match no known shape come back
// as KindUnknown with Raw set.
func ParseMessage(line string) Message {
	if strings.HasPrefix(line, ServerPrefix) {
		return Message{Kind: KindServer, Sender: "cho.ppy.sh", Raw: line}
	}

	if !strings.Contains(line, PRIVMSG) {
		return Message{Kind: KindUnknown, Raw: line}
	}

	// The prefix holds ":nick!user@host PRIVMSG target"; the body is
	// everything past the first " :" and may itself contain " :".
	prefix, body, found := strings.Cut(line, " :")
	if !found {
		return Message{Kind: KindUnknown, Raw: line}
	}

	msg := Message{Kind: KindPrivate, Sender: senderOf(prefix), Body: body, Raw: line}
	if strings.Contains(line, PRIVMSG+" "+RoomPrefix) {
		if id := roomOf(prefix); id != "" {
			msg.Kind = KindRoom
			msg.Room = id
		}
	}
	return msg
}

// senderOf extracts the nick between the leading ':' and the first '!'.
func senderOf(prefix string) string {
	if !strings.HasPrefix(prefix, ":") {
		return ""
	}
	bang := strings.Index(prefix, "!")
	if bang < 1 {
		return ""
	}
	return NormalizeUsername(prefix[1:bang])
}

// roomOf extracts the trailing "#mp_..." channel from the line prefix.
func roomOf(prefix string) string {
	idx := strings.LastIndex(prefix, RoomPrefix)
	if idx < 0 {
		return ""
	}
	return prefix[idx:]
}
