package mphost

import (
	"fmt"
	"strings"
)

// HandleCommand reacts to a chat line from a player. Unknown input is
// ignored; rooms are noisy.
func (r *Room) HandleCommand(sender, body string) {
	switch {
	case strings.HasPrefix(body, "!start"):
		r.cmdStart(body)
	case body == "!stop":
		r.say("!mp aborttimer")
	case body == "!users":
		r.say("Users: " + strings.Join(r.users, ", "))
	case body == "!queue":
		r.say("Queue: " + r.queue())
	case body == "!skip":
		r.voteSkip(sender)
	case body == "!info":
		if r.cfg.BotMode == AutoPick {
			r.say(fmt.Sprintf("NoHost | %g -> %g | Commands: start <seconds>, stop, queue, skip",
				r.cfg.MinStar, r.cfg.MaxStar))
		}
	}
}

// cmdStart accepts "!start" for an immediate start and "!start <N>" for
// a countdown of N seconds. Anything else after the verb is ignored.
func (r *Room) cmdStart(body string) {
	arg := strings.TrimSpace(strings.TrimPrefix(body, "!start"))
	if arg == "" {
		r.say("!mp start")
		return
	}
	if isDigits(arg) {
		r.say("!mp start " + arg)
	}
}

// commandName reports which known command a chat line invokes, empty
// for ordinary chat. Used for counting; only known names become metric
// labels.
func commandName(body string) string {
	switch {
	case strings.HasPrefix(body, "!start"):
		return "start"
	case body == "!stop":
		return "stop"
	case body == "!users":
		return "users"
	case body == "!queue":
		return "queue"
	case body == "!skip":
		return "skip"
	case body == "!info":
		return "info"
	}
	return ""
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
