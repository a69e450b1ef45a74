package bancho

import (
	"fmt"
	"strconv"
	"strings"
)

// Slot is one line of a "!mp settings" listing:
//
//	Slot <n> <status> <profile_url> <username>[ [role1 / role2, mod]]
//
// The status is two words ("Not Ready", "No Map") unless it is exactly
// "Ready". The bracketed tail is only a role list when every token is a
// known role; otherwise the brackets belong to the username, which some
// players legitimately carry.
type Slot struct {
	Number int
	Status string
	UserID int
	User   string
	Roles  []string
}

// ParseSlot parses a slot line into membership data. Lines too short to
// carry a profile URL and username are rejected.
func ParseSlot(body string) (Event, bool) {
	words := strings.Fields(body)
	if len(words) < 5 || words[0] != "Slot" {
		return nil, false
	}

	var status, url string
	var rest []string
	if words[2] == "Ready" {
		status, url, rest = words[2], words[3], words[4:]
	} else {
		if len(words) < 6 {
			return nil, false
		}
		status, url, rest = words[2]+" "+words[3], words[4], words[5:]
	}
	if len(rest) == 0 {
		return nil, false
	}

	user, roles := splitUserRoles(strings.Join(rest, " "))

	number, _ := strconv.Atoi(words[1])
	return Slot{
		Number: number,
		Status: status,
		UserID: mapIDFromURL(url),
		User:   NormalizeUsername(user),
		Roles:  roles,
	}, true
}

// splitUserRoles separates the trailing role brackets from the
// username. A bracketed tail with any token outside the role set stays
// part of the username.
func splitUserRoles(tail string) (user string, roles []string) {
	open := strings.LastIndex(tail, "[")
	if open < 1 || !strings.HasSuffix(tail, "]") {
		return tail, nil
	}

	// Bancho prints "Team Blue"; the role set is spaceless, so strip
	// spaces before splitting groups on "/" and mods on ",".
	packed := strings.ReplaceAll(tail[open+1:len(tail)-1], " ", "")
	groups := strings.Split(packed, "/")
	roles = append(roles, groups[:len(groups)-1]...)
	roles = append(roles, strings.Split(groups[len(groups)-1], ",")...)

	for _, role := range roles {
		if !IsRole(role) {
			return tail, nil
		}
	}
	return strings.TrimRight(tail[:open], " "), roles
}

// String renders the slot back into Bancho's listing shape.
func (s Slot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Slot %d %s https://osu.ppy.sh/u/%d %s", s.Number, s.Status, s.UserID, s.User)
	if len(s.Roles) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(s.Roles, " / "))
		b.WriteString("]")
	}
	return b.String()
}
