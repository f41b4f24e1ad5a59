package access

import "strings"

// Gate decides whether a chat identity may use the bot. The allowlist
// is fixed at construction; there is no ambient configuration.
type Gate struct {
	allowAll  bool
	usernames map[string]struct{}
	userIDs   map[int64]struct{}
}

// New builds a gate from an allow-all override plus username and
// numeric-id allowlists. Username matching is case-insensitive.
func New(allowAll bool, usernames []string, userIDs []int64) *Gate {
	g := &Gate{
		allowAll:  allowAll,
		usernames: make(map[string]struct{}, len(usernames)),
		userIDs:   make(map[int64]struct{}, len(userIDs)),
	}
	for _, u := range usernames {
		g.usernames[strings.ToLower(u)] = struct{}{}
	}
	for _, id := range userIDs {
		g.userIDs[id] = struct{}{}
	}
	return g
}

// Allowed reports whether the identity may use the system.
func (g *Gate) Allowed(userID int64, username string) bool {
	if g.allowAll {
		return true
	}
	if _, ok := g.usernames[strings.ToLower(username)]; ok {
		return true
	}
	_, ok := g.userIDs[userID]
	return ok
}
