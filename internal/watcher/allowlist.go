package watcher

import "strings"

// AllowList decides which actors may task the bot. An empty list admits
// everyone. Normalization happens once at construction so the membership
// test and the stored list can never drift apart.
type AllowList struct {
	users         map[string]struct{}
	caseSensitive bool
}

// NewAllowList builds the gate from configured logins. When caseSensitive is
// false (the default deployment), logins are lowercased once here and
// incoming actors are lowercased in Allows.
func NewAllowList(users []string, caseSensitive bool) *AllowList {
	a := &AllowList{
		users:         make(map[string]struct{}, len(users)),
		caseSensitive: caseSensitive,
	}
	for _, user := range users {
		user = strings.TrimSpace(user)
		if user == "" {
			continue
		}
		if !caseSensitive {
			user = strings.ToLower(user)
		}
		a.users[user] = struct{}{}
	}
	return a
}

// Allows reports whether actor may issue instructions.
func (a *AllowList) Allows(actor string) bool {
	if len(a.users) == 0 {
		return true
	}
	if !a.caseSensitive {
		actor = strings.ToLower(actor)
	}
	_, ok := a.users[actor]
	return ok
}

// Len returns the number of configured identities.
func (a *AllowList) Len() int {
	return len(a.users)
}
