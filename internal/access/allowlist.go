// Package access holds the optional static allow-list.
package access

import (
	"strconv"
	"strings"
)

// AllowList is built once at startup and only read afterwards. Entries are
// numeric Telegram user ids or usernames (with or without "@").
type AllowList struct {
	entries map[string]struct{}
}

func NewAllowList(entries []string) *AllowList {
	a := &AllowList{entries: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = normalize(e)
		if e == "" {
			continue
		}
		a.entries[e] = struct{}{}
	}
	return a
}

// Enabled is false when no entries were configured; everyone is allowed then.
func (a *AllowList) Enabled() bool {
	return a != nil && len(a.entries) > 0
}

func (a *AllowList) Allowed(userID int64, username string) bool {
	if !a.Enabled() {
		return true
	}
	if _, ok := a.entries[strconv.FormatInt(userID, 10)]; ok {
		return true
	}
	if u := normalize(username); u != "" {
		_, ok := a.entries[u]
		return ok
	}
	return false
}

func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.entries)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}
