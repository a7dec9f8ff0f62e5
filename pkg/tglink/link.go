// Package tglink normalizes Telegram group links and chat identifiers.
package tglink

import (
	"regexp"
	"strings"
)

var tmeRe = regexp.MustCompile(`t\.me/([^/?]+)`)

// Extract returns the username or chat ID embedded in a group link. It
// accepts https://t.me/name, t.me/name, @name, bare usernames, and numeric
// IDs. Anything unrecognized passes through unchanged.
func Extract(link string) string {
	link = strings.TrimSpace(link)

	if strings.Contains(link, "t.me/") {
		if m := tmeRe.FindStringSubmatch(link); m != nil {
			return m[1]
		}
	}

	if strings.HasPrefix(link, "@") {
		return link[1:]
	}

	return link
}

// NormalizeChatID converts a bare numeric group ID into the -100 prefixed
// form used for supergroups and channels. Usernames and already-prefixed IDs
// pass through unchanged.
func NormalizeChatID(id string) string {
	if strings.HasPrefix(id, "-100") {
		return id
	}
	if isDigits(id) {
		return "-100" + id
	}
	return id
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
