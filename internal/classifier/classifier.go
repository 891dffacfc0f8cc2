// Package classifier finds the first token in a chat message that looks like
// a downloadable link. It is a cheap prefilter; yt-dlp decides what is real.
package classifier

import (
	"regexp"
	"strings"
)

// KnownHosts are platform host fragments that qualify a token on their own.
var KnownHosts = []string{
	"youtube.com",
	"youtu.be",
	"tiktok.com",
	"instagram.com",
	"facebook.com",
	"fb.watch",
	"twitter.com",
	"x.com",
	"threads.net",
	"reddit.com",
	"vimeo.com",
	"dailymotion.com",
	"twitch.tv",
	"soundcloud.com",
	"pinterest.com",
	"vk.com",
	"bilibili.com",
}

var (
	schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*://\S+`)
	domainRe = regexp.MustCompile(`(?i)^(?:[a-z0-9](?:[a-z0-9\-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}(?::\d+)?(?:[/?#]\S*)?$`)
)

// FindURL returns the first qualifying token of text, unmodified.
func FindURL(text string) (string, bool) {
	for _, token := range strings.Fields(text) {
		if IsCandidate(token) {
			return token, true
		}
	}
	return "", false
}

// IsCandidate reports whether a single whitespace-free token qualifies.
func IsCandidate(token string) bool {
	if token == "" {
		return false
	}
	lower := strings.ToLower(token)
	if strings.HasPrefix(lower, "www.") || schemeRe.MatchString(token) {
		return true
	}
	if domainRe.MatchString(token) {
		return true
	}
	for _, host := range KnownHosts {
		if strings.Contains(lower, host) {
			return true
		}
	}
	return false
}
