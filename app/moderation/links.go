package moderation

import (
	"strings"
)

// officialPrefixes are the platform's own invite-link domains.
var officialPrefixes = []string{
	"http://discord.gg",
	"https://discord.gg",
	"http://discordapp.com",
	"https://discordapp.com",
}

// redirectorPrefixes are third-party domains known to forward to an official
// link and therefore eligible for resolution.
var redirectorPrefixes = []string{
	"http://discord.plus",
	"https://discord.plus",
	"http://discord.me",
	"https://discord.me",
	"http://discord.st",
	"https://discord.st",
}

// IsOfficialLink reports whether the URL directly names an invite code on
// the platform's own domain.
func IsOfficialLink(url string) bool {
	return hasAnyPrefix(url, officialPrefixes)
}

// IsRedirectorLink reports whether the URL points at a whitelisted
// redirector. The discord.me bot-check pages are excluded: they never
// forward anywhere.
func IsRedirectorLink(url string) bool {
	if strings.HasPrefix(url, "http://discord.me/password/") ||
		strings.HasPrefix(url, "https://discord.me/password/") {
		return false
	}
	return hasAnyPrefix(url, redirectorPrefixes)
}

// IsCandidateLink reports whether the URL is worth inspecting at all. This
// does not fetch anything.
func IsCandidateLink(url string) bool {
	return IsOfficialLink(url) || IsRedirectorLink(url)
}

// IsBotCheckRedirector reports whether the URL belongs to a redirector that
// interposes a bot-check page, which gets its own reply template.
func IsBotCheckRedirector(url string) bool {
	return strings.HasPrefix(url, "http://discord.me") ||
		strings.HasPrefix(url, "https://discord.me")
}

// CodeFromOfficialLink extracts the invite code from an official link: the
// trailing path segment, skipping a trailing slash some redirectors append.
func CodeFromOfficialLink(link string) string {
	link = strings.TrimSuffix(link, "/")
	if idx := strings.LastIndex(link, "/"); idx >= 0 {
		return link[idx+1:]
	}
	return link
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
