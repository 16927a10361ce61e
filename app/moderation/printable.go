package moderation

import (
	"strings"
)

// Printable strips a string down to printable ASCII. Server names are
// attacker-controlled and routinely carry control characters and zalgo;
// everything that reaches logs, replies, or modmail goes through here first.
func Printable(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 0x20 && r < 0x7f {
			return r
		}
		return -1
	}, s)
}
