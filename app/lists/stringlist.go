// Package lists serves the moderator-maintained allow/deny list files.
package lists

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// StringList is a lazily reloaded view of a plain text list file: one entry
// per line, first comma-delimited field significant, blank lines ignored.
// The file is reread only when its modification time changes; there is no
// push notification from the moderators editing it. The pipeline is the only
// writer of the cache; the mutex exists for the ops API's read path.
type StringList struct {
	path string

	mu       sync.Mutex
	cached   []string
	modTime  time.Time
	loaded   bool
	warnOnce bool
}

func New(path string) *StringList {
	return &StringList{path: path}
}

// Fetch returns the current list, rereading the file if it changed on disk.
// A missing file yields an empty list: an absent denylist must not take the
// bot down.
func (l *StringList) Fetch() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			if !l.warnOnce {
				slog.Warn("List file missing, treating as empty", "path", l.path)
				l.warnOnce = true
			}
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat list file: %w", err)
	}

	if l.loaded && info.ModTime().Equal(l.modTime) {
		return l.cached, nil
	}

	entries, err := load(l.path)
	if err != nil {
		return nil, err
	}

	slog.Debug("List reloaded", "path", l.path, "entries", len(entries))
	l.cached = entries
	l.modTime = info.ModTime()
	l.loaded = true
	l.warnOnce = false

	return l.cached, nil
}

// Contains reports whether s is an entry of the current list.
func (l *StringList) Contains(s string) (bool, error) {
	entries, err := l.Fetch()
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry == s {
			return true, nil
		}
	}
	return false, nil
}

func load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read list file: %w", err)
	}

	var entries []string
	for _, line := range strings.Split(string(data), "\n") {
		entry, _, _ := strings.Cut(line, ",")
		entry = strings.TrimRight(entry, " \t\r")
		if entry != "" {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
