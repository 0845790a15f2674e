// Package featureflags evaluates operator-set switches for optional client
// API surfaces.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// Known flags.
const (
	LiveNotifications = "live_notifications"
	ReaderFeed        = "reader_feed"
)

// Defaults apply when FEATURE_FLAGS does not mention a flag.
var Defaults = map[string]string{
	LiveNotifications: "on",
	ReaderFeed:        "on",
}

// Manager evaluates feature flags defined in a simple key=value list.
// Example: "reader_feed=on,live_notifications=25%"
type Manager struct {
	raw   map[string]string
	rules map[string]rule
}

// rule is a parsed flag value. pct is 0 for off and 100 for on.
type rule struct {
	pct     int
	rollout bool
}

func parseRule(value string) rule {
	switch value {
	case "on", "true", "1":
		return rule{pct: 100}
	case "off", "false", "0":
		return rule{}
	}
	n, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
	if err != nil || !strings.HasSuffix(value, "%") {
		return rule{}
	}
	return rule{pct: min(max(n, 0), 100), rollout: true}
}

// NewManager creates a manager from a comma-separated config string layered
// over Defaults. Unparseable values evaluate as off.
func NewManager(raw string) *Manager {
	m := &Manager{raw: make(map[string]string), rules: make(map[string]rule)}
	set := func(key, value string) {
		m.raw[key] = value
		m.rules[key] = parseRule(value)
	}
	for k, v := range Defaults {
		set(k, v)
	}

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		set(key, value)
	}
	return m
}

// Enabled reports whether name is on for userID. Percentage rollouts bucket
// users deterministically and are off for anonymous callers.
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}
	r, ok := m.rules[normalize(name)]
	switch {
	case !ok || r.pct == 0:
		return false
	case r.pct == 100:
		return true
	case userID == 0:
		return false
	}
	return rolloutBucket(name, userID) < r.pct
}

// Raw returns a copy of the configured values.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.raw))
	for k, v := range m.raw {
		out[k] = v
	}
	return out
}

// Snapshot evaluates every known flag for userID.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool, len(m.rules))
	for name := range m.rules {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s:%d", normalize(name), userID)
	return int(h.Sum32() % 100)
}
