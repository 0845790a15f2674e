package featureflags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	m := NewManager("")
	assert.True(t, m.Enabled(LiveNotifications, 1))
	assert.True(t, m.Enabled(ReaderFeed, 1))
	assert.False(t, m.Enabled("unknown", 1))

	m = NewManager("reader_feed=off")
	assert.False(t, m.Enabled(ReaderFeed, 1))
	assert.True(t, m.Enabled(LiveNotifications, 1))
}

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	for _, name := range []string{"a", "c", "e"} {
		assert.True(t, m.Enabled(name, 1), name)
	}
	for _, name := range []string{"b", "d", "f"} {
		assert.False(t, m.Enabled(name, 1), name)
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,junk=x%")

	assert.True(t, m.Enabled("always", 1))
	assert.False(t, m.Enabled("never", 1))
	assert.False(t, m.Enabled("junk", 1))

	first := m.Enabled("canary", 42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.Enabled("canary", 42), "rollout is deterministic per user")
	}
	assert.False(t, m.Enabled("canary", 0), "percentage rollout requires a user")

	on := 0
	for id := uint(1); id <= 1000; id++ {
		if m.Enabled("canary", id) {
			on++
		}
	}
	assert.InDelta(t, 250, on, 80)
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,x=on, y = 20% ,z=off ")

	raw := m.Raw()
	assert.Len(t, raw, 3+len(Defaults))
	assert.Equal(t, "on", raw["x"])
	assert.Equal(t, "20%", raw["y"])
	assert.Equal(t, "off", raw["z"])

	snap := m.Snapshot(123)
	assert.Len(t, snap, 3+len(Defaults))
	assert.True(t, snap["x"])
	assert.False(t, snap["z"])
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.Enabled(ReaderFeed, 1))
}
