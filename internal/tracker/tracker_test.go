package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikarusms/internal/engine"
	"ikarusms/internal/protocol"
)

func newTracker() (*Tracker, *engine.Memory) {
	mem := engine.NewMemory(0, nil)
	return New(mem), mem
}

func TestTracker_RecordsAndForwards(t *testing.T) {
	tr, mem := newTracker()

	tr.PutCommand("start", true)
	tr.PutValue(21.5, "t1", "temp")
	tr.ClearCommand("stop")

	assert.True(t, mem.HasCommand("start"))
	assert.True(t, tr.HasCommand("start"))
	v, ok := mem.Value("t1", "temp")
	require.True(t, ok)
	assert.Equal(t, 21.5, v)

	got := tr.FilteredChanges(DefaultFilter())
	assert.Equal(t, map[string]any{"start": true}, got.Commands)
	assert.Equal(t, map[string]map[string]any{"temp": {"t1": 21.5}}, got.Values)
	assert.Equal(t, []string{"stop"}, got.ClearedCommands)
}

func TestTracker_PutValueDeduplicates(t *testing.T) {
	tr, _ := newTracker()

	tr.PutValue(1, "k", "d")
	tr.PutValue(1, "k", "d")

	got := tr.FilteredChanges(DefaultFilter())
	assert.Equal(t, map[string]map[string]any{"d": {"k": 1}}, got.Values)
}

func TestTracker_PutValueKeepsLatestDistinctValue(t *testing.T) {
	tr, _ := newTracker()

	tr.PutValue(1, "k", "d")
	tr.PutValue(2, "k", "d")
	tr.PutValue(float64(2), "k", "d")

	got := tr.FilteredChanges(DefaultFilter())
	assert.Equal(t, 2, got.Values["d"]["k"])
}

func TestTracker_ClearCommandKeepsDuplicatesInOrder(t *testing.T) {
	tr, _ := newTracker()

	tr.ClearCommand("x")
	tr.ClearCommand("y")
	tr.ClearCommand("x")

	got := tr.FilteredChanges(DefaultFilter())
	assert.Equal(t, []string{"x", "y", "x"}, got.ClearedCommands)
}

func TestTracker_ApplyChangesDoesNotEcho(t *testing.T) {
	tr, mem := newTracker()
	tr.PutCommand("start", true)
	tr.PutValue(3, "k", "d")
	tr.ClearCommand("stop")
	tr.QuitAlert("a1")

	exported := tr.FilteredChanges(DefaultFilter())
	tr.Reset()

	tr.ApplyChanges(exported)

	assert.True(t, tr.FilteredChanges(DefaultFilter()).IsEmpty())
	assert.True(t, tr.Recording())
	assert.True(t, mem.HasCommand("start"))
}

func TestTracker_ApplyChangesReplaysSetBeforeClear(t *testing.T) {
	tr, mem := newTracker()

	tr.ApplyChanges(&protocol.ChangeSet{
		Commands:        map[string]any{"my-command": false, "other": true},
		ClearedCommands: []string{"my-command"},
	})

	assert.False(t, mem.HasCommand("my-command"))
	assert.True(t, mem.HasCommand("other"))
	assert.True(t, tr.FilteredChanges(DefaultFilter()).IsEmpty())
}

func TestTracker_ApplyChangesQuitsAlerts(t *testing.T) {
	tr, mem := newTracker()
	alert := engine.NewAlert("Alert", 5, "hot", "")
	mem.TriggerAlert(alert)

	tr.ApplyChanges(&protocol.ChangeSet{QuitAlerts: []string{alert.ID}})

	assert.Empty(t, mem.Alerts())
}

func TestTracker_AlertsRecordedButExportedOnlyOnRequest(t *testing.T) {
	tr, _ := newTracker()
	alert := engine.NewAlert("RecoveryAlert", 917, "Master lost", "slave")
	tr.TriggerAlert(alert)

	assert.Nil(t, tr.FilteredChanges(DefaultFilter()).Alerts)

	f := DefaultFilter()
	f.Alerts = true
	got := tr.FilteredChanges(f)
	assert.Equal(t, protocol.AlertSnapshot{
		Class:   "RecoveryAlert",
		Code:    917,
		Message: "Master lost",
		Plugin:  "slave",
		Time:    alert.TriggeredAt.Unix(),
	}, got.Alerts[alert.ID])
}

func TestTracker_FilteredChanges(t *testing.T) {
	tr, _ := newTracker()
	tr.PutValue(1, "a", "sensor/room1")
	tr.PutValue(2, "b", "sensor/room2")
	tr.PutValue(3, "c", "actuator")
	tr.PutCommand("pump.on", true)
	tr.PutCommand("light.on", true)
	tr.ClearCommand("pump.off")
	tr.QuitAlert("a1")

	got := tr.FilteredChanges(Filter{
		Domains:  []string{"sensor*"},
		Commands: []string{"pump.??"},
	})

	assert.Equal(t, map[string]map[string]any{
		"sensor/room1": {"a": 1},
		"sensor/room2": {"b": 2},
	}, got.Values)
	assert.Equal(t, map[string]any{"pump.on": true}, got.Commands)
	assert.Nil(t, got.ClearedCommands)
	assert.Nil(t, got.QuitAlerts)

	all := tr.FilteredChanges(DefaultFilter())
	assert.Len(t, all.Values, 3)
	assert.Len(t, all.Commands, 2)
	assert.Equal(t, []string{"pump.off"}, all.ClearedCommands)
	assert.Equal(t, []string{"a1"}, all.QuitAlerts)
}

func TestTracker_FilteredChangesLeavesAccumulator(t *testing.T) {
	tr, _ := newTracker()
	tr.PutCommand("start", true)

	first := tr.FilteredChanges(DefaultFilter())
	first.Commands["mutated"] = 1
	second := tr.FilteredChanges(DefaultFilter())

	assert.Equal(t, map[string]any{"start": true}, second.Commands)

	tr.Reset()
	assert.True(t, tr.FilteredChanges(DefaultFilter()).IsEmpty())
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*", "anything/at/all", true},
		{"temp?", "temp1", true},
		{"temp?", "temp12", false},
		{"room[12]", "room2", true},
		{"room[!12]", "room2", false},
		{"room[!12]", "room3", true},
		{"a.b", "aXb", false},
		{`star\*`, "star*", true},
		{`star\*`, "stars", false},
		{"[", "[", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, globMatch(tt.pattern, tt.name), "%q ~ %q", tt.pattern, tt.name)
	}
}
