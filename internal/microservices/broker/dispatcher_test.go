package broker

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikarusms/internal/protocol"
)

func newDispatcher() (*Dispatcher, *Registry) {
	registry := NewRegistry(nil)
	return NewDispatcher(registry, NewMetrics(registry), nil), registry
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	m, err := protocol.UnmarshalMapping(s)
	require.NoError(t, err)
	return m
}

func TestDispatcher_MalformedRequests(t *testing.T) {
	d, _ := newDispatcher()

	assert.Equal(t, "-5", d.Handle(""))
	assert.Equal(t, "-5", d.Handle("lgim"))
	assert.Equal(t, "-5", d.Handle("hello world"))
}

func TestDispatcher_MasterLoginLogout(t *testing.T) {
	d, registry := newDispatcher()

	assert.Equal(t, "OK", d.Handle("lgim m1"))
	assert.Equal(t, "-1", d.Handle("lgim m1"))

	assert.Equal(t, "OK", d.Handle("lgom m1"))
	_, ok := registry.MasterState("m1")
	assert.False(t, ok)

	assert.Equal(t, "OK", d.Handle("lgom never-logged-in"))
	assert.Equal(t, "OK", d.Handle("lgim m1"))
}

func TestDispatcher_SlaveLoginLogout(t *testing.T) {
	d, registry := newDispatcher()

	assert.Equal(t, "OK", d.Handle(`lgis s1 "m1"`))
	assert.Equal(t, "-2", d.Handle(`lgis s1 "m1"`))
	assert.Equal(t, map[string]string{"s1": "m1"}, registry.Sessions().Slaves)

	assert.Equal(t, "OK", d.Handle("lgos s1"))
	assert.Empty(t, registry.Sessions().Slaves)
}

func TestDispatcher_SyncMasterReturnsPreviousState(t *testing.T) {
	d, registry := newDispatcher()
	require.Equal(t, "OK", d.Handle("lgim m1"))

	first := d.Handle(`syncm m1 {"c":{"p1":true}}`)
	assert.Equal(t, map[string]any{}, decode(t, first))

	second := d.Handle(`syncm m1 {"c":{"p2":true}}`)
	assert.Equal(t, map[string]any{"c": map[string]any{"p1": true}}, decode(t, second))

	state, _ := registry.MasterState("m1")
	assert.Equal(t, map[string]any{"c": map[string]any{"p2": true}}, state)
}

func TestDispatcher_SyncMasterWithoutPayloadStoresEmptyState(t *testing.T) {
	d, registry := newDispatcher()
	require.Equal(t, "OK", d.Handle("lgim m1"))
	d.Handle(`syncm m1 {"c":{"p1":true}}`)

	d.Handle("syncm m1")

	state, _ := registry.MasterState("m1")
	assert.Equal(t, map[string]any{}, state)

	d.Handle(`syncm m1 not-json`)
	state, _ = registry.MasterState("m1")
	assert.Equal(t, map[string]any{}, state)
}

func TestDispatcher_SyncMasterUnknown(t *testing.T) {
	d, _ := newDispatcher()
	assert.Equal(t, "-1", d.Handle(`syncm ghost {}`))
}

func TestDispatcher_SyncSlaveErrors(t *testing.T) {
	d, _ := newDispatcher()

	assert.Equal(t, "-1", d.Handle(`syncs unknownSlave {"c":{"x":true}}`))

	require.Equal(t, "OK", d.Handle(`lgis s1 "absent-master"`))
	assert.Equal(t, "-2", d.Handle(`syncs s1 {}`))

	require.Equal(t, "OK", d.Handle(`lgis s2 42`))
	assert.Equal(t, "-1", d.Handle(`syncs s2 {}`))
}

func TestDispatcher_SyncSlaveMergesIntoMaster(t *testing.T) {
	d, registry := newDispatcher()
	require.Equal(t, "OK", d.Handle("lgim my-master"))
	require.Equal(t, "OK", d.Handle(`lgis slave "my-master"`))
	d.Handle(`syncm my-master {"c":{"my-command":false}}`)

	resp := d.Handle(`syncs slave {"cc":["my-command"]}`)

	assert.Equal(t, map[string]any{"c": map[string]any{"my-command": false}}, decode(t, resp))
	state, _ := registry.MasterState("my-master")
	assert.Equal(t, map[string]any{
		"c":  map[string]any{"my-command": false},
		"cc": []any{"my-command"},
	}, state)

	// the master picks up the slave's report on its next sync
	next := d.Handle(`syncm my-master {}`)
	assert.Equal(t, []any{"my-command"}, decode(t, next)["cc"])
}

func TestDispatcher_SlaveMayLoginBeforeMaster(t *testing.T) {
	d, _ := newDispatcher()
	require.Equal(t, "OK", d.Handle(`lgis early "late-master"`))
	assert.Equal(t, "-2", d.Handle(`syncs early {}`))

	require.Equal(t, "OK", d.Handle("lgim late-master"))
	assert.Equal(t, "{}", d.Handle(`syncs early {}`))
}

func TestDispatcher_UnknownCommandsShareOneMetricLabel(t *testing.T) {
	registry := NewRegistry(nil)
	metrics := NewMetrics(registry)
	d := NewDispatcher(registry, metrics, nil)

	assert.Equal(t, "-5", d.Handle("foo x"))
	assert.Equal(t, "-5", d.Handle("bar y"))
	assert.Equal(t, "-5", d.Handle("baz z"))
	assert.Equal(t, "OK", d.Handle("lgim m1"))

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("unknown", resultMalformed)))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.requestsTotal))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.requestDuration))
}

func TestRegistry_MasterStateIsACopy(t *testing.T) {
	registry := NewRegistry(nil)
	require.True(t, registry.LoginMaster("m1"))
	_, err := registry.SyncMaster("m1", map[string]any{"c": map[string]any{"x": true}})
	require.NoError(t, err)

	state, ok := registry.MasterState("m1")
	require.True(t, ok)
	state["v"] = "tampered"
	delete(state, "c")

	again, _ := registry.MasterState("m1")
	assert.Equal(t, map[string]any{"c": map[string]any{"x": true}}, again)
}
