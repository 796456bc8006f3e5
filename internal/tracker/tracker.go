// Package tracker records the changes a node makes to its engine state so they
// can be exported to the broker, and replays changes received from the broker
// without recording them again.
package tracker

import (
	"reflect"

	"ikarusms/internal/engine"
	"ikarusms/internal/protocol"
)

// Filter selects what FilteredChanges exports. Empty pattern lists export
// everything recorded in that section.
type Filter struct {
	Domains         []string // glob patterns over value domains
	Commands        []string // glob patterns over command names
	ClearedCommands bool
	QuitAlerts      bool
	Alerts          bool // alert snapshots are local-only unless set
}

// DefaultFilter exports values, commands, cleared commands and quit alerts.
func DefaultFilter() Filter {
	return Filter{ClearedCommands: true, QuitAlerts: true}
}

// Tracker wraps an engine.Mutator. While recording (the default) every
// mutation is forwarded and also accumulated into a ChangeSet.
//
// A Tracker is driven from the cycle goroutine and is not safe for concurrent
// use.
type Tracker struct {
	next      engine.Mutator
	recording bool
	changes   protocol.ChangeSet
}

func New(next engine.Mutator) *Tracker {
	return &Tracker{next: next, recording: true}
}

func (t *Tracker) PutCommand(command string, info any) {
	t.next.PutCommand(command, info)
	if !t.recording {
		return
	}
	if t.changes.Commands == nil {
		t.changes.Commands = make(map[string]any)
	}
	t.changes.Commands[command] = info
}

func (t *Tracker) ClearCommand(command string) {
	t.next.ClearCommand(command)
	if t.recording {
		t.changes.ClearedCommands = append(t.changes.ClearedCommands, command)
	}
}

// PutValue records the value only when it differs from the one already
// recorded for domain/key in this window.
func (t *Tracker) PutValue(value any, key, domain string) {
	t.next.PutValue(value, key, domain)
	if !t.recording {
		return
	}
	if prev, ok := t.changes.Values[domain][key]; ok && sameValue(prev, value) {
		return
	}
	if t.changes.Values == nil {
		t.changes.Values = make(map[string]map[string]any)
	}
	if t.changes.Values[domain] == nil {
		t.changes.Values[domain] = make(map[string]any)
	}
	t.changes.Values[domain][key] = value
}

func (t *Tracker) TriggerAlert(alert *engine.Alert) {
	t.next.TriggerAlert(alert)
	if !t.recording {
		return
	}
	if t.changes.Alerts == nil {
		t.changes.Alerts = make(map[string]protocol.AlertSnapshot)
	}
	t.changes.Alerts[alert.ID] = protocol.AlertSnapshot{
		Class:   alert.Class,
		Code:    alert.Code,
		Message: alert.Message,
		Plugin:  alert.PluginID,
		Time:    alert.TriggeredAt.Unix(),
	}
}

func (t *Tracker) QuitAlert(id string) {
	t.next.QuitAlert(id)
	if t.recording {
		t.changes.QuitAlerts = append(t.changes.QuitAlerts, id)
	}
}

func (t *Tracker) HasCommand(command string) bool {
	return t.next.HasCommand(command)
}

// ApplyChanges replays received changes into the engine without recording
// them. Sections replay in a fixed order: values, commands, cleared commands,
// quit alerts. Alerts are not replayed.
func (t *Tracker) ApplyChanges(cs *protocol.ChangeSet) {
	if cs == nil {
		return
	}
	t.recording = false
	defer func() { t.recording = true }()

	for domain, values := range cs.Values {
		for key, value := range values {
			t.PutValue(value, key, domain)
		}
	}
	for command, info := range cs.Commands {
		t.PutCommand(command, info)
	}
	for _, command := range cs.ClearedCommands {
		t.ClearCommand(command)
	}
	for _, id := range cs.QuitAlerts {
		t.QuitAlert(id)
	}
}

// FilteredChanges builds the export subset of the recorded changes. The
// accumulator itself is left untouched; see Reset.
func (t *Tracker) FilteredChanges(f Filter) *protocol.ChangeSet {
	out := &protocol.ChangeSet{}

	if f.ClearedCommands && len(t.changes.ClearedCommands) > 0 {
		out.ClearedCommands = append([]string(nil), t.changes.ClearedCommands...)
	}
	if f.QuitAlerts && len(t.changes.QuitAlerts) > 0 {
		out.QuitAlerts = append([]string(nil), t.changes.QuitAlerts...)
	}

	for domain, values := range t.changes.Values {
		if !matchAny(f.Domains, domain) {
			continue
		}
		if out.Values == nil {
			out.Values = make(map[string]map[string]any)
		}
		copied := make(map[string]any, len(values))
		for k, v := range values {
			copied[k] = v
		}
		out.Values[domain] = copied
	}

	for command, info := range t.changes.Commands {
		if !matchAny(f.Commands, command) {
			continue
		}
		if out.Commands == nil {
			out.Commands = make(map[string]any)
		}
		out.Commands[command] = info
	}

	if f.Alerts && len(t.changes.Alerts) > 0 {
		out.Alerts = make(map[string]protocol.AlertSnapshot, len(t.changes.Alerts))
		for id, a := range t.changes.Alerts {
			out.Alerts[id] = a
		}
	}
	return out
}

// Reset discards everything recorded so far.
func (t *Tracker) Reset() {
	t.changes = protocol.ChangeSet{}
}

// Recording reports whether mutations are currently recorded.
func (t *Tracker) Recording() bool {
	return t.recording
}

// sameValue compares loosely enough that a number decoded from the wire
// equals the integer that was recorded locally.
func sameValue(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
