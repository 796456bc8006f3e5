package protocol

import (
	"fmt"
	"sort"
	"strconv"
)

// AlertSnapshot is the flattened form of an alert as it travels in a ChangeSet.
type AlertSnapshot struct {
	Class   string `json:"class"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Plugin  string `json:"plugin"` // affected plugin id, empty if none
	Time    int64  `json:"time"`   // unix seconds
}

// ChangeSet is an incremental diff of engine state. Every section is optional
// and an absent section means the same as an empty one.
type ChangeSet struct {
	Values          map[string]map[string]any `json:"v,omitempty"`  // domain -> key -> value
	Commands        map[string]any            `json:"c,omitempty"`  // command -> info
	ClearedCommands []string                  `json:"cc,omitempty"` // in capture order, duplicates kept
	Alerts          map[string]AlertSnapshot  `json:"a,omitempty"`  // alert id -> snapshot
	QuitAlerts      []string                  `json:"qa,omitempty"` // in capture order
}

// IsEmpty reports whether no section carries data.
func (c *ChangeSet) IsEmpty() bool {
	return c == nil || (len(c.Values) == 0 &&
		len(c.Commands) == 0 &&
		len(c.ClearedCommands) == 0 &&
		len(c.Alerts) == 0 &&
		len(c.QuitAlerts) == 0)
}

// SyncResponse is the decoded answer to syncm/syncs: either the other side's
// changes or one of the scalar codes.
type SyncResponse struct {
	Changes *ChangeSet
	Code    int // zero when Changes is set
}

// ParseSyncResponse decodes a sync response line. A null state decodes to an
// empty ChangeSet.
func ParseSyncResponse(line string) (*SyncResponse, error) {
	v, err := Unmarshal(line)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case nil:
		return &SyncResponse{Changes: &ChangeSet{}}, nil
	case map[string]any:
		return &SyncResponse{Changes: ChangeSetFromMapping(t)}, nil
	case []any:
		if len(t) == 0 {
			return &SyncResponse{Changes: &ChangeSet{}}, nil
		}
	case float64:
		return &SyncResponse{Code: int(t)}, nil
	}
	return nil, fmt.Errorf("unexpected sync response %q", line)
}

// ChangeSetFromMapping reads a ChangeSet out of a generic decoded mapping.
// The broker stores states as merged mappings, so sequences may arrive keyed
// by index and sections may hold stray values; whatever does not fit a
// section's shape is skipped.
func ChangeSetFromMapping(m map[string]any) *ChangeSet {
	cs := &ChangeSet{}

	if domains, ok := mappingOf(m["v"]); ok {
		for domain, raw := range domains {
			values, ok := mappingOf(raw)
			if !ok {
				continue
			}
			if cs.Values == nil {
				cs.Values = make(map[string]map[string]any)
			}
			cs.Values[domain] = values
		}
	}

	if commands, ok := mappingOf(m["c"]); ok && len(commands) > 0 {
		cs.Commands = commands
	}

	cs.ClearedCommands = stringsOf(m["cc"])
	cs.QuitAlerts = stringsOf(m["qa"])

	if alerts, ok := mappingOf(m["a"]); ok {
		for id, raw := range alerts {
			fields, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if cs.Alerts == nil {
				cs.Alerts = make(map[string]AlertSnapshot)
			}
			cs.Alerts[id] = AlertSnapshot{
				Class:   stringOf(fields["class"]),
				Code:    int(numberOf(fields["code"])),
				Message: stringOf(fields["message"]),
				Plugin:  stringOf(fields["plugin"]),
				Time:    int64(numberOf(fields["time"])),
			}
		}
	}
	return cs
}

// mappingOf returns a copy of a mapping or an index-keyed view of a sequence.
func mappingOf(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out, true
	case []any:
		out := make(map[string]any, len(t))
		for i, e := range t {
			out[strconv.Itoa(i)] = e
		}
		return out, true
	}
	return nil, false
}

// stringsOf flattens a sequence, or an index-keyed mapping in key order, into
// its string elements.
func stringsOf(v any) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, errA := strconv.Atoi(keys[i])
			b, errB := strconv.Atoi(keys[j])
			if errA == nil && errB == nil {
				return a < b
			}
			if errA == nil || errB == nil {
				return errA == nil
			}
			return keys[i] < keys[j]
		})
		for _, k := range keys {
			if s, ok := t[k].(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func numberOf(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	return 0
}
