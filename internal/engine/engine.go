// Package engine holds the contracts between sync components and the control
// engine that hosts them, plus an in-memory engine used by the demo nodes and
// tests.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Mutator is the engine state a cycle reads and writes.
type Mutator interface {
	PutCommand(command string, info any)
	ClearCommand(command string)
	PutValue(value any, key, domain string)
	TriggerAlert(alert *Alert)
	QuitAlert(id string)
	HasCommand(command string) bool
}

// Notifier is the alert sink. An alert carrying a Recovery callback stays
// pending and the sink keeps invoking the callback until it returns nil, after
// which the alert is cleared.
type Notifier interface {
	TriggerAlert(alert *Alert)
	QuitAlert(id string)
}

// Plugin is driven by the cyclic scheduler: Setup once, Update every cycle,
// TearDown once on shutdown.
type Plugin interface {
	Identifier() string
	Setup(ctx context.Context) error
	Update(ctx context.Context) error
	TearDown(ctx context.Context) error
}

// Alert is a notification raised by a plugin.
type Alert struct {
	ID          string
	Class       string
	Code        int
	Message     string
	PluginID    string
	TriggeredAt time.Time

	// Recovery, when set, is retried by the sink until it succeeds.
	Recovery func(ctx context.Context) error
}

// NewAlert creates an alert with a fresh id.
func NewAlert(class string, code int, message, pluginID string) *Alert {
	return &Alert{
		ID:          uuid.NewString(),
		Class:       class,
		Code:        code,
		Message:     message,
		PluginID:    pluginID,
		TriggeredAt: time.Now(),
	}
}

// NewRecoveryAlert creates an alert whose recovery callback the sink retries.
func NewRecoveryAlert(code int, message, pluginID string, recovery func(ctx context.Context) error) *Alert {
	a := NewAlert("RecoveryAlert", code, message, pluginID)
	a.Recovery = recovery
	return a
}
