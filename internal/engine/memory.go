package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Memory is an in-memory engine state and alert sink.
type Memory struct {
	mu       sync.RWMutex
	commands map[string]any
	values   map[string]map[string]any // domain -> key -> value
	alerts   map[string]*Alert

	// paces recovery attempts independently of the cycle frequency
	recoveryLimiter *rate.Limiter
	logger          *slog.Logger
}

// NewMemory creates an empty engine. Pending recovery callbacks run at most
// once per recoveryInterval; zero runs them every cycle.
func NewMemory(recoveryInterval time.Duration, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if recoveryInterval > 0 {
		limit = rate.Every(recoveryInterval)
	}
	return &Memory{
		commands:        make(map[string]any),
		values:          make(map[string]map[string]any),
		alerts:          make(map[string]*Alert),
		recoveryLimiter: rate.NewLimiter(limit, 1),
		logger:          logger,
	}
}

func (m *Memory) PutCommand(command string, info any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[command] = info
}

// ClearCommand removes one command; an empty name clears all of them.
func (m *Memory) ClearCommand(command string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if command == "" {
		m.commands = make(map[string]any)
		return
	}
	delete(m.commands, command)
}

func (m *Memory) HasCommand(command string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.commands[command]
	return ok
}

// Command returns the info stored with a command.
func (m *Memory) Command(command string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.commands[command]
	return info, ok
}

func (m *Memory) PutValue(value any, key, domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	values, ok := m.values[domain]
	if !ok {
		values = make(map[string]any)
		m.values[domain] = values
	}
	values[key] = value
}

// Value returns the value stored under domain/key.
func (m *Memory) Value(key, domain string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[domain][key]
	return v, ok
}

func (m *Memory) TriggerAlert(alert *Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[alert.ID] = alert
	m.logger.Warn("alert_triggered",
		"alert_id", alert.ID,
		"code", alert.Code,
		"message", alert.Message,
		"plugin_id", alert.PluginID,
	)
}

func (m *Memory) QuitAlert(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[id]; ok {
		delete(m.alerts, id)
		m.logger.Info("alert_quit", "alert_id", id)
	}
}

// Alerts returns the open alerts, oldest first.
func (m *Memory) Alerts() []*Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TriggeredAt.Before(out[j].TriggeredAt)
	})
	return out
}

// RunRecoveries invokes the recovery callback of every pending alert. A
// successful callback clears its alert; a failing one leaves it pending for
// the next attempt.
func (m *Memory) RunRecoveries(ctx context.Context) {
	if !m.recoveryLimiter.Allow() {
		return
	}

	var pending []*Alert
	for _, a := range m.Alerts() {
		if a.Recovery != nil {
			pending = append(pending, a)
		}
	}

	for _, a := range pending {
		if err := a.Recovery(ctx); err != nil {
			m.logger.Warn("alert_recovery_failed",
				"alert_id", a.ID,
				"code", a.Code,
				"error", err.Error(),
			)
			continue
		}
		m.logger.Info("alert_recovered", "alert_id", a.ID, "code", a.Code)
		m.QuitAlert(a.ID)
	}
}
