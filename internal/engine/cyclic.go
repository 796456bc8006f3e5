package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Recoverer runs pending alert recoveries once per cycle.
type Recoverer interface {
	RunRecoveries(ctx context.Context)
}

// Cyclic drives a set of plugins at a fixed frequency.
type Cyclic struct {
	frequency int
	plugins   []Plugin
	recoverer Recoverer
	logger    *slog.Logger
}

// NewCyclic creates a scheduler running frequency cycles per second.
// recoverer may be nil.
func NewCyclic(frequency int, recoverer Recoverer, logger *slog.Logger) *Cyclic {
	if frequency < 1 {
		frequency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cyclic{
		frequency: frequency,
		recoverer: recoverer,
		logger:    logger,
	}
}

func (c *Cyclic) AddPlugin(p Plugin) {
	c.plugins = append(c.plugins, p)
}

// Setup sets up every plugin in order. On failure the already set up plugins
// are torn down again.
func (c *Cyclic) Setup(ctx context.Context) error {
	for i, p := range c.plugins {
		if err := p.Setup(ctx); err != nil {
			c.tearDown(ctx, c.plugins[:i])
			return fmt.Errorf("setup of plugin %s failed: %w", p.Identifier(), err)
		}
	}
	return nil
}

// RunCycle updates every plugin once and then gives pending recoveries a
// chance to run.
func (c *Cyclic) RunCycle(ctx context.Context) {
	for _, p := range c.plugins {
		if err := p.Update(ctx); err != nil {
			c.logger.Error("plugin_update_failed",
				"plugin_id", p.Identifier(),
				"error", err.Error(),
			)
		}
	}
	if c.recoverer != nil {
		c.recoverer.RunRecoveries(ctx)
	}
}

// TearDown tears down every plugin.
func (c *Cyclic) TearDown(ctx context.Context) {
	c.tearDown(ctx, c.plugins)
}

// Run sets up, cycles until ctx is done, then tears down.
func (c *Cyclic) Run(ctx context.Context) error {
	if err := c.Setup(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Second / time.Duration(c.frequency))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// teardown must still reach the broker after ctx is cancelled
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.TearDown(stopCtx)
			cancel()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			c.RunCycle(ctx)
		}
	}
}

func (c *Cyclic) tearDown(ctx context.Context, plugins []Plugin) {
	for _, p := range plugins {
		if err := p.TearDown(ctx); err != nil {
			c.logger.Warn("plugin_teardown_failed",
				"plugin_id", p.Identifier(),
				"error", err.Error(),
			)
		}
	}
}

// CallbackPlugin runs a function against the engine state every cycle.
type CallbackPlugin struct {
	id    string
	state Mutator
	fn    func(m Mutator)
}

func NewCallbackPlugin(id string, state Mutator, fn func(m Mutator)) *CallbackPlugin {
	return &CallbackPlugin{id: id, state: state, fn: fn}
}

func (p *CallbackPlugin) Identifier() string { return p.id }

func (p *CallbackPlugin) Setup(context.Context) error { return nil }

func (p *CallbackPlugin) Update(context.Context) error {
	p.fn(p.state)
	return nil
}

func (p *CallbackPlugin) TearDown(context.Context) error { return nil }
