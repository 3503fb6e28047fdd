// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control interface using control package primitives.

package adapters

import (
	"github.com/momentics/kqreactor/api"
	"github.com/momentics/kqreactor/control"
)

type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
}

func NewControlAdapter() api.Control {
	return NewControlAdapterConcrete()
}

// NewControlAdapterConcrete is like NewControlAdapter but returns the
// concrete type so callers can reach Debug/Metrics directly (e.g. to
// wire an EventLoop's probe registry into the same adapter used for
// GetConfig/Stats).
func NewControlAdapterConcrete() *ControlAdapter {
	adapter := &ControlAdapter{
		config:  control.NewConfigStore(),
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
	}
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

// Debug exposes the underlying probe registry so an EventLoop can
// register its own probes under the same adapter a caller already
// uses for Stats/GetConfig.
func (c *ControlAdapter) Debug() *control.DebugProbes { return c.debug }

// Metrics exposes the underlying registry for the same reason as Debug.
func (c *ControlAdapter) Metrics() *control.MetricsRegistry { return c.metrics }

// Config exposes the underlying store so a caller can wire it into an
// EventLoop's hot-reload path (EventLoop.WireConfigStore).
func (c *ControlAdapter) Config() *control.ConfigStore { return c.config }

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}
func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	c.config.SetConfig(cfg)
	return nil
}
func (c *ControlAdapter) Stats() map[string]any {
	stats := c.metrics.GetSnapshot()
	debugStats := c.debug.DumpState()
	combined := make(map[string]any)
	for k, v := range stats {
		combined[k] = v
	}
	for k, v := range debugStats {
		combined["debug."+k] = v
	}
	return combined
}
func (c *ControlAdapter) OnReload(fn func()) {
	c.config.OnReload(fn)
	control.RegisterReloadHook(fn)
}
func (c *ControlAdapter) SetMetric(key string, value any) {
	c.metrics.Set(key, value)
}
func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}
