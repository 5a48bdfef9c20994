package config

import "sync/atomic"

// Holder provides lock-free access to the current Config and supports
// reloading it from disk, typically on SIGHUP. A failed reload keeps the
// previous config active.
type Holder struct {
	cur  atomic.Pointer[Config]
	path string
}

// NewHolder wraps an already-loaded config for later reloads from yamlPath.
func NewHolder(cfg *Config, yamlPath string) *Holder {
	h := &Holder{path: yamlPath}
	h.cur.Store(cfg)
	return h
}

// Get returns the current config. Callers must not mutate it.
func (h *Holder) Get() *Config {
	return h.cur.Load()
}

// Reload re-runs the defaults < YAML < ENV pipeline and swaps in the result.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return err
	}
	h.cur.Store(cfg)
	return nil
}
