// Package config handles configuration parsing and hot reloading.
package config

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aalis/tg-parse/internal/logger"
)

// ConfigWatcher watches a configuration file for changes and notifies
// callbacks.
type ConfigWatcher struct {
	path      string
	current   atomic.Value // *Config
	watcher   *fsnotify.Watcher
	callbacks []func(*Config)
	stopCh    chan struct{}
	mu        sync.RWMutex
}

// NewConfigWatcher creates a new ConfigWatcher for the given config file path.
func NewConfigWatcher(path string, initial *Config) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	cw := &ConfigWatcher{
		path:    path,
		watcher: watcher,
		stopCh:  make(chan struct{}),
	}
	cw.current.Store(initial)

	return cw, nil
}

// Start begins watching the configuration file for changes.
func (w *ConfigWatcher) Start() error {
	if err := w.watcher.Add(w.path); err != nil {
		return err
	}

	go w.watchLoop()
	logger.Info("config_watcher_started", "path", w.path)
	return nil
}

// Stop stops the configuration watcher.
func (w *ConfigWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	logger.Info("config_watcher_stopped")
}

// Current returns the current configuration.
func (w *ConfigWatcher) Current() *Config {
	return w.current.Load().(*Config)
}

// RegisterCallback adds a callback to be called when configuration changes.
func (w *ConfigWatcher) RegisterCallback(fn func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Reload manually reloads the configuration file.
func (w *ConfigWatcher) Reload() error {
	return w.reload()
}

// watchLoop watches for file changes with debouncing.
func (w *ConfigWatcher) watchLoop() {
	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// Only react to write and create events
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Debounce: reset timer on each event
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := w.reload(); err != nil {
						logger.Error("config_reload_failed", "error", err)
					}
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("config_watcher_error", "error", err)

		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

// reload loads the configuration from file and notifies callbacks.
func (w *ConfigWatcher) reload() error {
	newCfg, err := LoadFromFile(w.path)
	if err != nil {
		return err
	}

	// Validate the new configuration (only reloadable fields matter)
	if err := w.validateReloadable(newCfg); err != nil {
		return err
	}

	oldCfg := w.Current()
	w.current.Store(newCfg)

	w.logChanges(oldCfg, newCfg)

	// Notify callbacks
	w.mu.RLock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		cb(newCfg)
	}

	logger.Info("config_reloaded", "path", w.path)
	return nil
}

// validateReloadable validates only the hot-reloadable configuration fields.
func (w *ConfigWatcher) validateReloadable(cfg *Config) error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.LogLevel] {
		return &ValidationError{Field: "log_level", Message: "must be trace, debug, info, warn, or error"}
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		return &ValidationError{Field: "log_format", Message: "must be json or text"}
	}

	if cfg.FailureThreshold < 1 {
		return &ValidationError{Field: "failure_threshold", Message: "must be at least 1"}
	}
	if cfg.Cooldown <= 0 {
		return &ValidationError{Field: "cooldown", Message: "must be positive"}
	}
	if cfg.StalenessCap <= 0 {
		return &ValidationError{Field: "staleness_cap", Message: "must be positive"}
	}

	return nil
}

// logChanges logs which configuration values changed.
func (w *ConfigWatcher) logChanges(old, updated *Config) {
	if old.LogLevel != updated.LogLevel {
		logger.Info("config_changed", "field", "log_level", "old", old.LogLevel, "new", updated.LogLevel)
	}
	if old.LogFormat != updated.LogFormat {
		logger.Info("config_changed", "field", "log_format", "old", old.LogFormat, "new", updated.LogFormat)
	}
	if old.FailureThreshold != updated.FailureThreshold {
		logger.Info("config_changed", "field", "failure_threshold", "old", old.FailureThreshold, "new", updated.FailureThreshold)
	}
	if old.Cooldown != updated.Cooldown {
		logger.Info("config_changed", "field", "cooldown", "old", old.Cooldown, "new", updated.Cooldown)
	}
	if old.StalenessCap != updated.StalenessCap {
		logger.Info("config_changed", "field", "staleness_cap", "old", old.StalenessCap, "new", updated.StalenessCap)
	}

	// The credential set is fixed for the process lifetime
	if len(old.Tokens) != len(updated.Tokens) {
		logger.Warn("config_tokens_change_ignored", "reason", "credential set is fixed until restart")
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
