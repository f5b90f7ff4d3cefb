// Package config provides the dynamic ingest configuration for the web
// service: the set of accepted API keys and the default ingestion strategy.
//
// The configuration is a JSON file reloaded at runtime, so keys can be
// rotated without restarting the service.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// StrategyDirect parses each submitted line immediately and writes telemetry
// rows; StrategyQueue stores the payload verbatim for the batch processor.
const (
	StrategyDirect = "direct"
	StrategyQueue  = "queue"
)

// Manager loads and watches the ingest configuration file.
type Manager struct {
	path string

	mu       sync.RWMutex
	keys     map[string]struct{}
	strategy string
}

type configFile struct {
	APIKeys         []string `json:"apiKeys"`
	DefaultStrategy string   `json:"defaultStrategy"`
}

// New creates a new configuration manager for the given path.
// Call Load before use.
func New(path string) *Manager {
	return &Manager{
		path:     path,
		keys:     make(map[string]struct{}),
		strategy: StrategyDirect,
	}
}

// Load reads and applies the configuration file.
//
// On failure the previously loaded configuration stays in effect.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %v", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("config file %s is empty", m.path)
	}

	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %v", err)
	}

	strategy := cfg.DefaultStrategy
	if strategy == "" {
		strategy = StrategyDirect
	}
	if strategy != StrategyDirect && strategy != StrategyQueue {
		return fmt.Errorf("unknown default strategy %q", strategy)
	}

	keys := make(map[string]struct{}, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k == "" {
			continue
		}
		keys[k] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = keys
	m.strategy = strategy

	slog.Debug("Loaded ingest configuration", "keys", len(keys), "strategy", strategy)
	return nil
}

// IsValidKey checks a presented API key against the configured set by exact
// string equality. An empty configured set rejects everything.
func (m *Manager) IsValidKey(key string) bool {
	if key == "" {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[key]
	return ok
}

// DefaultStrategy returns the configured default ingestion strategy.
func (m *Manager) DefaultStrategy() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strategy
}

// Watch starts watching the configuration file for changes, reloading it when
// it is written or replaced.
//
// The returned event channel receives an empty struct after each successful
// reload; the error channel receives reload and watcher errors. Both close
// when ctx is canceled.
func (m *Manager) Watch(ctx context.Context) (<-chan struct{}, <-chan error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %v", err)
	}

	// Watch the directory: editors and config management tools typically
	// replace the file, which would drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to watch config directory: %v", err)
	}

	events := make(chan struct{}, 1)
	errs := make(chan error, 1)

	go func() {
		defer watcher.Close()
		defer close(events)
		defer close(errs)

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
					continue
				}

				if err := m.Load(); err != nil {
					slog.Warn("Failed to reload ingest configuration, keeping previous", "err", err)
					select {
					case errs <- err:
					default:
					}
					continue
				}

				slog.Info("Ingest configuration reloaded", "file", m.path)
				select {
				case events <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case errs <- err:
				default:
				}
			}
		}
	}()

	return events, errs, nil
}
