package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/leonardotrapani/sttbench/internal/logging"
)

// Manager holds the current configuration and reloads it when the file
// changes on disk. Invalid reloads keep the previous snapshot.
type Manager struct {
	path string
	log  zerolog.Logger

	mu       sync.RWMutex
	config   *Config
	onChange []func(*Config)

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewManager loads path. A missing file starts from the defaults.
func NewManager(path string) (*Manager, error) {
	log := logging.WithComponent("config")
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	config, err := LoadOrDefault(path)
	if err != nil {
		log.Error().Err(err).Msg("config: failed to load initial configuration")
		return nil, err
	}
	if err := config.Validate(); err != nil {
		log.Error().Err(err).Msg("config: initial configuration is invalid")
		return nil, err
	}

	return &Manager{path: path, log: log, config: config}, nil
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// shallow copy; callers must not mutate maps or slices
	configCopy := *m.config
	return &configCopy
}

// OnChange registers fn to run after each successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

func (m *Manager) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return err
	}

	m.wg.Add(1)
	go m.watchLoop(ctx)

	m.log.Info().Str("path", m.path).Msg("config: watching for changes")
	return nil
}

func (m *Manager) Stop() {
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
}

func (m *Manager) watchLoop(ctx context.Context) {
	defer m.wg.Done()
	configFileName := filepath.Base(m.path)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFileName {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				m.log.Debug().Str("file", event.Name).Msg("config: file change detected")
				m.Reload()
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn().Err(err).Msg("config: watcher error")

		case <-ctx.Done():
			return
		}
	}
}

// Reload re-reads the file and swaps the snapshot when it validates.
func (m *Manager) Reload() bool {
	newConfig, err := LoadFile(m.path)
	if err != nil {
		m.log.Warn().Err(err).Msg("config: failed to reload config")
		return false
	}
	if err := newConfig.Validate(); err != nil {
		m.log.Warn().Err(err).Msg("config: invalid config after reload")
		return false
	}

	m.mu.Lock()
	m.config = newConfig
	subs := append([]func(*Config){}, m.onChange...)
	m.mu.Unlock()

	m.log.Info().Msg("config: configuration reloaded")
	for _, fn := range subs {
		fn(newConfig)
	}
	return true
}
