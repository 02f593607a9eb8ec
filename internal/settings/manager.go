package settings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	json "github.com/goccy/go-json"

	"github.com/blueberrycongee/llmcore/pkg/types"
)

// Manager hot-reloads the on-disk Settings document (§6 "Persistent
// settings ... serializable to a single JSON document"). It mirrors the
// teacher's config.Manager: atomic.Pointer swap, a SHA-256 checksum of
// the loaded bytes, and an fsnotify watch debounced by 500ms.
type Manager struct {
	path string

	current atomic.Pointer[types.Settings]

	watcher     *fsnotify.Watcher
	onChange    []func(types.Settings)
	logger      *slog.Logger
	checksum    atomic.Value
	loadedAt    atomic.Value
	reloadCount atomic.Uint64
}

// Status is the admin-facing metadata about the active settings
// document.
type Status struct {
	Path        string    `json:"path"`
	Checksum    string    `json:"checksum"`
	LoadedAt    time.Time `json:"loaded_at"`
	ReloadCount uint64    `json:"reload_count"`
}

// NewManager loads path and returns a Manager seeded with its contents.
// A missing file yields Default(), matching the boundary's "best-effort,
// no schema requirement" contract.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{path: path, logger: logger}
	s, raw, err := loadFromFile(path)
	if err != nil {
		return nil, err
	}
	m.store(s, raw)
	return m, nil
}

// Get returns the currently active, normalized Settings.
func (m *Manager) Get() types.Settings {
	return *m.current.Load()
}

// OnChange registers a callback invoked after every successful reload.
func (m *Manager) OnChange(fn func(types.Settings)) {
	m.onChange = append(m.onChange, fn)
}

// Status reports checksum/load metadata for the admin status surface.
func (m *Manager) Status() Status {
	st := Status{Path: m.path, ReloadCount: m.reloadCount.Load()}
	if v, ok := m.checksum.Load().(string); ok {
		st.Checksum = v
	}
	if v, ok := m.loadedAt.Load().(time.Time); ok {
		st.LoadedAt = v
	}
	return st
}

// Watch starts an fsnotify watch on the settings file, reloading on
// write/create events after a 500ms debounce.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = w
	if err := w.Add(m.path); err != nil {
		_ = w.Close()
		return err
	}
	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	const debounce = 500 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			_ = m.watcher.Close()
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					if err := m.Reload(); err != nil {
						m.logger.Error("failed to reload settings, keeping current", "error", err)
					}
				})
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("settings watcher error", "error", err)
		}
	}
}

// Reload forces a reload from disk and notifies listeners on success.
func (m *Manager) Reload() error {
	s, raw, err := loadFromFile(m.path)
	if err != nil {
		return err
	}
	m.store(s, raw)
	m.logger.Info("settings reloaded successfully")
	for _, fn := range m.onChange {
		fn(s)
	}
	return nil
}

// Close stops the file watcher, if one was started.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) store(s types.Settings, raw []byte) {
	sum := sha256.Sum256(raw)
	m.current.Store(&s)
	m.checksum.Store(hex.EncodeToString(sum[:]))
	m.loadedAt.Store(time.Now().UTC())
	m.reloadCount.Add(1)
}

func loadFromFile(path string) (types.Settings, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			d := Default()
			encoded, marshalErr := json.Marshal(d)
			if marshalErr != nil {
				return d, nil, marshalErr
			}
			return d, encoded, nil
		}
		return types.Settings{}, nil, err
	}
	var s types.Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.Settings{}, nil, err
	}
	return Normalize(s), raw, nil
}

// SaveToFile persists s as the on-disk JSON document, normalizing first.
func SaveToFile(path string, s types.Settings) error {
	encoded, err := json.MarshalIndent(Normalize(s), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, encoded, 0o644)
}
