package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"hwbuttons/internal/buttons"
)

// ============================================================================
// Buttons Store
// ============================================================================
// The store is a small YAML document of namespaced device settings. The button
// set lives under the "hardwarebuttons" key:
//
//   hardwarebuttons:
//     timings: {short_press_ms: 500, double_click_interval_ms: 500, long_press_ms: 1000}
//     buttons:
//       - {id: btn_0, gpio_pin: 17, short_action: core_next_playlist}
//
// Writes are atomic (temp file + rename). External edits are picked up by an
// fsnotify watcher and re-applied.
// ============================================================================

const (
	bindingsKey        = "hardwarebuttons"
	storeWatchDebounce = 200 * time.Millisecond
)

// ButtonSettings is the value stored under bindingsKey.
type ButtonSettings struct {
	Timing  buttons.TimingConfig    `yaml:"timings" json:"timings"`
	Buttons []buttons.ButtonBinding `yaml:"buttons" json:"buttons"`
}

// ApplyFunc activates a validated button set and returns its generation.
type ApplyFunc func(timing buttons.TimingConfig, bindings []buttons.ButtonBinding) (uint64, error)

type StoreConfig struct {
	Path string

	// Apply is called after every successful save or reload.
	Apply ApplyFunc

	// Catalog lists the action ids known right now; used for save-time warnings only.
	Catalog func() []buttons.ActionInfo

	Logger *slog.Logger
}

// Store implements the Config/UpdateConfig half of buttons.DeviceState.
type Store struct {
	path    string
	apply   ApplyFunc
	catalog func() []buttons.ActionInfo
	logger  *slog.Logger

	mu       sync.Mutex
	doc      map[string]any
	lastData []byte
}

// NewStore returns an empty store bound to cfg.Path. Call Load to read the file.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:    filepath.Clean(ExpandPath(cfg.Path)),
		apply:   cfg.Apply,
		catalog: cfg.Catalog,
		logger:  logger,
		doc:     make(map[string]any),
	}
}

func (s *Store) Path() string { return s.path }

// Load reads the store file. A missing file yields an empty document.
func (s *Store) Load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.mu.Lock()
		s.doc = make(map[string]any)
		s.lastData = nil
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read buttons store: %w", err)
	}

	doc := make(map[string]any)
	if len(bytes.TrimSpace(b)) > 0 {
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return fmt.Errorf("decode buttons store %s: %w", s.path, err)
		}
	}

	s.mu.Lock()
	s.doc = doc
	s.lastData = b
	s.mu.Unlock()
	return nil
}

// Config returns the value stored under key.
func (s *Store) Config(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.doc[key]
	return v, ok
}

// UpdateConfig stores value under key and writes the file when persist is set.
func (s *Store) UpdateConfig(key string, value any, persist bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc[key] = value
	if !persist {
		return nil
	}
	return s.writeLocked()
}

func (s *Store) writeLocked() error {
	data, err := yaml.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("encode buttons store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace buttons store: %w", err)
	}
	s.lastData = data
	return nil
}

// Settings decodes the stored button set. Missing settings yield default timings and no buttons.
func (s *Store) Settings() (ButtonSettings, error) {
	settings := ButtonSettings{Timing: buttons.DefaultTiming()}
	raw, ok := s.Config(bindingsKey)
	if !ok || raw == nil {
		return settings, nil
	}
	// Values written by UpdateConfig are structs, values read from disk are maps;
	// a YAML round trip handles both.
	b, err := yaml.Marshal(raw)
	if err != nil {
		return settings, fmt.Errorf("encode %s: %w", bindingsKey, err)
	}
	if err := yaml.Unmarshal(b, &settings); err != nil {
		return settings, fmt.Errorf("decode %s: %w", bindingsKey, err)
	}
	return settings, nil
}

// SaveBindings validates settings, persists them and applies the result.
//
// Timings are clamped, ids are trimmed and defaulted to btn_<i>, bindings with a pin outside
// MinGPIOPin..MaxGPIOPin or a pin already taken by an earlier binding are dropped. Unknown
// action ids are kept and logged with the closest known id.
func (s *Store) SaveBindings(settings ButtonSettings) (uint64, error) {
	clean := s.sanitize(settings)
	if err := s.UpdateConfig(bindingsKey, clean, true); err != nil {
		return 0, err
	}
	s.logger.Info("button bindings saved", "path", s.path, "buttons", len(clean.Buttons))
	return s.applySettings(clean)
}

// Reload re-reads the file and applies its button set.
func (s *Store) Reload() (uint64, error) {
	if err := s.Load(); err != nil {
		return 0, err
	}
	settings, err := s.Settings()
	if err != nil {
		return 0, err
	}
	return s.applySettings(s.sanitize(settings))
}

func (s *Store) applySettings(settings ButtonSettings) (uint64, error) {
	if s.apply == nil {
		return 0, nil
	}
	gen, err := s.apply(settings.Timing, settings.Buttons)
	if err != nil {
		return 0, fmt.Errorf("apply bindings: %w", err)
	}
	return gen, nil
}

func (s *Store) sanitize(settings ButtonSettings) ButtonSettings {
	out := ButtonSettings{Timing: settings.Timing.Clamp()}

	var catalog []buttons.ActionInfo
	if s.catalog != nil {
		catalog = s.catalog()
	}

	used := make(map[int]string, len(settings.Buttons))
	for i, raw := range settings.Buttons {
		b := raw.Normalize(i)
		if b.GPIOPin < buttons.MinGPIOPin || b.GPIOPin > buttons.MaxGPIOPin {
			s.logger.Warn("button dropped: pin out of range", "binding", b.ID, "pin", b.GPIOPin)
			continue
		}
		if other, taken := used[b.GPIOPin]; taken {
			s.logger.Warn("button dropped: pin already bound", "binding", b.ID, "pin", b.GPIOPin, "bound_to", other)
			continue
		}
		used[b.GPIOPin] = b.ID

		if catalog != nil {
			for _, id := range b.Actions() {
				if id == buttons.ActionNone || buttons.KnownAction(id, catalog) {
					continue
				}
				s.logger.Warn("button bound to unknown action", "binding", b.ID, "action_id", id,
					"did_you_mean", buttons.Suggest(id, catalog))
			}
		}
		out.Buttons = append(out.Buttons, b)
	}
	return out
}

// Watch reloads the store when the file changes on disk until ctx is canceled.
// The parent directory is watched so that editors replacing the file are seen too.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create store watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.logger.Debug("watching buttons store", "path", s.path)

	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(storeWatchDebounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(storeWatchDebounce)
			}
			fire = debounce.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("buttons store watcher error", "error", err)

		case <-fire:
			fire = nil
			s.reloadIfChanged()
		}
	}
}

func (s *Store) reloadIfChanged() {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("buttons store reload failed", "path", s.path, "error", err)
		}
		return
	}
	s.mu.Lock()
	same := bytes.Equal(b, s.lastData)
	s.mu.Unlock()
	if same {
		return
	}

	gen, err := s.Reload()
	if err != nil {
		s.logger.Warn("buttons store reload failed", "path", s.path, "error", err)
		return
	}
	s.logger.Info("buttons store reloaded", "path", s.path, "generation", gen)
}
