// Package settings keeps the user preferences of the app
// in a JSON file in the data directory.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/retroplay/retroplay/pkg/logger"
	ros "github.com/retroplay/retroplay/pkg/os"
)

type ScalingMode string

const (
	ScalingFit     ScalingMode = "fit"
	ScalingInteger ScalingMode = "integer"
	ScalingNearest ScalingMode = "nearest"
)

func (m ScalingMode) Valid() bool {
	return m == ScalingFit || m == ScalingInteger || m == ScalingNearest
}

type Settings struct {
	AudioEnabled bool        `json:"audioEnabled"`
	Volume       int         `json:"volume"`
	ScalingMode  ScalingMode `json:"scalingMode"`
}

func Defaults() Settings {
	return Settings{AudioEnabled: true, Volume: 70, ScalingMode: ScalingFit}
}

// Normalize clamps or resets the values out of their range.
func (s Settings) Normalize() Settings {
	s.Volume = min(max(s.Volume, 0), 100)
	if !s.ScalingMode.Valid() {
		s.ScalingMode = Defaults().ScalingMode
	}
	return s
}

// Manager holds the current settings and writes every change to the file.
type Manager struct {
	path string
	log  *logger.Logger

	mu        sync.RWMutex
	current   Settings
	listeners []func(Settings)
}

func NewManager(path string, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{path: path, log: log.Module("settings"), current: Defaults()}
}

// Load reads the settings file.
// A missing file gives the defaults, so do the missing or bad fields.
func (m *Manager) Load() (Settings, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		m.set(Defaults())
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	s := m.parse(data)
	m.set(s)
	return s, nil
}

// parse decodes each field on its own so a bad value resets only itself.
func (m *Manager) parse(data []byte) Settings {
	s := Defaults()
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		m.log.Warn().Err(err).Msg("malformed settings, using defaults")
		return s
	}
	fields := map[string]any{
		"audioEnabled": &s.AudioEnabled,
		"volume":       &s.Volume,
		"scalingMode":  &s.ScalingMode,
	}
	for key, dst := range fields {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, dst); err != nil {
			m.log.Warn().Str("key", key).Msg("bad settings value, using default")
			m.resetField(&s, key)
		}
	}
	return s.Normalize()
}

func (m *Manager) resetField(s *Settings, key string) {
	d := Defaults()
	switch key {
	case "audioEnabled":
		s.AudioEnabled = d.AudioEnabled
	case "volume":
		s.Volume = d.Volume
	case "scalingMode":
		s.ScalingMode = d.ScalingMode
	}
}

func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Save normalizes and writes the settings, the listeners are
// notified after the write.
func (m *Manager) Save(s Settings) (Settings, error) {
	s = s.Normalize()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return Settings{}, err
	}

	lock, err := ros.NewFileLock(m.path + ".lock")
	if err != nil {
		return Settings{}, err
	}
	if err = lock.Lock(); err != nil {
		return Settings{}, err
	}
	err = ros.WriteFileAtomic(m.path, data, 0644)
	err = errors.Join(err, lock.Unlock())
	if err != nil {
		return Settings{}, fmt.Errorf("write settings: %w", err)
	}

	m.set(s)
	m.mu.RLock()
	listeners := m.listeners
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(s)
	}
	m.log.Debug().Bool("audio", s.AudioEnabled).Int("volume", s.Volume).Str("scaling", string(s.ScalingMode)).Msg("saved")
	return s, nil
}

// Update changes the current settings with fn and saves them.
func (m *Manager) Update(fn func(*Settings)) (Settings, error) {
	s := m.Get()
	fn(&s)
	return m.Save(s)
}

// OnChange adds a callback for saved changes.
func (m *Manager) OnChange(fn func(Settings)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Manager) set(s Settings) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
}
