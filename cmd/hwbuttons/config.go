package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hwbuttons/internal/buttons"
)

// Config is the top-level YAML configuration for the hwbuttons daemon.
//
// The binding set itself is not part of this file. It lives in the buttons store
// (ButtonsFile) so that it can be rewritten at runtime without touching the daemon config.
type Config struct {
	// Edge sources
	Input InputConfig `yaml:"input"`

	// YAML store holding the "hardwarebuttons" key and other persisted device settings
	ButtonsFile string `yaml:"buttons_file"`

	// Action execution
	Dispatcher DispatcherFileConfig `yaml:"dispatcher"`

	// IPC configuration (hwbuttons-ctl, host application)
	IPC IPCConfig `yaml:"ipc"`

	// HTTP server (event stream)
	HTTP HTTPConfig `yaml:"http"`

	// Host application integration (playlists, refresh requests)
	Host HostConfig `yaml:"host"`

	// Optional MQTT bridge
	MQTT MQTTConfig `yaml:"mqtt"`

	// Remote feature modules registered at startup
	Features []FeatureConfig `yaml:"features,omitempty"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type InputConfig struct {
	GPIO  GPIOConfig  `yaml:"gpio"`
	Evdev EvdevConfig `yaml:"evdev"`
}

// GPIOConfig selects the GPIO character device. Lines are the pins of the active bindings.
type GPIOConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Chip       string `yaml:"chip"`
	PullUp     bool   `yaml:"pull_up"`
	ActiveLow  bool   `yaml:"active_low"`
	DebounceMS int    `yaml:"debounce_ms"`
}

// EvdevConfig maps key codes of Linux input devices (gpio-keys overlays, keypads) to lines.
type EvdevConfig struct {
	Devices []string    `yaml:"devices,omitempty"`
	Keymap  map[int]int `yaml:"keymap,omitempty"` // key code -> line
}

type DispatcherFileConfig struct {
	CeilingSec int    `yaml:"ceiling_sec"`
	HomeDir    string `yaml:"home_dir,omitempty"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	// Port 0 disables the HTTP server.
	Port int `yaml:"port"`
}

type HostConfig struct {
	// UpdateURL receives resolved refresh requests as JSON. Empty records them locally only.
	UpdateURL      string           `yaml:"update_url,omitempty"`
	ServiceName    string           `yaml:"service_name"`
	Timezone       string           `yaml:"timezone,omitempty"`
	ActivePlaylist string           `yaml:"active_playlist,omitempty"`
	Playlists      []PlaylistConfig `yaml:"playlists,omitempty"`
}

type PlaylistConfig struct {
	Name string `yaml:"name"`

	// Optional daily window, "HH:MM" local time. End before start wraps past midnight.
	Start string `yaml:"start,omitempty"`
	End   string `yaml:"end,omitempty"`

	Instances []InstanceConfig `yaml:"instances"`
}

type InstanceConfig struct {
	OwnerID string `yaml:"owner_id"`
	Name    string `yaml:"name"`
}

type MQTTConfig struct {
	// Broker enables the bridge, e.g. "tcp://127.0.0.1:1883".
	Broker   string `yaml:"broker,omitempty"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Prefix   string `yaml:"prefix"`
}

// FeatureConfig declares a remote feature module and the actions it exposes.
// The same shape is accepted over IPC by register_remote_actions.
type FeatureConfig struct {
	OwnerID string               `yaml:"owner_id" json:"owner_id"`
	Anytime []RemoteActionConfig `yaml:"anytime,omitempty" json:"anytime,omitempty"`
	Display []RemoteEndpoint     `yaml:"display,omitempty" json:"display,omitempty"`
}

type RemoteActionConfig struct {
	Name           string `yaml:"name" json:"name"`
	Label          string `yaml:"label" json:"label"`
	RemoteEndpoint `yaml:",inline"`
}

// RemoteEndpoint is either an HTTP URL or an MQTT topic.
type RemoteEndpoint struct {
	URL   string `yaml:"url,omitempty" json:"url,omitempty"`
	Topic string `yaml:"topic,omitempty" json:"topic,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	defaultIPCSocketPath = "/tmp/hwbuttons.sock"
	defaultHTTPPort      = 3002
	defaultGPIOChip      = "gpiochip0"
	defaultCeilingSec    = int(buttons.DefaultCeiling / time.Second)
)

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Input: InputConfig{
			GPIO: GPIOConfig{
				Enabled:    true,
				Chip:       defaultGPIOChip,
				PullUp:     true,
				ActiveLow:  true,
				DebounceMS: 5,
			},
		},
		ButtonsFile: "~/.config/hwbuttons/buttons.yaml",
		Dispatcher: DispatcherFileConfig{
			CeilingSec: defaultCeilingSec,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		HTTP: HTTPConfig{
			Port: defaultHTTPPort,
		},
		Host: HostConfig{
			ServiceName: appName,
		},
		MQTT: MQTTConfig{
			ClientID: appName,
			Prefix:   appName,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
// Unknown fields are rejected to catch typos.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries flag values on top of a loaded config.
// A nil pointer means the flag was not set; a non-nil pointer is applied even if it is a zero value.
type FlagOverrides struct {
	ButtonsFile *string

	GPIOEnabled  *bool
	GPIOChip     *string
	EvdevDevices *string // comma separated

	CeilingSec *int
	HomeDir    *string

	IPCSocketPath *string
	HTTPPort      *int

	HostUpdateURL *string
	MQTTBroker    *string

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.ButtonsFile != nil {
		cfg.ButtonsFile = *o.ButtonsFile
	}

	if o.GPIOEnabled != nil {
		cfg.Input.GPIO.Enabled = *o.GPIOEnabled
	}
	if o.GPIOChip != nil {
		cfg.Input.GPIO.Chip = *o.GPIOChip
	}
	if o.EvdevDevices != nil {
		cfg.Input.Evdev.Devices = splitList(*o.EvdevDevices)
	}

	if o.CeilingSec != nil {
		cfg.Dispatcher.CeilingSec = *o.CeilingSec
	}
	if o.HomeDir != nil {
		cfg.Dispatcher.HomeDir = *o.HomeDir
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}

	if o.HostUpdateURL != nil {
		cfg.Host.UpdateURL = *o.HostUpdateURL
	}
	if o.MQTTBroker != nil {
		cfg.MQTT.Broker = *o.MQTTBroker
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Input
	if c.Input.GPIO.Enabled && c.Input.GPIO.Chip == "" {
		return errors.New("input.gpio.chip must not be empty when input.gpio.enabled is true")
	}
	if c.Input.GPIO.DebounceMS < 0 {
		return errors.New("input.gpio.debounce_ms must be >= 0")
	}
	for i, dev := range c.Input.Evdev.Devices {
		if dev == "" {
			return fmt.Errorf("input.evdev.devices[%d] is empty", i)
		}
	}
	if len(c.Input.Evdev.Devices) > 0 && len(c.Input.Evdev.Keymap) == 0 {
		return errors.New("input.evdev.keymap must not be empty when input.evdev.devices is set")
	}
	for code, line := range c.Input.Evdev.Keymap {
		if code < 0 || code > 0xffff {
			return fmt.Errorf("input.evdev.keymap: invalid key code %d", code)
		}
		if line < buttons.MinGPIOPin || line > buttons.MaxGPIOPin {
			return fmt.Errorf("input.evdev.keymap[%d]: line %d outside %d..%d", code, line, buttons.MinGPIOPin, buttons.MaxGPIOPin)
		}
	}

	if c.ButtonsFile == "" {
		return errors.New("buttons_file must not be empty")
	}

	// Dispatcher
	if c.Dispatcher.CeilingSec < 0 {
		return errors.New("dispatcher.ceiling_sec must be >= 0")
	}

	// IPC / HTTP
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535")
	}

	// Host
	if c.Host.UpdateURL != "" {
		if err := checkHTTPURL(c.Host.UpdateURL); err != nil {
			return fmt.Errorf("host.update_url: %w", err)
		}
	}
	if c.Host.Timezone != "" {
		if _, err := time.LoadLocation(c.Host.Timezone); err != nil {
			return fmt.Errorf("host.timezone: %w", err)
		}
	}
	names := make(map[string]struct{}, len(c.Host.Playlists))
	for i, pl := range c.Host.Playlists {
		if pl.Name == "" {
			return fmt.Errorf("host.playlists[%d].name must not be empty", i)
		}
		if _, dup := names[pl.Name]; dup {
			return fmt.Errorf("host.playlists: duplicate name %q", pl.Name)
		}
		names[pl.Name] = struct{}{}
		if (pl.Start == "") != (pl.End == "") {
			return fmt.Errorf("host.playlists[%d]: start and end must be set together", i)
		}
		if pl.Start != "" {
			if _, err := parseClock(pl.Start); err != nil {
				return fmt.Errorf("host.playlists[%d].start: %w", i, err)
			}
			if _, err := parseClock(pl.End); err != nil {
				return fmt.Errorf("host.playlists[%d].end: %w", i, err)
			}
		}
		for j, inst := range pl.Instances {
			if inst.OwnerID == "" || inst.Name == "" {
				return fmt.Errorf("host.playlists[%d].instances[%d]: owner_id and name are required", i, j)
			}
		}
	}
	if c.Host.ActivePlaylist != "" {
		if _, ok := names[c.Host.ActivePlaylist]; !ok {
			return fmt.Errorf("host.active_playlist %q is not a configured playlist", c.Host.ActivePlaylist)
		}
	}

	// MQTT
	if c.MQTT.Broker != "" && c.MQTT.Prefix == "" {
		return errors.New("mqtt.prefix must not be empty when mqtt.broker is set")
	}

	// Features
	for i, f := range c.Features {
		if err := f.validate(c.MQTT.Broker != ""); err != nil {
			return fmt.Errorf("features[%d]: %w", i, err)
		}
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

func (f FeatureConfig) validate(mqttEnabled bool) error {
	if strings.TrimSpace(f.OwnerID) == "" {
		return buttons.ErrInvalidOwner
	}
	for _, a := range f.Anytime {
		if a.Name == "" || a.Label == "" {
			return fmt.Errorf("anytime action %q: name and label are required", a.Name)
		}
		if err := a.RemoteEndpoint.validate(mqttEnabled); err != nil {
			return fmt.Errorf("anytime action %q: %w", a.Name, err)
		}
	}
	if len(f.Display) > buttons.MaxDisplayActions {
		return fmt.Errorf("at most %d display actions are allowed", buttons.MaxDisplayActions)
	}
	for i, ep := range f.Display {
		if err := ep.validate(mqttEnabled); err != nil {
			return fmt.Errorf("display[%d]: %w", i, err)
		}
	}
	return nil
}

func (e RemoteEndpoint) validate(mqttEnabled bool) error {
	switch {
	case e.URL != "" && e.Topic != "":
		return errors.New("url and topic are mutually exclusive")
	case e.URL != "":
		return checkHTTPURL(e.URL)
	case e.Topic != "":
		if !mqttEnabled {
			return errors.New("topic transport requires mqtt.broker")
		}
		return nil
	default:
		return errors.New("url or topic is required")
	}
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
