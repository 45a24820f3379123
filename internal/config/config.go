package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"el133/internal/epd"
)

// Transport names accepted by the transport key.
const (
	TransportPeriph = "periph"
	TransportFTDI   = "ftdi"
	TransportFake   = "fake"
)

// SPIConfig selects the serial bus.
type SPIConfig struct {
	// Port is the spireg port name; empty means the first SPI port.
	Port string `yaml:"port" json:"port"`
	// SpeedHz is the bus clock. Zero selects 10MHz.
	SpeedHz int64 `yaml:"speed_hz" json:"speed_hz"`
	// ChunkSize bounds a single SPI transfer. The driver further clamps it
	// to whatever the bus reports as its maximum.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
}

// PinsConfig maps the panel's control lines to GPIO names.
type PinsConfig struct {
	CS0   string `yaml:"cs0" json:"cs0"`
	CS1   string `yaml:"cs1" json:"cs1"`
	DC    string `yaml:"dc" json:"dc"`
	Reset string `yaml:"reset" json:"reset"`
	Busy  string `yaml:"busy" json:"busy"`
}

// TimingConfig overrides protocol delays. Zero keeps the driver default.
type TimingConfig struct {
	CommandDelayMS int `yaml:"command_delay_ms" json:"command_delay_ms"`
	ResetMS        int `yaml:"reset_ms" json:"reset_ms"`
	PollMS         int `yaml:"poll_ms" json:"poll_ms"`
}

// CommandDelay returns the command settle delay, or 0 when unset.
func (t TimingConfig) CommandDelay() time.Duration {
	return time.Duration(t.CommandDelayMS) * time.Millisecond
}

// ResetDelay returns the reset pulse width, or 0 when unset.
func (t TimingConfig) ResetDelay() time.Duration {
	return time.Duration(t.ResetMS) * time.Millisecond
}

// PollInterval returns the busy poll interval, or 0 when unset.
func (t TimingConfig) PollInterval() time.Duration {
	return time.Duration(t.PollMS) * time.Millisecond
}

// SourceConfig describes where scheduled and -once refreshes get a frame.
// CaptureURL wins over ImagePath when both are set.
type SourceConfig struct {
	ImagePath  string `yaml:"image_path" json:"image_path"`
	CaptureURL string `yaml:"capture_url" json:"capture_url"`
	// Fit resizes images that are not exactly panel sized.
	Fit bool `yaml:"fit" json:"fit"`
	// WaitReady makes captures wait for the page to expose
	// data-ready="true" before the screenshot.
	WaitReady bool `yaml:"wait_ready" json:"wait_ready"`
}

// Empty reports whether no source is configured.
func (s SourceConfig) Empty() bool {
	return s.ImagePath == "" && s.CaptureURL == ""
}

// BatteryConfig enables the UPS board reader. Disabled by default.
type BatteryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// I2CBus is the periph i2creg name; empty means the first bus.
	I2CBus string `yaml:"i2c_bus" json:"i2c_bus"`
	// Addr is the 7-bit device address. Zero means 0x57 (PiSugar 3).
	Addr uint16 `yaml:"addr" json:"addr"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Transport selects how the panel is reached: periph (SPI/GPIO on the
	// host), ftdi (FT232H USB bridge) or fake (no hardware).
	Transport string `yaml:"transport" json:"transport"`

	SPI    SPIConfig    `yaml:"spi" json:"spi"`
	Pins   PinsConfig   `yaml:"pins" json:"pins"`
	Timing TimingConfig `yaml:"timing" json:"timing"`

	// RefreshCron is a cron schedule (e.g. "0 */6 * * *") for redrawing the
	// configured source. Empty disables scheduled refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Source SourceConfig `yaml:"source" json:"source"`

	Battery BatteryConfig `yaml:"battery" json:"battery"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultPins mirrors epd.DefaultPins, the Raspberry Pi header wiring.
func DefaultPins() PinsConfig {
	p := epd.DefaultPins
	return PinsConfig{
		CS0:   p.CS0,
		CS1:   p.CS1,
		DC:    p.DC,
		Reset: p.Reset,
		Busy:  p.Busy,
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		LogLevel:  "info",
		Transport: TransportPeriph,
		SPI: SPIConfig{
			SpeedHz:   epd.DefaultSPISpeedHz,
			ChunkSize: 4096,
		},
		Pins:        DefaultPins(),
		RefreshCron: "",
	}
}

// Normalize fills in missing values so that partially written files still
// behave. Pins are filled one by one, so overriding a single line is enough.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Transport == "" {
		c.Transport = def.Transport
	}
	if c.SPI.SpeedHz <= 0 {
		c.SPI.SpeedHz = def.SPI.SpeedHz
	}
	if c.SPI.ChunkSize <= 0 {
		c.SPI.ChunkSize = def.SPI.ChunkSize
	}

	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&c.Pins.CS0, def.Pins.CS0)
	fill(&c.Pins.CS1, def.Pins.CS1)
	fill(&c.Pins.DC, def.Pins.DC)
	fill(&c.Pins.Reset, def.Pins.Reset)
	fill(&c.Pins.Busy, def.Pins.Busy)

	if c.Timing.CommandDelayMS < 0 {
		c.Timing.CommandDelayMS = 0
	}
	if c.Timing.ResetMS < 0 {
		c.Timing.ResetMS = 0
	}
	if c.Timing.PollMS < 0 {
		c.Timing.PollMS = 0
	}
}

// Validate reports values Normalize cannot repair.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportPeriph, TransportFTDI, TransportFake:
	default:
		return fmt.Errorf("config: unknown transport %q (want periph, ftdi or fake)", c.Transport)
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		return errors.New("config: basic_auth requires a username")
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is decoded, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Callers may still run on the defaults.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file in the same directory, then
// rename) with 0600 permissions, creating the parent directory as 0700.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".el133-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
