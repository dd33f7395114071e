package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"epd7in5bc/internal/epd"
	"epd7in5bc/internal/schedule"
)

// HardwareConfig names the SPI port and GPIO lines by periph registry name.
type HardwareConfig struct {
	// SPIPort is the spireg port name; empty picks the first port (SPI0.0).
	SPIPort string `yaml:"spi_port" json:"spi_port"`
	// MaxHz is the SPI clock in hertz.
	MaxHz int64 `yaml:"max_hz" json:"max_hz"`

	DCPin    string `yaml:"dc_pin" json:"dc_pin"`
	ResetPin string `yaml:"reset_pin" json:"reset_pin"`
	BusyPin  string `yaml:"busy_pin" json:"busy_pin"`
}

// PanelConfig holds geometry and protocol timing.
type PanelConfig struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	// BusyTimeoutMs bounds each busy-wait; 0 means wait forever.
	BusyTimeoutMs int `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
	BusyPollMs    int `yaml:"busy_poll_ms" json:"busy_poll_ms"`
	ResetDelayMs  int `yaml:"reset_delay_ms" json:"reset_delay_ms"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the control API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level daemon configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Listen is the HTTP listen address; empty disables the HTTP API.
	Listen string `yaml:"listen" json:"listen"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// Refresh is a cron spec for the periodic full refresh (clear and
	// redraw). Empty disables it.
	Refresh string `yaml:"refresh" json:"refresh"`

	// SleepAfterRefresh puts the panel into deep sleep after every refresh.
	SleepAfterRefresh bool `yaml:"sleep_after_refresh" json:"sleep_after_refresh"`

	Hardware HardwareConfig `yaml:"hardware" json:"hardware"`
	Panel    PanelConfig    `yaml:"panel" json:"panel"`
}

// DefaultConfig returns the configuration for a Waveshare HAT on a Pi.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          "info",
		Listen:            "127.0.0.1:8080",
		Refresh:           "0 3 * * *",
		SleepAfterRefresh: true,
		Hardware: HardwareConfig{
			SPIPort:  "",
			MaxHz:    int64(epd.DefaultMaxHz / physic.Hertz),
			DCPin:    epd.DefaultDCPin,
			ResetPin: epd.DefaultResetPin,
			BusyPin:  epd.DefaultBusyPin,
		},
		Panel: PanelConfig{
			Width:         epd.Width,
			Height:        epd.Height,
			BusyTimeoutMs: 30_000,
			BusyPollMs:    10,
			ResetDelayMs:  200,
		},
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Hardware.MaxHz <= 0 {
		c.Hardware.MaxHz = def.Hardware.MaxHz
	}
	if c.Hardware.DCPin == "" {
		c.Hardware.DCPin = def.Hardware.DCPin
	}
	if c.Hardware.ResetPin == "" {
		c.Hardware.ResetPin = def.Hardware.ResetPin
	}
	if c.Hardware.BusyPin == "" {
		c.Hardware.BusyPin = def.Hardware.BusyPin
	}
	if c.Panel.Width <= 0 || c.Panel.Height <= 0 {
		c.Panel.Width, c.Panel.Height = def.Panel.Width, def.Panel.Height
	}
	if c.Panel.BusyTimeoutMs < 0 {
		c.Panel.BusyTimeoutMs = 0
	}
	if c.Panel.BusyPollMs <= 0 {
		c.Panel.BusyPollMs = def.Panel.BusyPollMs
	}
	if c.Panel.ResetDelayMs <= 0 {
		c.Panel.ResetDelayMs = def.Panel.ResetDelayMs
	}
}

// Validate checks values Normalize cannot repair.
func (c *Config) Validate() error {
	if c.Panel.Width%2 != 0 {
		return fmt.Errorf("config: panel.width must be even, got %d", c.Panel.Width)
	}
	if c.Refresh != "" {
		if err := schedule.Validate(c.Refresh); err != nil {
			return fmt.Errorf("config: refresh: %w", err)
		}
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "") != (c.BasicAuth.Password == "") {
		return errors.New("config: basic_auth needs both username and password")
	}
	return nil
}

// DriverOpts converts the panel section into epd options.
func (c *Config) DriverOpts() *epd.Opts {
	timeout := time.Duration(c.Panel.BusyTimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = -1 // unbounded
	}
	return &epd.Opts{
		W:           c.Panel.Width,
		H:           c.Panel.Height,
		BusyTimeout: timeout,
		BusyPoll:    time.Duration(c.Panel.BusyPollMs) * time.Millisecond,
		ResetDelay:  time.Duration(c.Panel.ResetDelayMs) * time.Millisecond,
	}
}

// SPIOpts converts the hardware section into epd.SPIOpts.
func (c *Config) SPIOpts() epd.SPIOpts {
	return epd.SPIOpts{
		Port:  c.Hardware.SPIPort,
		MaxHz: hertz(c.Hardware.MaxHz),
		DC:    c.Hardware.DCPin,
		Reset: c.Hardware.ResetPin,
		Busy:  c.Hardware.BusyPin,
	}
}

func hertz(hz int64) physic.Frequency {
	return physic.Frequency(hz) * physic.Hertz
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, write a default config with 0600 perms
//     and return it.
//   - Otherwise read YAML, normalize defaults and validate.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config: path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
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

// Save writes cfg to path atomically (temp file + rename) with 0600 perms,
// creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config: path is empty")
	}
	if cfg == nil {
		return errors.New("config: config is nil")
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

	tmp, err := os.CreateTemp(dir, ".epd7in5bc-config-*.tmp")
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
