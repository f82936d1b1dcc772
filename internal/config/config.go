// Package config loads daemon settings from defaults, an optional TOML file
// and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"

	"github.com/sweeney/gpio-mirror/internal/gpio"
)

// DefaultPoll is the switch sampling interval.
const DefaultPoll = 500 * time.Millisecond

// Duration is a time.Duration written as a string ("500ms") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the full daemon configuration.
type Config struct {
	Poll Duration   `toml:"poll"`
	GPIO GPIOConfig `toml:"gpio"`
	MQTT MQTTConfig `toml:"mqtt"`
	HTTP HTTPConfig `toml:"http"`
}

// GPIOConfig selects the backend and pins.
type GPIOConfig struct {
	Backend   string `toml:"backend"`
	Chip      string `toml:"chip"`
	SysfsRoot string `toml:"sysfs_root"`
	ChipBase  int    `toml:"chip_base"`
	SwitchPin int    `toml:"switch_pin"`
	LEDPin    int    `toml:"led_pin"`
	ActiveLow bool   `toml:"active_low"`
}

// MQTTConfig configures event publishing. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker    string   `toml:"broker"`
	ClientID  string   `toml:"client_id"`
	Heartbeat Duration `toml:"heartbeat"`
}

// HTTPConfig configures the status server. An empty address disables it.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	g := gpio.DefaultConfig()
	return Config{
		Poll: Duration{DefaultPoll},
		GPIO: GPIOConfig{
			Backend:   string(g.Backend),
			Chip:      g.Chip,
			SysfsRoot: g.SysfsRoot,
			ChipBase:  g.ChipBase,
			SwitchPin: g.SwitchPin,
			LEDPin:    g.LEDPin,
		},
		MQTT: MQTTConfig{
			ClientID:  "gpio-mirror",
			Heartbeat: Duration{15 * time.Minute},
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Load reads a TOML file over the defaults. Keys missing from the file keep
// their default values; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return cfg, fmt.Errorf("parse config %s: %s", path, strict.String())
		}
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c Config) Validate() error {
	var errs []error
	if c.Poll.Duration <= 0 {
		errs = append(errs, fmt.Errorf("poll must be positive, got %v", c.Poll))
	}
	if c.MQTT.Heartbeat.Duration < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative, got %v", c.MQTT.Heartbeat))
	}
	switch gpio.Backend(c.GPIO.Backend) {
	case gpio.BackendCdev, gpio.BackendSysfs, gpio.BackendPeriph:
	default:
		errs = append(errs, fmt.Errorf("unknown gpio backend %q (want cdev, sysfs or periph)", c.GPIO.Backend))
	}
	if c.GPIO.SwitchPin < 0 || c.GPIO.LEDPin < 0 || c.GPIO.ChipBase < 0 {
		errs = append(errs, errors.New("pin numbers and chip base must not be negative"))
	}
	if c.GPIO.SwitchPin == c.GPIO.LEDPin {
		errs = append(errs, fmt.Errorf("switch and LED must use different pins, both are %d", c.GPIO.SwitchPin))
	}
	return errors.Join(errs...)
}

// PinConfig converts the GPIO section for gpio.Open.
func (c Config) PinConfig() gpio.Config {
	return gpio.Config{
		Backend:   gpio.Backend(c.GPIO.Backend),
		Chip:      c.GPIO.Chip,
		SysfsRoot: c.GPIO.SysfsRoot,
		ChipBase:  c.GPIO.ChipBase,
		SwitchPin: c.GPIO.SwitchPin,
		LEDPin:    c.GPIO.LEDPin,
		ActiveLow: c.GPIO.ActiveLow,
	}
}

// Flag names.
const (
	FlagConfig    = "config"
	FlagPoll      = "poll"
	FlagBackend   = "backend"
	FlagChip      = "chip"
	FlagSysfsRoot = "sysfs-root"
	FlagChipBase  = "chip-base"
	FlagSwitchPin = "switch-pin"
	FlagLEDPin    = "led-pin"
	FlagActiveLow = "active-low"
	FlagBroker    = "broker"
	FlagClientID  = "client-id"
	FlagHeartbeat = "heartbeat"
	FlagHTTP      = "http"
)

// RegisterFlags adds the configuration flags, with built-in defaults, to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP(FlagConfig, "c", "", "TOML config file (watched for poll/heartbeat changes)")
	fs.Duration(FlagPoll, d.Poll.Duration, "switch polling interval")
	fs.String(FlagBackend, d.GPIO.Backend, "GPIO backend: cdev, sysfs or periph")
	fs.String(FlagChip, d.GPIO.Chip, "GPIO character device (cdev backend)")
	fs.String(FlagSysfsRoot, d.GPIO.SysfsRoot, "sysfs GPIO class directory (sysfs backend)")
	fs.Int(FlagChipBase, d.GPIO.ChipBase, "sysfs number of line 0; added to pin numbers (sysfs backend)")
	fs.Int(FlagSwitchPin, d.GPIO.SwitchPin, "BCM pin number of the switch input")
	fs.Int(FlagLEDPin, d.GPIO.LEDPin, "BCM pin number of the LED output")
	fs.Bool(FlagActiveLow, d.GPIO.ActiveLow, "switch reads low when pressed (pull-up wiring)")
	fs.String(FlagBroker, d.MQTT.Broker, "MQTT broker address (empty to disable)")
	fs.String(FlagClientID, d.MQTT.ClientID, "MQTT client ID")
	fs.Duration(FlagHeartbeat, d.MQTT.Heartbeat.Duration, "heartbeat interval (0 to disable)")
	fs.String(FlagHTTP, d.HTTP.Addr, "HTTP status address (empty to disable)")
}

// FromFlags builds the configuration from defaults, the file named by
// --config (if any) and every flag explicitly set on the command line.
func FromFlags(fs *pflag.FlagSet) (Config, error) {
	path, err := fs.GetString(FlagConfig)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if path != "" {
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}

	if err := ApplyFlags(&cfg, fs); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyFlags overrides cfg with flags that were explicitly set.
func ApplyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	visit := func(name string, apply func() error) {
		if err == nil && fs.Changed(name) {
			err = apply()
		}
	}

	visit(FlagPoll, func() (e error) { cfg.Poll.Duration, e = fs.GetDuration(FlagPoll); return })
	visit(FlagBackend, func() (e error) { cfg.GPIO.Backend, e = fs.GetString(FlagBackend); return })
	visit(FlagChip, func() (e error) { cfg.GPIO.Chip, e = fs.GetString(FlagChip); return })
	visit(FlagSysfsRoot, func() (e error) { cfg.GPIO.SysfsRoot, e = fs.GetString(FlagSysfsRoot); return })
	visit(FlagChipBase, func() (e error) { cfg.GPIO.ChipBase, e = fs.GetInt(FlagChipBase); return })
	visit(FlagSwitchPin, func() (e error) { cfg.GPIO.SwitchPin, e = fs.GetInt(FlagSwitchPin); return })
	visit(FlagLEDPin, func() (e error) { cfg.GPIO.LEDPin, e = fs.GetInt(FlagLEDPin); return })
	visit(FlagActiveLow, func() (e error) { cfg.GPIO.ActiveLow, e = fs.GetBool(FlagActiveLow); return })
	visit(FlagBroker, func() (e error) { cfg.MQTT.Broker, e = fs.GetString(FlagBroker); return })
	visit(FlagClientID, func() (e error) { cfg.MQTT.ClientID, e = fs.GetString(FlagClientID); return })
	visit(FlagHeartbeat, func() (e error) { cfg.MQTT.Heartbeat.Duration, e = fs.GetDuration(FlagHeartbeat); return })
	visit(FlagHTTP, func() (e error) { cfg.HTTP.Addr, e = fs.GetString(FlagHTTP); return })

	return err
}
