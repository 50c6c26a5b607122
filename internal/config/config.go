// Package config loads daemon settings from flags, PAYLOAD_POWER_* environment
// variables, an optional YAML file and built-in defaults, in that order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/payload-power/internal/adc"
	"github.com/sweeney/payload-power/internal/battery"
	"github.com/sweeney/payload-power/internal/controller"
	"github.com/sweeney/payload-power/internal/gpio"
	"github.com/sweeney/payload-power/internal/logic"
	"github.com/sweeney/payload-power/internal/mqtt"
)

// EnvPrefix is the prefix for environment overrides, e.g. PAYLOAD_POWER_MQTT_BROKER.
const EnvPrefix = "PAYLOAD_POWER"

// DefaultTick is the main loop period.
const DefaultTick = 50 * time.Millisecond

// Config is the full daemon configuration.
type Config struct {
	GPIO    GPIO    `mapstructure:"gpio" yaml:"gpio"`
	ADC     ADC     `mapstructure:"adc" yaml:"adc"`
	Battery Battery `mapstructure:"battery" yaml:"battery"`
	Loop    Loop    `mapstructure:"loop" yaml:"loop"`
	MQTT    MQTT    `mapstructure:"mqtt" yaml:"mqtt"`
	Log     Log     `mapstructure:"log" yaml:"log"`
	Diag    Diag    `mapstructure:"diag" yaml:"diag"`

	// One-shot modes, flag only.
	PrintState  bool `mapstructure:"-" yaml:"-"`
	PrintConfig bool `mapstructure:"-" yaml:"-"`
}

type GPIO struct {
	Chip            string `mapstructure:"chip" yaml:"chip"`
	RelayPin        int    `mapstructure:"relay_pin" yaml:"relay_pin"`
	RelayActiveHigh bool   `mapstructure:"relay_active_high" yaml:"relay_active_high"`
	MotionPin       int    `mapstructure:"motion_pin" yaml:"motion_pin"`
	MotionActiveLow bool   `mapstructure:"motion_active_low" yaml:"motion_active_low"`
}

type ADC struct {
	Path      string  `mapstructure:"path" yaml:"path"`
	FullScale float64 `mapstructure:"full_scale" yaml:"full_scale"`
}

type Battery struct {
	Samples       int     `mapstructure:"samples" yaml:"samples"`
	VRef          float64 `mapstructure:"vref" yaml:"vref"`
	R1            float64 `mapstructure:"r1" yaml:"r1"`
	R2            float64 `mapstructure:"r2" yaml:"r2"`
	EmptyVolts    float64 `mapstructure:"empty_volts" yaml:"empty_volts"`
	FullVolts     float64 `mapstructure:"full_volts" yaml:"full_volts"`
	CutoffVolts   float64 `mapstructure:"cutoff_volts" yaml:"cutoff_volts"`
	CutoffEnabled bool    `mapstructure:"cutoff_enabled" yaml:"cutoff_enabled"`
}

type Loop struct {
	Tick             time.Duration `mapstructure:"tick" yaml:"tick"`
	SampleInterval   time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
	ActivationWindow time.Duration `mapstructure:"activation_window" yaml:"activation_window"`
	Heartbeat        time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
}

// MarshalYAML writes durations in their string form.
func (l Loop) MarshalYAML() (interface{}, error) {
	return map[string]string{
		"tick":              l.Tick.String(),
		"sample_interval":   l.SampleInterval.String(),
		"activation_window": l.ActivationWindow.String(),
		"heartbeat":         l.Heartbeat.String(),
	}, nil
}

type MQTT struct {
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
}

type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
}

type Diag struct {
	// Output is empty for stderr, or a serial device path.
	Output string `mapstructure:"output" yaml:"output"`
}

func setDefaults(v *viper.Viper) {
	cal := logic.DefaultCalibration

	v.SetDefault("gpio.chip", gpio.DefaultChip)
	v.SetDefault("gpio.relay_pin", gpio.DefaultRelayPin)
	v.SetDefault("gpio.relay_active_high", true)
	v.SetDefault("gpio.motion_pin", gpio.DefaultMotionPin)
	v.SetDefault("gpio.motion_active_low", false)

	v.SetDefault("adc.path", adc.DefaultPath)
	v.SetDefault("adc.full_scale", cal.FullScale)

	v.SetDefault("battery.samples", battery.DefaultSamples)
	v.SetDefault("battery.vref", cal.VRef)
	v.SetDefault("battery.r1", cal.R1)
	v.SetDefault("battery.r2", cal.R2)
	v.SetDefault("battery.empty_volts", cal.EmptyVolts)
	v.SetDefault("battery.full_volts", cal.FullVolts)
	v.SetDefault("battery.cutoff_volts", battery.DefaultConfig.CutoffVolts)
	v.SetDefault("battery.cutoff_enabled", battery.DefaultConfig.CutoffEnabled)

	v.SetDefault("loop.tick", DefaultTick)
	v.SetDefault("loop.sample_interval", controller.DefaultSampleInterval)
	v.SetDefault("loop.activation_window", logic.DefaultWindow)
	v.SetDefault("loop.heartbeat", logic.DefaultHeartbeat)

	v.SetDefault("mqtt.broker", "tcp://192.168.1.200:1883")
	v.SetDefault("mqtt.prefix", mqtt.DefaultPrefix)
	v.SetDefault("mqtt.client_id", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("diag.output", "")
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"broker":      "mqtt.broker",
	"prefix":      "mqtt.prefix",
	"tick":        "loop.tick",
	"window":      "loop.activation_window",
	"heartbeat":   "loop.heartbeat",
	"relay-pin":   "gpio.relay_pin",
	"motion-pin":  "gpio.motion_pin",
	"relay-low":   "gpio.relay_active_high",
	"adc":         "adc.path",
	"cutoff":      "battery.cutoff_enabled",
	"log-level":   "log.level",
	"diag-output": "diag.output",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("payload-power", pflag.ContinueOnError)
	fs.String("config", "", "YAML config file")
	fs.String("broker", "", "MQTT broker address")
	fs.String("prefix", "", "MQTT topic prefix")
	fs.Duration("tick", 0, "Main loop period")
	fs.Duration("window", 0, "Motion activation window")
	fs.Duration("heartbeat", 0, "Heartbeat interval (0 to disable)")
	fs.Int("relay-pin", 0, "Relay output line offset")
	fs.Int("motion-pin", 0, "PIR input line offset")
	fs.Bool("relay-low", false, "Relay is active-low")
	fs.String("adc", "", "IIO raw voltage attribute")
	fs.Bool("cutoff", false, "Enable undervoltage cutoff")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("diag-output", "", "Serial device for the diagnostic stream (default stderr)")
	fs.Bool("print-state", false, "Print battery state and exit")
	fs.Bool("print-config", false, "Print effective configuration and exit")
	return fs
}

// Load parses args (without the program name) and merges every source.
func Load(args []string) (Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// Only flags given on the command line override other sources.
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if name == "relay-low" {
			low, _ := fs.GetBool(name)
			v.Set(key, !low)
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.PrintState, _ = fs.GetBool("print-state")
	cfg.PrintConfig, _ = fs.GetBool("print-config")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the controller cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Battery.Samples < 1 {
		errs = append(errs, fmt.Errorf("battery.samples must be >= 1, got %d", c.Battery.Samples))
	}
	if c.Battery.R2 <= 0 {
		errs = append(errs, fmt.Errorf("battery.r2 must be > 0, got %v", c.Battery.R2))
	}
	if c.Battery.R1 < 0 {
		errs = append(errs, fmt.Errorf("battery.r1 must be >= 0, got %v", c.Battery.R1))
	}
	if c.Battery.VRef <= 0 {
		errs = append(errs, fmt.Errorf("battery.vref must be > 0, got %v", c.Battery.VRef))
	}
	if c.ADC.FullScale <= 0 {
		errs = append(errs, fmt.Errorf("adc.full_scale must be > 0, got %v", c.ADC.FullScale))
	}
	if c.Battery.FullVolts <= c.Battery.EmptyVolts {
		errs = append(errs, fmt.Errorf("battery.full_volts (%v) must exceed battery.empty_volts (%v)", c.Battery.FullVolts, c.Battery.EmptyVolts))
	}
	if c.Loop.Tick <= 0 {
		errs = append(errs, fmt.Errorf("loop.tick must be > 0, got %v", c.Loop.Tick))
	}
	if c.Loop.SampleInterval <= 0 {
		errs = append(errs, fmt.Errorf("loop.sample_interval must be > 0, got %v", c.Loop.SampleInterval))
	}
	if c.Loop.ActivationWindow <= 0 {
		errs = append(errs, fmt.Errorf("loop.activation_window must be > 0, got %v", c.Loop.ActivationWindow))
	}
	if c.GPIO.RelayPin < 0 || c.GPIO.MotionPin < 0 {
		errs = append(errs, fmt.Errorf("gpio pins must be >= 0"))
	} else if c.GPIO.RelayPin == c.GPIO.MotionPin {
		errs = append(errs, fmt.Errorf("gpio.relay_pin and gpio.motion_pin are both %d", c.GPIO.RelayPin))
	}
	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// YAML returns the effective configuration as YAML.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

// LogLevel returns the parsed log level, defaulting to info.
func (c Config) LogLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// GPIOConfig returns the line settings.
func (c Config) GPIOConfig() gpio.Config {
	return gpio.Config{
		Chip:            c.GPIO.Chip,
		RelayPin:        c.GPIO.RelayPin,
		RelayActiveHigh: c.GPIO.RelayActiveHigh,
		MotionPin:       c.GPIO.MotionPin,
		MotionActiveLow: c.GPIO.MotionActiveLow,
	}
}

// BatteryConfig returns the sampler settings.
func (c Config) BatteryConfig() battery.Config {
	return battery.Config{
		Calibration: logic.Calibration{
			VRef:       c.Battery.VRef,
			FullScale:  c.ADC.FullScale,
			R1:         c.Battery.R1,
			R2:         c.Battery.R2,
			EmptyVolts: c.Battery.EmptyVolts,
			FullVolts:  c.Battery.FullVolts,
		},
		Samples:       c.Battery.Samples,
		CutoffEnabled: c.Battery.CutoffEnabled,
		CutoffVolts:   c.Battery.CutoffVolts,
	}
}

// ControllerConfig returns the controller timing.
func (c Config) ControllerConfig() controller.Config {
	return controller.Config{
		SampleInterval: c.Loop.SampleInterval,
		Window:         c.Loop.ActivationWindow,
	}
}
