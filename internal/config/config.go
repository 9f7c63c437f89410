package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 1 << 20

// TransportSim is the in-process simulated device transport.
const TransportSim = "sim"

// DevicesConfig names the two actuators and how to reach them.
type DevicesConfig struct {
	Transport string `yaml:"transport"` // only "sim" for now
	Primary   string `yaml:"primary"`   // monochromator energy device, e.g. "bl/mono/energy"
	Secondary string `yaml:"secondary"` // undulator gap device, e.g. "bl/u20/gap"
}

// BacklashConfig holds the undulator gap backlash compensation settings.
type BacklashConfig struct {
	Enabled        bool    `yaml:"enabled"`
	DistanceMm     float64 `yaml:"distance_mm"`      // fixed offset applied to the gap
	GapLimitMm     float64 `yaml:"gap_limit_mm"`     // minimum safe gap
	PollIntervalMs int     `yaml:"poll_interval_ms"` // gap state poll period
	TimeoutMs      int     `yaml:"timeout_ms"`       // max wait for one gap motion
	SettleDelayMs  *int    `yaml:"settle_delay_ms"`  // pause after pre-positioning; 1000 when unset, 0 disables
}

// EnergyConfig holds energy reporting settings.
type EnergyConfig struct {
	Tolerance *float64 `yaml:"tolerance"` // min change reported as energyChanged (keV); 1e-4 when unset, 0 reports every reading
}

// SimulationConfig describes the simulated devices.
type SimulationConfig struct {
	Energy     float64 `yaml:"energy"` // initial energy (keV)
	MinEnergy  float64 `yaml:"min_energy"`
	MaxEnergy  float64 `yaml:"max_energy"`
	MonoMoveMs int     `yaml:"mono_move_ms"`
	Gap        float64 `yaml:"gap"` // initial gap (mm)
	GapOffset  float64 `yaml:"gap_offset"`
	GapPerKeV  float64 `yaml:"gap_per_kev"`
	MinGap     float64 `yaml:"min_gap"`
	GapMoveMs  int     `yaml:"gap_move_ms"`
}

// WebConfig configures the HTTP server.
type WebConfig struct {
	Port                  int `yaml:"port"`
	MoveRequestsPerMinute int `yaml:"move_requests_per_minute"` // per client IP, on move endpoints
}

// IndicatorConfig drives status lamps over GPIO.
type IndicatorConfig struct {
	Enabled   bool `yaml:"enabled"`
	MockGPIO  bool `yaml:"mock_gpio"` // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	ReadyPin  int  `yaml:"ready_pin"` // BCM numbering
	MovingPin int  `yaml:"moving_pin"`
	FaultPin  int  `yaml:"fault_pin"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int    `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	LogFormat  string `yaml:"log_format"`  // "console" or "json"
}

// Config aggregates all application configuration.
type Config struct {
	Devices    DevicesConfig    `yaml:"devices"`
	Backlash   BacklashConfig   `yaml:"backlash"`
	Energy     EnergyConfig     `yaml:"energy"`
	Simulation SimulationConfig `yaml:"simulation"`
	Web        WebConfig        `yaml:"web"`
	Indicator  IndicatorConfig  `yaml:"indicator"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
}

// ValidateConfigPath rejects paths that are not a .yaml file directly inside
// a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must be inside a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse unmarshals, validates and defaults a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) validate() error {
	// Devices
	if cfg.Devices.Transport == "" {
		cfg.Devices.Transport = TransportSim
	}
	if cfg.Devices.Transport != TransportSim {
		return fmt.Errorf("unsupported devices.transport: %s", cfg.Devices.Transport)
	}
	if cfg.Devices.Primary == "" {
		return errors.New("devices.primary is required")
	}
	if cfg.Devices.Secondary == "" {
		return errors.New("devices.secondary is required")
	}

	// Backlash
	b := &cfg.Backlash
	if b.DistanceMm < 0 {
		return fmt.Errorf("backlash.distance_mm must be >= 0, got %g", b.DistanceMm)
	}
	if b.DistanceMm == 0 {
		b.DistanceMm = 0.1
	}
	if b.GapLimitMm < 0 {
		return fmt.Errorf("backlash.gap_limit_mm must be >= 0, got %g", b.GapLimitMm)
	}
	if b.GapLimitMm == 0 {
		b.GapLimitMm = 5.5
	}
	if b.PollIntervalMs <= 0 {
		b.PollIntervalMs = 200
	}
	if b.TimeoutMs <= 0 {
		b.TimeoutMs = 30000
	}
	if b.TimeoutMs < b.PollIntervalMs {
		return fmt.Errorf("backlash.timeout_ms (%d) must be >= poll_interval_ms (%d)", b.TimeoutMs, b.PollIntervalMs)
	}
	if b.SettleDelayMs == nil {
		b.SettleDelayMs = ptr(1000)
	}
	if *b.SettleDelayMs < 0 {
		return fmt.Errorf("backlash.settle_delay_ms must be >= 0, got %d", *b.SettleDelayMs)
	}

	// Energy
	if cfg.Energy.Tolerance == nil {
		cfg.Energy.Tolerance = ptr(1e-4)
	}
	if *cfg.Energy.Tolerance < 0 {
		return fmt.Errorf("energy.tolerance must be >= 0, got %g", *cfg.Energy.Tolerance)
	}

	// Simulation
	s := &cfg.Simulation
	if s.MinEnergy <= 0 {
		s.MinEnergy = 5
	}
	if s.MaxEnergy <= 0 {
		s.MaxEnergy = 25
	}
	if s.MinEnergy >= s.MaxEnergy {
		return fmt.Errorf("simulation.min_energy (%g) must be < max_energy (%g)", s.MinEnergy, s.MaxEnergy)
	}
	if s.Energy == 0 {
		s.Energy = (s.MinEnergy + s.MaxEnergy) / 2
	}
	if s.Energy < s.MinEnergy || s.Energy > s.MaxEnergy {
		return fmt.Errorf("simulation.energy %g outside [%g, %g]", s.Energy, s.MinEnergy, s.MaxEnergy)
	}
	if s.MonoMoveMs <= 0 {
		s.MonoMoveMs = 500
	}
	if s.GapPerKeV == 0 {
		s.GapPerKeV = 0.5
	}
	if s.GapOffset == 0 {
		s.GapOffset = 2
	}
	if s.MinGap <= 0 {
		s.MinGap = 5
	}
	if s.Gap == 0 {
		s.Gap = s.GapOffset + s.GapPerKeV*s.Energy
	}
	if s.Gap < s.MinGap {
		return fmt.Errorf("simulation.gap %g below min_gap %g", s.Gap, s.MinGap)
	}
	if s.GapMoveMs <= 0 {
		s.GapMoveMs = 300
	}

	// Web
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Web.Port < 0 || cfg.Web.Port > 65535 {
		return fmt.Errorf("web.port must be 1-65535, got %d", cfg.Web.Port)
	}
	if cfg.Web.MoveRequestsPerMinute <= 0 {
		cfg.Web.MoveRequestsPerMinute = 30
	}

	// Indicator
	if cfg.Indicator.Enabled {
		pins := map[string]int{
			"ready_pin":  cfg.Indicator.ReadyPin,
			"moving_pin": cfg.Indicator.MovingPin,
			"fault_pin":  cfg.Indicator.FaultPin,
		}
		seen := make(map[int]string, len(pins))
		for name, pin := range pins {
			if pin <= 0 || pin > 27 {
				return fmt.Errorf("indicator.%s must be a BCM pin 1-27, got %d", name, pin)
			}
			if other, dup := seen[pin]; dup {
				return fmt.Errorf("indicator.%s and indicator.%s share pin %d", name, other, pin)
			}
			seen[pin] = name
		}
	}

	// Defaults
	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	switch cfg.Defaults.LogFormat {
	case "":
		cfg.Defaults.LogFormat = "console"
	case "console", "json":
	default:
		return fmt.Errorf("defaults.log_format must be console or json, got %q", cfg.Defaults.LogFormat)
	}
	return nil
}

// PollInterval returns the gap state poll period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Backlash.PollIntervalMs) * time.Millisecond
}

// CompensationTimeout returns the max wait for one gap motion.
func (c *Config) CompensationTimeout() time.Duration {
	return time.Duration(c.Backlash.TimeoutMs) * time.Millisecond
}

// SettleDelay returns the pause after gap pre-positioning.
func (c *Config) SettleDelay() time.Duration {
	if c.Backlash.SettleDelayMs == nil {
		return 0
	}
	return time.Duration(*c.Backlash.SettleDelayMs) * time.Millisecond
}

// EnergyTolerance returns the minimum energy change reported as energyChanged.
func (c *Config) EnergyTolerance() float64 {
	if c.Energy.Tolerance == nil {
		return 0
	}
	return *c.Energy.Tolerance
}

// MonoMoveDuration returns how long a simulated energy move lasts.
func (c *Config) MonoMoveDuration() time.Duration {
	return time.Duration(c.Simulation.MonoMoveMs) * time.Millisecond
}

// GapMoveDuration returns how long a simulated gap move lasts.
func (c *Config) GapMoveDuration() time.Duration {
	return time.Duration(c.Simulation.GapMoveMs) * time.Millisecond
}

func ptr[T any](v T) *T { return &v }
