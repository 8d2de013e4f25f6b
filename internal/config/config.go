package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal/errors"
	"selinf/internal/inference"
	"selinf/internal/randomization"
	"selinf/internal/weights"
)

// Config represents the complete engine configuration
type Config struct {
	Sampler    SamplerConfig    `yaml:"sampler" validate:"required"`
	Replicates ReplicatesConfig `yaml:"replicates" validate:"required"`
	Export     ExportConfig     `yaml:"export"`
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server" validate:"required"`
}

// SamplerConfig holds the randomization, weights and Langevin schedule
type SamplerConfig struct {
	Randomization      string  `yaml:"randomization" validate:"required,oneof=laplace logistic"`
	RandomizationScale float64 `yaml:"randomization_scale" validate:"gt=0"`
	Weights            string  `yaml:"weights" validate:"required,oneof=exponential normal gamma gumbel neutral"`
	StepSize           float64 `yaml:"step_size" validate:"gt=0"`
	TotalSteps         int     `yaml:"total_steps" validate:"gt=0"`
	BurnIn             int     `yaml:"burn_in" validate:"gte=0"`
	Tail               string  `yaml:"tail" validate:"required,oneof=lower upper two_sided"`
}

// ReplicatesConfig holds the simulation settings
type ReplicatesConfig struct {
	Scenario string `yaml:"scenario" validate:"required,oneof=gaussian_target lasso_bootstrap two_views residual_importance"`
	Count    int    `yaml:"count" validate:"gt=0"`
	Workers  int    `yaml:"workers" validate:"gt=0,lte=256"`
	Seed     uint64 `yaml:"seed"`
}

// ExportConfig holds result export settings
type ExportConfig struct {
	XLSXPath   string `yaml:"xlsx_path"`
	ReportPath string `yaml:"report_path"`
}

// DatabaseConfig holds the optional PostgreSQL result store settings
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

var validate = validator.New()

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Sampler: SamplerConfig{
			Randomization:      string(randomization.Laplace),
			RandomizationScale: 0.5,
			Weights:            string(weights.Exponential),
			StepSize:           0.05,
			TotalSteps:         10000,
			BurnIn:             2000,
			Tail:               string(selection.TailTwoSided),
		},
		Replicates: ReplicatesConfig{
			Scenario: "lasso_bootstrap",
			Count:    20,
			Workers:  4,
			Seed:     42,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := Default()
	if err := loadFromEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// LoadFile overlays a YAML file on the defaults; environment variables
// still take precedence over the file
func LoadFile(path string) (*Config, error) {
	config := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigInvalidf("read config file %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.ConfigInvalidf("parse config file %s: %v", path, err)
	}
	if err := loadFromEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadFromEnv(config *Config) error {
	s := &config.Sampler
	s.Randomization = getEnvOrDefault("SELINF_RANDOMIZATION", s.Randomization)
	s.Weights = getEnvOrDefault("SELINF_WEIGHTS", s.Weights)
	s.Tail = getEnvOrDefault("SELINF_TAIL", s.Tail)

	var err error
	if s.RandomizationScale, err = getEnvFloatOrDefault("SELINF_RANDOMIZATION_SCALE", s.RandomizationScale); err != nil {
		return err
	}
	if s.StepSize, err = getEnvFloatOrDefault("SELINF_STEP_SIZE", s.StepSize); err != nil {
		return err
	}
	if s.TotalSteps, err = getEnvIntOrDefault("SELINF_STEPS", s.TotalSteps); err != nil {
		return err
	}
	if s.BurnIn, err = getEnvIntOrDefault("SELINF_BURN_IN", s.BurnIn); err != nil {
		return err
	}

	r := &config.Replicates
	r.Scenario = getEnvOrDefault("SELINF_SCENARIO", r.Scenario)
	if r.Count, err = getEnvIntOrDefault("SELINF_REPLICATES", r.Count); err != nil {
		return err
	}
	if r.Workers, err = getEnvIntOrDefault("SELINF_WORKERS", r.Workers); err != nil {
		return err
	}
	if r.Seed, err = getEnvUintOrDefault("SELINF_SEED", r.Seed); err != nil {
		return err
	}

	config.Export.XLSXPath = getEnvOrDefault("SELINF_XLSX", config.Export.XLSXPath)
	config.Export.ReportPath = getEnvOrDefault("SELINF_REPORT", config.Export.ReportPath)
	config.Database.URL = getEnvOrDefault("SELINF_DATABASE_URL", getEnvOrDefault("DATABASE_URL", config.Database.URL))
	config.Server.Addr = getEnvOrDefault("SELINF_ADDR", config.Server.Addr)
	return nil
}

// Validate checks struct tags, then the cross-field rules tags cannot express
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.ConfigInvalidf("%v", err)
	}
	if c.Sampler.BurnIn >= c.Sampler.TotalSteps {
		return &errors.AppError{
			Code:    errors.CodeConfigInvalid,
			Message: fmt.Sprintf("burn_in %d, total_steps %d", c.Sampler.BurnIn, c.Sampler.TotalSteps),
			Cause:   core.ErrBurnIn,
		}
	}
	return nil
}

// Settings is the sampler schedule handed to the p-value driver
func (c *Config) Settings() inference.Settings {
	return inference.Settings{
		StepSize:   c.Sampler.StepSize,
		TotalSteps: c.Sampler.TotalSteps,
		BurnIn:     c.Sampler.BurnIn,
	}
}

// Families resolves the configured tags once
func (c *Config) Families() (randomization.Family, weights.Family, selection.Tail, error) {
	r, err := randomization.ParseFamily(c.Sampler.Randomization)
	if err != nil {
		return "", "", "", errors.WithCode(errors.CodeConfigInvalid, err)
	}
	w, err := weights.ParseFamily(c.Sampler.Weights)
	if err != nil {
		return "", "", "", errors.WithCode(errors.CodeConfigInvalid, err)
	}
	t, err := selection.ParseTail(c.Sampler.Tail)
	if err != nil {
		return "", "", "", errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return r, w, t, nil
}

// Fingerprint identifies the run configuration
func (c *Config) Fingerprint() core.ConfigFingerprint {
	return core.ComputeConfigFingerprint(map[string]interface{}{
		"randomization":       c.Sampler.Randomization,
		"randomization_scale": c.Sampler.RandomizationScale,
		"weights":             c.Sampler.Weights,
		"step_size":           c.Sampler.StepSize,
		"total_steps":         c.Sampler.TotalSteps,
		"burn_in":             c.Sampler.BurnIn,
		"tail":                c.Sampler.Tail,
		"scenario":            c.Replicates.Scenario,
		"replicates":          c.Replicates.Count,
	}, c.Replicates.Seed)
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.Atoi(value)
		if err != nil {
			return 0, errors.ConfigInvalidf("%s: %v", key, err)
		}
		return intValue, nil
	}
	return defaultValue, nil
}

func getEnvUintOrDefault(key string, defaultValue uint64) (uint64, error) {
	if value := os.Getenv(key); value != "" {
		uintValue, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return 0, errors.ConfigInvalidf("%s: %v", key, err)
		}
		return uintValue, nil
	}
	return defaultValue, nil
}

func getEnvFloatOrDefault(key string, defaultValue float64) (float64, error) {
	if value := os.Getenv(key); value != "" {
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, errors.ConfigInvalidf("%s: %v", key, err)
		}
		return floatValue, nil
	}
	return defaultValue, nil
}

// String renders the sampler settings for logs
func (c *Config) String() string {
	return fmt.Sprintf("randomization=%s(%g) weights=%s h=%g steps=%d burn_in=%d tail=%s scenario=%s replicates=%d workers=%d seed=%d",
		c.Sampler.Randomization, c.Sampler.RandomizationScale, c.Sampler.Weights,
		c.Sampler.StepSize, c.Sampler.TotalSteps, c.Sampler.BurnIn, c.Sampler.Tail,
		c.Replicates.Scenario, c.Replicates.Count, c.Replicates.Workers, c.Replicates.Seed)
}
