package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"

	"unmasking/internal/balance"
	"unmasking/internal/curve"
	"unmasking/internal/normalize"
	"unmasking/internal/unmasking"
)

const EnvPrefix = "UNMASK_"

// Config carries every tunable of a run. Values come from the environment
// (optionally seeded from a .env file) and may be overridden by CLI flags.
type Config struct {
	Manifest    string `env:"MANIFEST"`
	Workspace   string `env:"WORKSPACE"`
	DBFile      string `env:"DB_FILE"`
	MetricsFile string `env:"METRICS_FILE"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogJSON     bool   `env:"LOG_JSON" envDefault:"false"`

	Classifier         string `env:"CLASSIFIER" envDefault:"centroid"`
	Selections         int    `env:"SELECTIONS" envDefault:"5" validate:"gt=0"`
	WorksPerGroup      int    `env:"WORKS_PER_GROUP" envDefault:"1" validate:"gt=0"`
	Step               int    `env:"STEP" envDefault:"5" validate:"gt=0"`
	Trials             int    `env:"TRIALS" envDefault:"10" validate:"gt=0"`
	SampleSize         int    `env:"SAMPLE_SIZE" envDefault:"20" validate:"gt=0"`
	Divisor            int    `env:"DIVISOR" envDefault:"10" validate:"gt=0"`
	Smoothing          int    `env:"SMOOTHING" envDefault:"0" validate:"gte=0"`
	Balance            string `env:"BALANCE" envDefault:"subsample" validate:"oneof=none subsample merge"`
	Normalize          string `env:"NORMALIZE" envDefault:"zscore" validate:"oneof=none zscore minmax"`
	ZeroRange          string `env:"ZERO_RANGE" envDefault:"propagate" validate:"oneof=propagate zero error"`
	MaxDisjointRetries int    `env:"MAX_DISJOINT_RETRIES" envDefault:"100" validate:"gt=0"`
	Workers            int    `env:"WORKERS" envDefault:"1" validate:"gte=0"`
	Seed               uint64 `env:"SEED" envDefault:"1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load parses UNMASK_* variables into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// Options converts the configuration into session options.
func (c *Config) Options() (unmasking.Options, error) {
	if err := c.Validate(); err != nil {
		return unmasking.Options{}, err
	}
	strategy, err := balance.ParseStrategy(c.Balance)
	if err != nil {
		return unmasking.Options{}, err
	}
	method, err := normalize.ParseMethod(c.Normalize)
	if err != nil {
		return unmasking.Options{}, err
	}
	zr, err := normalize.ParseZeroRange(c.ZeroRange)
	if err != nil {
		return unmasking.Options{}, err
	}
	opts := unmasking.Options{
		Selections:    c.Selections,
		WorksPerGroup: c.WorksPerGroup,
		Curve: curve.Options{
			Step:       c.Step,
			Trials:     c.Trials,
			SampleSize: c.SampleSize,
			Divisor:    c.Divisor,
			Workers:    c.Workers,
		},
		Smoothing:          c.Smoothing,
		Balance:            strategy,
		Normalize:          method,
		ZeroRange:          zr,
		MaxDisjointRetries: c.MaxDisjointRetries,
		Workers:            c.Workers,
		Seed:               c.Seed,
	}
	return opts, opts.Validate()
}
