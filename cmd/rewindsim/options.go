package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/kode4food/rewind"
	"github.com/kode4food/rewind/bolt"
	"github.com/kode4food/rewind/postgres"
	"github.com/kode4food/rewind/redis"
)

type (
	// Options configures a simulation run. Values are read from the
	// environment first and may then be overridden by flags
	Options struct {
		Retention      float64 `env:"REWIND_RETENTION" envDefault:"10"`
		SampleInterval float64 `env:"REWIND_SAMPLE_INTERVAL" envDefault:"0.1"`
		ScrubRate      float64 `env:"REWIND_SCRUB_RATE" envDefault:"1"`
		Duration       float64 `env:"REWIND_SIM_DURATION"`
		Step           float64 `env:"REWIND_SIM_STEP" envDefault:"0.02"`
		Wanderers      int     `env:"REWIND_SIM_WANDERERS" envDefault:"8"`
		Seed           uint64  `env:"REWIND_SIM_SEED" envDefault:"1"`
		Scenario       string  `env:"REWIND_SCENARIO"`
		BoltPath       string  `env:"REWIND_BOLT_PATH"`
		RedisAddr      string  `env:"REWIND_REDIS_ADDR"`
		PostgresURL    string  `env:"REWIND_POSTGRES_URL"`
		Verbose        bool    `env:"REWIND_VERBOSE"`
	}

	// fanout hands every batch to each of its Archivers in turn
	fanout []rewind.Archiver
)

const DefaultDuration = 30.0

var ErrInvalidOptions = errors.New("invalid simulation options")

// ParseOptions loads Options from the environment
func ParseOptions() (*Options, error) {
	res := &Options{}
	if err := env.Parse(res); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return res, nil
}

// Validate checks the simulation-specific options. Controller settings
// are checked by the Controller itself
func (o Options) Validate() error {
	if o.Step <= 0 {
		return fmt.Errorf("%w: step must be positive", ErrInvalidOptions)
	}
	if o.Duration < 0 {
		return fmt.Errorf("%w: duration is negative", ErrInvalidOptions)
	}
	if o.Wanderers < 0 {
		return fmt.Errorf("%w: wanderers is negative", ErrInvalidOptions)
	}
	return nil
}

// LoadScenario returns the configured scenario, or the default one when
// no file is named
func (o Options) LoadScenario() (*Scenario, error) {
	if o.Scenario == "" {
		return DefaultScenario(), nil
	}
	return LoadScenario(o.Scenario)
}

// OpenArchiver connects every configured archive backend. The returned
// Archiver is nil when none is configured. The close function must be
// called once the Controller has been closed
func (o Options) OpenArchiver(
	ctx context.Context, log *zap.Logger,
) (rewind.Archiver, func(), error) {
	var (
		res     fanout
		closers []func()
	)
	closeAll := func() {
		for _, fn := range closers {
			fn()
		}
	}

	if o.BoltPath != "" {
		a, err := bolt.Open(o.BoltPath)
		if err != nil {
			return nil, func() {}, fmt.Errorf("bolt archiver: %w", err)
		}
		res = append(res, a)
		closers = append(closers, func() { _ = a.Close() })
		log.Info("archiving to bolt", zap.String("path", o.BoltPath))
	}

	if o.RedisAddr != "" {
		cfg := redis.DefaultConfig()
		cfg.Addr = o.RedisAddr
		a, err := redis.New(ctx, cfg)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("redis archiver: %w", err)
		}
		res = append(res, a)
		closers = append(closers, func() { _ = a.Close() })
		log.Info("archiving to redis", zap.String("addr", o.RedisAddr))
	}

	if o.PostgresURL != "" {
		a, err := postgres.Open(ctx, o.PostgresURL)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("postgres archiver: %w", err)
		}
		closers = append(closers, a.Close)
		if err := a.Migrate(ctx); err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("postgres archiver: %w", err)
		}
		res = append(res, a)
		log.Info("archiving to postgres")
	}

	switch len(res) {
	case 0:
		return nil, closeAll, nil
	case 1:
		return res[0], closeAll, nil
	default:
		return res, closeAll, nil
	}
}

func (f fanout) Archive(ctx context.Context, batch *rewind.ArchiveBatch) error {
	var errs []error
	for _, a := range f {
		if err := a.Archive(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
