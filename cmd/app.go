package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BookingSync/dionysus-go/internal/config"
	"github.com/BookingSync/dionysus-go/internal/db"
	"github.com/BookingSync/dionysus-go/internal/instrument"
	"github.com/BookingSync/dionysus-go/internal/logger"
	"github.com/BookingSync/dionysus-go/internal/metrics"
	"github.com/BookingSync/dionysus-go/internal/producer"
	"github.com/BookingSync/dionysus-go/internal/registry"
)

// boot loads config, initializes logging and metrics. Every subcommand
// starts here.
func boot() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)
	metrics.MustRegister(prometheus.DefaultRegisterer)
	return cfg, nil
}

// buildRegistry registers the configured topic names and runs the
// application Bootstrap hook when one is assigned.
func buildRegistry(cfg config.Config) (*registry.Registry, producer.RecordFinder, error) {
	reg := registry.New()
	seen := map[string]bool{}
	for _, name := range append(append([]string{}, cfg.Outbox.Topics...), cfg.Consumer.Topics...) {
		if seen[name] {
			continue
		}
		seen[name] = true
		reg.RegisterTopic(&registry.Topic{
			Name:                    name,
			InlineObserverThreshold: cfg.Outbox.InlineObserverThreshold,
		})
	}

	if Bootstrap == nil {
		return reg, nil, nil
	}
	finder, err := Bootstrap(cfg, reg)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}
	return reg, finder, nil
}

func newInstrumenter() *instrument.Zap {
	return instrument.NewZap(logger.Named("instrument"))
}

func mysqlOpts(c config.DatabaseConfig) db.MySQLOpts {
	return db.MySQLOpts{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		PingTimeout:     c.PingTimeout,
	}
}
