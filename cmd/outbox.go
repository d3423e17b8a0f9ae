package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BookingSync/dionysus-go/internal/bus"
	"github.com/BookingSync/dionysus-go/internal/db"
	"github.com/BookingSync/dionysus-go/internal/jobs"
	"github.com/BookingSync/dionysus-go/internal/kafka"
	"github.com/BookingSync/dionysus-go/internal/lock"
	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/producer"
	"github.com/BookingSync/dionysus-go/internal/registry"
	"github.com/BookingSync/dionysus-go/internal/repository"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Run the outbox worker (poll, publish, retry)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := boot()
		if err != nil {
			return err
		}

		reg, finder, err := buildRegistry(cfg)
		if err != nil {
			return err
		}
		if finder == nil {
			return fmt.Errorf("outbox worker needs a record finder; assign cmd.Bootstrap before Execute")
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, mysqlOpts(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		rdb, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer rdb.Close()

		var archive repository.ArchiveRepository
		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
				DSN:             cfg.ClickHouse.DSN,
				MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
				MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
				ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
				ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
				PingTimeout:     cfg.ClickHouse.PingTimeout,
			})
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer chDB.Close()
			archive = repository.NewArchiveRepository(chDB)
		}

		broker := kafka.NewProducerFromConfig(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			BatchTimeout: time.Duration(cfg.Kafka.BatchTimeout) * time.Millisecond,
		})
		defer broker.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := ensureTopics(ctx, broker, reg); err != nil {
			return err
		}

		inst := newInstrumenter()
		keys := &producer.PartitionKeyResolver{Default: cfg.Outbox.DefaultPartitionKey}
		responder := producer.NewResponder(reg, broker, producer.NewSerializer(reg), keys, bus.NewRedis(rdb, ""), inst)

		jobRunner := jobs.NewRunner(cfg.Consumer.JobWorkers, 0, inst)
		jobRunner.Start(ctx)
		defer jobRunner.Stop()

		streamer := jobs.NewGenesisStreamer(reg, finder, responder, inst, cfg.Outbox.GenesisBatchSize)
		fanout := producer.NewObserverFanout(reg, responder, jobs.NewGenesisEnqueuer(reg, streamer, jobRunner), cfg.Outbox.InlineObserverThreshold)

		prod := producer.NewProducer(
			repository.NewOutboxRepository(sqlDB),
			responder,
			finder,
			fanout,
			archive,
			inst,
			inst,
			cfg.Outbox.PublishingDelay,
			cfg.Outbox.RemoveConsecutiveDuplicates,
		)

		runner := producer.NewRunner(producer.RunnerConfig{
			Namespace:    cfg.Outbox.Namespace,
			Topics:       cfg.Outbox.Topics,
			BatchSize:    cfg.Outbox.BatchSize,
			PollInterval: cfg.Outbox.PollInterval,
			LockTTL:      cfg.Outbox.LockTTL,
		}, prod, lock.NewRedisLock(rdb), inst, inst)
		runner.Reconnect = func(ctx context.Context) error { return db.Reconnect(ctx, sqlDB) }

		return runner.Run(ctx)
	},
}

// ensureTopics creates every registered topic, its genesis replica, and the
// reserved observer topic before the worker publishes to them.
func ensureTopics(ctx context.Context, broker *kafka.Producer, reg *registry.Registry) error {
	for _, t := range reg.Topics() {
		if err := broker.EnsureTopic(ctx, t.Name, 0); err != nil {
			return fmt.Errorf("ensure topic %s: %w", t.Name, err)
		}
		if t.GenesisReplica != "" {
			if err := broker.EnsureTopic(ctx, t.GenesisReplica, 0); err != nil {
				return fmt.Errorf("ensure topic %s: %w", t.GenesisReplica, err)
			}
		}
	}
	if err := broker.EnsureTopic(ctx, model.ObserverTopic, 0); err != nil {
		return fmt.Errorf("ensure topic %s: %w", model.ObserverTopic, err)
	}
	return nil
}
