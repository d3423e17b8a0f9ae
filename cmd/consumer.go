package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BookingSync/dionysus-go/internal/bus"
	"github.com/BookingSync/dionysus-go/internal/consumer"
	"github.com/BookingSync/dionysus-go/internal/db"
	"github.com/BookingSync/dionysus-go/internal/kafka"
	"github.com/BookingSync/dionysus-go/internal/lock"
)

var consumerCmd = &cobra.Command{
	Use:   "consumer",
	Short: "Run the change-event consumer for the configured topics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := boot()
		if err != nil {
			return err
		}
		if len(cfg.Consumer.Topics) == 0 {
			return fmt.Errorf("no consumer topics configured")
		}

		reg, _, err := buildRegistry(cfg)
		if err != nil {
			return err
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

		inst := newInstrumenter()
		persistor := consumer.NewPersistor(reg, consumer.NewSQLStore(sqlDB), inst)
		batch := consumer.NewBatchProcessor(persistor, lock.NewRedisMutex(rdb, cfg.Consumer.MutexTTL), inst)
		dispatcher := consumer.NewDispatcher(reg, batch, bus.NewRedis(rdb, ""), inst, inst)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var wg sync.WaitGroup
		for _, topic := range cfg.Consumer.Topics {
			reader := kafka.NewConsumerFromConfig(kafka.Config{
				Brokers:  cfg.Kafka.Brokers,
				Topic:    topic,
				GroupID:  cfg.Consumer.GroupID,
				MinBytes: cfg.Kafka.MinBytes,
				MaxBytes: cfg.Kafka.MaxBytes,
			})
			wg.Add(1)
			go func(topic string, reader *kafka.Consumer) {
				defer wg.Done()
				defer reader.Close()
				_ = dispatcher.Run(ctx, topic, reader)
			}(topic, reader)
		}
		wg.Wait()
		return nil
	},
}
