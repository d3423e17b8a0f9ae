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
	httpSrv "github.com/BookingSync/dionysus-go/internal/http"
	"github.com/BookingSync/dionysus-go/internal/jobs"
	"github.com/BookingSync/dionysus-go/internal/kafka"
	"github.com/BookingSync/dionysus-go/internal/logger"
	"github.com/BookingSync/dionysus-go/internal/producer"
	"github.com/BookingSync/dionysus-go/internal/repository"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ops HTTP server (metrics, reports, genesis)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := boot()
		if err != nil {
			return err
		}

		reg, finder, err := buildRegistry(cfg)
		if err != nil {
			return err
		}

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
		archive := repository.NewArchiveRepository(chDB)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// genesis needs a finder plus the full publish path; without a
		// Bootstrap hook the endpoint stays dark and the server only reports
		var genesis httpSrv.BackfillEnqueuer
		if finder != nil {
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

			broker := kafka.NewProducerFromConfig(kafka.ProducerConfig{
				Brokers:      cfg.Kafka.Brokers,
				BatchTimeout: time.Duration(cfg.Kafka.BatchTimeout) * time.Millisecond,
			})
			defer broker.Close()

			inst := newInstrumenter()
			keys := &producer.PartitionKeyResolver{Default: cfg.Outbox.DefaultPartitionKey}
			responder := producer.NewResponder(reg, broker, producer.NewSerializer(reg), keys, bus.NewRedis(rdb, ""), inst)

			jobRunner := jobs.NewRunner(cfg.Consumer.JobWorkers, 0, inst)
			jobRunner.Start(ctx)
			defer jobRunner.Stop()

			streamer := jobs.NewGenesisStreamer(reg, finder, responder, inst, cfg.Outbox.GenesisBatchSize)
			genesis = jobs.NewGenesisEnqueuer(reg, streamer, jobRunner)
		}

		srv := httpSrv.NewServer(archive, genesis)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(cfg.HTTP.Addr)
		}()
		logger.Named("serve").Info("ops server listening")

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
