package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BookingSync/dionysus-go/internal/db"
)

const outboxDDL = `
CREATE TABLE IF NOT EXISTS outbox_entries (
    id             BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
    resource_class VARCHAR(191)    NOT NULL,
    resource_id    VARCHAR(191)    NOT NULL,
    event_name     VARCHAR(191)    NOT NULL,
    topic          VARCHAR(191)    NOT NULL,
    partition_key  VARCHAR(191)    NULL,
    changeset      JSON            NULL,
    published_at   DATETIME(6)     NULL,
    failed_at      DATETIME(6)     NULL,
    retry_at       DATETIME(6)     NULL,
    error_class    VARCHAR(191)    NULL,
    error_message  TEXT            NULL,
    attempts       INT             NOT NULL DEFAULT 0,
    created_at     DATETIME(6)     NOT NULL,
    updated_at     DATETIME(6)     NOT NULL,
    PRIMARY KEY (id),
    KEY idx_outbox_fetch (topic, published_at, retry_at, created_at),
    KEY idx_outbox_resource (resource_class, resource_id)
) ENGINE = InnoDB DEFAULT CHARSET = utf8mb4
`

const archiveDDL = `
CREATE TABLE IF NOT EXISTS dionysus.published_events (
    topic          String,
    event_name     String,
    resource_class String,
    resource_id    String,
    partition_key  String,
    published_at   DateTime64(6)
) ENGINE = MergeTree
ORDER BY (topic, published_at)
`

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the outbox table and the ClickHouse archive table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := boot()
		if err != nil {
			return err
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, mysqlOpts(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		if _, err := sqlDB.Exec(outboxDDL); err != nil {
			return fmt.Errorf("create outbox_entries: %w", err)
		}
		fmt.Println(">> outbox_entries ready")

		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
				DSN:         cfg.ClickHouse.DSN,
				PingTimeout: cfg.ClickHouse.PingTimeout,
			})
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer chDB.Close()

			if _, err := chDB.Exec("CREATE DATABASE IF NOT EXISTS dionysus"); err != nil {
				return fmt.Errorf("create clickhouse database: %w", err)
			}
			if _, err := chDB.Exec(archiveDDL); err != nil {
				return fmt.Errorf("create published_events: %w", err)
			}
			fmt.Println(">> published_events ready")
		}

		return nil
	},
}
