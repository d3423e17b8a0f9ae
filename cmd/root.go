package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BookingSync/dionysus-go/internal/config"
	"github.com/BookingSync/dionysus-go/internal/producer"
	"github.com/BookingSync/dionysus-go/internal/registry"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "dionysus",
		Short: "Transactional outbox and change-event synchronization pipeline",
	}
)

// Bootstrap is the application's registration point, assigned from main()
// before Execute. It registers producer models, consumer field tables, and
// observers on the registry and returns the record finder backing publishes
// and genesis streaming. Left nil, only topic names from the config are
// registered, which is enough for consumer-only deployments.
var Bootstrap func(cfg config.Config, reg *registry.Registry) (producer.RecordFinder, error)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file (optional, env overrides apply)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(outboxCmd)
	rootCmd.AddCommand(consumerCmd)
	rootCmd.AddCommand(migrateCmd)
}
