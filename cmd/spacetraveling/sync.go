package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/eringen/spacetraveling"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror every Prismic post into the local SQLite snapshot",
	Long:  "sync reads the whole Prismic listing with full documents and replaces the snapshot served by the sqlite backend. Running servers are told to revalidate when NATS_URL is set.",
	RunE:  syncAction,
}

func syncAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Prismic.Endpoint == "" {
		return errors.New("sync: PRISMIC_ENDPOINT is required")
	}
	log := initLogger(cfg, os.Stderr)
	ctx := cmd.Context()

	src, err := newPrismic(cfg, true, log)
	if err != nil {
		return err
	}
	store, err := spacetraveling.NewStore(cfg.Site.DatabasePath, cfg.Site.SnapshotPage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	n, err := spacetraveling.Sync(ctx, src, store, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "synced %d posts into %s\n", n, cfg.Site.DatabasePath)

	if cfg.NATS.URL == "" {
		return nil
	}
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName+"-sync"))
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()
	if err := spacetraveling.NewRevalidator(nc, cfg.NATS.Subject, log).Publish(ctx, "sync"); err != nil {
		return err
	}
	return nc.Flush()
}
