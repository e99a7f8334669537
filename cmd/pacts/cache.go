package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pacts/internal/selectorcache"
	"pacts/internal/store"
)

func durationMs(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the selector cache",
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheInvalidateCmd(), newCachePurgeCmd())
	return cmd
}

func withStore(fn func(db *store.Store) error) error {
	db, err := store.Open(cfg.Cache.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show durable cache entry counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(db *store.Store) error {
				total, stable, err := db.CacheStats()
				if err != nil {
					return err
				}
				fmt.Printf("entries: %d (stable %d, unstable %d)\n", total, stable, total-stable)
				fmt.Printf("database: %s\n", db.Path())
				return nil
			})
		},
	}
}

func newCacheInvalidateCmd() *cobra.Command {
	var origin, label string
	cmd := &cobra.Command{
		Use:   "invalidate --origin <origin> --label <label>",
		Short: "Hard-drop the cached selectors for one origin and label",
		RunE: func(cmd *cobra.Command, args []string) error {
			if origin == "" || label == "" {
				return fmt.Errorf("--origin and --label are required")
			}
			return withStore(func(db *store.Store) error {
				return db.CacheInvalidate(origin, selectorcache.Normalize(label))
			})
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "origin the entry belongs to")
	cmd.Flags().StringVar(&label, "label", "", "step label the entry was keyed by")
	return cmd
}

func newCachePurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Drop entries past their TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(db *store.Store) error {
				n, err := db.CachePurgeExpired()
				if err != nil {
					return err
				}
				fmt.Printf("purged %d expired entries\n", n)
				return nil
			})
		},
	}
}
