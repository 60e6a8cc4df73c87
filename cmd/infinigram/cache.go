package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the result cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every cached attribution",
	Long: `Remove every entry from the configured result cache.

A running server with the memory backend keeps its own cache; purge it with
POST /admin/cache/purge instead.

Examples:
  infinigram cache purge
  infinigram cache purge --config deploy/infinigram.yaml`,
	RunE: runCachePurge,
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	cache, err := openCache(cfg, logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	n, err := cache.Purge(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d cached attributions from the %s cache\n", n, cfg.Cache.Backend)
	return nil
}
