package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/batch-tamarin/batch-tamarin/pkg/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the number of cached results",
	RunE:  cacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached result",
	RunE:  cacheClear,
}

func init() {
	cacheCmd.PersistentFlags().String("cache-dir", "", "Cache directory (default: ~/.batch-tamarin/cache)")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openCacheFromFlags(cmd *cobra.Command) (*cache.Cache, error) {
	dir, _ := cmd.Flags().GetString("cache-dir")
	if dir == "" {
		var err error
		dir, err = cache.DefaultDir()
		if err != nil {
			return nil, fmt.Errorf("resolving default cache directory: %w", err)
		}
	}
	c, err := cache.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("opening cache %s: %w", dir, err)
	}
	return c, nil
}

func cacheStats(cmd *cobra.Command, args []string) error {
	c, err := openCacheFromFlags(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	stats, err := c.StatsReport()
	if err != nil {
		return fmt.Errorf("reading cache stats: %w", err)
	}

	fmt.Printf("cached results: %d\n", stats.Size)
	return nil
}

func cacheClear(cmd *cobra.Command, args []string) error {
	c, err := openCacheFromFlags(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Clear(); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}

	fmt.Println("cache cleared")
	return nil
}
