package commands

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/pkg/burrow"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warren",
	Short: "Warren - adaptive agent selection and learning core",
	Long: `Warren is the adaptive agent selection and learning core of an
autonomous research-validation pipeline. It decides which strategy
("agent") to invoke at each pipeline stage, learns from the outcomes of
many concurrent validation sessions, and supports competitive
tournaments and weighted swarm consensus.

The CLI inspects a running instance's learned state through its Redis
burrow: agent ratings, learning summaries, trajectory logs, snapshots
and the unflushed-recovery queue.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "warren.yml", "Path to warren.yml")
}

// loadConfigAndStore is the shared setup for every subcommand: parse
// warren.yml and open the instance's burrow store.
func loadConfigAndStore() (*config.WarrenConfig, *burrow.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load %s: %w", configPath, err)
	}

	store, err := burrow.NewStore(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Instance)
	if err != nil {
		return nil, nil, err
	}

	return cfg, store, nil
}
