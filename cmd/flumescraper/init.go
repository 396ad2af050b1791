package main

import (
	"fmt"
	"os"

	"github.com/jgoulah/flumescraper/internal/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Long: `Writes config.yaml with every default spelled out. Credentials already
set through the environment or .env are carried into the file.
An existing file is only rewritten with --force; its values are kept.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Rewrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := getConfigPath()
	cfg, err := writeStarterConfig(path, initForce)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Wrote %s\n", path)
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Still to fill in:\n%v\n", err)
	}
	return nil
}

// writeStarterConfig loads whatever is at path, fills every empty field with
// its default and saves the result
func writeStarterConfig(path string, force bool) (*config.Config, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return nil, fmt.Errorf("%s already exists (use --force to rewrite it)", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cfg.APIURL = cfg.GetAPIURL()
	cfg.RequestTimeout = cfg.GetRequestTimeout()
	cfg.Query.Lookback = cfg.GetLookback()
	cfg.Query.Bucket = cfg.GetBucket()
	if cfg.Query.Timezone == "" {
		cfg.Query.Timezone = config.TimezoneLocal
	}
	cfg.MQTT.TopicPrefix = cfg.MQTT.GetTopicPrefix()
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if err := config.Save(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
