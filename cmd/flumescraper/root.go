package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jgoulah/flumescraper/internal/config"
	"github.com/jgoulah/flumescraper/internal/database"
	"github.com/jgoulah/flumescraper/internal/flume"
	"github.com/jgoulah/flumescraper/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	dbPath  string
	debug   bool

	logger    = slog.Default()
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "flumescraper",
	Short: "Collect water usage from a Flume sensor",
	Long: `FlumeScraper is a CLI tool to collect water usage data from the Flume cloud API.
It stores the samples in a local SQLite database and can publish them over MQTT.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default is ./data.db)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// getDBPath returns the database file path (local directory)
func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return "data.db"
}

// loadConfig loads the configuration file
func loadConfig() (*config.Config, error) {
	return config.Load(getConfigPath())
}

// setupLogging builds the process logger from the log section of the config
func setupLogging(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	l, closer, err := logging.New(cfg.Log, debug)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	logger, logCloser = l, closer
	slog.SetDefault(logger)
	return nil
}

// openDB opens the database connection
func openDB() (*database.DB, error) {
	path := getDBPath()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	return database.New(path)
}

// newTokenSource wires the API client and token source for the configured account
func newTokenSource(cfg *config.Config) (*flume.Client, *flume.TokenSource) {
	client := flume.NewClient(cfg.GetAPIURL(), cfg.GetRequestTimeout(), logger)
	cred := flume.Credential{
		Username:     cfg.Credentials.Username,
		Password:     cfg.Credentials.Password,
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.ClientSecret,
	}
	return client, flume.NewTokenSource(flume.NewTokenManager(client), cred)
}

// authHint adds a pointer to the credentials when the token stage failed
func authHint(err error) error {
	if flume.IsAuthError(err) {
		return fmt.Errorf("%w (hint: check credentials in config.yaml or %s/%s)", err, config.EnvUsername, config.EnvPassword)
	}
	return err
}
