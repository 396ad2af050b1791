package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jgoulah/flumescraper/internal/flume"
	"github.com/jgoulah/flumescraper/internal/publisher"
	"github.com/spf13/cobra"
)

var (
	fetchLookback  time.Duration
	fetchBucket    string
	fetchRequestID string
	fetchPublish   bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch recent usage from the Flume API",
	Long: `Authenticates with the configured account, finds the reader device and
queries its usage for the lookback window ending now.
Samples are stored in the local SQLite database.`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().DurationVar(&fetchLookback, "lookback", 0, "Window length ending now (default from config, 5m)")
	fetchCmd.Flags().StringVar(&fetchBucket, "bucket", "", "Bucket granularity: MIN, HR, DAY, MON, YR")
	fetchCmd.Flags().StringVar(&fetchRequestID, "request-id", "", "Correlation id for the query (random when empty)")
	fetchCmd.Flags().BoolVar(&fetchPublish, "publish", false, "Publish new samples over MQTT after storing them")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Fetch started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if fetchLookback > 0 {
		cfg.Query.Lookback = fetchLookback
	}
	if fetchBucket != "" {
		cfg.Query.Bucket = fetchBucket
	}
	if fetchRequestID != "" {
		cfg.Query.RequestID = fetchRequestID
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	loc, deviceZone, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	client, tokens := newTokenSource(cfg)
	fetcher := flume.NewFetcher(client, tokens, flume.WindowPolicy{Location: loc, UseDeviceZone: deviceZone})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Printf("Fetching %s usage for the last %s...\n", cfg.GetBucket(), cfg.GetLookback())
	result, err := fetcher.Fetch(ctx, flume.FetchRequest{
		Lookback:  cfg.GetLookback(),
		Bucket:    cfg.GetBucket(),
		RequestID: cfg.Query.RequestID,
	})
	if err != nil {
		return authHint(err)
	}

	fmt.Printf("Device %s, window %s to %s (request %s)\n",
		result.Device.ID, result.Window.SinceString(), result.Window.UntilString(), result.Request.RequestID())

	if len(result.Samples) == 0 {
		fmt.Println("No samples in window")
		return nil
	}

	added := 0
	for i := range result.Samples {
		ok, err := db.InsertSample(&result.Samples[i])
		if err != nil {
			return fmt.Errorf("storing usage sample: %w", err)
		}
		if ok {
			added++
		}
	}
	fmt.Printf("✓ Stored %d new samples (%d already present)\n", added, len(result.Samples)-added)

	latest := result.Samples[len(result.Samples)-1]
	if at, err := latest.Time(result.Window.Until.Location()); err == nil {
		fmt.Printf("Latest sample %s: %.3f gal (%s)\n", latest.Timestamp, latest.Value, humanize.Time(at))
	}

	if !fetchPublish {
		return nil
	}

	pub, err := publisher.New(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	published, total, err := publishPending(db, pub, result.Device.ID, false, 0)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Published %d/%d samples\n", published, total)
	return nil
}
