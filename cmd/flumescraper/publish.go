package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jgoulah/flumescraper/internal/database"
	"github.com/jgoulah/flumescraper/internal/publisher"
	"github.com/jgoulah/flumescraper/pkg/models"
	"github.com/spf13/cobra"
)

var (
	publishDevice string
	publishAll    bool
	publishLimit  int
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish stored usage samples over MQTT",
	Long:  `Reads stored water usage samples from the database and publishes them to the configured MQTT broker.`,
	RunE:  runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishDevice, "device", "", "Device to publish (default: all stored devices)")
	publishCmd.Flags().BoolVar(&publishAll, "all", false, "Force republish all samples (ignore published flag)")
	publishCmd.Flags().IntVar(&publishLimit, "limit", 0, "Limit number of samples to publish per device (0 = no limit)")
	rootCmd.AddCommand(publishCmd)
}

// samplePublisher is the part of the MQTT publisher the publish loop needs
type samplePublisher interface {
	Publish(models.UsageSample) error
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cfg.MQTT.Enabled {
		return fmt.Errorf("MQTT is not enabled in config")
	}

	pub, err := publisher.New(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	devices := []string{}
	if publishDevice != "" {
		devices = append(devices, publishDevice)
	} else {
		summaries, err := db.ListDevices()
		if err != nil {
			return fmt.Errorf("listing devices: %w", err)
		}
		for _, d := range summaries {
			devices = append(devices, d.DeviceID)
		}
	}

	if len(devices) == 0 {
		fmt.Println("No data found")
		return nil
	}

	totalPublished := 0
	for _, device := range devices {
		published, total, err := publishPending(db, pub, device, publishAll, publishLimit)
		if err != nil {
			return err
		}
		if total == 0 {
			continue
		}
		fmt.Printf("Successfully published %d/%d samples for %s\n", published, total, device)
		totalPublished += published
	}

	fmt.Printf("\nTotal samples published: %s\n", humanize.Comma(int64(totalPublished)))
	return nil
}

// publishPending publishes the stored samples of one device and marks each
// delivered sample as published. Individual publish failures are reported
// and skipped.
func publishPending(db *database.DB, pub samplePublisher, device string, all bool, limit int) (published, total int, err error) {
	var data []models.UsageSample
	if all {
		data, err = db.ListSamples(device)
	} else {
		data, err = db.ListUnpublished(device)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("listing samples for %s: %w", device, err)
	}

	if len(data) == 0 {
		if all {
			fmt.Printf("No data found for %s\n", device)
		} else {
			fmt.Printf("No unpublished data found for %s\n", device)
		}
		return 0, 0, nil
	}

	if limit > 0 && len(data) > limit {
		data = data[:limit]
		fmt.Printf("Limiting to %d samples (--limit flag)\n", limit)
	}

	fmt.Printf("Publishing %d samples for %s...\n", len(data), device)
	for i, s := range data {
		fmt.Printf("[%d/%d] Publishing %s (%.3f gal)... ", i+1, len(data), s.Timestamp, s.Value)
		if err := pub.Publish(s); err != nil {
			fmt.Printf("FAILED: %v\n", err)
			logger.Warn("Publish failed", "device_id", device, "timestamp", s.Timestamp, "error", err)
			continue
		}

		if err := db.MarkPublished(s.ID); err != nil {
			fmt.Printf("✓ (warning: failed to mark as published: %v)\n", err)
		} else {
			fmt.Printf("✓\n")
		}
		published++
	}

	return published, len(data), nil
}
