package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jgoulah/flumescraper/pkg/models"
	"github.com/spf13/cobra"
)

var listDevice string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored usage samples",
	Long:  `Displays stored water usage samples from the database, per device.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listDevice, "device", "", "Only show this device id")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	devices, err := db.ListDevices()
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	shown := 0
	for _, d := range devices {
		if listDevice != "" && d.DeviceID != listDevice {
			continue
		}
		shown++

		data, err := db.ListSamples(d.DeviceID)
		if err != nil {
			return fmt.Errorf("listing samples for %s: %w", d.DeviceID, err)
		}

		fmt.Printf("\nDevice %s (last fetched %s):\n", d.DeviceID, sinceLabel(d.LastFetched))
		fmt.Println("----------------------------------------------")
		fmt.Printf("%-19s  %-4s  %12s  %s\n", "Timestamp", "Bkt", "Gallons", "Pub")
		fmt.Println("----------------------------------------------")

		for _, s := range data {
			fmt.Printf("%-19s  %-4s  %12.3f  %s\n", s.Timestamp, s.Bucket, s.Value, publishedMark(s))
		}

		fmt.Println("----------------------------------------------")
		fmt.Printf("Total: %s gal (%s samples, %s unpublished)\n",
			humanize.FormatFloat("#,###.##", d.TotalValue), humanize.Comma(int64(d.Samples)), humanize.Comma(int64(d.Unpublished)))
	}

	if shown == 0 {
		if listDevice != "" {
			fmt.Printf("No data found for %s\n", listDevice)
		} else {
			fmt.Println("No data found")
		}
	}
	return nil
}

// publishedMark renders the published column
func publishedMark(s models.UsageSample) string {
	if s.Published {
		return "✓"
	}
	return ""
}

// sinceLabel renders how long ago a device was last fetched
func sinceLabel(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
