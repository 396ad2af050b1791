package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jgoulah/flumescraper/internal/flume"
	"github.com/jgoulah/flumescraper/internal/logging"
	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the account and reader device the credentials resolve to",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

func runWhoami(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client, tokens := newTokenSource(cfg)
	tok, err := tokens.Current(ctx)
	if err != nil {
		return authHint(err)
	}

	userID, err := flume.ResolveUserID(tok.AccessToken)
	if err != nil {
		return err
	}

	dev, err := client.ResolveReader(ctx, tok.AccessToken, userID)
	if err != nil {
		return err
	}

	fmt.Printf("API:       %s\n", client.BaseURL())
	fmt.Printf("Username:  %s\n", cfg.Credentials.Username)
	fmt.Printf("Token:     %s\n", logging.MaskSecret(tok.AccessToken))
	fmt.Printf("User ID:   %d\n", userID)
	fmt.Printf("Device:    %s\n", dev.ID)
	if dev.Timezone != "" {
		fmt.Printf("Timezone:  %s\n", dev.Timezone)
	}

	expiry := tok.Expiry()
	if claimed, err := flume.TokenExpiry(tok.AccessToken); err == nil && !claimed.IsZero() {
		expiry = claimed
	}
	fmt.Printf("Expires:   %s (%s)\n", expiry.Local().Format(time.RFC3339), humanize.Time(expiry))
	return nil
}
