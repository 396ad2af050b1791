package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jgoulah/flumescraper/internal/config"
)

func clearFlumeEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.EnvUsername, config.EnvPassword, config.EnvClientID, config.EnvClientSecret, config.EnvAPIURL} {
		t.Setenv(k, "")
	}
}

func TestWriteStarterConfig(t *testing.T) {
	clearFlumeEnv(t)
	t.Setenv(config.EnvUsername, "me@example.com")
	path := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := writeStarterConfig(path, false); err != nil {
		t.Fatalf("writeStarterConfig() error: %v", err)
	}

	t.Setenv(config.EnvUsername, "")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Credentials.Username != "me@example.com" {
		t.Errorf("username = %q, want value from environment", cfg.Credentials.Username)
	}
	if cfg.APIURL != config.DefaultAPIURL || cfg.Query.Bucket != config.DefaultBucket {
		t.Errorf("defaults not written: %+v", cfg)
	}
	if cfg.Query.Lookback != 5*time.Minute || cfg.MQTT.TopicPrefix != config.DefaultTopicPrefix {
		t.Errorf("defaults not written: %+v", cfg)
	}
}

func TestWriteStarterConfigKeepsExisting(t *testing.T) {
	clearFlumeEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	existing := &config.Config{Query: config.QueryConfig{Bucket: "HR"}, MQTT: config.MQTTConfig{TopicPrefix: "home/water/"}}
	if err := config.Save(path, existing); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if _, err := writeStarterConfig(path, false); err == nil {
		t.Fatal("expected error without --force")
	}

	cfg, err := writeStarterConfig(path, true)
	if err != nil {
		t.Fatalf("writeStarterConfig() error: %v", err)
	}
	if cfg.Query.Bucket != "HR" || cfg.MQTT.TopicPrefix != "home/water" {
		t.Errorf("existing values lost: %+v", cfg)
	}
}
