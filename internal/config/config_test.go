package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvUsername, EnvPassword, EnvClientID, EnvClientSecret, EnvAPIURL} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
api_url: http://localhost:9999/
request_timeout: 10s
credentials:
  username: me@example.com
  password: pw
  client_id: cid
  client_secret: secret
query:
  lookback: 15m
  bucket: hr
  timezone: UTC
mqtt:
  enabled: true
  broker: localhost:1883
  topic_prefix: home/water/
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.GetAPIURL() != "http://localhost:9999" {
		t.Errorf("GetAPIURL() = %q", cfg.GetAPIURL())
	}
	if cfg.GetRequestTimeout() != 10*time.Second {
		t.Errorf("GetRequestTimeout() = %s", cfg.GetRequestTimeout())
	}
	if cfg.GetLookback() != 15*time.Minute {
		t.Errorf("GetLookback() = %s", cfg.GetLookback())
	}
	if cfg.GetBucket() != "HR" {
		t.Errorf("GetBucket() = %q", cfg.GetBucket())
	}
	if cfg.MQTT.GetTopicPrefix() != "home/water" {
		t.Errorf("GetTopicPrefix() = %q", cfg.MQTT.GetTopicPrefix())
	}
	loc, deviceZone, err := cfg.Location()
	if err != nil || deviceZone || loc != time.UTC {
		t.Errorf("Location() = %v, %v, %v", loc, deviceZone, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.GetAPIURL() != DefaultAPIURL {
		t.Errorf("GetAPIURL() = %q", cfg.GetAPIURL())
	}
	if cfg.GetLookback() != DefaultLookback || cfg.GetBucket() != DefaultBucket {
		t.Errorf("defaults not applied: %s %s", cfg.GetLookback(), cfg.GetBucket())
	}
	if cfg.GetRequestTimeout() != DefaultRequestTimeout {
		t.Errorf("GetRequestTimeout() = %s", cfg.GetRequestTimeout())
	}
	loc, deviceZone, err := cfg.Location()
	if err != nil || deviceZone || loc != time.Local {
		t.Errorf("Location() = %v, %v, %v", loc, deviceZone, err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "config.yaml", "credentials: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
credentials:
  username: file-user
  password: file-pw
  client_id: file-cid
  client_secret: file-secret
`)
	writeFile(t, dir, ".env", "FLUME_CLIENT_SECRET=dotenv-secret\nFLUME_PASSWORD=dotenv-pw\n")
	t.Setenv(EnvPassword, "env-pw")
	// godotenv never overrides a variable that is set, even to ""
	os.Unsetenv(EnvClientSecret)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Credentials.Username != "file-user" {
		t.Errorf("Username = %q, want file value", cfg.Credentials.Username)
	}
	if cfg.Credentials.Password != "env-pw" {
		t.Errorf("Password = %q, environment should win over .env", cfg.Credentials.Password)
	}
	if cfg.Credentials.ClientSecret != "dotenv-secret" {
		t.Errorf("ClientSecret = %q, want .env value", cfg.Credentials.ClientSecret)
	}
}

func TestLocationModes(t *testing.T) {
	tests := []struct {
		tz         string
		deviceZone bool
		wantErr    bool
	}{
		{"", false, false},
		{"local", false, false},
		{"device", true, false},
		{"America/Chicago", false, false},
		{"Not/AZone", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.tz, func(t *testing.T) {
			cfg := &Config{Query: QueryConfig{Timezone: tt.tz}}
			loc, deviceZone, err := cfg.Location()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				if tt.tz == "America/Chicago" {
					t.Skipf("tz database unavailable: %v", err)
				}
				t.Fatalf("Location() error: %v", err)
			}
			if deviceZone != tt.deviceZone {
				t.Errorf("deviceZone = %v, want %v", deviceZone, tt.deviceZone)
			}
			if !deviceZone && loc == nil {
				t.Error("expected a location")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := Config{Credentials: Credentials{Username: "u", Password: "p", ClientID: "c", ClientSecret: "s"}}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing username", func(c *Config) { c.Credentials.Username = "" }, "credentials.username"},
		{"missing secret", func(c *Config) { c.Credentials.ClientSecret = "" }, "credentials.client_secret"},
		{"hourly bucket", func(c *Config) { c.Query.Bucket = "hr" }, ""},
		{"yearly bucket", func(c *Config) { c.Query.Bucket = "YR" }, ""},
		{"bad bucket", func(c *Config) { c.Query.Bucket = "WEEK" }, "query.bucket"},
		{"negative lookback", func(c *Config) { c.Query.Lookback = -time.Minute }, "query.lookback"},
		{"bad timezone", func(c *Config) { c.Query.Timezone = "Mars/Base" }, "timezone"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	err := (&Config{}).Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, field := range []string{"username", "password", "client_id", "client_secret"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error does not mention %s: %v", field, err)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	in := &Config{
		Credentials: Credentials{Username: "u", Password: "p", ClientID: "c", ClientSecret: "s"},
		Query:       QueryConfig{Lookback: 2 * time.Hour, Bucket: "HR"},
	}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if out.Credentials != in.Credentials || out.Query.Lookback != in.Query.Lookback {
		t.Errorf("round trip mismatch: %+v", out)
	}
}
