package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("driver = %q, want mysql", cfg.Database.Driver)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("http port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.Processor.PollIntervalSec != 30 {
		t.Errorf("poll interval = %d, want 30", cfg.Processor.PollIntervalSec)
	}
	if cfg.Processor.BatchSize != 50 {
		t.Errorf("batch size = %d, want 50", cfg.Processor.BatchSize)
	}
	if cfg.Limits.Daily != 10 || cfg.Limits.Hourly != 3 {
		t.Errorf("limits = %d/%d, want 10/3", cfg.Limits.Daily, cfg.Limits.Hourly)
	}
	if cfg.Limits.QuietHoursStart != 22 || cfg.Limits.QuietHoursEnd != 8 {
		t.Errorf("quiet hours = %d-%d, want 22-8", cfg.Limits.QuietHoursStart, cfg.Limits.QuietHoursEnd)
	}
	if cfg.Limits.FailMode != FailOpen {
		t.Errorf("fail mode = %q, want open", cfg.Limits.FailMode)
	}
	if cfg.Sequences.IncompletePolicy != IncompleteDeliver {
		t.Errorf("incomplete policy = %q, want deliver", cfg.Sequences.IncompletePolicy)
	}
	if cfg.Alerts.FailureThreshold != 3 {
		t.Errorf("failure threshold = %d, want 3", cfg.Alerts.FailureThreshold)
	}
}

func TestParse_FullConfig(t *testing.T) {
	yaml := `
database:
  driver: sqlite
  path: /tmp/courier-test.db
http:
  port: 9090
processor:
  poll_interval_sec: 5
  batch_size: 20
  claim_ttl_sec: 60
limits:
  daily: 4
  hourly: 2
  quiet_hours_start: 21
  quiet_hours_end: 9
  timezone: America/New_York
  fail_mode: closed
sequences:
  incomplete_policy: hold
alerts:
  platform: slack
  channel: C123
  slack_bot_token: xoxb-test
  failure_threshold: 5
  digest_cron: "0 9 * * *"
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "/tmp/courier-test.db" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Errorf("PollInterval() = %v, want 5s", cfg.PollInterval())
	}
	if cfg.ClaimTTL() != 60*time.Second {
		t.Errorf("ClaimTTL() = %v, want 60s", cfg.ClaimTTL())
	}
	if cfg.Limits.FailMode != FailClosed {
		t.Errorf("fail mode = %q, want closed", cfg.Limits.FailMode)
	}
	if cfg.Limits.Timezone != "America/New_York" {
		t.Errorf("timezone = %q", cfg.Limits.Timezone)
	}
	if cfg.Sequences.IncompletePolicy != IncompleteHold {
		t.Errorf("incomplete policy = %q, want hold", cfg.Sequences.IncompletePolicy)
	}
	if cfg.Alerts.DigestCron != "0 9 * * *" {
		t.Errorf("digest cron = %q", cfg.Alerts.DigestCron)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("database: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad driver",
			yaml: "database:\n  driver: postgres\n",
			want: "database.driver",
		},
		{
			name: "bad fail mode",
			yaml: "limits:\n  fail_mode: maybe\n",
			want: "limits.fail_mode",
		},
		{
			name: "quiet hours out of range",
			yaml: "limits:\n  quiet_hours_start: 25\n  quiet_hours_end: 8\n",
			want: "quiet_hours_start",
		},
		{
			name: "bad timezone",
			yaml: "limits:\n  timezone: Mars/Olympus\n",
			want: "limits.timezone",
		},
		{
			name: "bad incomplete policy",
			yaml: "sequences:\n  incomplete_policy: discard\n",
			want: "incomplete_policy",
		},
		{
			name: "unknown alert platform",
			yaml: "alerts:\n  platform: telegram\n",
			want: "alerts.platform",
		},
		{
			name: "slack without token",
			yaml: "alerts:\n  platform: slack\n  channel: C123\n",
			want: "slack_bot_token",
		},
		{
			name: "discord without token",
			yaml: "alerts:\n  platform: discord\n  channel: ops\n",
			want: "discord_bot_token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/courier.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: read")
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "courier.yaml")
	content := "http:\n  port: 7070\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTP.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.HTTP.Port)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Limits.Daily != 10 {
		t.Errorf("daily = %d, want 10", cfg.Limits.Daily)
	}
	if cfg.ActiveWindow() != 10*time.Minute {
		t.Errorf("ActiveWindow() = %v, want 10m", cfg.ActiveWindow())
	}
}

func TestQuietHoursDefaults_NotAppliedWhenExplicit(t *testing.T) {
	// An explicit 0-0 window stays 0-0 (quiet hours effectively disabled for
	// users without overrides); only the fully-unset case gets 22-8.
	cfg, err := Parse([]byte("limits:\n  quiet_hours_start: 0\n  quiet_hours_end: 6\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Limits.QuietHoursStart != 0 || cfg.Limits.QuietHoursEnd != 6 {
		t.Errorf("quiet hours = %d-%d, want 0-6", cfg.Limits.QuietHoursStart, cfg.Limits.QuietHoursEnd)
	}
}
