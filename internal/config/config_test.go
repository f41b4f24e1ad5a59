package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"bot": {"token": "123:abc", "group_chat_id": -100123},
		"access": {"usernames": ["alice"], "user_ids": [42]},
		"store": {"data_dir": "/tmp/fleetbot"},
		"api": {"port": 9090, "api_key": "secret"},
		"reminders": {"interval_minutes": 30, "quiet_start_hour": 4, "quiet_end_hour": 10}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.Token != "123:abc" || cfg.Bot.GroupChatID != -100123 {
		t.Errorf("bot = %+v", cfg.Bot)
	}
	if len(cfg.Access.Usernames) != 1 || len(cfg.Access.UserIDs) != 1 {
		t.Errorf("access = %+v", cfg.Access)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("port = %d", cfg.API.Port)
	}
	if cfg.Reminders.IntervalMinutes != 30 {
		t.Errorf("interval = %d", cfg.Reminders.IntervalMinutes)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"bot": {"token": "123:abc"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Port != 8080 || cfg.API.Host != "0.0.0.0" {
		t.Errorf("api defaults = %+v", cfg.API)
	}
	if cfg.Store.DataDir != "/data" {
		t.Errorf("data_dir = %q", cfg.Store.DataDir)
	}
	r := cfg.Reminders
	if r.IntervalMinutes != 60 || r.DedupeMinutes != 55 || r.PageSize != 200 || r.SendDelayMillis != 150 {
		t.Errorf("reminder defaults = %+v", r)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{}
	cfg.Reminders.QuietStartHour = 30
	cfg.Reminders.QuietEndHour = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"bot.token", "interval_minutes", "quiet_start_hour", "quiet_end_hour"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q: %s", want, msg)
		}
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FLEETBOT_BOT_TOKEN", "tok")
	t.Setenv("FLEETBOT_GROUP_CHAT_ID", "-100500")
	t.Setenv("FLEETBOT_ALLOWED_USERNAMES", "alice, bob")
	t.Setenv("FLEETBOT_ALLOWED_USER_IDS", "1,2,3")
	t.Setenv("FLEETBOT_DATA_DIR", "/tmp/fb")
	t.Setenv("FLEETBOT_API_PORT", "9999")
	t.Setenv("FLEETBOT_REMINDER_INTERVAL_MIN", "15")
	t.Setenv("FLEETBOT_POLL", "true")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Bot.Token != "tok" || cfg.Bot.GroupChatID != -100500 || !cfg.Bot.Poll {
		t.Errorf("bot = %+v", cfg.Bot)
	}
	if got := cfg.Access.Usernames; len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("usernames = %v", got)
	}
	if got := cfg.Access.UserIDs; len(got) != 3 || got[2] != 3 {
		t.Errorf("user ids = %v", got)
	}
	if cfg.API.Port != 9999 {
		t.Errorf("port = %d", cfg.API.Port)
	}
	if cfg.Reminders.IntervalMinutes != 15 {
		t.Errorf("interval = %d", cfg.Reminders.IntervalMinutes)
	}
	// Quiet hours default to the 4..10 UTC window.
	if cfg.Reminders.QuietStartHour != 4 || cfg.Reminders.QuietEndHour != 10 {
		t.Errorf("quiet hours = %d..%d", cfg.Reminders.QuietStartHour, cfg.Reminders.QuietEndHour)
	}
}

func TestLoadFromEnvBadUserIDs(t *testing.T) {
	t.Setenv("FLEETBOT_BOT_TOKEN", "tok")
	t.Setenv("FLEETBOT_ALLOWED_USER_IDS", "1,oops")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for bad user id list")
	}
}
