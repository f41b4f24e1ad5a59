package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level fleetbot configuration.
type Config struct {
	Bot       BotConfig      `json:"bot"`
	Access    AccessConfig   `json:"access"`
	Store     StoreConfig    `json:"store"`
	API       APIConfig      `json:"api"`
	Reminders ReminderConfig `json:"reminders"`
}

// BotConfig holds chat-platform settings.
type BotConfig struct {
	// Token is the bot token from @BotFather.
	Token string `json:"token"`
	// GroupChatID is an optional shared chat that receives created/closed
	// ticket announcements. Zero disables them.
	GroupChatID int64 `json:"group_chat_id,omitempty"`
	// Poll switches inbound delivery from the webhook endpoint to
	// Telegram long polling.
	Poll bool `json:"poll,omitempty"`
}

// AccessConfig holds the allowlist consulted on every inbound update.
type AccessConfig struct {
	AllowAll  bool     `json:"allow_all,omitempty"`
	Usernames []string `json:"usernames,omitempty"`
	UserIDs   []int64  `json:"user_ids,omitempty"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	DataDir string `json:"data_dir"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// ReminderConfig tunes the reminder sweep. Hours are UTC, both ends
// of the quiet window inclusive.
type ReminderConfig struct {
	IntervalMinutes int `json:"interval_minutes"`
	QuietStartHour  int `json:"quiet_start_hour"`
	QuietEndHour    int `json:"quiet_end_hour"`
	DedupeMinutes   int `json:"dedupe_minutes"`
	PageSize        int `json:"page_size"`
	SendDelayMillis int `json:"send_delay_ms"`
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with a
// FLEETBOT_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Bot: BotConfig{
			Token: os.Getenv("FLEETBOT_BOT_TOKEN"),
			Poll:  getenvBool("FLEETBOT_POLL"),
		},
		Access: AccessConfig{
			AllowAll:  getenvBool("FLEETBOT_ALLOW_ALL"),
			Usernames: splitCSV(os.Getenv("FLEETBOT_ALLOWED_USERNAMES")),
		},
		Store: StoreConfig{
			DataDir: getenv("FLEETBOT_DATA_DIR", "/data"),
		},
		API: APIConfig{
			Host: getenv("FLEETBOT_API_HOST", "0.0.0.0"),
			Port: getenvInt("FLEETBOT_API_PORT", 8080),
			Key:  os.Getenv("FLEETBOT_API_KEY"),
		},
		Reminders: ReminderConfig{
			IntervalMinutes: getenvInt("FLEETBOT_REMINDER_INTERVAL_MIN", 0),
			QuietStartHour:  getenvInt("FLEETBOT_QUIET_START_HOUR", 4),
			QuietEndHour:    getenvInt("FLEETBOT_QUIET_END_HOUR", 10),
			DedupeMinutes:   getenvInt("FLEETBOT_DEDUPE_MIN", 0),
		},
	}

	if ids := os.Getenv("FLEETBOT_ALLOWED_USER_IDS"); ids != "" {
		parsed, err := parseInt64List(ids)
		if err != nil {
			return nil, fmt.Errorf("config: FLEETBOT_ALLOWED_USER_IDS: %w", err)
		}
		cfg.Access.UserIDs = parsed
	}
	if gid := os.Getenv("FLEETBOT_GROUP_CHAT_ID"); gid != "" {
		n, err := strconv.ParseInt(gid, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: FLEETBOT_GROUP_CHAT_ID: %w", err)
		}
		cfg.Bot.GroupChatID = n
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.DataDir == "" {
		c.Store.DataDir = "/data"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	r := &c.Reminders
	if r.IntervalMinutes == 0 {
		r.IntervalMinutes = 60
	}
	if r.DedupeMinutes == 0 {
		r.DedupeMinutes = 55
	}
	if r.PageSize == 0 {
		r.PageSize = 200
	}
	if r.SendDelayMillis == 0 {
		r.SendDelayMillis = 150
	}
}

// Validate checks for required fields, collecting all problems.
func (c *Config) Validate() error {
	var errs []string

	if c.Bot.Token == "" {
		errs = append(errs, "bot.token is required")
	}
	if c.Store.DataDir == "" {
		errs = append(errs, "store.data_dir is required")
	}
	if c.Reminders.IntervalMinutes < 1 {
		errs = append(errs, "reminders.interval_minutes must be positive")
	}
	if h := c.Reminders.QuietStartHour; h < 0 || h > 23 {
		errs = append(errs, "reminders.quiet_start_hour must be in 0..23")
	}
	if h := c.Reminders.QuietEndHour; h < 0 || h > 23 {
		errs = append(errs, "reminders.quiet_end_hour must be in 0..23")
	}
	if c.Reminders.DedupeMinutes < 0 {
		errs = append(errs, "reminders.dedupe_minutes must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func splitCSV(s string) []string {
	var result []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func parseInt64List(s string) ([]int64, error) {
	var result []int64
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}
