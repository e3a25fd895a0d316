// Package config loads the process configuration from .env, the
// environment and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Modes restrict who the bot answers. Owners are never filtered.
const (
	ModePublic  = "public"
	ModePrivate = "private"
	ModeInbox   = "inbox"
	ModeGroups  = "groups"
)

const (
	BackendJSON  = "json"
	BackendMongo = "mongo"
)

// Reconnect is the YAML form of the reconnect policy.
type Reconnect struct {
	MaxAttempts  int                   `yaml:"max_attempts"`
	BaseDelay    time.Duration         `yaml:"base_delay"`
	PerCodeDelay map[int]time.Duration `yaml:"per_code_delay"`
}

// Status controls what the bot does with contacts' status updates.
type Status struct {
	AutoSeen  bool   `yaml:"auto_seen"`
	AutoReact bool   `yaml:"auto_react"`
	AutoReply bool   `yaml:"auto_reply"`
	ReplyText string `yaml:"reply_text"`
}

type Config struct {
	Prefix       string   `yaml:"prefix"`
	Mode         string   `yaml:"mode"`
	BotName      string   `yaml:"bot_name"`
	OwnerName    string   `yaml:"owner_name"`
	OwnerNumbers []string `yaml:"owner_numbers"`
	Description  string   `yaml:"description"`
	MenuImageURL string   `yaml:"menu_image_url"`
	ReadMessages bool     `yaml:"read_messages"`
	LogMessages  bool     `yaml:"log_messages"`
	Status       Status   `yaml:"status"`

	SessionDir     string `yaml:"session_dir"`
	SessionID      string `yaml:"session_id"`
	SessionURL     string `yaml:"session_url"`
	AllowQRPairing bool   `yaml:"allow_qr_pairing"`

	StoreBackend  string    `yaml:"store_backend"`
	DatabaseDir   string    `yaml:"database_dir"`
	MongoURI      string    `yaml:"mongodb_uri"`
	MongoDatabase string    `yaml:"mongodb_database"`
	LogLevel      string    `yaml:"log_level"`
	Reconnect     Reconnect `yaml:"reconnect"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Prefix:         ".",
		Mode:           ModePublic,
		BotName:        "GIST HQ Bot",
		OwnerName:      "GIST HQ",
		Description:    "Your smart WhatsApp bot",
		SessionDir:     "sessions",
		AllowQRPairing: true,
		StoreBackend:   BackendJSON,
		DatabaseDir:    "database",
		MongoURI:       "mongodb://localhost:27017",
		MongoDatabase:  "gisthq_bot",
		LogLevel:       "info",
		Status:         Status{ReplyText: "👀 Seen your status"},
		Reconnect: Reconnect{
			MaxAttempts: 5,
			BaseDelay:   3 * time.Second,
			PerCodeDelay: map[int]time.Duration{
				515: time.Second,
				440: 10 * time.Second,
				402: time.Minute,
				503: 10 * time.Second,
				428: 3 * time.Second,
				408: 3 * time.Second,
			},
		},
	}
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE
// (default config.yaml, optional), then applies environment overrides.
func Load() (Config, error) {
	_ = godotenv.Load()
	cfg := Default()

	path := os.Getenv("CONFIG_FILE")
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err = yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	c.OwnerNumbers = sanitizeNumbers(c.OwnerNumbers)
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var err error
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || v == "" || err != nil {
			return
		}
		var b bool
		if b, err = strconv.ParseBool(v); err != nil {
			err = fmt.Errorf("invalid %s: %w", key, err)
			return
		}
		*dst = b
	}

	str("PREFIX", &c.Prefix)
	str("MODE", &c.Mode)
	str("BOT_NAME", &c.BotName)
	str("OWNER_NAME", &c.OwnerName)
	str("DESCRIPTION", &c.Description)
	str("MENU_IMAGE_URL", &c.MenuImageURL)
	str("SESSION_DIR", &c.SessionDir)
	str("SESSION_ID", &c.SessionID)
	str("SESSION_URL", &c.SessionURL)
	str("STORE_BACKEND", &c.StoreBackend)
	str("DATABASE_DIR", &c.DatabaseDir)
	str("MONGODB_URI", &c.MongoURI)
	str("MONGODB_DATABASE", &c.MongoDatabase)
	str("LOG_LEVEL", &c.LogLevel)
	str("AUTO_STATUS_MSG", &c.Status.ReplyText)
	boolean("READ_MESSAGE", &c.ReadMessages)
	boolean("LOG_MESSAGES", &c.LogMessages)
	boolean("ALLOW_QR_PAIRING", &c.AllowQRPairing)
	boolean("AUTO_STATUS_SEEN", &c.Status.AutoSeen)
	boolean("AUTO_STATUS_REACT", &c.Status.AutoReact)
	boolean("AUTO_STATUS_REPLY", &c.Status.AutoReply)
	if v, ok := lookup("OWNER_NUMBER"); ok && v != "" {
		c.OwnerNumbers = sanitizeNumbers(strings.Split(v, ","))
	}
	c.Mode = strings.ToLower(c.Mode)
	c.StoreBackend = strings.ToLower(c.StoreBackend)
	return err
}

// Validate reports configuration values the bot cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Prefix) == "" {
		return errors.New("prefix must not be empty")
	}
	if !ValidMode(c.Mode) {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	switch c.StoreBackend {
	case BackendJSON, BackendMongo:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect.max_attempts must be positive, got %d", c.Reconnect.MaxAttempts)
	}
	if c.Reconnect.BaseDelay < 0 {
		return errors.New("reconnect.base_delay must not be negative")
	}
	if c.SessionID != "" && c.SessionURL == "" {
		return errors.New("SESSION_ID is set but SESSION_URL is empty")
	}
	return nil
}

// ValidMode reports whether mode is one of the known modes.
func ValidMode(mode string) bool {
	switch mode {
	case ModePublic, ModePrivate, ModeInbox, ModeGroups:
		return true
	}
	return false
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// SanitizeNumber removes all non-numeric characters from a phone number.
func SanitizeNumber(phone string) string {
	return nonDigits.ReplaceAllString(phone, "")
}

// sanitizeNumbers sanitizes every number and drops the ones left empty.
func sanitizeNumbers(numbers []string) []string {
	var out []string
	for _, n := range numbers {
		if n = SanitizeNumber(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
