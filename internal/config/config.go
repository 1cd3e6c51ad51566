package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"crewcal/internal/fsutil"
)

// Backend names accepted in the "backend" key.
const (
	BackendGoogle = "google"
	BackendICS    = "ics"
	BackendMemory = "memory"
)

// Environment variables that override secrets and log level from the file.
const (
	EnvClientSecret = "CREWCAL_GOOGLE_CLIENT_SECRET"
	EnvLogLevel     = "CREWCAL_LOG_LEVEL"
)

// GoogleConfig configures the Google Calendar backend and its OAuth client.
type GoogleConfig struct {
	// CalendarID is the shared calendar; "primary" when empty.
	CalendarID   string `yaml:"calendar_id" json:"calendar_id"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"-"`
	// RedirectURL must point at /auth/callback of this server.
	RedirectURL string `yaml:"redirect_url" json:"redirect_url"`
	// TokenCache is where the last OAuth token is kept between runs.
	TokenCache string `yaml:"token_cache" json:"token_cache"`
}

// ICSConfig configures the iCalendar backend. With URL set the calendar is
// a read-only mirror of a remote feed; otherwise Path is read and written.
type ICSConfig struct {
	Path     string `yaml:"path" json:"path"`
	URL      string `yaml:"url" json:"url"`
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// SnapshotConfig controls the headless-browser capture of the overview page.
type SnapshotConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Width   int    `yaml:"width" json:"width"`
	Height  int    `yaml:"height" json:"height"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone in which event instants become dates.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for reloading events from the store.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// Backend selects the event store: google, ics or memory.
	Backend string `yaml:"backend" json:"backend"`

	Google GoogleConfig `yaml:"google" json:"google"`
	ICS    ICSConfig    `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Local",
		RefreshCron: "*/15 * * * *",
		LogLevel:    "info",
		LogFormat:   "json",
		Backend:     BackendMemory,
		Google: GoogleConfig{
			CalendarID:  "primary",
			RedirectURL: "http://127.0.0.1:8080/auth/callback",
			TokenCache:  "/var/lib/crewcal/token.json",
		},
		ICS: ICSConfig{
			Path:     "/var/lib/crewcal/calendar.ics",
			CacheDir: "/var/lib/crewcal/ics-cache",
		},
		Snapshot: SnapshotConfig{
			Path:   "/var/lib/crewcal/overview.png",
			Width:  1600,
			Height: 900,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}

	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case BackendGoogle, BackendICS, BackendMemory:
	default:
		// Unknown value; the in-memory store at least lets the UI start.
		c.Backend = BackendMemory
	}

	if c.Google.CalendarID == "" {
		c.Google.CalendarID = def.Google.CalendarID
	}
	if c.Google.RedirectURL == "" {
		c.Google.RedirectURL = def.Google.RedirectURL
	}
	if c.Google.TokenCache == "" {
		c.Google.TokenCache = def.Google.TokenCache
	}
	if c.ICS.Path == "" {
		c.ICS.Path = def.ICS.Path
	}
	if c.ICS.CacheDir == "" {
		c.ICS.CacheDir = def.ICS.CacheDir
	}
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = def.Snapshot.Path
	}
	if c.Snapshot.Width <= 0 {
		c.Snapshot.Width = def.Snapshot.Width
	}
	if c.Snapshot.Height <= 0 {
		c.Snapshot.Height = def.Snapshot.Height
	}
}

// ApplyEnv overrides secrets and the log level from the environment so they
// need not live in the file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvClientSecret); v != "" {
		c.Google.ClientSecret = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Location resolves Timezone, falling back to time.Local for "Local" or an
// unknown zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and normalized.
//
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			err := Save(path, cfg)
			cfg.ApplyEnv()
			// Even if save fails, return cfg with error so caller can decide.
			return cfg, err
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes the given configuration atomically with 0600 permissions,
// creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
