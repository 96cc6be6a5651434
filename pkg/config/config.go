package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "DOCHARVEST_"

// Config holds all configuration options for a harvest run
type Config struct {
	Site       SiteConfig       `yaml:"site" json:"site"`
	Browser    BrowserConfig    `yaml:"browser" json:"browser"`
	Datasets   DatasetConfig    `yaml:"datasets" json:"datasets"`
	Output     OutputConfig     `yaml:"output" json:"output"`
	Pagination PaginationConfig `yaml:"pagination" json:"pagination"`
	Download   DownloadConfig   `yaml:"download" json:"download"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
	Session    SessionConfig    `yaml:"session" json:"session"`
	Journal    JournalConfig    `yaml:"journal" json:"journal"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// SiteConfig describes the upstream disclosure site.
type SiteConfig struct {
	EntryURL string `yaml:"entry_url" json:"entry_url"`
	// ListingURL is the dataset index URL; "{n}" is replaced by the dataset number.
	ListingURL string `yaml:"listing_url" json:"listing_url"`
	// DocumentPattern must define the named groups "dataset" and "id".
	DocumentPattern string   `yaml:"document_pattern" json:"document_pattern"`
	DocumentExt     string   `yaml:"document_ext" json:"document_ext"`
	GateURLMarker   string   `yaml:"gate_url_marker" json:"gate_url_marker"`
	GateTextMarker  string   `yaml:"gate_text_marker" json:"gate_text_marker"`
	ConfirmLabels   []string `yaml:"confirm_labels" json:"confirm_labels"`
}

// BrowserConfig selects and tunes the browser engine
type BrowserConfig struct {
	Engine            string        `yaml:"engine" json:"engine"`
	Headless          bool          `yaml:"headless" json:"headless"`
	UseChromeChannel  bool          `yaml:"use_chrome_channel" json:"use_chrome_channel"`
	ExecPath          string        `yaml:"exec_path" json:"exec_path"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	Locale            string        `yaml:"locale" json:"locale"`
	Timezone          string        `yaml:"timezone" json:"timezone"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
	BlockResources    bool          `yaml:"block_resources" json:"block_resources"`
}

// DatasetConfig is the inclusive range of dataset indices to process
type DatasetConfig struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
	// DirPattern is a fmt pattern taking the dataset number.
	DirPattern string `yaml:"dir_pattern" json:"dir_pattern"`
	TempSuffix string `yaml:"temp_suffix" json:"temp_suffix"`
}

// PaginationConfig bounds the index crawl
type PaginationConfig struct {
	MaxPages  int           `yaml:"max_pages" json:"max_pages"`
	StopAfter int           `yaml:"stop_after" json:"stop_after"`
	Delay     time.Duration `yaml:"delay" json:"delay"`
	Jitter    time.Duration `yaml:"jitter" json:"jitter"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	Workers         int           `yaml:"workers" json:"workers"`
	Delay           time.Duration `yaml:"delay" json:"delay"`
	Jitter          time.Duration `yaml:"jitter" json:"jitter"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	MaxUnauthorized int           `yaml:"max_unauthorized" json:"max_unauthorized"`
}

// RetryConfig configures backoff for transient failures
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// RateLimitConfig caps navigations per minute. Zero disables the cap.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
}

// SessionConfig controls the persisted browser session
type SessionConfig struct {
	File    string `yaml:"file" json:"file"`
	Encrypt bool   `yaml:"encrypt" json:"encrypt"`
}

// JournalConfig controls the SQLite run journal
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	File    string `yaml:"file" json:"file"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	File    string `yaml:"file" json:"file"`
	Console bool   `yaml:"console" json:"console"`
	NoColor bool   `yaml:"no_color" json:"no_color"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			EntryURL:        "https://www.justice.gov/epstein",
			ListingURL:      "https://www.justice.gov/epstein/doj-disclosures/data-set-{n}-files",
			DocumentPattern: `/epstein/files/DataSet(?:%20| )(?P<dataset>\d+)/(?P<id>EFTA\d{8})\.pdf$`,
			DocumentExt:     ".pdf",
			GateURLMarker:   "age-verify",
			ConfirmLabels:   []string{"Yes"},
		},
		Browser: BrowserConfig{
			Engine:            "chrome",
			Headless:          true,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
			Locale:            "en-AU",
			Timezone:          "Australia/Sydney",
			NavigationTimeout: 60 * time.Second,
			BlockResources:    true,
		},
		Datasets: DatasetConfig{
			Start: 1,
			End:   12,
		},
		Output: OutputConfig{
			BaseDirectory: "./epstein_pdfs",
			DirPattern:    "DataSet_%02d",
			TempSuffix:    ".part",
		},
		Pagination: PaginationConfig{
			MaxPages:  5000,
			StopAfter: 1,
			Delay:     120 * time.Millisecond,
			Jitter:    120 * time.Millisecond,
		},
		Download: DownloadConfig{
			Workers:         1,
			Delay:           600 * time.Millisecond,
			Jitter:          400 * time.Millisecond,
			Timeout:         60 * time.Second,
			MaxUnauthorized: 3,
		},
		Retry: RetryConfig{
			MaxAttempts:  6,
			BaseDelay:    1300 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   1.3,
			JitterFactor: 0.3,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 0,
			BurstSize:         5,
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// ListingURLFor returns the index URL for a dataset.
func (c *Config) ListingURLFor(dataset int) string {
	return strings.ReplaceAll(c.Site.ListingURL, "{n}", strconv.Itoa(dataset))
}

// DatasetDir returns the output directory for a dataset.
func (c *Config) DatasetDir(dataset int) string {
	return filepath.Join(c.Output.BaseDirectory, fmt.Sprintf(c.Output.DirPattern, dataset))
}

// SessionPath returns the session state file, defaulting to
// <out>/storage_state.json.
func (c *Config) SessionPath() string {
	if c.Session.File != "" {
		return c.Session.File
	}
	return filepath.Join(c.Output.BaseDirectory, "storage_state.json")
}

// LogPath returns the persistent log file, defaulting to <out>/download.log.
func (c *Config) LogPath() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(c.Output.BaseDirectory, "download.log")
}

// JournalPath returns the journal database, defaulting to <out>/journal.db.
func (c *Config) JournalPath() string {
	if c.Journal.File != "" {
		return c.Journal.File
	}
	return filepath.Join(c.Output.BaseDirectory, "journal.db")
}

// LoadFromEnv loads configuration from DOCHARVEST_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	str := func(name string, dst *string) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(envPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v := os.Getenv(envPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := os.Getenv(envPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("OUT", &c.Output.BaseDirectory)
	num("DATASET_START", &c.Datasets.Start)
	num("DATASET_END", &c.Datasets.End)
	str("ENGINE", &c.Browser.Engine)
	flag("HEADLESS", &c.Browser.Headless)
	flag("USE_CHROME_CHANNEL", &c.Browser.UseChromeChannel)
	str("CHROME_PATH", &c.Browser.ExecPath)
	str("USER_AGENT", &c.Browser.UserAgent)
	num("WORKERS", &c.Download.Workers)
	dur("SLEEP", &c.Download.Delay)
	dur("JITTER", &c.Download.Jitter)
	num("MAX_INDEX_PAGES", &c.Pagination.MaxPages)
	num("REQUESTS_PER_MINUTE", &c.RateLimit.RequestsPerMinute)
	str("SESSION_FILE", &c.Session.File)
	flag("SESSION_ENCRYPT", &c.Session.Encrypt)
	flag("JOURNAL", &c.Journal.Enabled)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FILE", &c.Logging.File)

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"docharvest.yaml",
		".docharvest.yaml",
		filepath.Join(home, ".config", "docharvest", "config.yaml"),
		filepath.Join(home, ".docharvest.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Site.EntryURL == "" {
		errs = append(errs, errors.New("site entry URL is required"))
	}
	if !strings.Contains(c.Site.ListingURL, "{n}") {
		errs = append(errs, errors.New("site listing URL must contain {n}"))
	}
	if re, err := regexp.Compile(c.Site.DocumentPattern); err != nil {
		errs = append(errs, fmt.Errorf("invalid document pattern: %w", err))
	} else if re.SubexpIndex("dataset") < 0 || re.SubexpIndex("id") < 0 {
		errs = append(errs, errors.New("document pattern must define the named groups dataset and id"))
	}
	if c.Site.GateURLMarker == "" && c.Site.GateTextMarker == "" {
		errs = append(errs, errors.New("a gate URL or text marker is required"))
	}
	if len(c.Site.ConfirmLabels) == 0 {
		errs = append(errs, errors.New("at least one confirm label is required"))
	}

	switch c.Browser.Engine {
	case "chrome", "http":
	default:
		errs = append(errs, fmt.Errorf("unknown browser engine %q", c.Browser.Engine))
	}
	if c.Browser.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("navigation timeout must be positive"))
	}

	if c.Datasets.Start < 1 {
		errs = append(errs, errors.New("dataset start must be at least 1"))
	}
	if c.Datasets.End < c.Datasets.Start {
		errs = append(errs, errors.New("dataset end must not be before dataset start"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if !strings.Contains(c.Output.DirPattern, "%") {
		errs = append(errs, errors.New("output dir pattern must take the dataset number"))
	}
	if c.Output.TempSuffix == "" {
		errs = append(errs, errors.New("temp suffix is required"))
	}

	if c.Pagination.MaxPages <= 0 {
		errs = append(errs, errors.New("max index pages must be positive"))
	}
	if c.Pagination.StopAfter < 1 {
		errs = append(errs, errors.New("pagination stop_after must be at least 1"))
	}
	if c.Pagination.Delay < 0 || c.Pagination.Jitter < 0 {
		errs = append(errs, errors.New("pagination delays cannot be negative"))
	}

	if c.Download.Workers < 1 || c.Download.Workers > 8 {
		errs = append(errs, errors.New("download workers must be between 1 and 8"))
	}
	if c.Download.Delay < 0 || c.Download.Jitter < 0 {
		errs = append(errs, errors.New("download delays cannot be negative"))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.MaxUnauthorized < 1 {
		errs = append(errs, errors.New("max_unauthorized must be at least 1"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		errs = append(errs, errors.New("retry jitter factor must be between 0 and 1"))
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges explicitly set command line flags into the
// configuration. Keys are flag names.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["out"].(string); ok && v != "" {
		c.Output.BaseDirectory = v
	}
	if v, ok := flags["dataset-start"].(int); ok {
		c.Datasets.Start = v
	}
	if v, ok := flags["dataset-end"].(int); ok {
		c.Datasets.End = v
	}
	if v, ok := flags["headed"].(bool); ok && v {
		c.Browser.Headless = false
	}
	if v, ok := flags["headless"].(bool); ok && v {
		c.Browser.Headless = true
	}
	if v, ok := flags["use-chrome-channel"].(bool); ok {
		c.Browser.UseChromeChannel = v
	}
	if v, ok := flags["engine"].(string); ok && v != "" {
		c.Browser.Engine = v
	}
	if v, ok := flags["sleep"].(time.Duration); ok {
		c.Download.Delay = v
	}
	if v, ok := flags["jitter"].(time.Duration); ok {
		c.Download.Jitter = v
	}
	if v, ok := flags["max-index-pages"].(int); ok {
		c.Pagination.MaxPages = v
	}
	if v, ok := flags["workers"].(int); ok {
		c.Download.Workers = v
	}
	if v, ok := flags["metrics-addr"].(string); ok {
		c.Metrics.Addr = v
	}
	if v, ok := flags["no-journal"].(bool); ok && v {
		c.Journal.Enabled = false
	}
	if v, ok := flags["encrypt-session"].(bool); ok {
		c.Session.Encrypt = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["quiet"].(bool); ok && v {
		c.Logging.Console = false
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".docharvest.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
