// Package config builds the single configuration value a run is driven by.
package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Stage names used as keys of the wait table.
const (
	WaitNavigation       = "navigation"
	WaitLoginReady       = "login_ready"
	WaitLoginSettle      = "login_settle"
	WaitPopupGrace       = "popup_grace"
	WaitPopupTactic      = "popup_tactic"
	WaitPopupAfter       = "popup_after"
	WaitListingSettle    = "listing_settle"
	WaitExportSettle     = "export_settle"
	WaitTaskCenterSettle = "task_center_settle"
	WaitTabClick         = "tab_click"
	WaitListRender       = "list_render"
	WaitReady            = "ready_wait"
	WaitDownload         = "download"
	WaitTechnique        = "technique"
)

// Driver names accepted in BrowserConfig.Driver.
const (
	DriverPlaywright = "playwright"
	DriverRod        = "rod"
)

// Config is constructed once at startup and handed to the supervisor.
type Config struct {
	Credentials Credentials    `yaml:"credentials"`
	URLs        URLs           `yaml:"urls"`
	Browser     BrowserConfig  `yaml:"browser"`
	DownloadDir string         `yaml:"download_dir"`
	DiagDir     string         `yaml:"diagnostics_dir"`
	Sheets      SheetsConfig   `yaml:"sheets"`
	Reports     []ReportConfig `yaml:"reports"`
	Waits       Waits          `yaml:"waits"`
	Redis       RedisConfig    `yaml:"redis"`
	NATS        NATSConfig     `yaml:"nats"`
	HTTPAddr    string         `yaml:"http_addr"`
}

// Credentials identify the operator on the web console.
type Credentials struct {
	OpsID    string `yaml:"ops_id"`
	Password string `yaml:"password"`
}

// URLs of the target surface. Report listing pages live on ReportConfig.
type URLs struct {
	Login      string `yaml:"login"`
	TaskCenter string `yaml:"task_center"`
}

type BrowserConfig struct {
	Driver         string `yaml:"driver"`
	Headless       bool   `yaml:"headless"`
	ExecutablePath string `yaml:"executable_path"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
}

type SheetsConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// ReportConfig describes one report variant (e.g. PEND, PROD).
type ReportConfig struct {
	Prefix     string `yaml:"prefix"`
	ListingURL string `yaml:"listing_url"`
	SheetTab   string `yaml:"sheet_tab"`
	Schedule   string `yaml:"schedule"`
}

type RedisConfig struct {
	URL     string        `yaml:"url"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Waits maps a stage name to its fixed settle or timeout duration.
type Waits map[string]time.Duration

// Get returns the wait for stage, falling back to the built-in default.
func (w Waits) Get(stage string) time.Duration {
	if d, ok := w[stage]; ok && d > 0 {
		return d
	}
	return defaultWaits[stage]
}

var defaultWaits = Waits{
	WaitNavigation:       60 * time.Second,
	WaitLoginReady:       10 * time.Second,
	WaitLoginSettle:      40 * time.Second,
	WaitPopupGrace:       10 * time.Second,
	WaitPopupTactic:      1 * time.Second,
	WaitPopupAfter:       2 * time.Second,
	WaitListingSettle:    12 * time.Second,
	WaitExportSettle:     12 * time.Second,
	WaitTaskCenterSettle: 10 * time.Second,
	WaitTabClick:         5 * time.Second,
	WaitListRender:       5 * time.Second,
	WaitReady:            30 * time.Second,
	WaitDownload:         60 * time.Second,
	WaitTechnique:        2 * time.Second,
}

// DefaultWaits returns a copy of the built-in wait table.
func DefaultWaits() Waits {
	w := make(Waits, len(defaultWaits))
	for k, v := range defaultWaits {
		w[k] = v
	}
	return w
}

// Default returns the configuration used when no file or env overrides exist.
func Default() *Config {
	return &Config{
		URLs: URLs{
			Login:      "https://spx.shopee.com.br/",
			TaskCenter: "https://spx.shopee.com.br/#/taskCenter/exportTaskCenter",
		},
		Browser: BrowserConfig{
			Driver:         DriverPlaywright,
			Headless:       true,
			ViewportWidth:  1280,
			ViewportHeight: 720,
		},
		DownloadDir: "/tmp",
		DiagDir:     "/tmp",
		Sheets: SheetsConfig{
			CredentialsFile: "hxh.json",
		},
		Reports: []ReportConfig{{
			Prefix:     "PEND",
			ListingURL: "https://spx.shopee.com.br/#/hubLinehaulTrips/trip",
			SheetTab:   "Base Pending",
			Schedule:   "0 5 * * * *",
		}},
		Waits:    DefaultWaits(),
		Redis:    RedisConfig{LockTTL: 15 * time.Minute},
		NATS:     NATSConfig{Subject: "reportsync.runs"},
		HTTPAddr: ":8095",
	}
}

// Load builds the configuration: defaults, then the YAML file (if any), then
// a .env file, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("REPORTSYNC_CONFIG")
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := loadEnvFile(); err != nil {
		log.Printf("ℹ️  [CONFIG] %v (using process environment)", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(configPath string) error {
	configPath = os.ExpandEnv(configPath)
	candidates := []string{
		configPath,
		filepath.Join("config", configPath),
		filepath.Join("..", configPath),
		filepath.Join("..", "config", configPath),
	}

	var (
		file      *os.File
		foundPath string
		err       error
	)
	for _, p := range candidates {
		file, err = os.Open(p)
		if err == nil {
			foundPath = p
			break
		}
	}
	if file == nil {
		return fmt.Errorf("config file not found: %s", configPath)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", foundPath, err)
	}
	if err := c.mergeYAML(data); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", foundPath, err)
	}
	log.Printf("✅ [CONFIG] Loaded configuration from %s", foundPath)
	return nil
}

// mergeYAML overlays YAML data on top of c. Wait entries merge key by key.
func (c *Config) mergeYAML(data []byte) error {
	waits := c.Waits
	c.Waits = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		c.Waits = waits
		return err
	}
	for k, v := range c.Waits {
		waits[k] = v
	}
	c.Waits = waits
	return nil
}

// loadEnvFile looks for .env in the working directory and up to three parents.
func loadEnvFile() error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	for i := 0; i < 4; i++ {
		envPath := filepath.Join(dir, ".env")
		if err := godotenv.Load(envPath); err == nil {
			log.Printf("✅ [CONFIG] Loaded .env file from: %s", envPath)
			return nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return fmt.Errorf(".env file not found")
}

func (c *Config) applyEnv() {
	if v := getenvTrim("REPORTSYNC_OPS_ID"); v != "" {
		c.Credentials.OpsID = v
	}
	if v := getenvTrim("REPORTSYNC_PASSWORD"); v != "" {
		c.Credentials.Password = v
	}
	if v := getenvTrim("REPORTSYNC_BASE_URL"); v != "" {
		c.rebase(v)
	}
	if v := getenvTrim("REPORTSYNC_DOWNLOAD_DIR"); v != "" {
		c.DownloadDir = v
	}
	if v := getenvTrim("REPORTSYNC_DIAGNOSTICS_DIR"); v != "" {
		c.DiagDir = v
	}
	if v := getenvTrim("REPORTSYNC_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}
	if v := getenvTrim("REPORTSYNC_DRIVER"); v != "" {
		c.Browser.Driver = strings.ToLower(v)
	}
	if v := getenvTrim("PLAYWRIGHT_EXECUTABLE_PATH"); v != "" {
		c.Browser.ExecutablePath = v
	}
	if v := getenvTrim("REPORTSYNC_SPREADSHEET_ID"); v != "" {
		c.Sheets.SpreadsheetID = v
	}
	if v := getenvTrim("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		c.Sheets.CredentialsFile = v
	}
	if v := getenvTrim("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := getenvTrim("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := getenvTrim("REPORTSYNC_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
}

// rebase rewrites every default URL onto a different host, keeping the
// fragment route of each page.
func (c *Config) rebase(base string) {
	base = strings.TrimSuffix(base, "/")
	swap := func(u string) string {
		if i := strings.Index(u, "/#/"); i >= 0 {
			return base + u[i:]
		}
		return base + "/"
	}
	c.URLs.Login = swap(c.URLs.Login)
	c.URLs.TaskCenter = swap(c.URLs.TaskCenter)
	for i := range c.Reports {
		c.Reports[i].ListingURL = swap(c.Reports[i].ListingURL)
	}
}

func getenvTrim(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// Validate rejects configurations a run cannot start with.
func (c *Config) Validate() error {
	if c.Credentials.OpsID == "" || c.Credentials.Password == "" {
		return fmt.Errorf("credentials are required (REPORTSYNC_OPS_ID / REPORTSYNC_PASSWORD)")
	}
	if c.URLs.Login == "" || c.URLs.TaskCenter == "" {
		return fmt.Errorf("login and task center URLs are required")
	}
	switch c.Browser.Driver {
	case DriverPlaywright, DriverRod:
	default:
		return fmt.Errorf("unknown browser driver %q", c.Browser.Driver)
	}
	if len(c.Reports) == 0 {
		return fmt.Errorf("at least one report must be configured")
	}
	seen := make(map[string]bool, len(c.Reports))
	for i, r := range c.Reports {
		if r.Prefix == "" || r.SheetTab == "" || r.ListingURL == "" {
			return fmt.Errorf("report %d: prefix, listing_url and sheet_tab are required", i)
		}
		if seen[r.Prefix] {
			return fmt.Errorf("report %d: duplicate prefix %q", i, r.Prefix)
		}
		seen[r.Prefix] = true
	}
	for stage, d := range c.Waits {
		if _, known := defaultWaits[stage]; !known {
			return fmt.Errorf("unknown wait %q", stage)
		}
		if d <= 0 {
			return fmt.Errorf("wait %q must be positive, got %s", stage, d)
		}
	}
	return nil
}

// Report returns the report variant with the given prefix. An empty prefix
// selects the first configured report.
func (c *Config) Report(prefix string) (ReportConfig, error) {
	if prefix == "" {
		return c.Reports[0], nil
	}
	for _, r := range c.Reports {
		if strings.EqualFold(r.Prefix, prefix) {
			return r, nil
		}
	}
	return ReportConfig{}, fmt.Errorf("unknown report %q", prefix)
}
