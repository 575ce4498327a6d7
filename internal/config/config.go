// Package config provides configuration loading and validation for the robot.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/order-robot/internal/archive"
	"github.com/jonathan/order-robot/internal/browser"
	"github.com/jonathan/order-robot/internal/orders"
	"github.com/jonathan/order-robot/internal/vault"
	"github.com/jonathan/order-robot/internal/waiter"
)

// Config represents the robot configuration that can be loaded from a JSON or YAML file.
// All fields are optional; missing values use defaults or come from CLI flags.
type Config struct {
	// Inputs and outputs
	OrdersURL   string `json:"orders_url,omitempty" yaml:"orders_url,omitempty" validate:"omitempty,url"`
	OrdersCache string `json:"orders_cache,omitempty" yaml:"orders_cache,omitempty"` // Local copy of the CSV, overwritten each run
	OutputDir   string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`

	Waiter  WaiterConfig  `json:"waiter,omitempty" yaml:"waiter,omitempty"`
	Browser BrowserConfig `json:"browser,omitempty" yaml:"browser,omitempty"`
	Vault   VaultConfig   `json:"vault,omitempty" yaml:"vault,omitempty"`

	// Behavior
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"` // PostgreSQL connection URL
	Verbose     bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`          // Debug logging and summaries
}

// WaiterConfig bounds the retry loops around the order form.
type WaiterConfig struct {
	Retries    int `json:"retries,omitempty" yaml:"retries,omitempty" validate:"gte=0"`
	TimeoutMS  int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty" validate:"gte=0"`
	IntervalMS int `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty" validate:"gte=0"`
}

// BrowserConfig selects and tunes the browser driver.
type BrowserConfig struct {
	Driver          string             `json:"driver,omitempty" yaml:"driver,omitempty" validate:"omitempty,oneof=chromedp rod"`
	OrderURL        string             `json:"order_url,omitempty" yaml:"order_url,omitempty" validate:"omitempty,url"`
	Headless        *bool              `json:"headless,omitempty" yaml:"headless,omitempty"`
	ExecPath        string             `json:"exec_path,omitempty" yaml:"exec_path,omitempty"`
	ActionTimeoutMS int                `json:"action_timeout_ms,omitempty" yaml:"action_timeout_ms,omitempty" validate:"gte=0"`
	Selectors       *browser.Selectors `json:"selectors,omitempty" yaml:"selectors,omitempty"`
}

// VaultConfig configures the secure asset store.
type VaultConfig struct {
	AssetName string `json:"asset_name,omitempty" yaml:"asset_name,omitempty"`
	KeyMode   string `json:"key_mode,omitempty" yaml:"key_mode,omitempty" validate:"omitempty,oneof=raw argon2id"`
	AssetDB   string `json:"asset_db,omitempty" yaml:"asset_db,omitempty"` // SQLite file; ignored when database_url is set
	Schema    string `json:"schema,omitempty" yaml:"schema,omitempty"`     // JSON schema path; empty uses the built-in record schema
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	headless := true
	return Config{
		OrdersURL:   orders.DefaultURL,
		OrdersCache: orders.DefaultCachePath,
		OutputDir:   "output",
		Waiter: WaiterConfig{
			Retries:   waiter.DefaultRetries,
			TimeoutMS: int(waiter.DefaultTimeout / time.Millisecond),
		},
		Browser: BrowserConfig{
			Driver:          browser.DriverChromedp,
			OrderURL:        browser.DefaultOrderURL,
			Headless:        &headless,
			ActionTimeoutMS: int(browser.DefaultActionTimeout / time.Millisecond),
		},
		Vault: VaultConfig{
			AssetName: vault.DefaultAssetName,
			KeyMode:   string(vault.KeyModeRaw),
			AssetDB:   filepath.Join("output", "assets.db"),
		},
	}
}

// LoadConfig loads configuration from a JSON or YAML file, chosen by extension.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// ApplyEnv fills empty fields from ORDERS_URL and DATABASE_URL.
func (c *Config) ApplyEnv() {
	if c.OrdersURL == "" {
		c.OrdersURL = os.Getenv("ORDERS_URL")
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those are handled
// by CLI flag validation after merging.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("config error: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("'%s' must be one of [%s]", field, fe.Param()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("'%s' must be non-negative", field))
		case "url":
			msgs = append(msgs, fmt.Sprintf("'%s' must be a URL", field))
		default:
			msgs = append(msgs, fmt.Sprintf("'%s' failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("config error: %s", strings.Join(msgs, "; "))
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.OrdersURL == "" {
		result.OrdersURL = defaults.OrdersURL
	}
	if result.OrdersCache == "" {
		result.OrdersCache = defaults.OrdersCache
	}
	if result.OutputDir == "" {
		result.OutputDir = defaults.OutputDir
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.Browser.Driver == "" {
		result.Browser.Driver = defaults.Browser.Driver
	}
	if result.Browser.OrderURL == "" {
		result.Browser.OrderURL = defaults.Browser.OrderURL
	}
	if result.Browser.ExecPath == "" {
		result.Browser.ExecPath = defaults.Browser.ExecPath
	}
	if result.Vault.AssetName == "" {
		result.Vault.AssetName = defaults.Vault.AssetName
	}
	if result.Vault.KeyMode == "" {
		result.Vault.KeyMode = defaults.Vault.KeyMode
	}
	if result.Vault.AssetDB == "" {
		result.Vault.AssetDB = defaults.Vault.AssetDB
	}
	if result.Vault.Schema == "" {
		result.Vault.Schema = defaults.Vault.Schema
	}

	// Int fields: use default if zero
	if result.Waiter.Retries == 0 {
		result.Waiter.Retries = defaults.Waiter.Retries
	}
	if result.Waiter.TimeoutMS == 0 {
		result.Waiter.TimeoutMS = defaults.Waiter.TimeoutMS
	}
	if result.Waiter.IntervalMS == 0 {
		result.Waiter.IntervalMS = defaults.Waiter.IntervalMS
	}
	if result.Browser.ActionTimeoutMS == 0 {
		result.Browser.ActionTimeoutMS = defaults.Browser.ActionTimeoutMS
	}

	// Pointer fields: nil means unset
	if result.Browser.Headless == nil {
		result.Browser.Headless = defaults.Browser.Headless
	}
	if result.Browser.Selectors == nil {
		result.Browser.Selectors = defaults.Browser.Selectors
	}

	// Verbose cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// WaiterSettings converts the waiter block into a waiter.Config.
func (c *Config) WaiterSettings() waiter.Config {
	return waiter.Config{
		MaxAttempts:       c.Waiter.Retries,
		PerAttemptTimeout: time.Duration(c.Waiter.TimeoutMS) * time.Millisecond,
		Interval:          time.Duration(c.Waiter.IntervalMS) * time.Millisecond,
	}
}

// BrowserOptions converts the browser block into browser.Options.
func (c *Config) BrowserOptions() browser.Options {
	opts := browser.DefaultOptions()
	if c.Browser.Driver != "" {
		opts.Driver = c.Browser.Driver
	}
	if c.Browser.OrderURL != "" {
		opts.OrderURL = c.Browser.OrderURL
	}
	if c.Browser.Headless != nil {
		opts.Headless = *c.Browser.Headless
	}
	opts.ExecPath = c.Browser.ExecPath
	if c.Browser.ActionTimeoutMS > 0 {
		opts.ActionTimeout = time.Duration(c.Browser.ActionTimeoutMS) * time.Millisecond
	}
	if c.Browser.Selectors != nil {
		opts.Selectors = c.Browser.Selectors.MergeWithDefaults()
	}
	return opts
}

// ReceiptsDir is where receipt PDFs are written.
func (c *Config) ReceiptsDir() string {
	return filepath.Join(c.OutputDir, "receipts")
}

// ScreenshotsDir is where preview screenshots are written.
func (c *Config) ScreenshotsDir() string {
	return filepath.Join(c.OutputDir, "screenshots")
}

// ArchivePath is the zip written at the end of a run.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.OutputDir, archive.DefaultName)
}

// ForRun returns a copy whose output paths live under runs/<runID>, so
// receipts and archives of separate runs never overwrite each other.
func (c *Config) ForRun(runID string) Config {
	run := *c
	run.OutputDir = filepath.Join(c.OutputDir, "runs", runID)
	return run
}
