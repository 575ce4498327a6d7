package main

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/order-robot/internal/config"
)

func TestLoadConfig_Precedence(t *testing.T) {
	t.Setenv("ORDERS_URL", "https://env.example.com/orders.csv")
	t.Setenv("DATABASE_URL", "postgres://env")

	path := writeFile(t, filepath.Join(t.TempDir(), "robot.yaml"), `
orders_url: https://file.example.com/orders.csv
output_dir: from-file
waiter:
  retries: 7
`)

	resetFlags(rootCmd)
	require.NoError(t, runCommand.ParseFlags([]string{"--retries", "3", "--headless=false", "--driver", "rod"}))
	cfg, err := loadConfig(path, runOverrides(runCommand))
	require.NoError(t, err)

	assert.Equal(t, "https://file.example.com/orders.csv", cfg.OrdersURL, "file beats environment")
	assert.Equal(t, "postgres://env", cfg.DatabaseURL, "environment fills what the file leaves empty")
	assert.Equal(t, "from-file", cfg.OutputDir)
	assert.Equal(t, 3, cfg.Waiter.Retries, "flag beats file")
	assert.Equal(t, 1000, cfg.Waiter.TimeoutMS, "default")
	assert.Equal(t, "rod", cfg.Browser.Driver)
	require.NotNil(t, cfg.Browser.Headless)
	assert.False(t, *cfg.Browser.Headless)
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ORDERS_URL", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := loadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, config.Defaults().OrdersURL, cfg.OrdersURL)
	assert.Equal(t, 15, cfg.Waiter.Retries)
	assert.Equal(t, filepath.Join("output", "receipts_archive.zip"), cfg.ArchivePath())
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.ErrorContains(t, err, "failed to load config")

	bad := writeFile(t, filepath.Join(t.TempDir(), "robot.json"), `{"vault": {"key_mode": "rot13"}}`)
	_, err = loadConfig(bad, nil)
	assert.ErrorContains(t, err, "'vault.key_mode' must be one of")
}

func TestRobot_RunConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.OutputDir = t.TempDir()
	first, second := uuid.New(), uuid.New()

	shared := &robot{cfg: cfg}
	sharedCfg := shared.runConfig(first)
	assert.Equal(t, cfg.ArchivePath(), sharedCfg.ArchivePath())

	server := &robot{cfg: cfg, perRun: true}
	a, b := server.runConfig(first), server.runConfig(second)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "runs", first.String(), "receipts_archive.zip"), a.ArchivePath())
	assert.Equal(t, filepath.Join(cfg.OutputDir, "runs", second.String(), "receipts"), b.ReceiptsDir())
	assert.NotEqual(t, a.ArchivePath(), b.ArchivePath())
	assert.NotEqual(t, a.ScreenshotsDir(), b.ScreenshotsDir())
}
