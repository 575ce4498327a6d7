package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/order-robot/internal/config"
	"github.com/jonathan/order-robot/internal/db"
	"github.com/jonathan/order-robot/internal/schemas"
	"github.com/jonathan/order-robot/internal/vault"
)

// passphraseEnv names the environment variable holding the vault passphrase.
const passphraseEnv = "VAULT_PASSPHRASE"

var (
	vaultConfigPath string
	vaultKeyMode    string
	vaultFile       string
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Encrypted JSON records in the asset store",
	Long: `Stores and reads JSON records encrypted with XChaCha20-Poly1305.

The passphrase comes from VAULT_PASSPHRASE. In raw mode it must be exactly 32 bytes; in argon2id mode any non-empty passphrase is stretched into a key. Records are kept in PostgreSQL when DATABASE_URL is set, otherwise in the SQLite file vault.asset_db.`,
}

var vaultPutCmd = &cobra.Command{
	Use:   "put [NAME]",
	Short: "Encrypt a JSON record and store it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVaultPut,
}

var vaultGetCmd = &cobra.Command{
	Use:   "get [NAME]",
	Short: "Load and decrypt a stored record",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVaultGet,
}

func init() {
	vaultCmd.PersistentFlags().StringVar(&vaultConfigPath, "config", "", "Path to a JSON or YAML config file")
	vaultCmd.PersistentFlags().StringVar(&vaultKeyMode, "key-mode", "", "Key mode: raw or argon2id")
	vaultPutCmd.Flags().StringVarP(&vaultFile, "file", "f", "", "JSON record to store (- reads stdin)")
	_ = vaultPutCmd.MarkFlagRequired("file")

	vaultCmd.AddCommand(vaultPutCmd, vaultGetCmd)
	rootCmd.AddCommand(vaultCmd)
}

func vaultConfig(cmd *cobra.Command) (config.Config, error) {
	return loadConfig(vaultConfigPath, func(c *config.Config) {
		if cmd.Flags().Changed("key-mode") {
			c.Vault.KeyMode = vaultKeyMode
		}
	})
}

// assetName returns the NAME argument or the configured default.
func assetName(cfg config.Config, args []string) string {
	if len(args) == 1 && args[0] != "" {
		return args[0]
	}
	return cfg.Vault.AssetName
}

// openVault builds a vault over the configured store. The returned func releases the store.
func openVault(ctx context.Context, cfg config.Config, passphrase string) (*vault.Vault, func(), error) {
	codec, err := vault.NewCodec(vault.KeyMode(cfg.Vault.KeyMode))
	if err != nil {
		return nil, nil, err
	}

	schema := schemas.Default()
	if cfg.Vault.Schema != "" {
		schema, err = schemas.LoadFile(cfg.Vault.Schema)
		if err != nil {
			return nil, nil, err
		}
	}

	var (
		store   vault.Store
		release func()
	)
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.EnsureSchema(ctx); err != nil {
			database.Close()
			return nil, nil, err
		}
		store, release = database.Assets(), database.Close
	} else {
		sqlite, err := vault.OpenSQLite(ctx, cfg.Vault.AssetDB)
		if err != nil {
			return nil, nil, err
		}
		store = sqlite
		release = func() {
			if err := sqlite.Close(); err != nil {
				logger.Warn("failed to close asset store", zap.Error(err))
			}
		}
	}

	v, err := vault.New(store, codec, passphrase, vault.WithSchema(schema), vault.WithLogger(logger))
	if err != nil {
		release()
		return nil, nil, err
	}
	return v, release, nil
}

func vaultPassphrase() (string, error) {
	passphrase := os.Getenv(passphraseEnv)
	if passphrase == "" {
		return "", fmt.Errorf("%s environment variable is required", passphraseEnv)
	}
	return passphrase, nil
}

func runVaultPut(cmd *cobra.Command, args []string) error {
	cfg, err := vaultConfig(cmd)
	if err != nil {
		return err
	}
	passphrase, err := vaultPassphrase()
	if err != nil {
		return err
	}

	var data []byte
	if vaultFile == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(vaultFile)
	}
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}
	var record json.RawMessage
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("record is not valid JSON: %w", err)
	}

	ctx := cmd.Context()
	v, release, err := openVault(ctx, cfg, passphrase)
	if err != nil {
		return err
	}
	defer release()

	name := assetName(cfg, args)
	if err := v.Put(ctx, name, record); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", name)
	return nil
}

func runVaultGet(cmd *cobra.Command, args []string) error {
	cfg, err := vaultConfig(cmd)
	if err != nil {
		return err
	}
	passphrase, err := vaultPassphrase()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	v, release, err := openVault(ctx, cfg, passphrase)
	if err != nil {
		return err
	}
	defer release()

	var record any
	if err := v.Get(ctx, assetName(cfg, args), &record); err != nil {
		return err
	}
	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format record: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
