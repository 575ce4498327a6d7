package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/order-robot/internal/schemas"
)

// DefaultAssetName is the fixed name the secret record is stored under.
const DefaultAssetName = "secret_json"

// Vault combines a Codec with a Store under a process-supplied passphrase.
type Vault struct {
	store      Store
	codec      Codec
	passphrase []byte
	schema     *schemas.Validator
	logger     *zap.Logger
}

// Option configures a Vault.
type Option func(*Vault)

// WithSchema validates every record against schema before it is sealed.
func WithSchema(schema *schemas.Validator) Option {
	return func(v *Vault) { v.schema = schema }
}

// WithLogger sets the logger used for store operations.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Vault) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// New returns a Vault. The passphrase is checked against the codec mode up front.
func New(store Store, codec Codec, passphrase string, opts ...Option) (*Vault, error) {
	if store == nil {
		return nil, errors.New("vault requires a store")
	}
	if err := codec.CheckPassphrase([]byte(passphrase)); err != nil {
		return nil, err
	}

	v := &Vault{
		store:      store,
		codec:      codec,
		passphrase: []byte(passphrase),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Encrypt serializes record as JSON and seals it.
func (v *Vault) Encrypt(record any) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	if v.schema != nil {
		if err := v.schema.Validate(data); err != nil {
			return nil, err
		}
	}
	return v.codec.Seal(data, v.passphrase)
}

// Decrypt opens blob and unmarshals the JSON record into out.
func (v *Vault) Decrypt(blob []byte, out any) error {
	data, err := v.codec.Open(blob, v.passphrase)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

// Put encrypts record and stores it under name.
func (v *Vault) Put(ctx context.Context, name string, record any) error {
	blob, err := v.Encrypt(record)
	if err != nil {
		return err
	}
	if err := v.store.SetBytes(ctx, name, blob); err != nil {
		return err
	}
	v.logger.Info("stored encrypted asset",
		zap.String("name", name),
		zap.String("mode", string(v.codec.mode())),
		zap.Int("bytes", len(blob)))
	return nil
}

// Get loads the asset stored under name and decrypts it into out.
func (v *Vault) Get(ctx context.Context, name string, out any) error {
	blob, err := v.store.GetBytes(ctx, name)
	if err != nil {
		return err
	}
	v.logger.Debug("loaded encrypted asset", zap.String("name", name), zap.Int("bytes", len(blob)))
	return v.Decrypt(blob, out)
}
