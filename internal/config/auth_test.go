package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestLoadAuthConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("JWT_EXPIRATION_HOURS", "")
	t.Setenv("OPERATOR_USERNAME", "")
	t.Setenv("BCRYPT_COST", "")

	cfg, err := LoadAuthConfig()
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "operator", cfg.Operator)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.False(t, cfg.LoginEnabled())
}

func TestLoadAuthConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "missing secret", env: map[string]string{"JWT_SECRET": ""}, wantErr: "JWT_SECRET is required"},
		{name: "bad hours", env: map[string]string{"JWT_SECRET": "s", "JWT_EXPIRATION_HOURS": "abc"}, wantErr: "invalid JWT_EXPIRATION_HOURS"},
		{name: "zero hours", env: map[string]string{"JWT_SECRET": "s", "JWT_EXPIRATION_HOURS": "0"}, wantErr: "at least 1 hour"},
		{name: "cost too low", env: map[string]string{"JWT_SECRET": "s", "BCRYPT_COST": "4"}, wantErr: "bcrypt cost out of range"},
		{name: "cost not a number", env: map[string]string{"JWT_SECRET": "s", "BCRYPT_COST": "x"}, wantErr: "invalid BCRYPT_COST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"JWT_SECRET", "JWT_EXPIRATION_HOURS", "BCRYPT_COST"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadAuthConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAuthConfig_VerifyOperator(t *testing.T) {
	cfg := &AuthConfig{Operator: "maria", BcryptCost: bcrypt.MinCost, Pepper: "pepper"}

	hash, err := cfg.HashPassword("thoushallnotpass")
	require.NoError(t, err)
	cfg.PasswordHash = hash

	assert.True(t, cfg.LoginEnabled())
	assert.True(t, cfg.VerifyOperator("maria", "thoushallnotpass"))
	assert.False(t, cfg.VerifyOperator("maria", "wrong"))
	assert.False(t, cfg.VerifyOperator("someone", "thoushallnotpass"))

	cfg.Pepper = "rotated"
	assert.False(t, cfg.VerifyOperator("maria", "thoushallnotpass"))
}

func TestAuthConfig_LoginDisabledWithoutHash(t *testing.T) {
	cfg := &AuthConfig{Operator: "operator"}
	assert.False(t, cfg.VerifyOperator("operator", ""))
}
