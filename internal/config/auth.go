package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// AuthConfig holds the credentials that protect the HTTP control surface.
// A single operator account signs in with a bcrypt-checked password and
// receives a JWT for the run endpoints.
type AuthConfig struct {
	JWTSecret    string
	TokenTTL     time.Duration
	Operator     string
	PasswordHash string
	BcryptCost   int
	Pepper       string // optional global secret appended to passwords
}

// LoadAuthConfig reads JWT_SECRET (required), JWT_EXPIRATION_HOURS (default 24),
// OPERATOR_USERNAME (default "operator"), OPERATOR_PASSWORD_HASH, BCRYPT_COST
// (default 12) and PASSWORD_PEPPER.
func LoadAuthConfig() (*AuthConfig, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but not set")
	}

	hours, err := envInt("JWT_EXPIRATION_HOURS", 24)
	if err != nil {
		return nil, err
	}
	cost, err := envInt("BCRYPT_COST", 12)
	if err != nil {
		return nil, err
	}

	operator := os.Getenv("OPERATOR_USERNAME")
	if operator == "" {
		operator = "operator"
	}

	cfg := &AuthConfig{
		JWTSecret:    secret,
		TokenTTL:     time.Duration(hours) * time.Hour,
		Operator:     operator,
		PasswordHash: os.Getenv("OPERATOR_PASSWORD_HASH"),
		BcryptCost:   cost,
		Pepper:       os.Getenv("PASSWORD_PEPPER"),
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envInt(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", name, err)
	}
	return v, nil
}

func (c *AuthConfig) normalize() error {
	if c.TokenTTL < time.Hour {
		return fmt.Errorf("JWT_EXPIRATION_HOURS must be at least 1 hour, got: %s", c.TokenTTL)
	}
	if c.BcryptCost < 10 || c.BcryptCost > 14 {
		return fmt.Errorf("bcrypt cost out of range: %d (must be 10-14)", c.BcryptCost)
	}
	return nil
}

// LoginEnabled reports whether an operator password hash is configured.
func (c *AuthConfig) LoginEnabled() bool {
	return c.PasswordHash != ""
}

// HashPassword hashes a password using bcrypt (with optional pepper).
func (c *AuthConfig) HashPassword(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw+c.Pepper), c.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyOperator checks username and password against the configured operator.
func (c *AuthConfig) VerifyOperator(username, pw string) bool {
	if !c.LoginEnabled() || username != c.Operator {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(pw+c.Pepper)) == nil
}
