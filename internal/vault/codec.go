package vault

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeyMode selects how the passphrase becomes the cipher key.
type KeyMode string

const (
	// KeyModeRaw uses the passphrase bytes as the key; it must be exactly KeySize bytes.
	KeyModeRaw KeyMode = "raw"
	// KeyModeArgon2id derives the key from any non-empty passphrase with a random salt.
	KeyModeArgon2id KeyMode = "argon2id"
)

// KeySize is the passphrase length required by KeyModeRaw.
const KeySize = chacha20poly1305.KeySize

const (
	versionRaw      byte = 1
	versionArgon2id byte = 2

	saltSize = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// Codec seals and opens blobs. The envelope is
// version(1) | salt(16, argon2id only) | nonce(24) | ciphertext+tag,
// and the header bytes are authenticated as additional data.
type Codec struct {
	Mode KeyMode
}

// NewCodec returns a codec for mode. An empty mode means KeyModeRaw.
func NewCodec(mode KeyMode) (Codec, error) {
	switch mode {
	case "":
		return Codec{Mode: KeyModeRaw}, nil
	case KeyModeRaw, KeyModeArgon2id:
		return Codec{Mode: mode}, nil
	default:
		return Codec{}, fmt.Errorf("unknown key mode %q", mode)
	}
}

// CheckPassphrase reports whether passphrase is usable for sealing in this mode.
func (c Codec) CheckPassphrase(passphrase []byte) error {
	return checkPassphrase(c.mode(), passphrase)
}

func (c Codec) mode() KeyMode {
	if c.Mode == "" {
		return KeyModeRaw
	}
	return c.Mode
}

func checkPassphrase(mode KeyMode, passphrase []byte) error {
	switch mode {
	case KeyModeRaw:
		if len(passphrase) != KeySize {
			return &PassphraseError{Mode: mode, Length: len(passphrase), Message: fmt.Sprintf("must be exactly %d bytes", KeySize)}
		}
	case KeyModeArgon2id:
		if len(passphrase) == 0 {
			return &PassphraseError{Mode: mode, Length: 0, Message: "must not be empty"}
		}
	default:
		return &PassphraseError{Mode: mode, Length: len(passphrase), Message: "unknown key mode"}
	}
	return nil
}

// Seal encrypts plaintext under passphrase.
func (c Codec) Seal(plaintext, passphrase []byte) ([]byte, error) {
	mode := c.mode()
	if err := checkPassphrase(mode, passphrase); err != nil {
		return nil, err
	}

	var header []byte
	var key []byte
	switch mode {
	case KeyModeRaw:
		header = []byte{versionRaw}
		key = passphrase
	case KeyModeArgon2id:
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		header = append([]byte{versionArgon2id}, salt...)
		key = deriveKey(passphrase, salt)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := make([]byte, 0, len(header)+len(nonce)+len(plaintext)+aead.Overhead())
	blob = append(blob, header...)
	blob = append(blob, nonce...)
	return aead.Seal(blob, nonce, plaintext, header), nil
}

// Open decrypts a blob produced by Seal. The key mode is read from the blob,
// so a store written in one mode stays readable after the default changes.
func (c Codec) Open(blob, passphrase []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, &AuthenticationError{Message: "empty blob"}
	}

	var header, key []byte
	rest := blob[1:]
	switch blob[0] {
	case versionRaw:
		if err := checkPassphrase(KeyModeRaw, passphrase); err != nil {
			return nil, err
		}
		header = blob[:1]
		key = passphrase
	case versionArgon2id:
		if err := checkPassphrase(KeyModeArgon2id, passphrase); err != nil {
			return nil, err
		}
		if len(rest) < saltSize {
			return nil, &AuthenticationError{Message: "truncated salt"}
		}
		header = blob[:1+saltSize]
		key = deriveKey(passphrase, rest[:saltSize])
		rest = rest[saltSize:]
	default:
		return nil, &AuthenticationError{Message: fmt.Sprintf("unknown envelope version %d", blob[0])}
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(rest) < aead.NonceSize()+aead.Overhead() {
		return nil, &AuthenticationError{Message: "truncated ciphertext"}
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, &AuthenticationError{Message: "wrong passphrase or tampered blob", Cause: err}
	}
	return plaintext, nil
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeySize)
}

// Encrypt marshals record as JSON and seals it with a raw-mode passphrase.
func Encrypt(record any, passphrase string) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return Codec{Mode: KeyModeRaw}.Seal(data, []byte(passphrase))
}

// Decrypt opens blob with passphrase and unmarshals the record into out.
func Decrypt(blob []byte, passphrase string, out any) error {
	data, err := Codec{}.Open(blob, []byte(passphrase))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}
