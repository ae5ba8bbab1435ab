package procession

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionNonceSize is the nonce size for AES-GCM.
	EncryptionNonceSize = 12
	// EncryptionSaltSize is the salt size for key derivation.
	EncryptionSaltSize = 32
	// EncryptionKeySize is the AES-256 key size.
	EncryptionKeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000
)

// EncryptionConfig configures snapshot encryption.
type EncryptionConfig struct {
	// Enabled turns on encryption for binary snapshots.
	Enabled bool `yaml:"enabled"`
	// Key is the raw encryption key (must be 32 bytes for AES-256).
	// If empty, KeyPassword is used to derive a key.
	Key []byte `yaml:"-"`
	// KeyPassword derives the encryption key via PBKDF2 when Key is
	// empty.
	KeyPassword string `yaml:"key_password"`
}

// Encryptor seals and opens snapshot payloads with AES-256-GCM. Sealed
// output carries the key-derivation salt and nonce, so any encryptor built
// from the same configuration can open it.
type Encryptor struct {
	cfg  EncryptionConfig
	gcm  cipher.AEAD
	salt []byte
}

// NewEncryptor creates an encryptor from a raw key or password.
func NewEncryptor(cfg EncryptionConfig) (*Encryptor, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("%w: encryption not enabled", ErrEncryptionKey)
	}

	var key, salt []byte
	switch {
	case len(cfg.Key) > 0:
		if len(cfg.Key) != EncryptionKeySize {
			return nil, fmt.Errorf("%w: key must be %d bytes for AES-256", ErrEncryptionKey, EncryptionKeySize)
		}
		key = cfg.Key
		salt = make([]byte, EncryptionSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
	case cfg.KeyPassword != "":
		salt = make([]byte, EncryptionSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		key = pbkdf2.Key([]byte(cfg.KeyPassword), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
	default:
		return nil, fmt.Errorf("%w: no key or password provided", ErrEncryptionKey)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Encryptor{cfg: cfg, gcm: gcm, salt: salt}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts the payload, prepending the salt and nonce:
// salt || nonce || ciphertext.
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, EncryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, EncryptionSaltSize+EncryptionNonceSize+len(plaintext)+e.gcm.Overhead())
	out = append(out, e.salt...)
	out = append(out, nonce...)
	return e.gcm.Seal(out, nonce, plaintext, nil), nil
}

// openSealed decrypts a payload produced by Seal, re-deriving the key from
// the embedded salt when the configuration carries a password.
func openSealed(cfg EncryptionConfig, data []byte) ([]byte, error) {
	if len(data) < EncryptionSaltSize+EncryptionNonceSize {
		return nil, fmt.Errorf("%w: encrypted payload too short", ErrMalformedInput)
	}
	salt := data[:EncryptionSaltSize]
	nonce := data[EncryptionSaltSize : EncryptionSaltSize+EncryptionNonceSize]
	ciphertext := data[EncryptionSaltSize+EncryptionNonceSize:]

	var key []byte
	switch {
	case len(cfg.Key) > 0:
		if len(cfg.Key) != EncryptionKeySize {
			return nil, fmt.Errorf("%w: key must be %d bytes for AES-256", ErrEncryptionKey, EncryptionKeySize)
		}
		key = cfg.Key
	case cfg.KeyPassword != "":
		key = pbkdf2.Key([]byte(cfg.KeyPassword), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
	default:
		return nil, fmt.Errorf("%w: no key or password provided", ErrEncryptionKey)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionKey, err)
	}
	return plain, nil
}
