package fedtrain

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// encryptionNonceSize is the nonce size for AES-GCM.
	encryptionNonceSize = 12
	// encryptionSaltSize is the salt size for key derivation.
	encryptionSaltSize = 32
	// encryptionKeySize is the AES-256 key size.
	encryptionKeySize = 32
	// pbkdf2Iterations is the number of iterations for key derivation.
	pbkdf2Iterations = 100000
)

// EncryptionConfig configures at-rest encryption of persisted model
// artifacts.
type EncryptionConfig struct {
	// Enabled turns on encryption for artifact files.
	Enabled bool `yaml:"enabled"`
	// Key is the encryption key (must be 32 bytes for AES-256).
	// If empty, KeyPassword is used to derive a key.
	Key []byte `yaml:"-"`
	// KeyPassword is used to derive the encryption key via PBKDF2.
	KeyPassword string `yaml:"key_password"`
}

// artifactCipher seals and opens artifact blobs with AES-256-GCM.
type artifactCipher struct {
	gcm  cipher.AEAD
	salt []byte
}

// newArtifactCipher creates a cipher from a key or password. Password
// derivation generates a fresh salt; the store records it in the manifest
// so the same artifacts can be opened later.
func newArtifactCipher(cfg EncryptionConfig) (*artifactCipher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var key, salt []byte
	switch {
	case len(cfg.Key) > 0:
		if len(cfg.Key) != encryptionKeySize {
			return nil, errors.New("encryption key must be 32 bytes for AES-256")
		}
		key = cfg.Key
	case cfg.KeyPassword != "":
		salt = make([]byte, encryptionSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		key = pbkdf2.Key([]byte(cfg.KeyPassword), salt, pbkdf2Iterations, encryptionKeySize, sha256.New)
	default:
		return nil, errors.New("encryption enabled but no key or password provided")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &artifactCipher{gcm: gcm, salt: salt}, nil
}

// cipherFromSalt rebuilds a password-derived cipher using the salt stored
// in a manifest.
func cipherFromSalt(password string, salt []byte) (*artifactCipher, error) {
	if len(salt) != encryptionSaltSize {
		return nil, errors.New("invalid salt size")
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, encryptionKeySize, sha256.New)
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &artifactCipher{gcm: gcm, salt: salt}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal encrypts a blob, prefixing the random nonce.
func (c *artifactCipher) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, encryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.gcm.Seal(nonce, nonce, plain, nil), nil
}

// open decrypts a blob produced by seal.
func (c *artifactCipher) open(blob []byte) ([]byte, error) {
	if len(blob) < encryptionNonceSize {
		return nil, errors.New("encrypted blob too short")
	}
	nonce, ciphertext := blob[:encryptionNonceSize], blob[encryptionNonceSize:]
	return c.gcm.Open(nil, nonce, ciphertext, nil)
}
