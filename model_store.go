package fedtrain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
)

const (
	manifestFile = "manifest.json"
	modelFile    = "model.bin"
	scalerFile   = "scaler.json"

	manifestFormatVersion = 1
)

// ModelStoreConfig configures local artifact persistence.
type ModelStoreConfig struct {
	// Dir is the root of the artifact tree. Versions live in
	// subdirectories of it.
	Dir string `yaml:"dir"`

	// Version labels the destination directory. Default: "latest".
	Version string `yaml:"version"`

	// Encryption optionally encrypts the model and scaler files at rest.
	Encryption EncryptionConfig `yaml:"encryption"`
}

func (c ModelStoreConfig) version() string {
	if c.Version == "" {
		return "latest"
	}
	return c.Version
}

// Manifest describes one persisted model version. It is written last and
// carries checksums so readers can detect partial or corrupted artifacts.
type Manifest struct {
	FormatVersion int               `json:"format_version"`
	Version       string            `json:"version"`
	Round         int               `json:"round"`
	SavedAt       time.Time         `json:"saved_at"`
	Architecture  Architecture      `json:"architecture"`
	FinalLoss     float64           `json:"final_loss"`
	Encrypted     bool              `json:"encrypted"`
	Salt          []byte            `json:"salt,omitempty"`
	Checksums     map[string]string `json:"checksums"`
}

// PersistedModel is a loaded artifact bundle.
type PersistedModel struct {
	Params   ModelParameters
	Scaler   *StandardScaler
	Manifest Manifest
}

// ModelStore persists the converged global model and its scaler to a
// versioned directory. Writes go to a staging directory first and are
// promoted with renames, so a concurrent reader never observes a
// half-written model.
type ModelStore struct {
	cfg    ModelStoreConfig
	cipher *artifactCipher
}

// NewModelStore creates a store rooted at cfg.Dir.
func NewModelStore(cfg ModelStoreConfig) (*ModelStore, error) {
	if cfg.Dir == "" {
		return nil, &ConfigError{Field: "store.dir", Message: "must not be empty"}
	}
	cipher, err := newArtifactCipher(cfg.Encryption)
	if err != nil {
		return nil, &ConfigError{Field: "store.encryption", Message: err.Error()}
	}
	return &ModelStore{cfg: cfg, cipher: cipher}, nil
}

// VersionDir returns the destination directory for this store's version.
func (s *ModelStore) VersionDir() string {
	return filepath.Join(s.cfg.Dir, s.cfg.version())
}

// Save writes the model parameters and scaler to staging and atomically
// promotes them into the version directory. On failure the in-memory
// state is untouched and the save may be retried.
func (s *ModelStore) Save(state *GlobalModelState, scaler *StandardScaler) error {
	dest := s.VersionDir()

	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return &PersistenceError{Path: s.cfg.Dir, Message: "cannot create artifact root", Cause: err}
	}

	staging, err := os.MkdirTemp(s.cfg.Dir, "."+s.cfg.version()+".staging-")
	if err != nil {
		return &PersistenceError{Path: s.cfg.Dir, Message: "cannot create staging directory", Cause: err}
	}
	defer os.RemoveAll(staging)

	modelBlob, err := s.encodeModel(state.Params)
	if err != nil {
		return err
	}
	scalerBlob, err := s.encodeScaler(scaler)
	if err != nil {
		return err
	}

	manifest := Manifest{
		FormatVersion: manifestFormatVersion,
		Version:       s.cfg.version(),
		Round:         state.Round,
		SavedAt:       time.Now().UTC(),
		Architecture:  DefaultArchitecture(),
		FinalLoss:     finalLoss(state),
		Encrypted:     s.cipher != nil,
		Checksums: map[string]string{
			modelFile:  checksum(modelBlob),
			scalerFile: checksum(scalerBlob),
		},
	}
	if s.cipher != nil {
		manifest.Salt = s.cipher.salt
	}
	manifestBlob, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return &PersistenceError{Message: "cannot encode manifest", Cause: err}
	}

	files := map[string][]byte{
		modelFile:    modelBlob,
		scalerFile:   scalerBlob,
		manifestFile: manifestBlob,
	}
	for name, blob := range files {
		path := filepath.Join(staging, name)
		if err := os.WriteFile(path, blob, 0o644); err != nil {
			return &PersistenceError{Path: path, Message: "staging write failed", Cause: err}
		}
	}

	return s.promote(staging, dest)
}

// promote swaps the staging directory into place. The previous version is
// parked at dest.old for the duration of the swap, so the destination is
// either the old complete bundle or the new complete bundle at any point.
func (s *ModelStore) promote(staging, dest string) error {
	old := dest + ".old"
	if err := os.RemoveAll(old); err != nil {
		return &PersistenceError{Path: old, Message: "cannot clear previous backup", Cause: err}
	}
	if _, err := os.Stat(dest); err == nil {
		if err := os.Rename(dest, old); err != nil {
			return &PersistenceError{Path: dest, Message: "cannot park previous version", Cause: err}
		}
	}
	if err := os.Rename(staging, dest); err != nil {
		// Try to restore the previous version before reporting.
		if _, statErr := os.Stat(old); statErr == nil {
			_ = os.Rename(old, dest)
		}
		return &PersistenceError{Path: dest, Message: "promote failed", Cause: err}
	}
	_ = os.RemoveAll(old)
	return nil
}

// Load reads the persisted bundle back. An absent version directory
// yields ErrModelNotFound so serving components can degrade gracefully
// until a first successful training run completes.
func (s *ModelStore) Load() (*PersistedModel, error) {
	dest := s.VersionDir()

	manifestBlob, err := os.ReadFile(filepath.Join(dest, manifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrModelNotFound, dest)
		}
		return nil, &PersistenceError{Path: dest, Message: "cannot read manifest", Cause: err}
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestBlob, &manifest); err != nil {
		return nil, &PersistenceError{Path: dest, Message: "corrupt manifest", Cause: err}
	}

	modelBlob, err := s.readChecked(dest, modelFile, manifest)
	if err != nil {
		return nil, err
	}
	scalerBlob, err := s.readChecked(dest, scalerFile, manifest)
	if err != nil {
		return nil, err
	}

	cipher, err := s.loadCipher(manifest)
	if err != nil {
		return nil, err
	}

	params, err := decodeModel(modelBlob, cipher)
	if err != nil {
		return nil, &PersistenceError{Path: dest, Message: "cannot decode model", Cause: err}
	}
	scaler, err := decodeScaler(scalerBlob, cipher)
	if err != nil {
		return nil, &PersistenceError{Path: dest, Message: "cannot decode scaler", Cause: err}
	}

	return &PersistedModel{Params: params, Scaler: scaler, Manifest: manifest}, nil
}

// loadCipher resolves the cipher needed to open an encrypted bundle,
// preferring the manifest's salt for password-derived keys.
func (s *ModelStore) loadCipher(manifest Manifest) (*artifactCipher, error) {
	if !manifest.Encrypted {
		return nil, nil
	}
	if len(s.cfg.Encryption.Key) > 0 {
		return s.cipher, nil
	}
	if s.cfg.Encryption.KeyPassword == "" {
		return nil, &PersistenceError{Message: "bundle is encrypted but no key is configured"}
	}
	cipher, err := cipherFromSalt(s.cfg.Encryption.KeyPassword, manifest.Salt)
	if err != nil {
		return nil, &PersistenceError{Message: "cannot derive artifact key", Cause: err}
	}
	return cipher, nil
}

func (s *ModelStore) readChecked(dir, name string, manifest Manifest) ([]byte, error) {
	path := filepath.Join(dir, name)
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, &PersistenceError{Path: path, Message: "cannot read artifact", Cause: err}
	}
	if want, ok := manifest.Checksums[name]; ok && checksum(blob) != want {
		return nil, &PersistenceError{Path: path, Message: "checksum mismatch"}
	}
	return blob, nil
}

// encodeModel serializes parameters as snappy-compressed JSON, encrypted
// when the store is configured for it.
func (s *ModelStore) encodeModel(params ModelParameters) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, &PersistenceError{Message: "cannot encode model parameters", Cause: err}
	}
	blob := snappy.Encode(nil, raw)
	if s.cipher != nil {
		blob, err = s.cipher.seal(blob)
		if err != nil {
			return nil, &PersistenceError{Message: "cannot encrypt model parameters", Cause: err}
		}
	}
	return blob, nil
}

func (s *ModelStore) encodeScaler(scaler *StandardScaler) ([]byte, error) {
	raw, err := json.Marshal(scaler)
	if err != nil {
		return nil, &PersistenceError{Message: "cannot encode scaler", Cause: err}
	}
	if s.cipher != nil {
		sealed, err := s.cipher.seal(raw)
		if err != nil {
			return nil, &PersistenceError{Message: "cannot encrypt scaler", Cause: err}
		}
		return sealed, nil
	}
	return raw, nil
}

func decodeModel(blob []byte, cipher *artifactCipher) (ModelParameters, error) {
	var params ModelParameters
	if cipher != nil {
		opened, err := cipher.open(blob)
		if err != nil {
			return params, err
		}
		blob = opened
	}
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return params, err
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, err
	}
	return params, nil
}

func decodeScaler(blob []byte, cipher *artifactCipher) (*StandardScaler, error) {
	if cipher != nil {
		opened, err := cipher.open(blob)
		if err != nil {
			return nil, err
		}
		blob = opened
	}
	var scaler StandardScaler
	if err := json.Unmarshal(blob, &scaler); err != nil {
		return nil, err
	}
	return &scaler, nil
}

func checksum(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}
