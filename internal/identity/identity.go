// Package identity manages the gateway's long-lived Ed25519 device
// keypair: load-or-generate on first boot, and sign/verify primitives
// for future plugin-binary verification.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"

	"github.com/edgerun/inferedge/internal/apperr"
)

const seedSize = ed25519.SeedSize // 32

// Identity wraps the device's Ed25519 keypair, derived from a 32-byte
// seed persisted on disk as raw bytes (not PEM — the seed is the whole
// file).
type Identity struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// LoadOrGenerate reads the seed at path, or generates and persists a
// fresh one if the file does not exist. A seed file of the wrong
// length is a Security error, not a generic IO error, since it most
// likely indicates tampering or a corrupted/foreign file.
func LoadOrGenerate(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != seedSize {
			return nil, apperr.New(apperr.CodeSecurity, "device key file has the wrong length")
		}
		return fromSeed(data), nil
	}
	if !os.IsNotExist(err) {
		return nil, apperr.Wrap(apperr.CodeIO, "failed to read device key file", err)
	}

	seed := make([]byte, seedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, apperr.Wrap(apperr.CodeSecurity, "failed to generate device key", err)
	}

	if err := persist(path, seed); err != nil {
		return nil, err
	}
	return fromSeed(seed), nil
}

func fromSeed(seed []byte) *Identity {
	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{private: priv, public: priv.Public().(ed25519.PublicKey)}
}

func persist(path string, seed []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return apperr.Wrap(apperr.CodeIO, "failed to create device key directory", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, seed, 0o600); err != nil {
		return apperr.Wrap(apperr.CodeIO, "failed to write device key", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return apperr.Wrap(apperr.CodeIO, "failed to finalize device key", err)
	}
	if runtime.GOOS != "windows" {
		_ = os.Chmod(path, 0o600)
	}
	return nil
}

// PublicKeyHex returns the device's stable public identifier: the
// hex-encoded Ed25519 verifying key.
func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.public)
}

// Sign signs message with the device's private key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.private, message)
}

// Verify reports whether signature is a valid 64-byte Ed25519
// signature over message made by this device's key.
func (id *Identity) Verify(message, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(id.public, message, signature)
}
