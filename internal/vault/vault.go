// Package vault stores per-workspace model credentials encrypted at rest.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
)

// KeySize is the required encryption key length. AES-256 only; a shorter key
// silently downgrading the cipher is not acceptable for credential storage.
const KeySize = 32

var (
	// ErrInvalidKeySize is returned by New when the key is not exactly
	// KeySize bytes. Callers treat it as fatal at startup.
	ErrInvalidKeySize = errors.New("vault: encryption key must be exactly 32 bytes")

	// ErrModelNotFound is returned when a workspace has no entry for the
	// requested model.
	ErrModelNotFound = errors.New("vault: model not found")
)

// WorkspaceModel is a per-workspace model configuration with its decrypted
// API key.
type WorkspaceModel struct {
	Model   string `json:"model"`
	APIKey  string `json:"-"`
	BaseURL string `json:"base_url,omitempty"`
}

// Vault encrypts and decrypts workspace model credentials with AES-256-GCM.
type Vault struct {
	aead cipher.AEAD

	mu     sync.RWMutex
	models map[string]map[string]encryptedModel // workspace -> model -> entry
}

type encryptedModel struct {
	cipherKey string
	baseURL   string
}

// New creates a Vault. The key must be exactly KeySize bytes; anything else
// is a configuration error the process should not start with.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}

	return &Vault{
		aead:   aead,
		models: map[string]map[string]encryptedModel{},
	}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("vault: decode ciphertext: %w", err)
	}
	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("vault: ciphertext too short")
	}
	plaintext, err := v.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// StoreWorkspaceModel encrypts and stores a workspace model credential.
func (v *Vault) StoreWorkspaceModel(workspace string, model WorkspaceModel) error {
	cipherKey, err := v.Encrypt(model.APIKey)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	entries, ok := v.models[workspace]
	if !ok {
		entries = map[string]encryptedModel{}
		v.models[workspace] = entries
	}
	entries[model.Model] = encryptedModel{cipherKey: cipherKey, baseURL: model.BaseURL}
	return nil
}

// ListWorkspaceModels returns every model configured for the workspace with
// decrypted credentials.
func (v *Vault) ListWorkspaceModels(ctx context.Context, workspace string) ([]WorkspaceModel, error) {
	v.mu.RLock()
	entries := v.models[workspace]
	snapshot := make(map[string]encryptedModel, len(entries))
	for model, entry := range entries {
		snapshot[model] = entry
	}
	v.mu.RUnlock()

	result := make([]WorkspaceModel, 0, len(snapshot))
	for model, entry := range snapshot {
		apiKey, err := v.Decrypt(entry.cipherKey)
		if err != nil {
			return nil, fmt.Errorf("vault: decrypt key for %s: %w", model, err)
		}
		result = append(result, WorkspaceModel{Model: model, APIKey: apiKey, BaseURL: entry.baseURL})
	}
	return result, nil
}

// GetWorkspaceModel returns the credential for one model in a workspace.
func (v *Vault) GetWorkspaceModel(ctx context.Context, workspace, model string) (*WorkspaceModel, error) {
	v.mu.RLock()
	entry, ok := v.models[workspace][model]
	v.mu.RUnlock()
	if !ok {
		return nil, ErrModelNotFound
	}

	apiKey, err := v.Decrypt(entry.cipherKey)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt key for %s: %w", model, err)
	}
	return &WorkspaceModel{Model: model, APIKey: apiKey, BaseURL: entry.baseURL}, nil
}
