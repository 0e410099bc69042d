package jwtkeys

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"go.uber.org/zap"
)

var (
	// ErrKeyNotFound is returned when a kid cannot be resolved to a verification key.
	ErrKeyNotFound = errors.New("jwtkeys: signing key not found")
	// ErrKeyRevoked is returned for keys the issuer has revoked.
	ErrKeyRevoked = errors.New("jwtkeys: signing key revoked")
)

// KeyProvider resolves keys for JWT verification.
type KeyProvider interface {
	ResolveKey(kid string) ([]byte, error)
	LegacyKey() []byte
}

// SigningKey is one entry of the key file the auth service publishes.
type SigningKey struct {
	ID        string    `json:"id"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// SecretBytes decodes the base64-encoded secret.
func (k SigningKey) SecretBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(k.Secret)
}

// Keyring is a read-only view of the issuer's rotating keys. Tokens are never signed here.
type Keyring struct {
	mu      sync.RWMutex
	path    string
	keys    map[string]SigningKey
	legacy  []byte
	nowFunc func() time.Time
}

// NewKeyring loads the key file at path. An empty path yields a keyring that only knows
// the legacy secret.
func NewKeyring(path, legacySecret string) (*Keyring, error) {
	k := &Keyring{
		path:    path,
		keys:    make(map[string]SigningKey),
		legacy:  []byte(legacySecret),
		nowFunc: time.Now,
	}
	if path == "" {
		return k, nil
	}
	if err := k.Reload(); err != nil {
		return nil, err
	}
	return k, nil
}

// NewKeyringFromConfig builds a Keyring from the shared JWT configuration.
func NewKeyringFromConfig(cfg config.JWTConfig) (*Keyring, error) {
	return NewKeyring(cfg.KeyFile, cfg.Secret)
}

// Reload re-reads the key file. The previous key set stays in place on error.
func (k *Keyring) Reload() error {
	if k.path == "" {
		return nil
	}
	raw, err := os.ReadFile(k.path)
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}
	var list []SigningKey
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("decode key file: %w", err)
	}

	keys := make(map[string]SigningKey, len(list))
	for _, key := range list {
		keys[key.ID] = key
	}

	k.mu.Lock()
	k.keys = keys
	k.mu.Unlock()
	return nil
}

// ResolveKey returns the secret for kid unless it is unknown, revoked or expired.
func (k *Keyring) ResolveKey(kid string) ([]byte, error) {
	k.mu.RLock()
	key, ok := k.keys[kid]
	k.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	if key.Revoked {
		return nil, ErrKeyRevoked
	}
	if !key.ExpiresAt.IsZero() && k.nowFunc().After(key.ExpiresAt) {
		return nil, ErrKeyNotFound
	}
	return key.SecretBytes()
}

// LegacyKey returns the shared secret used for tokens without a kid header.
func (k *Keyring) LegacyKey() []byte {
	return k.legacy
}

// StartAutoRefresh reloads the key file every interval until ctx is done.
func (k *Keyring) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if k.path == "" || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := k.Reload(); err != nil {
					logger.Warn("jwt key refresh failed", zap.String("path", k.path), zap.Error(err))
				}
			}
		}
	}()
}

// StaticProvider is a KeyProvider backed by a single shared secret.
type StaticProvider struct {
	secret []byte
}

// NewStaticProvider creates a KeyProvider backed by a single secret.
func NewStaticProvider(secret string) KeyProvider {
	return &StaticProvider{secret: []byte(secret)}
}

// ResolveKey ignores kid values.
func (p *StaticProvider) ResolveKey(string) ([]byte, error) {
	if len(p.secret) == 0 {
		return nil, ErrKeyNotFound
	}
	return p.secret, nil
}

// LegacyKey returns the static secret.
func (p *StaticProvider) LegacyKey() []byte {
	return p.secret
}
