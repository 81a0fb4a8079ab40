package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	"golang.org/x/crypto/hkdf"
)

const (
	defaultKeyID   = "app-key"
	derivedKeySize = 32
	derivationInfo = "go-credentials/record-sealing"
)

// KeyRotationWindow gates when a key version may seal new payloads. Opening
// is never gated so records sealed before a rotation stay readable.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

type Option func(*AppKeySecretProvider)

type appKey struct {
	id      string
	version int
	aead    cipher.AEAD
}

// AppKeySecretProvider seals record payloads with AES-256-GCM under a key
// derived from application key material through HKDF-SHA256. The key id and
// version are bound into the ciphertext as additional data.
type AppKeySecretProvider struct {
	current appKey
	retired []appKey
	window  KeyRotationWindow
	now     func() time.Time
	err     error
}

func WithKeyID(id string) Option {
	return func(provider *AppKeySecretProvider) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			provider.current.id = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(provider *AppKeySecretProvider) {
		if version > 0 {
			provider.current.version = version
		}
	}
}

func WithRotationWindow(window KeyRotationWindow) Option {
	return func(provider *AppKeySecretProvider) {
		provider.window = window
	}
}

// WithRetiredKey keeps an older key available for opening payloads sealed
// before the current key took over.
func WithRetiredKey(keyMaterial []byte, id string, version int) Option {
	return func(provider *AppKeySecretProvider) {
		key, err := deriveKey(keyMaterial, id, version)
		if err != nil {
			provider.err = err
			return
		}
		provider.retired = append(provider.retired, key)
	}
}

func WithClock(now func() time.Time) Option {
	return func(provider *AppKeySecretProvider) {
		if now != nil {
			provider.now = now
		}
	}
}

func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	material := bytes.TrimSpace(keyMaterial)
	if len(material) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	provider := &AppKeySecretProvider{
		current: appKey{id: defaultKeyID, version: 1},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	if provider.err != nil {
		return nil, provider.err
	}
	current, err := deriveKey(material, provider.current.id, provider.current.version)
	if err != nil {
		return nil, err
	}
	provider.current = current
	for _, retired := range provider.retired {
		if retired.id == current.id && retired.version == current.version {
			return nil, fmt.Errorf("security: retired key %s/v%d collides with the current key", retired.id, retired.version)
		}
	}
	return provider, nil
}

func NewAppKeySecretProviderFromString(key string, opts ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), opts...)
}

func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil || p.current.aead == nil {
		return nil, fmt.Errorf("security: secret provider is not configured")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	if !p.window.Allows(p.now()) {
		return nil, fmt.Errorf("security: key %s/v%d is outside its rotation window", p.current.id, p.current.version)
	}

	nonce := make([]byte, p.current.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := p.current.aead.Seal(nil, nonce, plaintext, additionalData(p.current.id, p.current.version))
	return encodeEnvelope(envelope{
		KeyID:      p.current.id,
		Version:    p.current.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      encodeBytes(nonce),
		Ciphertext: encodeBytes(sealed),
	})
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil || p.current.aead == nil {
		return nil, fmt.Errorf("security: secret provider is not configured")
	}
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	key, ok := p.keyFor(env.KeyID, env.Version)
	if !ok {
		return nil, fmt.Errorf("security: no key for %s/v%d", env.KeyID, env.Version)
	}
	nonce, err := decodeBytes("nonce", env.Nonce)
	if err != nil {
		return nil, err
	}
	sealed, err := decodeBytes("ciphertext", env.Ciphertext)
	if err != nil {
		return nil, err
	}
	plaintext, err := key.aead.Open(nil, nonce, sealed, additionalData(key.id, key.version))
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (p *AppKeySecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.current.id
}

func (p *AppKeySecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.current.version
}

// NeedsReseal reports whether a sealed payload was produced by a key other
// than the current one.
func (p *AppKeySecretProvider) NeedsReseal(ciphertext []byte) (bool, error) {
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return false, err
	}
	return meta.KeyID != p.KeyID() || meta.Version != p.Version(), nil
}

func (p *AppKeySecretProvider) keyFor(id string, version int) (appKey, bool) {
	if id == p.current.id && version == p.current.version {
		return p.current, true
	}
	for _, key := range p.retired {
		if key.id == id && key.version == version {
			return key, true
		}
	}
	return appKey{}, false
}

func deriveKey(material []byte, id string, version int) (appKey, error) {
	material = bytes.TrimSpace(material)
	if len(material) == 0 {
		return appKey{}, fmt.Errorf("security: key material is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = defaultKeyID
	}
	if version <= 0 {
		return appKey{}, fmt.Errorf("security: key version must be > 0")
	}

	info := derivationInfo + "/v" + strconv.Itoa(version)
	reader := hkdf.New(sha256.New, material, []byte(id), []byte(info))
	derived := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return appKey{}, fmt.Errorf("security: derive key: %w", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return appKey{}, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return appKey{}, fmt.Errorf("security: create gcm: %w", err)
	}
	return appKey{id: id, version: version, aead: aead}, nil
}

func additionalData(id string, version int) []byte {
	return []byte(id + ":" + strconv.Itoa(version))
}

var _ core.SecretProvider = (*AppKeySecretProvider)(nil)
