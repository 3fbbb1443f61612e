// Package secrets implements authenticated encryption of stored request
// headers (spec.md §4.7). The AES-256-GCM plumbing is grounded in the
// apimgr-search backup encryption helper (src/backup/encryption.go): same
// cipher.NewGCM/aes.NewCipher shape, same random-nonce-per-record
// approach. Unlike that helper, which derives its key from a user-supplied
// password via Argon2id, here the key comes from a fixed per-deployment
// secret stretched with HKDF-SHA256 (golang.org/x/crypto/hkdf) rather than
// Argon2id — the deployment secret already carries adequate entropy, so
// this only needs domain separation, not brute-force hardening.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrMalformed is returned for inputs that don't match the
	// colon-separated nonce|authTag|ciphertext wire format.
	ErrMalformed = errors.New("malformed encrypted header payload")
	// ErrAuthentication is returned when the AEAD tag fails to verify —
	// distinct from "no headers" per spec.md §4.7.
	ErrAuthentication = errors.New("header decryption authentication failed")
	// ErrSecretTooShort guards the "≥ 32 chars" deployment-secret requirement.
	ErrSecretTooShort = errors.New("deployment secret must be at least 32 characters")
)

const minSecretLen = 32

// sensitiveNames matches header names (case-insensitively) that trigger
// encryption at write time; all headers are decrypted transparently at
// read time regardless of name.
var sensitiveNames = []string{"authorization", "api-key", "token", "secret", "password", "auth"}

// Box performs authenticated encryption of header maps using a key derived
// from a per-deployment secret.
type Box struct {
	key [32]byte
}

// New derives a 256-bit key from secret via HKDF-SHA256, per spec.md §4.7.
func New(secret string) (*Box, error) {
	if len(secret) < minSecretLen {
		return nil, ErrSecretTooShort
	}
	var key [32]byte
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("cronicorn-endpoint-headers"))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &Box{key: key}, nil
}

// IsSensitive reports whether a header name matches the sensitivity
// pattern that triggers encryption at write time.
func IsSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, pat := range sensitiveNames {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// EncryptHeaders serializes headers as canonical JSON and seals them,
// returning the colon-separated base64(nonce):base64(authTag):base64(ciphertext)
// wire format from spec.md §4.7.
func (b *Box) EncryptHeaders(headers map[string]string) (string, error) {
	plaintext, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}

	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	tagLen := gcm.Overhead()
	ciphertext := sealed[:len(sealed)-tagLen]
	authTag := sealed[len(sealed)-tagLen:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(authTag),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, ":"), nil
}

// DecryptHeaders reverses EncryptHeaders. Malformed wire formats and
// authentication failures are distinguished via ErrMalformed/ErrAuthentication.
func (b *Box) DecryptHeaders(wire string) (map[string]string, error) {
	parts := strings.Split(wire, ":")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrMalformed, err)
	}
	authTag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: auth tag: %v", ErrMalformed, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformed, err)
	}

	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrMalformed
	}

	sealed := append(ciphertext, authTag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}

	var headers map[string]string
	if err := json.Unmarshal(plaintext, &headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	return headers, nil
}

// EncryptSensitive returns headers with only the sensitivity-matched names
// encrypted (packed as a single wire-format blob under a reserved key),
// and the remaining names left in the clear. This mirrors how the caller
// stores a single encrypted-headers column alongside a plaintext one in
// the endpoints table (see internal/infrastructure/postgres).
func (b *Box) SplitSensitive(headers map[string]string) (plain map[string]string, sensitive map[string]string) {
	plain = make(map[string]string)
	sensitive = make(map[string]string)
	for k, v := range headers {
		if IsSensitive(k) {
			sensitive[k] = v
		} else {
			plain[k] = v
		}
	}
	return plain, sensitive
}
