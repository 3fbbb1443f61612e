package secrets_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/cronicorn/cronicorn/internal/secrets"
)

const testSecret = "this-is-a-32-char-or-longer-secret!"

func TestNewRejectsShortSecret(t *testing.T) {
	_, err := secrets.New("too-short")
	if !errors.Is(err, secrets.ErrSecretTooShort) {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box, err := secrets.New(testSecret)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	headers := map[string]string{"Authorization": "Bearer abc123", "X-Api-Key": "secret-value"}

	wire, err := box.EncryptHeaders(headers)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if strings.Count(wire, ":") != 2 {
		t.Fatalf("expected wire format with 2 colons, got %q", wire)
	}

	got, err := box.DecryptHeaders(wire)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	for k, v := range headers {
		if got[k] != v {
			t.Fatalf("expected %s=%s, got %s=%s", k, v, k, got[k])
		}
	}
}

func TestDecryptMalformedWire(t *testing.T) {
	box, err := secrets.New(testSecret)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	_, err = box.DecryptHeaders("not-a-valid-wire-format")
	if !errors.Is(err, secrets.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecryptTamperedCiphertextFailsAuthentication(t *testing.T) {
	box, err := secrets.New(testSecret)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	wire, err := box.EncryptHeaders(map[string]string{"Authorization": "Bearer abc123"})
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	parts := strings.Split(wire, ":")
	// Flip the last character of the ciphertext segment.
	ciphertext := []byte(parts[2])
	last := ciphertext[len(ciphertext)-1]
	if last == 'A' {
		last = 'B'
	} else {
		last = 'A'
	}
	ciphertext[len(ciphertext)-1] = last
	tampered := strings.Join([]string{parts[0], parts[1], string(ciphertext)}, ":")

	_, err = box.DecryptHeaders(tampered)
	if !errors.Is(err, secrets.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestDifferentSecretsProduceDifferentKeys(t *testing.T) {
	boxA, _ := secrets.New(testSecret)
	boxB, _ := secrets.New("a-completely-different-32-char-secret!!")

	wire, err := boxA.EncryptHeaders(map[string]string{"Authorization": "Bearer abc123"})
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	_, err = boxB.DecryptHeaders(wire)
	if err == nil {
		t.Fatal("expected decryption with a different key to fail")
	}
}

func TestIsSensitive(t *testing.T) {
	sensitive := []string{"Authorization", "X-Api-Key", "api-key", "token", "X-Auth-Token", "Password"}
	for _, name := range sensitive {
		if !secrets.IsSensitive(name) {
			t.Errorf("expected %q to be sensitive", name)
		}
	}

	plain := []string{"Content-Type", "Accept", "X-Request-Id", "User-Agent"}
	for _, name := range plain {
		if secrets.IsSensitive(name) {
			t.Errorf("expected %q to not be sensitive", name)
		}
	}
}

func TestSplitSensitive(t *testing.T) {
	box, err := secrets.New(testSecret)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer abc123",
	}
	plain, sensitive := box.SplitSensitive(headers)

	if _, ok := plain["Authorization"]; ok {
		t.Fatal("Authorization should not be in the plain map")
	}
	if _, ok := sensitive["Content-Type"]; ok {
		t.Fatal("Content-Type should not be in the sensitive map")
	}
	if plain["Content-Type"] != "application/json" {
		t.Fatal("expected Content-Type to survive in plain map")
	}
	if sensitive["Authorization"] != "Bearer abc123" {
		t.Fatal("expected Authorization to survive in sensitive map")
	}
}
