package api_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/counterhack/mandrake/internal/api"
)

func writePublicKeyPEM(t *testing.T, pub *rsa.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}

	path := filepath.Join(t.TempDir(), "jwt.pub.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write PEM: %v", err)
	}
	return path
}

func TestLoadRSAPublicKey_Valid(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	path := writePublicKeyPEM(t, &priv.PublicKey)

	got, err := api.LoadRSAPublicKey(path)
	if err != nil {
		t.Fatalf("LoadRSAPublicKey: %v", err)
	}
	if got.N.Cmp(priv.PublicKey.N) != 0 {
		t.Fatal("loaded key does not match the generated public key")
	}
}

func TestLoadRSAPublicKey_MissingFile(t *testing.T) {
	if _, err := api.LoadRSAPublicKey("/nonexistent/jwt.pub.pem"); err == nil {
		t.Fatal("expected an error for a missing key file")
	}
}

func TestLoadRSAPublicKey_MalformedPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(path, []byte("not a pem file"), 0o600); err != nil {
		t.Fatalf("write bad PEM: %v", err)
	}
	if _, err := api.LoadRSAPublicKey(path); err == nil {
		t.Fatal("expected an error for a malformed PEM file")
	}
}
