package testutil

import (
	"bytes"
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/roach88/privtx/internal/config"
	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/enclave"
	"github.com/roach88/privtx/internal/store"
)

// Key returns a public key made of one repeated byte. It is not a valid
// curve point; use KeyPair when the enclave must open boxes for it.
func Key(b byte) enc.PublicKey {
	var k enc.PublicKey
	copy(k[:], bytes.Repeat([]byte{b}, enc.KeySize))
	return k
}

// DeriveKeyPair derives a real key pair from name. The same name always
// gives the same pair.
func DeriveKeyPair(name string) (enclave.KeyPair, error) {
	return enclave.GenerateKeyPair(NewDeterministicReader("key:" + name))
}

// KeyPair is DeriveKeyPair for tests.
func KeyPair(t testing.TB, name string) enclave.KeyPair {
	t.Helper()
	kp, err := DeriveKeyPair(name)
	if err != nil {
		t.Fatalf("GenerateKeyPair(%q) failed: %v", name, err)
	}
	return kp
}

// KeyConfig renders kp as inline configuration.
func KeyConfig(kp enclave.KeyPair) config.KeyConfig {
	return config.KeyConfig{
		PublicKey:  kp.Public.String(),
		PrivateKey: base64.StdEncoding.EncodeToString(kp.Private[:]),
	}
}

// NodeConfig builds a node configuration with a database in a temp
// directory. The communication type is MEMORY and privacy enhancements are
// enabled.
func NodeConfig(t testing.TB, keys ...enclave.KeyPair) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "node.db")},
		Server: config.ServerConfig{
			Address:           "127.0.0.1:0",
			CommunicationType: "MEMORY",
		},
		Features: config.Features{EnablePrivacyEnhancements: true},
	}
	for _, kp := range keys {
		cfg.Keys = append(cfg.Keys, KeyConfig(kp))
	}
	return cfg
}

// OpenStore opens a fresh store in a temp directory and closes it when the
// test ends.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
