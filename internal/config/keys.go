package config

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/curve25519"

	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/enclave"
)

// KeyPairs resolves the configured identities. Every private key must
// derive its public key.
func (c *Config) KeyPairs() ([]enclave.KeyPair, error) {
	pairs := make([]enclave.KeyPair, 0, len(c.Keys))
	for i, k := range c.Keys {
		pub, priv := k.PublicKey, k.PrivateKey
		if k.PublicKeyPath != "" {
			var err error
			if pub, err = c.readKeyFile(k.PublicKeyPath); err != nil {
				return nil, fmt.Errorf("keys[%d]: %w", i, err)
			}
			if priv, err = c.readKeyFile(k.PrivateKeyPath); err != nil {
				return nil, fmt.Errorf("keys[%d]: %w", i, err)
			}
		}

		kp, err := parseKeyPair(pub, priv)
		if err != nil {
			return nil, fmt.Errorf("keys[%d]: %w", i, err)
		}
		pairs = append(pairs, kp)
	}
	return pairs, nil
}

// ForwardingKeys parses alwaysSendTo.
func (c *Config) ForwardingKeys() ([]enc.PublicKey, error) {
	return parseKeys("alwaysSendTo", c.AlwaysSendTo)
}

// PeerKeys parses the public keys hosted by peers[i].
func (c *Config) PeerKeys(i int) ([]enc.PublicKey, error) {
	return parseKeys(fmt.Sprintf("peers[%d].publicKeys", i), c.Peers[i].PublicKeys)
}

func parseKeys(field string, in []string) ([]enc.PublicKey, error) {
	out := make([]enc.PublicKey, 0, len(in))
	for i, s := range in {
		k, err := enc.ParsePublicKey(s)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, k)
	}
	return out, nil
}

func parseKeyPair(pub, priv string) (enclave.KeyPair, error) {
	public, err := enc.ParsePublicKey(pub)
	if err != nil {
		return enclave.KeyPair{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(priv)
	if err != nil || len(raw) != 32 {
		return enclave.KeyPair{}, fmt.Errorf("private key for %s is not 32 bytes of base64", public)
	}

	derived, err := curve25519.X25519(raw, curve25519.Basepoint)
	if err != nil {
		return enclave.KeyPair{}, fmt.Errorf("private key for %s: %w", public, err)
	}
	if !bytes.Equal(derived, public[:]) {
		return enclave.KeyPair{}, fmt.Errorf("private key does not match public key %s", public)
	}

	kp := enclave.KeyPair{Public: public}
	copy(kp.Private[:], raw)
	return kp, nil
}

func (c *Config) readKeyFile(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read key file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
