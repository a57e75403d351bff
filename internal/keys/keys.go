// Package keys loads the issuer signing key.
//
// The key comes either from a raw hex string (ISSUER_SIGNING_KEY, development
// and CI) or from an encrypted go-ethereum keystore file (ISSUER_KEYSTORE).
// When both are set the keystore wins.
package keys

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
)

// Source describes where to read the key from.
type Source struct {
	Hex              string
	KeystorePath     string
	KeystorePassword string
}

// Load returns the issuer private key from src.
func Load(src Source) (*ecdsa.PrivateKey, error) {
	if src.KeystorePath != "" {
		return FromKeystore(src.KeystorePath, src.KeystorePassword)
	}
	if src.Hex != "" {
		return FromHex(src.Hex)
	}
	return nil, fmt.Errorf("keys: no key source configured")
}

// FromHex parses a 32-byte secp256k1 key, with or without a 0x prefix.
func FromHex(raw string) (*ecdsa.PrivateKey, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(keyHex) != 64 {
		return nil, fmt.Errorf("keys: private key must be a 32-byte hex string (got %d chars)", len(keyHex))
	}
	priv, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("keys: parse private key: %w", err)
	}
	return priv, nil
}

// FromKeystore decrypts a V3 keystore file.
func FromKeystore(path, password string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: read keystore: %w", err)
	}
	key, err := keystore.DecryptKey(raw, password)
	if err != nil {
		return nil, fmt.Errorf("keys: decrypt keystore %s: %w", path, err)
	}
	return key.PrivateKey, nil
}
