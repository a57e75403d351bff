package issuer

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/lazymint/internal/voucher"
)

// KeySigner is a handle to the issuer's secp256k1 key. SignHash returns a
// 65-byte [R || S || V] signature; V may be 0/1 or 27/28.
type KeySigner interface {
	Address() common.Address
	SignHash(ctx context.Context, hash common.Hash) ([]byte, error)
}

// LocalKey signs with an in-process private key.
type LocalKey struct {
	priv *ecdsa.PrivateKey
	addr common.Address
}

func NewLocalKey(priv *ecdsa.PrivateKey) *LocalKey {
	return &LocalKey{priv: priv, addr: crypto.PubkeyToAddress(priv.PublicKey)}
}

func (k *LocalKey) Address() common.Address { return k.addr }

func (k *LocalKey) SignHash(_ context.Context, hash common.Hash) ([]byte, error) {
	return voucher.SignDigest(hash, k.priv)
}
