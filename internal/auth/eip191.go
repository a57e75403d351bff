// Package auth authenticates wallet-signed API requests (EIP-191 personal_sign).
package auth

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrBadSignature = errors.New("invalid signature")

// HashMessage is the personal_sign hash:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg)
func HashMessage(msg []byte) []byte {
	return accounts.TextHash(msg)
}

// Recover returns the wallet that personal_signed msg.
// sig must be 65 bytes (R || S || V), with V in {0,1} or {27,28}.
func Recover(msg []byte, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	sigCopy := make([]byte, crypto.SignatureLength)
	copy(sigCopy, sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	r := new(big.Int).SetBytes(sigCopy[:32])
	s := new(big.Int).SetBytes(sigCopy[32:64])
	if !crypto.ValidateSignatureValues(sigCopy[64], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: values out of range", ErrBadSignature)
	}

	pub, err := crypto.SigToPub(HashMessage(msg), sigCopy)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: ecrecover: %w", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
