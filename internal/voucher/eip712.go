package voucher

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Type signatures are part of the protocol; both are hashed into every digest.
const (
	DomainTypeSignature  = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
	VoucherTypeSignature = "NFTVoucher(uint256 tokenId,uint256 minPrice,string uri)"
)

var (
	domainTypeHash  = crypto.Keccak256Hash([]byte(DomainTypeSignature))
	voucherTypeHash = crypto.Keccak256Hash([]byte(VoucherTypeSignature))
)

var ErrInvalidSignature = errors.New("invalid signature")

// DomainSeparator computes hashStruct(EIP712Domain).
func DomainSeparator(d Domain) common.Hash {
	nameHash := crypto.Keccak256Hash([]byte(d.Name))
	versionHash := crypto.Keccak256Hash([]byte(d.Version))

	// abi.encode(bytes32, bytes32, bytes32, uint256, address)
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	d.ChainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], d.VerifyingContract.Bytes()) // addr is right-aligned in 32-byte slot

	return crypto.Keccak256Hash(encoded)
}

// StructHash computes hashStruct(NFTVoucher). The uri is hashed, not inlined.
func StructHash(v Voucher) common.Hash {
	uriHash := crypto.Keccak256Hash([]byte(v.URI))

	encoded := make([]byte, 4*32)
	copy(encoded[0:32], voucherTypeHash[:])
	v.TokenID.FillBytes(encoded[32:64])
	v.MinPrice.FillBytes(encoded[64:96])
	copy(encoded[96:128], uriHash[:])

	return crypto.Keccak256Hash(encoded)
}

// Digest is keccak256(0x1901 || domainSeparator || structHash).
// The voucher must have passed Validate; FillBytes panics on oversized values.
func Digest(d Domain, v Voucher) common.Hash {
	sep := DomainSeparator(d)
	structHash := StructHash(v)

	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

// SignDigest signs a digest and returns a signature with V in {27,28}.
func SignDigest(digest common.Hash, privKey *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return nil, err
	}
	// Convert V from 0/1 to 27/28 for ecrecover
	sig[64] += 27
	return sig, nil
}

// Recover returns the address that produced sig over digest.
// V may be 0/1 or 27/28; signatures with a high S value are rejected.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	r := new(big.Int).SetBytes(normalized[0:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(normalized[64], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: malformed r, s or v", ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(digest[:], normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign builds the digest for v under d and signs it with privKey.
func Sign(d Domain, v Voucher, privKey *ecdsa.PrivateKey) (*Signed, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	digest := Digest(d, v)
	sig, err := SignDigest(digest, privKey)
	if err != nil {
		return nil, fmt.Errorf("sign voucher: %w", err)
	}
	return &Signed{Voucher: v.Copy(), Signature: sig, Digest: &digest}, nil
}

// Verify recovers the signer of a signed voucher under d.
func Verify(d Domain, sv *Signed) (common.Address, error) {
	if err := sv.Validate(); err != nil {
		return common.Address{}, err
	}
	return Recover(Digest(d, sv.Voucher), sv.Signature)
}
