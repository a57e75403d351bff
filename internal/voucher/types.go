package voucher

import (
	"errors"
	"fmt"
	"math/big"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Domain constants shared by issuer and redeemer.
const (
	DomainName    = "LazyNFT-Voucher"
	DomainVersion = "1"
)

// SignatureLength is R || S || V.
const SignatureLength = 65

// Domain binds a signature to one redemption contract on one network.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain returns the protocol domain for a contract on chainID.
func NewDomain(chainID *big.Int, contract common.Address) Domain {
	return Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: contract,
	}
}

// Voucher describes an asset that has not been created yet.
type Voucher struct {
	TokenID  *big.Int `json:"tokenId"`
	MinPrice *big.Int `json:"minPrice"`
	URI      string   `json:"uri"`
}

// Signed is the transport unit produced by the issuer.
// Digest is informational; the redeemer always recomputes it.
type Signed struct {
	Voucher
	Signature hexutil.Bytes `json:"signature"`
	Digest    *common.Hash  `json:"digest,omitempty"`
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var ErrMalformedVoucher = errors.New("malformed voucher")

// Validate checks both integer fields fit in a uint256 and that uri is
// valid UTF-8, since JSON transport would rewrite any other bytes.
func (v *Voucher) Validate() error {
	if err := checkUint256("tokenId", v.TokenID); err != nil {
		return err
	}
	if err := checkUint256("minPrice", v.MinPrice); err != nil {
		return err
	}
	if !utf8.ValidString(v.URI) {
		return fmt.Errorf("%w: uri is not valid UTF-8", ErrMalformedVoucher)
	}
	return nil
}

func checkUint256(name string, n *big.Int) error {
	if n == nil {
		return fmt.Errorf("%w: %s missing", ErrMalformedVoucher, name)
	}
	if n.Sign() < 0 || n.Cmp(maxUint256) > 0 {
		return fmt.Errorf("%w: %s out of uint256 range", ErrMalformedVoucher, name)
	}
	return nil
}

// Copy returns a deep copy so callers cannot mutate a signed voucher in place.
func (v Voucher) Copy() Voucher {
	out := Voucher{URI: v.URI}
	if v.TokenID != nil {
		out.TokenID = new(big.Int).Set(v.TokenID)
	}
	if v.MinPrice != nil {
		out.MinPrice = new(big.Int).Set(v.MinPrice)
	}
	return out
}
