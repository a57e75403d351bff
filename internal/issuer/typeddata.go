package issuer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/0gfoundation/lazymint/internal/voucher"
)

const primaryType = "NFTVoucher"

var voucherTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	primaryType: {
		{Name: "tokenId", Type: "uint256"},
		{Name: "minPrice", Type: "uint256"},
		{Name: "uri", Type: "string"},
	},
}

// TypedData renders a voucher as a wallet-compatible eth_signTypedData_v4 payload.
func TypedData(d voucher.Domain, v voucher.Voucher) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       voucherTypes,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"tokenId":  v.TokenID.String(),
			"minPrice": v.MinPrice.String(),
			"uri":      v.URI,
		},
	}
}

// TypedDataDigest is the EIP-712 signing digest of v computed by go-ethereum's
// typed-data encoder.
func TypedDataDigest(d voucher.Domain, v voucher.Voucher) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(TypedData(d, v))
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}
