// Package issuer produces signed vouchers for the redemption contract.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/lazymint/internal/voucher"
)

// NetworkIdentifier reports the id of the network the contract lives on.
// *ethclient.Client satisfies it.
type NetworkIdentifier interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// Signer signs vouchers for one redemption contract with one issuer key.
type Signer struct {
	contract common.Address
	key      KeySigner
	network  NetworkIdentifier
	log      *zap.Logger

	mu     sync.Mutex
	domain *voucher.Domain
}

func NewSigner(contract common.Address, key KeySigner, network NetworkIdentifier, log *zap.Logger) *Signer {
	return &Signer{
		contract: contract,
		key:      key,
		network:  network,
		log:      log,
	}
}

// Address is the issuer address vouchers are signed by.
func (s *Signer) Address() common.Address { return s.key.Address() }

// Contract is the verifying contract of every voucher this signer produces.
func (s *Signer) Contract() common.Address { return s.contract }

// Domain returns the signing domain, fetching the network id on first use.
// A failed fetch is not cached; the next call tries again.
func (s *Signer) Domain(ctx context.Context) (voucher.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.domain != nil {
		return *s.domain, nil
	}
	chainID, err := s.network.ChainID(ctx)
	if err != nil {
		return voucher.Domain{}, fmt.Errorf("fetch chain id: %w", err)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return voucher.Domain{}, fmt.Errorf("fetch chain id: invalid value %v", chainID)
	}
	d := voucher.NewDomain(chainID, s.contract)
	s.domain = &d
	s.log.Info("voucher domain cached",
		zap.String("chain_id", chainID.String()),
		zap.String("contract", s.contract.Hex()),
	)
	return d, nil
}

// Invalidate drops the cached domain so the next call refetches the network id.
func (s *Signer) Invalidate() {
	s.mu.Lock()
	s.domain = nil
	s.mu.Unlock()
}

// CreateVoucher signs a voucher for tokenID. A nil minPrice means a free mint.
func (s *Signer) CreateVoucher(ctx context.Context, tokenID *big.Int, uri string, minPrice *big.Int) (*voucher.Signed, error) {
	if minPrice == nil {
		minPrice = new(big.Int)
	}
	v := voucher.Voucher{TokenID: tokenID, MinPrice: minPrice, URI: uri}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	v = v.Copy()

	d, err := s.Domain(ctx)
	if err != nil {
		return nil, err
	}
	digest, err := TypedDataDigest(d, v)
	if err != nil {
		return nil, err
	}
	sig, err := s.key.SignHash(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("sign voucher: %w", err)
	}
	if len(sig) != voucher.SignatureLength {
		return nil, errors.New("sign voucher: signature must be 65 bytes")
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	s.log.Debug("voucher signed",
		zap.String("token_id", v.TokenID.String()),
		zap.String("min_price", v.MinPrice.String()),
		zap.String("issuer", s.key.Address().Hex()),
	)
	return &voucher.Signed{Voucher: v, Signature: sig, Digest: &digest}, nil
}
