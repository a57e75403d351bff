// Package redeem verifies signed vouchers and redeems them inside a single
// ledger transaction: recover the signer, check it is an issuer, check the
// payment, create the asset for the signer, hand it to the redeemer and
// forward the payment. Any failure reverts everything.
package redeem

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/lazymint/internal/access"
	"github.com/0gfoundation/lazymint/internal/asset"
	"github.com/0gfoundation/lazymint/internal/bank"
	"github.com/0gfoundation/lazymint/internal/ledger"
	"github.com/0gfoundation/lazymint/internal/voucher"
)

const EventRedeemed = "Redeemed"

// State is a step of a redemption, used for tracing.
type State uint8

const (
	StateReceived State = iota
	StateSignatureRecovered
	StateAuthorizationChecked
	StatePaymentChecked
	StateAssetCreated
	StatePaymentForwarded
	StateComplete
	StateReverted
)

func (s State) String() string {
	return [...]string{
		"received", "signature_recovered", "authorization_checked", "payment_checked",
		"asset_created", "payment_forwarded", "complete", "reverted",
	}[s]
}

// Call is the transaction envelope: who sends it and how much value it carries.
type Call struct {
	From  common.Address
	Value *big.Int
}

// Result describes a committed redemption.
type Result struct {
	TokenID *big.Int
	Signer  common.Address
	Receipt *ledger.Receipt
}

// Redeemer is the voucher redemption contract.
type Redeemer struct {
	ledger  *ledger.Ledger
	domain  voucher.Domain
	address common.Address
	log     *zap.Logger
}

// New returns a redeemer living at address on network chainID.
func New(l *ledger.Ledger, chainID *big.Int, address common.Address, log *zap.Logger) *Redeemer {
	return &Redeemer{
		ledger:  l,
		domain:  voucher.NewDomain(chainID, address),
		address: address,
		log:     log,
	}
}

// Address is the contract's own address (the domain's verifying contract).
func (r *Redeemer) Address() common.Address { return r.address }

// Domain is the domain every voucher is verified against.
func (r *Redeemer) Domain() voucher.Domain { return r.domain }

// Redeem validates v and sig and, if every check passes, creates the asset
// and transfers it to redeemer. The returned error maps to a Status via StatusOf.
func (r *Redeemer) Redeem(ctx context.Context, call Call, redeemer common.Address, v voucher.Voucher, sig []byte) (*Result, error) {
	var res *Result
	receipt, err := r.ledger.Execute(ctx, func(tx *ledger.Tx) error {
		var err error
		res, err = r.redeem(tx, call, redeemer, v, sig)
		return err
	})
	if err != nil {
		r.log.Info("redemption reverted",
			zap.String("token_id", bigString(v.TokenID)),
			zap.String("from", call.From.Hex()),
			zap.String("status", StatusOf(err).String()),
			zap.Stringer("state", StateReverted),
			zap.Error(err),
		)
		return nil, err
	}
	res.Receipt = receipt
	r.log.Info("voucher redeemed",
		zap.String("token_id", res.TokenID.String()),
		zap.String("signer", res.Signer.Hex()),
		zap.String("redeemer", redeemer.Hex()),
		zap.Uint64("seq", receipt.Seq),
	)
	return res, nil
}

// Preview runs a redemption without committing it and reports its outcome.
func (r *Redeemer) Preview(ctx context.Context, call Call, redeemer common.Address, v voucher.Voucher, sig []byte) (Status, error) {
	_, err := r.ledger.Simulate(ctx, func(tx *ledger.Tx) error {
		_, err := r.redeem(tx, call, redeemer, v, sig)
		return err
	})
	return StatusOf(err), err
}

func (r *Redeemer) redeem(tx *ledger.Tx, call Call, redeemer common.Address, v voucher.Voucher, sig []byte) (*Result, error) {
	state := StateReceived
	advance := func(next State) {
		r.log.Debug("redeem step",
			zap.String("token_id", bigString(v.TokenID)),
			zap.Stringer("from", state),
			zap.Stringer("to", next),
		)
		state = next
	}

	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	if redeemer == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero redeemer address", ErrRejected)
	}
	value := new(big.Int)
	if call.Value != nil {
		value.Set(call.Value)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value", ErrRejected)
	}
	// The attached value moves to the contract before any check runs.
	if err := bank.Transfer(tx, call.From, r.address, value); err != nil {
		if errors.Is(err, bank.ErrInsufficientBalance) || errors.Is(err, bank.ErrRejectsValue) {
			return nil, fmt.Errorf("%w: attach value: %w", ErrRejected, err)
		}
		return nil, err
	}

	// 1–2. The digest is always recomputed from our own domain.
	digest := voucher.Digest(r.domain, v)
	signer, err := voucher.Recover(digest, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	advance(StateSignatureRecovered)

	// 3.
	ok, err := access.IsAuthorizedIssuer(tx, signer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorizedSigner, signer.Hex())
	}
	advance(StateAuthorizationChecked)

	// 4.
	if value.Cmp(v.MinPrice) < 0 {
		return nil, fmt.Errorf("%w: sent %s, minimum %s", ErrInsufficientPayment, value, v.MinPrice)
	}
	advance(StatePaymentChecked)

	// 5. The signer owns the asset first so provenance is on the ledger.
	if err := asset.Create(tx, v.TokenID, signer); err != nil {
		if errors.Is(err, asset.ErrTokenExists) {
			return nil, fmt.Errorf("%w: %w", ErrDuplicateIdentifier, err)
		}
		return nil, err
	}
	if err := asset.SetMetadataLocator(tx, v.TokenID, v.URI); err != nil {
		return nil, err
	}
	advance(StateAssetCreated)

	// 6.
	if err := asset.Transfer(tx, signer, redeemer, v.TokenID); err != nil {
		return nil, err
	}

	// 7.
	if err := bank.Transfer(tx, r.address, signer, value); err != nil {
		if errors.Is(err, bank.ErrRejectsValue) {
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		return nil, err
	}
	advance(StatePaymentForwarded)

	tx.Emit(EventRedeemed, map[string]string{
		"tokenId":  v.TokenID.String(),
		"signer":   signer.Hex(),
		"redeemer": redeemer.Hex(),
		"value":    value.String(),
	})
	advance(StateComplete)

	return &Result{TokenID: new(big.Int).Set(v.TokenID), Signer: signer}, nil
}

func bigString(n *big.Int) string {
	if n == nil {
		return "<nil>"
	}
	return n.String()
}
