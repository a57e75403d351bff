// Package asset is the non-fungible asset bookkeeping module: ownership,
// per-owner counts and metadata locators, all stored in the ledger.
package asset

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/lazymint/internal/ledger"
)

const (
	ownerKeyPrefix = "asset:owner:"
	uriKeyPrefix   = "asset:uri:"
	countKeyPrefix = "asset:count:"

	EventTransfer = "Transfer"
)

var (
	ErrTokenExists   = errors.New("asset: token already exists")
	ErrTokenNotFound = errors.New("asset: token does not exist")
	ErrNotOwner      = errors.New("asset: transfer from incorrect owner")
	ErrZeroAddress   = errors.New("asset: zero address")
)

func ownerKey(id *big.Int) string { return ownerKeyPrefix + id.String() }
func uriKey(id *big.Int) string   { return uriKeyPrefix + id.String() }
func countKey(a common.Address) string {
	return countKeyPrefix + a.Hex()
}

// Exists reports whether id has been created.
func Exists(tx *ledger.Tx, id *big.Int) (bool, error) {
	_, ok, err := tx.Get(ownerKey(id))
	return ok, err
}

// OwnerOf returns the current owner of id.
func OwnerOf(tx *ledger.Tx, id *big.Int) (common.Address, error) {
	raw, ok, err := tx.Get(ownerKey(id))
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrTokenNotFound, id)
	}
	return common.HexToAddress(raw), nil
}

// BalanceOf returns how many assets owner holds.
func BalanceOf(tx *ledger.Tx, owner common.Address) (uint64, error) {
	raw, ok, err := tx.Get(countKey(owner))
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("asset: corrupt count for %s: %w", owner.Hex(), err)
	}
	return n, nil
}

// MetadataLocator returns the uri set for id.
func MetadataLocator(tx *ledger.Tx, id *big.Int) (string, error) {
	if ok, err := Exists(tx, id); err != nil {
		return "", err
	} else if !ok {
		return "", fmt.Errorf("%w: %s", ErrTokenNotFound, id)
	}
	uri, _, err := tx.Get(uriKey(id))
	return uri, err
}

// Create mints id to owner. It fails if id already exists.
func Create(tx *ledger.Tx, id *big.Int, owner common.Address) error {
	if owner == (common.Address{}) {
		return ErrZeroAddress
	}
	exists, err := Exists(tx, id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrTokenExists, id)
	}
	if err := tx.Set(ownerKey(id), owner.Hex()); err != nil {
		return err
	}
	if err := addCount(tx, owner, 1); err != nil {
		return err
	}
	emitTransfer(tx, common.Address{}, owner, id)
	return nil
}

// SetMetadataLocator sets the uri of an existing asset.
func SetMetadataLocator(tx *ledger.Tx, id *big.Int, uri string) error {
	exists, err := Exists(tx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrTokenNotFound, id)
	}
	return tx.Set(uriKey(id), uri)
}

// Transfer moves id from `from` to `to`; from must be the current owner.
func Transfer(tx *ledger.Tx, from, to common.Address, id *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	owner, err := OwnerOf(tx, id)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("%w: %s owned by %s, not %s", ErrNotOwner, id, owner.Hex(), from.Hex())
	}
	if err := tx.Set(ownerKey(id), to.Hex()); err != nil {
		return err
	}
	if err := addCount(tx, from, -1); err != nil {
		return err
	}
	if err := addCount(tx, to, 1); err != nil {
		return err
	}
	emitTransfer(tx, from, to, id)
	return nil
}

func addCount(tx *ledger.Tx, owner common.Address, delta int64) error {
	n, err := BalanceOf(tx, owner)
	if err != nil {
		return err
	}
	next := int64(n) + delta
	if next < 0 {
		return fmt.Errorf("asset: negative count for %s", owner.Hex())
	}
	if next == 0 {
		return tx.Delete(countKey(owner))
	}
	return tx.Set(countKey(owner), strconv.FormatInt(next, 10))
}

func emitTransfer(tx *ledger.Tx, from, to common.Address, id *big.Int) {
	tx.Emit(EventTransfer, map[string]string{
		"from":    from.Hex(),
		"to":      to.Hex(),
		"tokenId": id.String(),
	})
}
