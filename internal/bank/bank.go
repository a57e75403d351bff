// Package bank holds native value balances inside the ledger.
package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/lazymint/internal/ledger"
)

const (
	balanceKeyPrefix = "bank:balance:"
	rejectKeyPrefix  = "bank:rejects:"

	EventValueTransfer = "ValueTransfer"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrRejectsValue        = errors.New("bank: recipient does not accept value")
	ErrNegativeAmount      = errors.New("bank: negative amount")
)

func balanceKey(a common.Address) string { return balanceKeyPrefix + a.Hex() }
func rejectKey(a common.Address) string  { return rejectKeyPrefix + a.Hex() }

// BalanceOf returns the native balance of addr.
func BalanceOf(tx *ledger.Tx, addr common.Address) (*big.Int, error) {
	raw, ok, err := tx.Get(balanceKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("bank: corrupt balance %q for %s", raw, addr.Hex())
	}
	return n, nil
}

func setBalance(tx *ledger.Tx, addr common.Address, n *big.Int) error {
	if n.Sign() == 0 {
		return tx.Delete(balanceKey(addr))
	}
	return tx.Set(balanceKey(addr), n.String())
}

// Credit creates value out of thin air (genesis allocation / dev faucet).
func Credit(tx *ledger.Tx, addr common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	bal, err := BalanceOf(tx, addr)
	if err != nil {
		return err
	}
	return setBalance(tx, addr, bal.Add(bal, amount))
}

// AcceptsValue reports whether addr can be the recipient of a transfer.
func AcceptsValue(tx *ledger.Tx, addr common.Address) (bool, error) {
	_, rejects, err := tx.Get(rejectKey(addr))
	return !rejects, err
}

// SetRejectsValue marks addr as unable (or able again) to receive value,
// like a contract account without a payable fallback.
func SetRejectsValue(tx *ledger.Tx, addr common.Address, rejects bool) error {
	if rejects {
		return tx.Set(rejectKey(addr), "1")
	}
	return tx.Delete(rejectKey(addr))
}

// Transfer moves amount from `from` to `to`.
// A zero amount still requires the recipient to accept value.
func Transfer(tx *ledger.Tx, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	ok, err := AcceptsValue(tx, to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRejectsValue, to.Hex())
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}

	fromBal, err := BalanceOf(tx, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	toBal, err := BalanceOf(tx, to)
	if err != nil {
		return err
	}
	if err := setBalance(tx, from, fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := setBalance(tx, to, toBal.Add(toBal, amount)); err != nil {
		return err
	}
	tx.Emit(EventValueTransfer, map[string]string{
		"from":  from.Hex(),
		"to":    to.Hex(),
		"value": amount.String(),
	})
	return nil
}
