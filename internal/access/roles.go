// Package access is the role table consulted by the redeemer.
package access

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/lazymint/internal/bank"
	"github.com/0gfoundation/lazymint/internal/ledger"
)

const (
	roleKeyPrefix = "access:role:"

	EventRoleGranted = "RoleGranted"
	EventRoleRevoked = "RoleRevoked"
)

var (
	// AdminRole may grant and revoke every role.
	AdminRole = common.Hash{}
	// IssuerRole is held by accounts whose vouchers can be redeemed.
	IssuerRole = crypto.Keccak256Hash([]byte("MINTER_ROLE"))
)

var (
	ErrNotAdmin       = errors.New("access: caller is not an admin")
	ErrIssuerNotPayee = errors.New("access: issuer must accept value")
)

func roleKey(role common.Hash, a common.Address) string {
	return roleKeyPrefix + role.Hex() + ":" + a.Hex()
}

// HasRole reports whether account holds role.
func HasRole(tx *ledger.Tx, role common.Hash, account common.Address) (bool, error) {
	_, ok, err := tx.Get(roleKey(role, account))
	return ok, err
}

// IsAuthorizedIssuer is the authorization check used at redemption.
func IsAuthorizedIssuer(tx *ledger.Tx, account common.Address) (bool, error) {
	return HasRole(tx, IssuerRole, account)
}

// Bootstrap grants AdminRole to account without a caller check. Only for
// ledger genesis; returns false if an admin already existed for account.
func Bootstrap(tx *ledger.Tx, account common.Address) (bool, error) {
	has, err := HasRole(tx, AdminRole, account)
	if err != nil || has {
		return false, err
	}
	return true, setRole(tx, AdminRole, account, account)
}

// Grant gives role to account. The caller must hold AdminRole.
// Issuers are required to accept value, because every redemption
// forwards payment to the voucher's signer.
func Grant(tx *ledger.Tx, caller common.Address, role common.Hash, account common.Address) error {
	if err := requireAdmin(tx, caller); err != nil {
		return err
	}
	if role == IssuerRole {
		ok, err := bank.AcceptsValue(tx, account)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrIssuerNotPayee, account.Hex())
		}
	}
	has, err := HasRole(tx, role, account)
	if err != nil || has {
		return err
	}
	return setRole(tx, role, account, caller)
}

// Revoke removes role from account. The caller must hold AdminRole.
func Revoke(tx *ledger.Tx, caller common.Address, role common.Hash, account common.Address) error {
	if err := requireAdmin(tx, caller); err != nil {
		return err
	}
	has, err := HasRole(tx, role, account)
	if err != nil || !has {
		return err
	}
	if err := tx.Delete(roleKey(role, account)); err != nil {
		return err
	}
	tx.Emit(EventRoleRevoked, map[string]string{
		"role":    role.Hex(),
		"account": account.Hex(),
		"sender":  caller.Hex(),
	})
	return nil
}

func requireAdmin(tx *ledger.Tx, caller common.Address) error {
	ok, err := HasRole(tx, AdminRole, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAdmin, caller.Hex())
	}
	return nil
}

func setRole(tx *ledger.Tx, role common.Hash, account, sender common.Address) error {
	if err := tx.Set(roleKey(role, account), "1"); err != nil {
		return err
	}
	tx.Emit(EventRoleGranted, map[string]string{
		"role":    role.Hex(),
		"account": account.Hex(),
		"sender":  sender.Hex(),
	})
	return nil
}
