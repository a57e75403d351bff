package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0gfoundation/lazymint/internal/access"
	"github.com/0gfoundation/lazymint/internal/config"
	"github.com/0gfoundation/lazymint/internal/ledger"
)

var (
	admin   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	issuerA = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	issuerB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func hasIssuer(t *testing.T, l *ledger.Ledger, a common.Address) bool {
	t.Helper()
	var ok bool
	require.NoError(t, l.View(context.Background(), func(tx *ledger.Tx) error {
		var err error
		ok, err = access.IsAuthorizedIssuer(tx, a)
		return err
	}))
	return ok
}

func TestGenesis_GrantsIssuers(t *testing.T) {
	l := ledger.New(ledger.NewMemoryBackend(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, genesis(ctx, l, admin, []common.Address{issuerA, issuerB}, zap.NewNop()))
	require.True(t, hasIssuer(t, l, issuerA))
	require.True(t, hasIssuer(t, l, issuerB))
	require.False(t, hasIssuer(t, l, admin))

	// Restarting with the same config is a no-op.
	require.NoError(t, genesis(ctx, l, admin, []common.Address{issuerA, issuerB}, zap.NewNop()))
}

func TestGenesis_ChangedAdminOnExistingLedgerRefused(t *testing.T) {
	l := ledger.New(ledger.NewMemoryBackend(), zap.NewNop())
	ctx := context.Background()
	require.NoError(t, genesis(ctx, l, admin, nil, zap.NewNop()))

	other := common.HexToAddress("0x00000000000000000000000000000000000000a2")
	err := genesis(ctx, l, other, []common.Address{issuerA}, zap.NewNop())
	require.ErrorIs(t, err, access.ErrNotAdmin)
	require.False(t, hasIssuer(t, l, issuerA))

	var otherIsAdmin bool
	require.NoError(t, l.View(ctx, func(tx *ledger.Tx) error {
		var err error
		otherIsAdmin, err = access.HasRole(tx, access.AdminRole, other)
		return err
	}))
	require.False(t, otherIsAdmin, "a changed admin setting must not add an admin")
}

func TestOpenLedger_Backends(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	for _, backend := range []string{config.BackendMemory, config.BackendRedis, config.BackendBadger} {
		t.Run(backend, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Ledger.Backend = backend
			cfg.Ledger.DataDir = t.TempDir()

			l, err := openLedger(cfg, rdb, zap.NewNop())
			require.NoError(t, err)
			defer l.Close() //nolint:errcheck

			require.NoError(t, genesis(context.Background(), l, admin, []common.Address{issuerA}, zap.NewNop()))
			require.True(t, hasIssuer(t, l, issuerA))
		})
	}
}

func TestOpenLedger_UnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Ledger.Backend = "sqlite"
	_, err := openLedger(cfg, nil, zap.NewNop())
	require.Error(t, err)
}
