package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/0gfoundation/lazymint/internal/access"
	"github.com/0gfoundation/lazymint/internal/api"
	"github.com/0gfoundation/lazymint/internal/chain"
	"github.com/0gfoundation/lazymint/internal/config"
	"github.com/0gfoundation/lazymint/internal/issuer"
	"github.com/0gfoundation/lazymint/internal/keys"
	"github.com/0gfoundation/lazymint/internal/ledger"
	"github.com/0gfoundation/lazymint/internal/redeem"
	"github.com/0gfoundation/lazymint/internal/settler"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Issuer key ────────────────────────────────────────────────────────────
	privKey, err := keys.Load(keys.Source{
		Hex:              cfg.Chain.IssuerPrivateKey,
		KeystorePath:     cfg.Chain.IssuerKeystore,
		KeystorePassword: cfg.Chain.IssuerKeystorePassword,
	})
	if err != nil {
		log.Fatal("issuer key load failed", zap.Error(err))
	}
	issuerAddr := crypto.PubkeyToAddress(privKey.PublicKey)

	// ── Network id ────────────────────────────────────────────────────────────
	var network chain.Provider = chain.NewStatic(cfg.Chain.ChainID)
	if cfg.Chain.RPCURL != "" {
		client, err := chain.Dial(ctx, cfg.Chain.RPCURL, log)
		if err != nil {
			log.Fatal("chain client init failed", zap.Error(err))
		}
		defer client.Close()
		network = client
	}
	chainID, err := chain.Verify(ctx, network, cfg.Chain.ChainID)
	if err != nil {
		log.Fatal("chain id check failed", zap.Error(err))
	}

	// ── Ledger + contract ─────────────────────────────────────────────────────
	l, err := openLedger(cfg, rdb, log)
	if err != nil {
		log.Fatal("ledger open failed", zap.Error(err))
	}
	defer l.Close() //nolint:errcheck

	admin := issuerAddr
	if cfg.Ledger.Admin != "" {
		admin = common.HexToAddress(cfg.Ledger.Admin)
	}
	issuers := []common.Address{issuerAddr}
	for _, a := range cfg.Ledger.Issuers {
		issuers = append(issuers, common.HexToAddress(a))
	}
	if err := genesis(ctx, l, admin, issuers, log); err != nil {
		log.Fatal("ledger genesis failed", zap.Error(err))
	}

	contract := common.HexToAddress(cfg.Chain.ContractAddress)
	redeemer := redeem.New(l, chainID, contract, log)
	signer := issuer.NewSigner(contract, issuer.NewLocalKey(privKey), network, log)

	// ── Goroutines ────────────────────────────────────────────────────────────
	go settler.Run(ctx, cfg, rdb, redeemer, nil, log)

	// ── gRPC health ───────────────────────────────────────────────────────────
	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Health.Port))
	if err != nil {
		log.Fatal("health listener failed", zap.Error(err))
	}
	go func() {
		log.Info("gRPC health server starting", zap.Int("port", cfg.Health.Port))
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error("gRPC health server error", zap.Error(err))
		}
	}()

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	api.NewHandler(l, redeemer, signer, admin, rdb, log).Register(
		r.Group("/api"),
		r.Group("/admin", api.AdminAuth(cfg.Server.AdminKey)),
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("contract", contract.Hex()),
			zap.String("chain_id", chainID.String()),
			zap.String("issuer", issuerAddr.Hex()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	healthSrv.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	log.Info("shutdown complete")
}

// openLedger opens the configured state backend.
func openLedger(cfg *config.Config, rdb *redis.Client, log *zap.Logger) (*ledger.Ledger, error) {
	var (
		backend ledger.Backend
		err     error
	)
	switch cfg.Ledger.Backend {
	case config.BackendMemory:
		backend = ledger.NewMemoryBackend()
	case config.BackendRedis:
		backend = ledger.NewRedisBackend(rdb, log)
	case config.BackendBadger:
		backend, err = ledger.NewBadgerBackend(cfg.Ledger.DataDir, log)
	default:
		err = fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
	if err != nil {
		return nil, err
	}
	log.Info("ledger opened", zap.String("backend", cfg.Ledger.Backend))
	return ledger.New(backend, log), nil
}

// genesis installs admin on an empty ledger and makes sure every configured
// issuer holds the issuer role. On an existing ledger admin must already hold
// the admin role; a changed LEDGER_ADMIN is refused rather than added.
func genesis(ctx context.Context, l *ledger.Ledger, admin common.Address, issuers []common.Address, log *zap.Logger) error {
	seq, err := l.Seq(ctx)
	if err != nil {
		return fmt.Errorf("read ledger sequence: %w", err)
	}
	fresh := seq == 0

	_, err = l.Execute(ctx, func(tx *ledger.Tx) error {
		if fresh {
			if _, err := access.Bootstrap(tx, admin); err != nil {
				return err
			}
		} else {
			ok, err := access.HasRole(tx, access.AdminRole, admin)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s on existing ledger (seq %d)", access.ErrNotAdmin, admin.Hex(), seq)
			}
		}
		for _, a := range issuers {
			if err := access.Grant(tx, admin, access.IssuerRole, a); err != nil {
				return fmt.Errorf("grant issuer %s: %w", a.Hex(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if fresh {
		log.Info("ledger bootstrapped", zap.String("admin", admin.Hex()))
	}
	log.Info("issuers granted", zap.Int("count", len(issuers)))
	return nil
}
