// Package api exposes the voucher issuer, the redemption contract and its
// ledger over HTTP.
package api

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/lazymint/internal/access"
	"github.com/0gfoundation/lazymint/internal/asset"
	"github.com/0gfoundation/lazymint/internal/auth"
	"github.com/0gfoundation/lazymint/internal/bank"
	"github.com/0gfoundation/lazymint/internal/issuer"
	"github.com/0gfoundation/lazymint/internal/ledger"
	"github.com/0gfoundation/lazymint/internal/listing"
	"github.com/0gfoundation/lazymint/internal/redeem"
	"github.com/0gfoundation/lazymint/internal/settler"
)

// Handler wires up all API routes onto a Gin engine.
type Handler struct {
	ledger   *ledger.Ledger
	redeemer *redeem.Redeemer
	signer   *issuer.Signer
	admin    common.Address
	rdb      *redis.Client
	log      *zap.Logger
}

// NewHandler builds the API. admin is the account that administrative
// ledger changes are made on behalf of.
func NewHandler(l *ledger.Ledger, r *redeem.Redeemer, s *issuer.Signer, admin common.Address, rdb *redis.Client, log *zap.Logger) *Handler {
	return &Handler{ledger: l, redeemer: r, signer: s, admin: admin, rdb: rdb, log: log}
}

// Register mounts public routes on api and operator routes on admin.
// Admin authentication should already be applied to the admin group.
func (h *Handler) Register(api, admin *gin.RouterGroup) {
	// ── Read-only views ───────────────────────────────────────────────────
	api.GET("/contract", h.handleContract)
	api.GET("/assets/:id", h.handleAsset)
	api.GET("/accounts/:addr", h.handleAccount)
	api.GET("/listings", h.handleListings)
	api.GET("/listings/:id", h.handleListing)

	// ── Redemption ────────────────────────────────────────────────────────
	api.POST("/redeem/preview", h.handlePreview)
	api.POST("/redeem", auth.Middleware(h.rdb, ActionRedeem), h.handleRedeem)
	api.POST("/redeem/async", auth.Middleware(h.rdb, ActionRedeem), h.handleRedeemAsync)
	api.GET("/redeem/result/:id", h.handleResult)

	// ── Operator ──────────────────────────────────────────────────────────
	admin.POST("/vouchers", h.handleCreateVoucher)
	admin.POST("/issuers", h.handleGrantIssuer)
	admin.DELETE("/issuers/:addr", h.handleRevokeIssuer)
	admin.POST("/accounts/:addr/credit", h.handleCredit)
	admin.POST("/domain/invalidate", h.handleInvalidateDomain)
}

// ── Views ───────────────────────────────────────────────────────────────────

func (h *Handler) handleContract(c *gin.Context) {
	d := h.redeemer.Domain()
	c.JSON(http.StatusOK, gin.H{
		"name":              d.Name,
		"version":           d.Version,
		"chainId":           d.ChainID.String(),
		"verifyingContract": d.VerifyingContract.Hex(),
		"issuer":            h.signer.Address().Hex(),
	})
}

func (h *Handler) handleAsset(c *gin.Context) {
	id, ok := parseTokenID(c, c.Param("id"))
	if !ok {
		return
	}
	var (
		exists bool
		owner  common.Address
		uri    string
	)
	err := h.ledger.View(c.Request.Context(), func(tx *ledger.Tx) error {
		var err error
		if exists, err = asset.Exists(tx, id); err != nil || !exists {
			return err
		}
		if owner, err = asset.OwnerOf(tx, id); err != nil {
			return err
		}
		uri, err = asset.MetadataLocator(tx, id)
		return err
	})
	if err != nil {
		h.internalError(c, "read asset", err)
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokenId": id.String(), "owner": owner.Hex(), "uri": uri})
}

func (h *Handler) handleAccount(c *gin.Context) {
	addr, ok := parseAddress(c, c.Param("addr"))
	if !ok {
		return
	}
	var (
		balance  *big.Int
		assets   uint64
		payable  bool
		isIssuer bool
	)
	err := h.ledger.View(c.Request.Context(), func(tx *ledger.Tx) error {
		var err error
		if balance, err = bank.BalanceOf(tx, addr); err != nil {
			return err
		}
		if assets, err = asset.BalanceOf(tx, addr); err != nil {
			return err
		}
		if payable, err = bank.AcceptsValue(tx, addr); err != nil {
			return err
		}
		isIssuer, err = access.IsAuthorizedIssuer(tx, addr)
		return err
	})
	if err != nil {
		h.internalError(c, "read account", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":      addr.Hex(),
		"balance":      balance.String(),
		"assets":       assets,
		"acceptsValue": payable,
		"issuer":       isIssuer,
	})
}

func (h *Handler) handleListings(c *gin.Context) {
	all, err := listing.All(c.Request.Context(), h.rdb)
	if err != nil {
		h.internalError(c, "list listings", err)
		return
	}
	if all == nil {
		all = []listing.Listing{}
	}
	c.JSON(http.StatusOK, all)
}

func (h *Handler) handleListing(c *gin.Context) {
	id, ok := parseTokenID(c, c.Param("id"))
	if !ok {
		return
	}
	l, err := listing.Get(c.Request.Context(), h.rdb, id)
	if err != nil {
		h.internalError(c, "get listing", err)
		return
	}
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *Handler) handleResult(c *gin.Context) {
	out, err := settler.GetOutcome(c.Request.Context(), h.rdb, c.Param("id"))
	if err != nil {
		h.internalError(c, "get outcome", err)
		return
	}
	if out == nil {
		c.JSON(http.StatusAccepted, gin.H{"id": c.Param("id"), "status": "PENDING"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.log.Error(op, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func parseTokenID(c *gin.Context, raw string) (*big.Int, bool) {
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token id"})
		return nil, false
	}
	return id, true
}

func parseAddress(c *gin.Context, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// parseAmount parses a non-negative decimal amount; empty means zero.
func parseAmount(raw string) (*big.Int, bool) {
	if raw == "" {
		return new(big.Int), true
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}
