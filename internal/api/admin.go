package api

import (
	"crypto/subtle"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/lazymint/internal/access"
	"github.com/0gfoundation/lazymint/internal/bank"
	"github.com/0gfoundation/lazymint/internal/ledger"
	"github.com/0gfoundation/lazymint/internal/listing"
	"github.com/0gfoundation/lazymint/internal/voucher"
)

// AdminAuth requires "Authorization: Bearer <key>".
func AdminAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			return
		}
		c.Next()
	}
}

type createVoucherRequest struct {
	TokenID  string `json:"tokenId" binding:"required"`
	MinPrice string `json:"minPrice"`
	URI      string `json:"uri"`
	Publish  bool   `json:"publish"`
}

func (h *Handler) handleCreateVoucher(c *gin.Context) {
	var body createVoucherRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id, ok := parseTokenID(c, body.TokenID)
	if !ok {
		return
	}
	minPrice, ok := parseAmount(body.MinPrice)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid minPrice"})
		return
	}

	ctx := c.Request.Context()
	sv, err := h.signer.CreateVoucher(ctx, id, body.URI, minPrice)
	if err != nil {
		if errors.Is(err, voucher.ErrMalformedVoucher) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error("create voucher", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "voucher signing failed"})
		return
	}
	if body.Publish {
		l := listing.Listing{Voucher: *sv, Issuer: h.signer.Address().Hex(), PublishedAt: time.Now().Unix()}
		if err := listing.Put(ctx, h.rdb, l); err != nil {
			h.internalError(c, "publish listing", err)
			return
		}
	}
	c.JSON(http.StatusCreated, sv)
}

type issuerRequest struct {
	Address string `json:"address" binding:"required"`
}

func (h *Handler) handleGrantIssuer(c *gin.Context) {
	var body issuerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	addr, ok := parseAddress(c, body.Address)
	if !ok {
		return
	}
	receipt, err := h.ledger.Execute(c.Request.Context(), func(tx *ledger.Tx) error {
		return access.Grant(tx, h.admin, access.IssuerRole, addr)
	})
	if err != nil {
		h.writeLedgerError(c, "grant issuer", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "issuer": true, "seq": receipt.Seq})
}

func (h *Handler) handleRevokeIssuer(c *gin.Context) {
	addr, ok := parseAddress(c, c.Param("addr"))
	if !ok {
		return
	}
	receipt, err := h.ledger.Execute(c.Request.Context(), func(tx *ledger.Tx) error {
		return access.Revoke(tx, h.admin, access.IssuerRole, addr)
	})
	if err != nil {
		h.writeLedgerError(c, "revoke issuer", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "issuer": false, "seq": receipt.Seq})
}

type creditRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func (h *Handler) handleCredit(c *gin.Context) {
	addr, ok := parseAddress(c, c.Param("addr"))
	if !ok {
		return
	}
	var body creditRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	amount, ok := parseAmount(body.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	var balance *big.Int
	_, err := h.ledger.Execute(c.Request.Context(), func(tx *ledger.Tx) error {
		if err := bank.Credit(tx, addr, amount); err != nil {
			return err
		}
		var err error
		balance, err = bank.BalanceOf(tx, addr)
		return err
	})
	if err != nil {
		h.writeLedgerError(c, "credit", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "balance": balance.String()})
}

func (h *Handler) handleInvalidateDomain(c *gin.Context) {
	h.signer.Invalidate()
	d, err := h.signer.Domain(c.Request.Context())
	if err != nil {
		h.log.Error("refetch domain", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "chain id fetch failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chainId": d.ChainID.String(), "verifyingContract": d.VerifyingContract.Hex()})
}

func (h *Handler) writeLedgerError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, access.ErrNotAdmin):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, access.ErrIssuerNotPayee), errors.Is(err, bank.ErrNegativeAmount):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		h.internalError(c, op, err)
	}
}
