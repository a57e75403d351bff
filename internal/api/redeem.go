package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0gfoundation/lazymint/internal/auth"
	"github.com/0gfoundation/lazymint/internal/listing"
	"github.com/0gfoundation/lazymint/internal/redeem"
	"github.com/0gfoundation/lazymint/internal/settler"
	"github.com/0gfoundation/lazymint/internal/voucher"
)

// ActionRedeem is the action a wallet signs to redeem a voucher.
const ActionRedeem = "redeem"

// redeemPayload is the signed payload of a redemption. Redeemer defaults to
// the signing wallet.
type redeemPayload struct {
	Voucher  voucher.Signed `json:"voucher"`
	Value    string         `json:"value"`
	Redeemer string         `json:"redeemer,omitempty"`
}

type previewRequest struct {
	redeemPayload
	From string `json:"from"`
}

type redemption struct {
	call     redeem.Call
	redeemer common.Address
	voucher  voucher.Signed
}

// parse validates p for a call sent by from. On failure it writes a 400.
func (p *redeemPayload) parse(c *gin.Context, from common.Address) (*redemption, bool) {
	value, ok := parseAmount(p.Value)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid value"})
		return nil, false
	}
	if err := p.Voucher.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	to := from
	if p.Redeemer != "" {
		if to, ok = parseAddress(c, p.Redeemer); !ok {
			return nil, false
		}
	}
	return &redemption{
		call:     redeem.Call{From: from, Value: value},
		redeemer: to,
		voucher:  p.Voucher,
	}, true
}

// signedRedemption decodes the wallet-signed payload set by auth.Middleware.
func signedRedemption(c *gin.Context) (*redemption, bool) {
	wallet, ok := auth.Wallet(c)
	sr, ok2 := auth.Request(c)
	if !ok || !ok2 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return nil, false
	}
	var p redeemPayload
	if err := json.Unmarshal(sr.Payload, &p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return nil, false
	}
	red, ok := p.parse(c, wallet)
	if !ok {
		return nil, false
	}
	// A signature scoped to one token cannot be replayed against another.
	if sr.ResourceID != "" && sr.ResourceID != red.voucher.TokenID.String() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource_id does not match voucher"})
		return nil, false
	}
	return red, true
}

func (h *Handler) handleRedeem(c *gin.Context) {
	red, ok := signedRedemption(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	res, err := h.redeemer.Redeem(ctx, red.call, red.redeemer, red.voucher.Voucher, red.voucher.Signature)

	status := redeem.StatusOf(err)
	if status == redeem.StatusSuccess || status == redeem.StatusDuplicateIdentifier {
		if derr := listing.Delete(ctx, h.rdb, red.voucher.TokenID); derr != nil {
			h.log.Warn("drop listing", zap.String("token_id", red.voucher.TokenID.String()), zap.Error(derr))
		}
	}
	if err != nil {
		h.writeRedeemError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status.String(),
		"tokenId":  res.TokenID.String(),
		"signer":   res.Signer.Hex(),
		"redeemer": red.redeemer.Hex(),
		"seq":      res.Receipt.Seq,
		"events":   res.Receipt.Events,
	})
}

func (h *Handler) handleRedeemAsync(c *gin.Context) {
	red, ok := signedRedemption(c)
	if !ok {
		return
	}
	req := settler.Request{
		ID:          uuid.NewString(),
		From:        red.call.From,
		Redeemer:    red.redeemer,
		Value:       red.call.Value,
		Voucher:     red.voucher,
		SubmittedAt: time.Now().Unix(),
	}
	if err := settler.Enqueue(c.Request.Context(), h.rdb, req); err != nil {
		h.internalError(c, "enqueue redemption", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": req.ID, "status": "PENDING"})
}

// handlePreview dry-runs a redemption. Nothing is committed, so no wallet
// signature is required.
func (h *Handler) handlePreview(c *gin.Context) {
	var body previewRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	from, ok := parseAddress(c, body.From)
	if !ok {
		return
	}
	red, ok := body.parse(c, from)
	if !ok {
		return
	}
	status, err := h.redeemer.Preview(c.Request.Context(), red.call, red.redeemer, red.voucher.Voucher, red.voucher.Signature)
	resp := gin.H{"status": status.String(), "retryable": status.Retryable()}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) writeRedeemError(c *gin.Context, err error) {
	status := redeem.StatusOf(err)
	code := http.StatusUnprocessableEntity
	switch status {
	case redeem.StatusInvalidSignature, redeem.StatusUnauthorizedSigner:
		code = http.StatusForbidden
	case redeem.StatusInsufficientPayment:
		code = http.StatusPaymentRequired
	case redeem.StatusDuplicateIdentifier:
		code = http.StatusConflict
	case redeem.StatusRejected:
		if !errors.Is(err, redeem.ErrRejected) {
			h.internalError(c, "redeem", err)
			return
		}
		code = http.StatusBadRequest
	}
	c.JSON(code, gin.H{
		"status":    status.String(),
		"error":     err.Error(),
		"retryable": status.Retryable(),
	})
}
