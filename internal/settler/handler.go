package settler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/lazymint/internal/listing"
	"github.com/0gfoundation/lazymint/internal/redeem"
)

// HandleOutcome records the result of one redemption and routes it by status.
func HandleOutcome(
	ctx context.Context,
	rdb *redis.Client,
	notify chan<- Outcome,
	req Request,
	res *redeem.Result,
	redeemErr error,
	resultTTL time.Duration,
	log *zap.Logger,
) {
	status := redeem.StatusOf(redeemErr)
	out := Outcome{
		ID:          req.ID,
		Status:      status.String(),
		Retryable:   status.Retryable(),
		CompletedAt: time.Now().Unix(),
	}
	if req.Voucher.TokenID != nil {
		out.TokenID = req.Voucher.TokenID.String()
	}
	if redeemErr != nil {
		out.Error = redeemErr.Error()
	}
	if res != nil {
		out.Signer = res.Signer.Hex()
		if res.Receipt != nil {
			out.Seq = res.Receipt.Seq
		}
	}

	switch status {
	case redeem.StatusSuccess:
		log.Info("redemption settled",
			zap.String("id", req.ID),
			zap.String("token_id", out.TokenID),
			zap.String("redeemer", req.Redeemer.Hex()),
		)
		dropListing(ctx, rdb, req, log)

	case redeem.StatusDuplicateIdentifier:
		// The id is taken for good; the listing can never be redeemed.
		log.Warn("redemption discarded: token already exists",
			zap.String("id", req.ID),
			zap.String("token_id", out.TokenID),
		)
		dropListing(ctx, rdb, req, log)

	case redeem.StatusInvalidSignature, redeem.StatusUnauthorizedSigner, redeem.StatusTransferFailed:
		if raw, err := json.Marshal(req); err != nil {
			log.Error("settler: marshal dead letter", zap.String("id", req.ID), zap.Error(err))
		} else {
			deadLetter(ctx, rdb, string(raw), log)
		}
		log.Error("redemption rejected: issuer or listing issue",
			zap.String("status", out.Status),
			zap.String("id", req.ID),
			zap.String("token_id", out.TokenID),
			zap.Error(redeemErr),
		)

	case redeem.StatusInsufficientPayment, redeem.StatusRejected:
		log.Warn("redemption refused",
			zap.String("status", out.Status),
			zap.String("id", req.ID),
			zap.Error(redeemErr),
		)
	}

	persistOutcome(ctx, rdb, notify, out, resultTTL, log)
}

func dropListing(ctx context.Context, rdb *redis.Client, req Request, log *zap.Logger) {
	if req.Voucher.TokenID == nil {
		return
	}
	if err := listing.Delete(ctx, rdb, req.Voucher.TokenID); err != nil {
		log.Warn("drop listing", zap.String("token_id", req.Voucher.TokenID.String()), zap.Error(err))
	}
}

// deadLetter appends raw to the DLQ. A failed write loses the request, so it
// is logged with the full payload for manual recovery.
func deadLetter(ctx context.Context, rdb *redis.Client, raw string, log *zap.Logger) bool {
	if err := rdb.RPush(ctx, DLQKey, raw).Err(); err != nil {
		log.Error("settler: dead-letter write failed, request lost",
			zap.String("raw", raw),
			zap.Error(err),
		)
		return false
	}
	return true
}

func persistOutcome(ctx context.Context, rdb *redis.Client, notify chan<- Outcome, out Outcome, ttl time.Duration, log *zap.Logger) {
	// 1. Persist first (crash-safe)
	if out.ID != "" {
		raw, err := json.Marshal(out)
		if err == nil {
			err = rdb.Set(ctx, resultKey(out.ID), string(raw), ttl).Err()
		}
		if err != nil {
			log.Error("settler: persist outcome", zap.String("id", out.ID), zap.Error(err))
		}
	}

	// 2. Notify listeners via channel
	if notify == nil {
		return
	}
	select {
	case notify <- out:
	default:
		log.Warn("notify channel full, outcome dropped; still readable from Redis",
			zap.String("id", out.ID),
		)
	}
}
