// Package settler drains the asynchronous redemption queue.
package settler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/lazymint/internal/config"
	"github.com/0gfoundation/lazymint/internal/redeem"
)

// Enqueue appends req to the redemption queue.
func Enqueue(ctx context.Context, rdb *redis.Client, req Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return rdb.RPush(ctx, QueueKey, string(raw)).Err()
}

// GetOutcome returns nil, nil while the request is pending or after its result expired.
func GetOutcome(ctx context.Context, rdb *redis.Client, id string) (*Outcome, error) {
	raw, err := rdb.Get(ctx, resultKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var o Outcome
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, fmt.Errorf("unmarshal outcome: %w", err)
	}
	return &o, nil
}

// Run is the main settler loop: BLPOP → redeem → handle status.
func Run(ctx context.Context, cfg *config.Config, rdb *redis.Client, r Redeemer, notify chan<- Outcome, log *zap.Logger) {
	blpopTimeout := time.Duration(cfg.Worker.QueueTimeoutSec) * time.Second
	resultTTL := time.Duration(cfg.Worker.ResultTTLSec) * time.Second

	log.Info("settler started", zap.String("queue", QueueKey))

	for {
		if ctx.Err() != nil {
			log.Info("settler stopped")
			return
		}

		// BLPOP blocks until an item appears or timeout
		results, err := rdb.BLPop(ctx, blpopTimeout, QueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("settler: BLPOP error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		// results[0] = key, results[1] = value
		raw := results[1]
		var req Request
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			log.Error("settler: unmarshal request", zap.String("raw", raw), zap.Error(err))
			deadLetter(ctx, rdb, raw, log)
			continue
		}

		call := redeem.Call{From: req.From, Value: req.Value}
		res, err := r.Redeem(ctx, call, req.Redeemer, req.Voucher.Voucher, req.Voucher.Signature)
		if err != nil && !isProtocolFailure(err) {
			// Storage or context failure: nothing was committed, try again later.
			if ctx.Err() != nil {
				if err := rdb.LPush(context.Background(), QueueKey, raw).Err(); err != nil {
					log.Error("settler: re-queue on shutdown failed, request lost",
						zap.String("raw", raw),
						zap.Error(err),
					)
				}
				return
			}
			req.Attempts++
			if req.Attempts < maxAttempts {
				qerr := requeue(ctx, rdb, req)
				if qerr == nil {
					log.Warn("settler: redeem failed, re-queued",
						zap.String("id", req.ID),
						zap.Int("attempts", req.Attempts),
						zap.Error(err),
					)
					time.Sleep(time.Second)
					continue
				}
				log.Error("settler: re-queue failed", zap.String("id", req.ID), zap.Error(qerr))
			}
			if deadLetter(ctx, rdb, raw, log) {
				log.Error("settler: redeem failed, dead-lettered",
					zap.String("id", req.ID),
					zap.Int("attempts", req.Attempts),
					zap.Error(err),
				)
			}
		}

		HandleOutcome(ctx, rdb, notify, req, res, err, resultTTL, log)
	}
}

// requeue puts req back at the head of the queue.
func requeue(ctx context.Context, rdb *redis.Client, req Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return rdb.LPush(ctx, QueueKey, string(raw)).Err()
}

// isProtocolFailure reports whether err is a deterministic redemption failure
// that would recur on every retry.
func isProtocolFailure(err error) bool {
	return redeem.StatusOf(err) != redeem.StatusRejected || errors.Is(err, redeem.ErrRejected)
}
