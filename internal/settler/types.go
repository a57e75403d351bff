package settler

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/lazymint/internal/redeem"
	"github.com/0gfoundation/lazymint/internal/voucher"
)

const (
	QueueKey        = "redeem:queue"
	DLQKey          = "redeem:dlq"
	resultKeyPrefix = "redeem:result:"

	// maxAttempts bounds re-queues after storage errors before a request is dead-lettered.
	maxAttempts = 3
)

func resultKey(id string) string { return resultKeyPrefix + id }

// Request is a queued redemption. From pays Value; Redeemer receives the asset.
type Request struct {
	ID          string         `json:"id"`
	From        common.Address `json:"from"`
	Redeemer    common.Address `json:"redeemer"`
	Value       *big.Int       `json:"value"`
	Voucher     voucher.Signed `json:"voucher"`
	SubmittedAt int64          `json:"submittedAt"`
	Attempts    int            `json:"attempts,omitempty"`
}

// Outcome is the recorded result of a processed Request.
type Outcome struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	TokenID     string `json:"tokenId"`
	Signer      string `json:"signer,omitempty"`
	Seq         uint64 `json:"seq,omitempty"`
	Error       string `json:"error,omitempty"`
	Retryable   bool   `json:"retryable"`
	CompletedAt int64  `json:"completedAt"`
}

// Redeemer is the contract entry point the consumer drives.
type Redeemer interface {
	Redeem(ctx context.Context, call redeem.Call, redeemer common.Address, v voucher.Voucher, sig []byte) (*redeem.Result, error)
}
