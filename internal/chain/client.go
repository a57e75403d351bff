// Package chain resolves the id of the network the redemption contract lives on.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var ErrChainIDMismatch = errors.New("chain id mismatch")

// Client wraps an RPC connection and reports the node's chain id.
type Client struct {
	eth    *ethclient.Client
	rpcURL string
	log    *zap.Logger
}

func Dial(ctx context.Context, rpcURL string, log *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{eth: eth, rpcURL: rpcURL, log: log}, nil
}

// ChainID asks the node for its chain id (eth_chainId).
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth_chainId: %w", err)
	}
	c.log.Debug("chain id fetched", zap.String("rpc", c.rpcURL), zap.String("chain_id", id.String()))
	return id, nil
}

func (c *Client) Close() { c.eth.Close() }

// Static is a fixed chain id, used when no RPC endpoint is configured.
type Static struct {
	id *big.Int
}

func NewStatic(id int64) Static { return Static{id: big.NewInt(id)} }

func (s Static) ChainID(context.Context) (*big.Int, error) {
	if s.id == nil || s.id.Sign() <= 0 {
		return nil, fmt.Errorf("static chain id not configured")
	}
	return new(big.Int).Set(s.id), nil
}

// Provider is anything that can report a chain id.
type Provider interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// Verify checks that p reports the expected chain id. A zero expected id
// accepts whatever the provider reports and returns it.
func Verify(ctx context.Context, p Provider, expected int64) (*big.Int, error) {
	id, err := p.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if expected != 0 && id.Cmp(big.NewInt(expected)) != 0 {
		return nil, fmt.Errorf("%w: node reports %s, configured %d", ErrChainIDMismatch, id, expected)
	}
	return id, nil
}
