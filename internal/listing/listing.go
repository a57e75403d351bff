// Package listing stores published signed vouchers so buyers can find them.
package listing

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/lazymint/internal/voucher"
)

const listingKeyPrefix = "voucher:listing:"

// Listing is a signed voucher offered for redemption.
type Listing struct {
	Voucher     voucher.Signed `json:"voucher"`
	Issuer      string         `json:"issuer"`
	PublishedAt int64          `json:"publishedAt"`
}

func listingKey(tokenID *big.Int) string {
	return listingKeyPrefix + tokenID.String()
}

func Put(ctx context.Context, rdb *redis.Client, l Listing) error {
	sv := l.Voucher
	if err := sv.Validate(); err != nil {
		return err
	}
	return rdb.HSet(ctx, listingKey(sv.TokenID),
		"token_id", sv.TokenID.String(),
		"min_price", sv.MinPrice.String(),
		"uri", sv.URI,
		"signature", hexutil.Encode(sv.Signature),
		"issuer", l.Issuer,
		"published_at", l.PublishedAt,
	).Err()
}

// Get returns nil, nil when no listing exists for tokenID.
func Get(ctx context.Context, rdb *redis.Client, tokenID *big.Int) (*Listing, error) {
	vals, err := rdb.HGetAll(ctx, listingKey(tokenID)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return listingFromMap(vals)
}

func Delete(ctx context.Context, rdb *redis.Client, tokenID *big.Int) error {
	return rdb.Del(ctx, listingKey(tokenID)).Err()
}

// All returns every listing ordered by token id.
func All(ctx context.Context, rdb *redis.Client) ([]Listing, error) {
	var listings []Listing
	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, listingKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan listings: %w", err)
		}
		for _, key := range keys {
			vals, err := rdb.HGetAll(ctx, key).Result()
			if err != nil || len(vals) == 0 {
				continue
			}
			l, err := listingFromMap(vals)
			if err != nil {
				continue
			}
			listings = append(listings, *l)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Slice(listings, func(i, j int) bool {
		return listings[i].Voucher.TokenID.Cmp(listings[j].Voucher.TokenID) < 0
	})
	return listings, nil
}

func listingFromMap(m map[string]string) (*Listing, error) {
	tokenID, ok := new(big.Int).SetString(m["token_id"], 10)
	if !ok {
		return nil, fmt.Errorf("listing: bad token_id %q", m["token_id"])
	}
	minPrice, ok := new(big.Int).SetString(m["min_price"], 10)
	if !ok {
		return nil, fmt.Errorf("listing: bad min_price %q", m["min_price"])
	}
	sig, err := hexutil.Decode(m["signature"])
	if err != nil {
		return nil, fmt.Errorf("listing: bad signature: %w", err)
	}
	publishedAt, _ := strconv.ParseInt(m["published_at"], 10, 64)
	issuer := m["issuer"]
	if common.IsHexAddress(issuer) {
		issuer = common.HexToAddress(issuer).Hex()
	}
	return &Listing{
		Voucher: voucher.Signed{
			Voucher:   voucher.Voucher{TokenID: tokenID, MinPrice: minPrice, URI: m["uri"]},
			Signature: sig,
		},
		Issuer:      issuer,
		PublishedAt: publishedAt,
	}, nil
}
