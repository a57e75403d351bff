// cmd/voucher signs and checks vouchers offline, without a running service.
//
// Usage:
//
//	ISSUER_SIGNING_KEY=0x<key> \
//	go run ./cmd/voucher/ sign \
//	  --chain-id 31337 \
//	  --contract 0x5FbDB2315678afecb367f032d93F642f64180aa3 \
//	  --token-id 1 --min-price 1000 --uri ipfs://bafy...
//
//	go run ./cmd/voucher/ verify \
//	  --chain-id 31337 \
//	  --contract 0x5FbDB2315678afecb367f032d93F642f64180aa3 < voucher.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/lazymint/internal/chain"
	"github.com/0gfoundation/lazymint/internal/issuer"
	"github.com/0gfoundation/lazymint/internal/keys"
	"github.com/0gfoundation/lazymint/internal/voucher"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: voucher <sign|verify> [flags]")
	}
	switch args[0] {
	case "sign":
		return runSign(ctx, args[1:], stdout)
	case "verify":
		return runVerify(args[1:], stdin, stdout)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

type domainFlags struct {
	chainID  *int64
	contract *string
}

func addDomainFlags(fs *flag.FlagSet) domainFlags {
	return domainFlags{
		chainID:  fs.Int64("chain-id", 0, "network id of the redemption contract (required)"),
		contract: fs.String("contract", "", "redemption contract address (required)"),
	}
}

func (d domainFlags) resolve() (int64, common.Address, error) {
	if *d.chainID <= 0 {
		return 0, common.Address{}, fmt.Errorf("--chain-id must be positive")
	}
	if !common.IsHexAddress(*d.contract) {
		return 0, common.Address{}, fmt.Errorf("--contract must be a hex address")
	}
	return *d.chainID, common.HexToAddress(*d.contract), nil
}

func runSign(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	domain := addDomainFlags(fs)
	tokenID := fs.String("token-id", "", "asset identifier, decimal (required)")
	minPrice := fs.String("min-price", "0", "minimum payment, decimal")
	uri := fs.String("uri", "", "metadata locator")
	keyHex := fs.String("key", os.Getenv("ISSUER_SIGNING_KEY"), "issuer private key, hex")
	keystorePath := fs.String("keystore", os.Getenv("ISSUER_KEYSTORE"), "issuer keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	chainID, contract, err := domain.resolve()
	if err != nil {
		return err
	}
	id, ok := new(big.Int).SetString(*tokenID, 10)
	if !ok {
		return fmt.Errorf("--token-id must be a decimal integer")
	}
	price, ok := new(big.Int).SetString(*minPrice, 10)
	if !ok {
		return fmt.Errorf("--min-price must be a decimal integer")
	}

	priv, err := keys.Load(keys.Source{
		Hex:              *keyHex,
		KeystorePath:     *keystorePath,
		KeystorePassword: os.Getenv("ISSUER_KEYSTORE_PASSWORD"),
	})
	if err != nil {
		return err
	}

	s := issuer.NewSigner(contract, issuer.NewLocalKey(priv), chain.NewStatic(chainID), zap.NewNop())
	sv, err := s.CreateVoucher(ctx, id, *uri, price)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sv)
}

func runVerify(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	domain := addDomainFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	chainID, contract, err := domain.resolve()
	if err != nil {
		return err
	}

	var sv voucher.Signed
	if err := json.NewDecoder(stdin).Decode(&sv); err != nil {
		return fmt.Errorf("decode voucher: %w", err)
	}
	signer, err := voucher.Verify(voucher.NewDomain(big.NewInt(chainID), contract), &sv)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "signer:   %s\n", signer.Hex())
	fmt.Fprintf(stdout, "token id: %s\n", sv.TokenID)
	fmt.Fprintf(stdout, "price:    %s\n", sv.MinPrice)
	return nil
}
