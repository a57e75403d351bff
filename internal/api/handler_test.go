package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/lazymint/internal/access"
	"github.com/0gfoundation/lazymint/internal/auth"
	"github.com/0gfoundation/lazymint/internal/bank"
	"github.com/0gfoundation/lazymint/internal/chain"
	"github.com/0gfoundation/lazymint/internal/issuer"
	"github.com/0gfoundation/lazymint/internal/ledger"
	"github.com/0gfoundation/lazymint/internal/redeem"
	"github.com/0gfoundation/lazymint/internal/settler"
	"github.com/0gfoundation/lazymint/internal/voucher"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ── helpers ───────────────────────────────────────────────────────────────────

const (
	// Fixed deterministic test key (not used anywhere outside tests)
	testIssuerKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAdminKey     = "secret-admin-key"
)

var (
	testChainID  = big.NewInt(31337)
	testContract = common.HexToAddress("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC")
	testAdmin    = common.HexToAddress("0xADADADADADADADADADADADADADADADADADADADAD")
)

type testEnv struct {
	t        *testing.T
	engine   *gin.Engine
	rdb      *redis.Client
	ledger   *ledger.Ledger
	issuer   common.Address
	buyerKey *ecdsa.PrivateKey
	buyer    common.Address
	nonce    int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := zap.NewNop()

	issuerKey, err := crypto.HexToECDSA(testIssuerKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	buyerKey, _ := crypto.GenerateKey()
	env := &testEnv{
		t:        t,
		rdb:      rdb,
		ledger:   ledger.New(ledger.NewMemoryBackend(), log),
		issuer:   crypto.PubkeyToAddress(issuerKey.PublicKey),
		buyerKey: buyerKey,
		buyer:    crypto.PubkeyToAddress(buyerKey.PublicKey),
	}

	_, err = env.ledger.Execute(context.Background(), func(tx *ledger.Tx) error {
		if _, err := access.Bootstrap(tx, testAdmin); err != nil {
			return err
		}
		if err := access.Grant(tx, testAdmin, access.IssuerRole, env.issuer); err != nil {
			return err
		}
		return bank.Credit(tx, env.buyer, big.NewInt(1_000))
	})
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}

	signer := issuer.NewSigner(testContract, issuer.NewLocalKey(issuerKey), chain.NewStatic(testChainID.Int64()), log)
	redeemer := redeem.New(env.ledger, testChainID, testContract, log)

	env.engine = gin.New()
	NewHandler(env.ledger, redeemer, signer, testAdmin, rdb, log).Register(
		env.engine.Group("/api"),
		env.engine.Group("/admin", AdminAuth(testAdminKey)),
	)
	return env
}

func (e *testEnv) do(req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	e.t.Helper()
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(raw)
}

func (e *testEnv) admin(method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	e.t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, jsonBody(e.t, body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func (e *testEnv) get(path string) (*httptest.ResponseRecorder, map[string]any) {
	e.t.Helper()
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

// createVoucher signs a voucher through the admin API.
func (e *testEnv) createVoucher(tokenID, minPrice, uri string, publish bool) voucher.Signed {
	e.t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/vouchers", jsonBody(e.t, map[string]any{
		"tokenId": tokenID, "minPrice": minPrice, "uri": uri, "publish": publish,
	}))
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	e.engine.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		e.t.Fatalf("create voucher: %d %s", w.Code, w.Body.String())
	}
	var sv voucher.Signed
	if err := json.Unmarshal(w.Body.Bytes(), &sv); err != nil {
		e.t.Fatalf("decode voucher: %v", err)
	}
	return sv
}

// signedRedeem builds a wallet-signed redemption request from the buyer.
func (e *testEnv) signedRedeem(path string, sv voucher.Signed, value, resourceID string) *http.Request {
	e.t.Helper()
	e.nonce++
	payload, _ := json.Marshal(map[string]any{"voucher": sv, "value": value})
	sr := auth.SignedRequest{
		Action:     ActionRedeem,
		ExpiresAt:  time.Now().Add(2 * time.Minute).Unix(),
		Nonce:      fmt.Sprintf("nonce-%d", e.nonce),
		Payload:    payload,
		ResourceID: resourceID,
	}
	msg, _ := json.Marshal(sr)
	sig, _ := crypto.Sign(auth.HashMessage(msg), e.buyerKey)
	sig[64] += 27

	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("X-Wallet-Address", e.buyer.Hex())
	req.Header.Set("X-Signed-Message", base64.StdEncoding.EncodeToString(msg))
	req.Header.Set("X-Wallet-Signature", "0x"+hex.EncodeToString(sig))
	return req
}

// ── end to end ────────────────────────────────────────────────────────────────

func TestRedeem_EndToEnd(t *testing.T) {
	e := newTestEnv(t)
	sv := e.createVoucher("1", "100", "ipfs://abc", true)

	if w, _ := e.get("/api/listings/1"); w.Code != http.StatusOK {
		t.Fatalf("listing: expected 200, got %d", w.Code)
	}

	// Preview an underpayment: nothing committed.
	w, resp := e.do(httptest.NewRequest(http.MethodPost, "/api/redeem/preview", jsonBody(t, map[string]any{
		"voucher": sv, "value": "50", "from": e.buyer.Hex(),
	})))
	if w.Code != http.StatusOK || resp["status"] != "INSUFFICIENT_PAYMENT" {
		t.Fatalf("preview: %d %v", w.Code, resp)
	}

	w, resp = e.do(e.signedRedeem("/api/redeem", sv, "100", "1"))
	if w.Code != http.StatusOK {
		t.Fatalf("redeem: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["status"] != "SUCCESS" || resp["tokenId"] != "1" || resp["signer"] != e.issuer.Hex() {
		t.Errorf("redeem response: %v", resp)
	}

	_, resp = e.get("/api/assets/1")
	if resp["owner"] != e.buyer.Hex() || resp["uri"] != "ipfs://abc" {
		t.Errorf("asset: %v", resp)
	}
	if w, _ := e.get("/api/listings/1"); w.Code != http.StatusNotFound {
		t.Errorf("listing should be removed after redemption, got %d", w.Code)
	}
	_, resp = e.get("/api/accounts/" + e.issuer.Hex())
	if resp["balance"] != "100" {
		t.Errorf("issuer balance: %v", resp["balance"])
	}
	_, resp = e.get("/api/accounts/" + e.buyer.Hex())
	if resp["balance"] != "900" || resp["assets"] != float64(1) {
		t.Errorf("buyer account: %v", resp)
	}
}

func TestRedeem_FailureStatuses(t *testing.T) {
	e := newTestEnv(t)
	sv := e.createVoucher("7", "100", "ipfs://x", false)

	w, resp := e.do(e.signedRedeem("/api/redeem", sv, "50", ""))
	if w.Code != http.StatusPaymentRequired || resp["status"] != "INSUFFICIENT_PAYMENT" || resp["retryable"] != true {
		t.Errorf("underpayment: %d %v", w.Code, resp)
	}
	if w, _ := e.get("/api/assets/7"); w.Code != http.StatusNotFound {
		t.Errorf("asset must not exist after underpayment, got %d", w.Code)
	}

	if w, _ := e.do(e.signedRedeem("/api/redeem", sv, "100", "")); w.Code != http.StatusOK {
		t.Fatalf("redeem: %d %s", w.Code, w.Body.String())
	}
	w, resp = e.do(e.signedRedeem("/api/redeem", sv, "100", ""))
	if w.Code != http.StatusConflict || resp["status"] != "DUPLICATE_IDENTIFIER" {
		t.Errorf("replay: %d %v", w.Code, resp)
	}

	stranger, _ := crypto.GenerateKey()
	forged, err := voucher.Sign(voucher.NewDomain(testChainID, testContract),
		voucher.Voucher{TokenID: big.NewInt(8), MinPrice: big.NewInt(0), URI: "ipfs://f"}, stranger)
	if err != nil {
		t.Fatal(err)
	}
	w, resp = e.do(e.signedRedeem("/api/redeem", *forged, "0", ""))
	if w.Code != http.StatusForbidden || resp["status"] != "UNAUTHORIZED_SIGNER" {
		t.Errorf("unauthorized signer: %d %v", w.Code, resp)
	}

	w, resp = e.do(e.signedRedeem("/api/redeem", e.createVoucher("9", "0", "u", false), "5000", ""))
	if w.Code != http.StatusBadRequest || resp["status"] != "REJECTED" {
		t.Errorf("unfunded payer: %d %v", w.Code, resp)
	}
}

func TestRedeem_ResourceMismatch(t *testing.T) {
	e := newTestEnv(t)
	sv := e.createVoucher("1", "0", "ipfs://abc", false)

	w, _ := e.do(e.signedRedeem("/api/redeem", sv, "0", "2"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRedeem_RequiresWalletSignature(t *testing.T) {
	e := newTestEnv(t)
	w, _ := e.do(httptest.NewRequest(http.MethodPost, "/api/redeem", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRedeemAsync_Enqueues(t *testing.T) {
	e := newTestEnv(t)
	sv := e.createVoucher("3", "0", "ipfs://q", false)

	w, resp := e.do(e.signedRedeem("/api/redeem/async", sv, "0", "3"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	id, _ := resp["id"].(string)
	if id == "" {
		t.Fatal("missing request id")
	}
	if n, _ := e.rdb.LLen(context.Background(), settler.QueueKey).Result(); n != 1 {
		t.Errorf("queue length: got %d want 1", n)
	}

	w, resp = e.get("/api/redeem/result/" + id)
	if w.Code != http.StatusAccepted || resp["status"] != "PENDING" {
		t.Errorf("pending result: %d %v", w.Code, resp)
	}
}

// ── admin ─────────────────────────────────────────────────────────────────────

func TestAdmin_RequiresKey(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/admin/vouchers", jsonBody(t, map[string]any{"tokenId": "1"}))
	req.Header.Set("Authorization", "Bearer wrong")
	if w, _ := e.do(req); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAdmin_CreateVoucherVerifies(t *testing.T) {
	e := newTestEnv(t)
	sv := e.createVoucher("42", "", "ipfs://free", false)

	if sv.MinPrice.Sign() != 0 {
		t.Errorf("minPrice: got %s want 0", sv.MinPrice)
	}
	signer, err := voucher.Verify(voucher.NewDomain(testChainID, testContract), &sv)
	if err != nil || signer != e.issuer {
		t.Fatalf("Verify: %s %v", signer.Hex(), err)
	}
	if w, _ := e.get("/api/listings/42"); w.Code != http.StatusNotFound {
		t.Error("unpublished voucher must not be listed")
	}
}

func TestAdmin_GrantAndRevokeIssuer(t *testing.T) {
	e := newTestEnv(t)
	newIssuer := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	if w, resp := e.admin(http.MethodPost, "/admin/issuers", map[string]any{"address": newIssuer.Hex()}); w.Code != http.StatusOK {
		t.Fatalf("grant: %d %v", w.Code, resp)
	}
	if _, resp := e.get("/api/accounts/" + newIssuer.Hex()); resp["issuer"] != true {
		t.Errorf("expected issuer after grant: %v", resp)
	}
	if w, _ := e.admin(http.MethodDelete, "/admin/issuers/"+newIssuer.Hex(), nil); w.Code != http.StatusOK {
		t.Fatalf("revoke: %d", w.Code)
	}
	if _, resp := e.get("/api/accounts/" + newIssuer.Hex()); resp["issuer"] != false {
		t.Errorf("expected non-issuer after revoke: %v", resp)
	}
}

func TestAdmin_Credit(t *testing.T) {
	e := newTestEnv(t)
	w, resp := e.admin(http.MethodPost, "/admin/accounts/"+e.buyer.Hex()+"/credit", map[string]any{"amount": "250"})
	if w.Code != http.StatusOK || resp["balance"] != "1250" {
		t.Fatalf("credit: %d %v", w.Code, resp)
	}
	w, _ = e.admin(http.MethodPost, "/admin/accounts/"+e.buyer.Hex()+"/credit", map[string]any{"amount": "-1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative credit: expected 400, got %d", w.Code)
	}
}

func TestAdmin_InvalidateDomain(t *testing.T) {
	e := newTestEnv(t)
	w, resp := e.admin(http.MethodPost, "/admin/domain/invalidate", nil)
	if w.Code != http.StatusOK || resp["chainId"] != "31337" {
		t.Fatalf("invalidate: %d %v", w.Code, resp)
	}
}

// ── views ─────────────────────────────────────────────────────────────────────

func TestContractInfo(t *testing.T) {
	e := newTestEnv(t)
	_, resp := e.get("/api/contract")
	if resp["name"] != voucher.DomainName || resp["chainId"] != "31337" || resp["verifyingContract"] != testContract.Hex() {
		t.Errorf("contract: %v", resp)
	}
}

func TestListings_EmptyArray(t *testing.T) {
	e := newTestEnv(t)
	w, _ := e.get("/api/listings")
	if w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Errorf("listings: %d %s", w.Code, w.Body.String())
	}
}

func TestBadParams(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/api/assets/abc", "/api/accounts/0xnope", "/api/listings/-1"} {
		if w, _ := e.get(path); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}
