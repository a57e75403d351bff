package auth

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSetup creates a miniredis instance, a Redis client, and a Gin engine
// with the auth middleware wired up for action "redeem".
func testSetup(t *testing.T) (*miniredis.Miniredis, *redis.Client, *gin.Engine) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := gin.New()
	r.POST("/test", Middleware(rdb, "redeem"), func(c *gin.Context) {
		wallet, _ := Wallet(c)
		sr, _ := Request(c)
		c.JSON(http.StatusOK, gin.H{"wallet": wallet.Hex(), "payload": sr.Payload, "resource": sr.ResourceID})
	})
	return mr, rdb, r
}

type reqOpts struct {
	action  string
	expires time.Duration
	nonce   string
	payload string
	key     *ecdsa.PrivateKey
}

// buildRequest creates a signed HTTP request for testing.
func buildRequest(t *testing.T, o reqOpts) (*http.Request, string) {
	t.Helper()
	if o.key == nil {
		var err error
		if o.key, err = crypto.GenerateKey(); err != nil {
			t.Fatal(err)
		}
	}
	if o.action == "" {
		o.action = "redeem"
	}
	if o.payload == "" {
		o.payload = `{}`
	}
	walletAddr := crypto.PubkeyToAddress(o.key.PublicKey).Hex()

	sr := SignedRequest{
		Action:     o.action,
		ExpiresAt:  time.Now().Add(o.expires).Unix(),
		Nonce:      o.nonce,
		Payload:    json.RawMessage(o.payload),
		ResourceID: "token-1",
	}
	msgBytes, _ := json.Marshal(sr)

	sig, _ := crypto.Sign(HashMessage(msgBytes), o.key)
	sig[64] += 27

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.Header.Set("X-Wallet-Address", walletAddr)
	req.Header.Set("X-Signed-Message", base64.StdEncoding.EncodeToString(msgBytes))
	req.Header.Set("X-Wallet-Signature", "0x"+hex.EncodeToString(sig))
	return req, walletAddr
}

func serve(r *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestMiddleware_ValidRequest(t *testing.T) {
	_, _, r := testSetup(t)

	req, wallet := buildRequest(t, reqOpts{expires: 2 * time.Minute, nonce: "nonce-valid-1", payload: `{"value":"100"}`})
	w, resp := serve(r, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["wallet"] != wallet {
		t.Errorf("wallet: got %v want %s", resp["wallet"], wallet)
	}
	payload, _ := resp["payload"].(map[string]any)
	if payload["value"] != "100" {
		t.Errorf("signed payload not exposed to handler: %v", resp["payload"])
	}
	if resp["resource"] != "token-1" {
		t.Errorf("resource: got %v", resp["resource"])
	}
}

func TestMiddleware_MissingHeaders(t *testing.T) {
	_, _, r := testSetup(t)

	w, _ := serve(r, httptest.NewRequest(http.MethodPost, "/test", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_ActionMismatch(t *testing.T) {
	_, _, r := testSetup(t)

	req, _ := buildRequest(t, reqOpts{action: "withdraw", expires: 2 * time.Minute, nonce: "nonce-action-1"})
	w, resp := serve(r, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if resp["error"] != "action mismatch" {
		t.Errorf("unexpected error: %v", resp["error"])
	}
}

func TestMiddleware_MissingNonce(t *testing.T) {
	_, _, r := testSetup(t)

	req, _ := buildRequest(t, reqOpts{expires: 2 * time.Minute})
	w, resp := serve(r, req)
	if w.Code != http.StatusUnauthorized || resp["error"] != "missing nonce" {
		t.Fatalf("expected 401 missing nonce, got %d %v", w.Code, resp["error"])
	}
}

func TestMiddleware_Expired(t *testing.T) {
	_, _, r := testSetup(t)

	req, _ := buildRequest(t, reqOpts{expires: -1 * time.Second, nonce: "nonce-expired-1"})
	w, resp := serve(r, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	if resp["error"] != "request expired" {
		t.Errorf("unexpected error: %v", resp["error"])
	}
}

func TestMiddleware_TooFarInFuture(t *testing.T) {
	_, _, r := testSetup(t)

	req, _ := buildRequest(t, reqOpts{expires: 10 * time.Minute, nonce: "nonce-future-1"}) // > 5 min
	w, resp := serve(r, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	if resp["error"] != "expires_at too far in future" {
		t.Errorf("unexpected error: %v", resp["error"])
	}
}

func TestMiddleware_InvalidSignature(t *testing.T) {
	_, _, r := testSetup(t)

	// Build valid request, then swap in a different wallet address
	req, _ := buildRequest(t, reqOpts{expires: 2 * time.Minute, nonce: "nonce-badsig-1"})
	req.Header.Set("X-Wallet-Address", "0x000000000000000000000000000000000000dEaD")
	w, resp := serve(r, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	if resp["error"] != "invalid signature" {
		t.Errorf("unexpected error: %v", resp["error"])
	}
}

func TestMiddleware_NonceReplay(t *testing.T) {
	_, _, r := testSetup(t)

	req1, _ := buildRequest(t, reqOpts{expires: 2 * time.Minute, nonce: "nonce-replay-1"})
	req2, _ := buildRequest(t, reqOpts{expires: 2 * time.Minute, nonce: "nonce-replay-1"}) // same nonce, different key

	if w1, _ := serve(r, req1); w1.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d: %s", w1.Code, w1.Body.String())
	}
	w2, resp := serve(r, req2)
	if w2.Code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d: %s", w2.Code, w2.Body.String())
	}
	if resp["error"] != "nonce already used" {
		t.Errorf("unexpected error: %v", resp["error"])
	}
}

func TestMiddleware_NonceExpires(t *testing.T) {
	mr, _, r := testSetup(t)

	nonce := "nonce-ttl-1"
	req1, _ := buildRequest(t, reqOpts{expires: 2 * time.Minute, nonce: nonce})
	if w1, _ := serve(r, req1); w1.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w1.Code)
	}
	if !mr.Exists(nonceKeyPrefix + nonce) {
		t.Fatal("nonce key not stored")
	}

	mr.FastForward(3 * time.Minute)
	if mr.Exists(nonceKeyPrefix + nonce) {
		t.Error("nonce key must expire with the request window")
	}
}
