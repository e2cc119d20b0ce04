package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SetupTestDB spins up a fresh single-node MongoDB replica set and returns the database
// along with a cleanup function. Transactions need the replica set.
func SetupTestDB(t *testing.T) (*mongo.Database, func()) {
	t.Helper()
	ctx := context.Background()

	mongodbContainer, err := mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}

	endpoint, err := mongodbContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint).SetDirect(true))
	if err != nil {
		t.Fatalf("failed to connect to mongo: %v", err)
	}

	return mongoClient.Database("test_db"), func() {
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to disconnect mongo")
		}
		if err := mongodbContainer.Terminate(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to terminate container")
		}
	}
}

// SignToken mints a shopper token the way the account service does
func SignToken(t *testing.T, secret, userID, email string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, domain.StoreClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// FakeZarinpal is an httptest server speaking the ZarinPal v4 JSON API
type FakeZarinpal struct {
	Server *httptest.Server

	mu       sync.Mutex
	amounts  map[string]int64
	verified map[string]bool
	seq      int64
	refs     int64
}

// NewFakeZarinpal starts the fake gateway. It is closed with the test.
func NewFakeZarinpal(t *testing.T) *FakeZarinpal {
	t.Helper()
	f := &FakeZarinpal{
		amounts:  make(map[string]int64),
		verified: make(map[string]bool),
		refs:     200,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/pg/v4/payment/request.json", f.handleRequest)
	mux.HandleFunc("/pg/v4/payment/verify.json", f.handleVerify)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// RequestURL returns the payment request endpoint
func (f *FakeZarinpal) RequestURL() string {
	return f.Server.URL + "/pg/v4/payment/request.json"
}

// VerifyURL returns the verify endpoint
func (f *FakeZarinpal) VerifyURL() string {
	return f.Server.URL + "/pg/v4/payment/verify.json"
}

// StartPayURL returns the redirect prefix
func (f *FakeZarinpal) StartPayURL() string {
	return f.Server.URL + "/pg/StartPay/"
}

func (f *FakeZarinpal) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MerchantID string `json:"merchant_id"`
		Amount     int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MerchantID == "" {
		writeGatewayError(w, -9, "The input params invalid, validation error.")
		return
	}

	authority := fmt.Sprintf("A%035d", atomic.AddInt64(&f.seq, 1))
	f.mu.Lock()
	f.amounts[authority] = req.Amount
	f.mu.Unlock()

	writeGatewayData(w, map[string]interface{}{
		"code":      100,
		"message":   "Success",
		"authority": authority,
		"fee_type":  "Merchant",
		"fee":       0,
	})
}

func (f *FakeZarinpal) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount    int64  `json:"amount"`
		Authority string `json:"authority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, -9, "The input params invalid, validation error.")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	amount, ok := f.amounts[req.Authority]
	if !ok {
		writeGatewayError(w, -54, "Invalid authority.")
		return
	}
	if amount != req.Amount {
		writeGatewayError(w, -50, "Session is not valid, amounts values is not the same.")
		return
	}

	code := 100
	if f.verified[req.Authority] {
		code = 101
	}
	f.verified[req.Authority] = true
	f.refs++

	writeGatewayData(w, map[string]interface{}{
		"code":      code,
		"message":   "Paid",
		"ref_id":    f.refs,
		"card_pan":  "502229******5995",
		"card_hash": "1EBE3EBEBE35C7EC0F8D6EE4F2F859107A87822CA179BC9528767EA7B5489B69",
		"fee_type":  "Merchant",
		"fee":       0,
	})
}

func writeGatewayData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data, "errors": []interface{}{}})
}

func writeGatewayError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   []interface{}{},
		"errors": map[string]interface{}{"code": code, "message": message, "validations": []interface{}{}},
	})
}
