package banking

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("writing key: %v", err)
	}
	return path
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("test-app-id", writeTestKey(t), server.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server
}

func TestGetTransactionsFollowsContinuationKey(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/acc-1/transactions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		calls++
		switch r.URL.Query().Get("continuation_key") {
		case "":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"transactions": []map[string]interface{}{
					{"transaction_id": "t1", "booking_date": "2026-01-02"},
				},
				"continuation_key": "page2",
			})
		case "page2":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"transactions": []map[string]interface{}{
					{"transaction_id": "t2", "booking_date": "2026-01-03"},
				},
			})
		default:
			t.Errorf("unexpected continuation key %q", r.URL.Query().Get("continuation_key"))
		}
	}))

	txns, err := client.GetTransactions(context.Background(), "acc-1", "2026-01-01", "")
	if err != nil {
		t.Fatalf("GetTransactions: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 pages, got %d calls", calls)
	}
	if len(txns) != 2 || txns[0].TransactionID != "t1" || txns[1].TransactionID != "t2" {
		t.Errorf("unexpected transactions: %+v", txns)
	}
}

func TestRequestSignsJWTWithKeyID(t *testing.T) {
	var authHeader string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{"session_id": "s1"})
	}))

	if _, err := client.GetSession(context.Background(), "s1"); err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		t.Fatalf("missing bearer token, got %q", authHeader)
	}
	parts := strings.Split(strings.TrimPrefix(authHeader, "Bearer "), ".")
	if len(parts) != 3 {
		t.Fatalf("not a JWT: %q", authHeader)
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		t.Fatalf("decoding JWT header: %v", err)
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		t.Fatalf("parsing JWT header: %v", err)
	}
	if header.Alg != "RS256" {
		t.Errorf("expected RS256, got %s", header.Alg)
	}
	if header.Kid != "test-app-id" {
		t.Errorf("expected kid test-app-id, got %s", header.Kid)
	}
}

func TestAPIErrorCarriesStatusAndBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"invalid code"}`))
	}))

	_, err := client.CreateSession(context.Background(), "bad-code")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "invalid code") {
		t.Errorf("body not carried: %q", apiErr.Body)
	}
}

func TestStartAuthorizationDefaults(t *testing.T) {
	var body map[string]interface{}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]string{
			"url":              "https://bank.example/authorize",
			"authorization_id": "auth-1",
		})
	}))

	auth, err := client.StartAuthorization(context.Background(), AuthorizationParams{
		RedirectURL: "https://app.example/callback",
		State:       "state-1",
	})
	if err != nil {
		t.Fatalf("StartAuthorization: %v", err)
	}
	if auth.URL != "https://bank.example/authorize" {
		t.Errorf("unexpected auth URL %q", auth.URL)
	}

	aspsp := body["aspsp"].(map[string]interface{})
	if aspsp["name"] != "Handelsbanken" || aspsp["country"] != "SE" {
		t.Errorf("unexpected aspsp defaults: %v", aspsp)
	}
	if body["psu_type"] != "business" {
		t.Errorf("expected business psu_type, got %v", body["psu_type"])
	}
	if body["state"] != "state-1" {
		t.Errorf("state not carried: %v", body["state"])
	}
}

func TestSessionAccountIdentifiers(t *testing.T) {
	account := SessionAccount{
		UID:       "uid-1",
		AccountID: AccountID{IBAN: "SE3550000000054910000003"},
		AllAccountIDs: []AccountIdentification{
			{Identification: "54910000003"},
			{Identification: ""},
		},
	}
	ids := account.Identifiers()
	if len(ids) != 2 || ids[0] != "SE3550000000054910000003" || ids[1] != "54910000003" {
		t.Errorf("unexpected identifiers: %v", ids)
	}
}
