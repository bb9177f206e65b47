package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/callwise/callwise-api/internal/middleware"
	"github.com/callwise/callwise-api/internal/pkg/jwt"
)

type walletTestEnv struct {
	server     *httptest.Server
	jwtService *jwt.Service
	repo       *fakeRepo
	service    Service
}

func newWalletTestEnv(t *testing.T) *walletTestEnv {
	t.Helper()

	repo := newFakeRepo()
	svc := NewService(repo)
	jwtService := jwt.NewService("test-secret", 15*time.Minute)

	handler := NewHandler(svc)
	router := chi.NewRouter()
	router.Mount("/api/v1/wallet", handler.Routes(middleware.Auth(jwtService)))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &walletTestEnv{server: server, jwtService: jwtService, repo: repo, service: svc}
}

func (env *walletTestEnv) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := env.jwtService.GenerateAccessToken(userID, "user@example.com")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (env *walletTestEnv) request(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, env.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, resp *http.Response) apiEnvelope {
	t.Helper()
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env
}

func TestWalletRoutesRequireAuth(t *testing.T) {
	env := newWalletTestEnv(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/wallet/"},
		{http.MethodPost, "/api/v1/wallet/deduct"},
		{http.MethodPost, "/api/v1/wallet/credits"},
		{http.MethodGet, "/api/v1/wallet/transactions"},
	}
	for _, p := range paths {
		resp := env.request(t, p.method, p.path, "", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s without token: got %d, want 401", p.method, p.path, resp.StatusCode)
		}
	}
}

func TestGetWalletEndpoint(t *testing.T) {
	env := newWalletTestEnv(t)
	userID := uuid.New()
	token := env.token(t, userID)

	resp := env.request(t, http.MethodGet, "/api/v1/wallet/", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	envl := decodeEnvelope(t, resp)
	var data WalletResponse
	if err := json.Unmarshal(envl.Data, &data); err != nil {
		t.Fatalf("unmarshal wallet: %v", err)
	}
	if data.Wallet == nil || data.Wallet.UserID != userID {
		t.Fatalf("wallet not created for caller: %+v", data.Wallet)
	}
	if !data.Wallet.CreditsBalance.IsZero() {
		t.Errorf("fresh wallet balance = %s, want 0", data.Wallet.CreditsBalance)
	}
	if len(data.Transactions) != 1 {
		t.Errorf("expected creation transaction, got %d rows", len(data.Transactions))
	}
}

func TestDeductEndpoint(t *testing.T) {
	env := newWalletTestEnv(t)
	userID := uuid.New()
	agentID := uuid.New()
	token := env.token(t, userID)

	if _, err := env.service.Credit(context.Background(), userID, decimal.NewFromInt(10), TxTypePurchase, "", ""); err != nil {
		t.Fatalf("seed credit: %v", err)
	}

	t.Run("success", func(t *testing.T) {
		resp := env.request(t, http.MethodPost, "/api/v1/wallet/deduct", token, DeductRequest{
			Minutes: 4, AgentID: agentID.String(),
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		envl := decodeEnvelope(t, resp)
		var result TransactionResult
		if err := json.Unmarshal(envl.Data, &result); err != nil {
			t.Fatalf("unmarshal result: %v", err)
		}
		if result.TransactionID == uuid.Nil {
			t.Error("missing transaction id")
		}

		w, _ := env.repo.GetByUserID(context.Background(), userID)
		if !w.CreditsBalance.Equal(decimal.NewFromInt(6)) {
			t.Errorf("balance = %s, want 6", w.CreditsBalance)
		}
	})

	t.Run("insufficient credits returns 402", func(t *testing.T) {
		resp := env.request(t, http.MethodPost, "/api/v1/wallet/deduct", token, DeductRequest{
			Minutes: 60, AgentID: agentID.String(),
		})
		if resp.StatusCode != http.StatusPaymentRequired {
			t.Fatalf("status = %d, want 402", resp.StatusCode)
		}
		envl := decodeEnvelope(t, resp)
		if envl.Error == nil || envl.Error.Code != "INSUFFICIENT_CREDITS" {
			t.Errorf("error = %+v, want INSUFFICIENT_CREDITS", envl.Error)
		}

		// The rejected call must leave the balance alone.
		w, _ := env.repo.GetByUserID(context.Background(), userID)
		if !w.CreditsBalance.Equal(decimal.NewFromInt(6)) {
			t.Errorf("balance after rejection = %s, want 6", w.CreditsBalance)
		}
	})

	t.Run("missing fields return 422", func(t *testing.T) {
		resp := env.request(t, http.MethodPost, "/api/v1/wallet/deduct", token, map[string]interface{}{
			"minutes": 2,
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", resp.StatusCode)
		}
	})

	t.Run("negative minutes return 422", func(t *testing.T) {
		resp := env.request(t, http.MethodPost, "/api/v1/wallet/deduct", token, DeductRequest{
			Minutes: -2, AgentID: agentID.String(),
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", resp.StatusCode)
		}
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/wallet/deduct", bytes.NewBufferString("{not json"))
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestPurchaseCreditsEndpoint(t *testing.T) {
	env := newWalletTestEnv(t)
	userID := uuid.New()
	token := env.token(t, userID)

	t.Run("success", func(t *testing.T) {
		resp := env.request(t, http.MethodPost, "/api/v1/wallet/credits", token, CreditRequest{
			Amount: 25, Type: "purchase", Reference: "cs_test_xyz",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		envl := decodeEnvelope(t, resp)
		var result TransactionResult
		if err := json.Unmarshal(envl.Data, &result); err != nil {
			t.Fatalf("unmarshal result: %v", err)
		}
		if result.Duplicate {
			t.Error("first credit flagged as duplicate")
		}

		w, _ := env.repo.GetByUserID(context.Background(), userID)
		if !w.CreditsBalance.Equal(decimal.NewFromInt(25)) {
			t.Errorf("balance = %s, want 25", w.CreditsBalance)
		}
	})

	t.Run("replayed reference returns original transaction", func(t *testing.T) {
		resp := env.request(t, http.MethodPost, "/api/v1/wallet/credits", token, CreditRequest{
			Amount: 25, Type: "purchase", Reference: "cs_test_xyz",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		envl := decodeEnvelope(t, resp)
		var result TransactionResult
		if err := json.Unmarshal(envl.Data, &result); err != nil {
			t.Fatalf("unmarshal result: %v", err)
		}
		if !result.Duplicate {
			t.Error("replay not flagged as duplicate")
		}

		w, _ := env.repo.GetByUserID(context.Background(), userID)
		if !w.CreditsBalance.Equal(decimal.NewFromInt(25)) {
			t.Errorf("balance after replay = %s, want 25", w.CreditsBalance)
		}
	})

	t.Run("invalid type returns 422", func(t *testing.T) {
		resp := env.request(t, http.MethodPost, "/api/v1/wallet/credits", token, CreditRequest{
			Amount: 5, Type: "usage",
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", resp.StatusCode)
		}
	})
}

func TestTransactionHistoryEndpoint(t *testing.T) {
	env := newWalletTestEnv(t)
	userID := uuid.New()
	otherID := uuid.New()
	agentID := uuid.New()
	token := env.token(t, userID)

	env.service.Credit(context.Background(), userID, decimal.NewFromInt(50), TxTypePurchase, "", "")
	env.service.Debit(context.Background(), userID, decimal.NewFromInt(5), agentID, "")
	env.service.Credit(context.Background(), otherID, decimal.NewFromInt(99), TxTypePurchase, "", "")

	resp := env.request(t, http.MethodGet, "/api/v1/wallet/transactions?limit=10", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	envl := decodeEnvelope(t, resp)
	var transactions []Transaction
	if err := json.Unmarshal(envl.Data, &transactions); err != nil {
		t.Fatalf("unmarshal transactions: %v", err)
	}

	// Creation marker, purchase, debit. The other user's rows stay invisible.
	if len(transactions) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(transactions))
	}
	for _, tx := range transactions {
		if tx.Amount.Equal(decimal.NewFromInt(99)) {
			t.Error("history leaked another user's transaction")
		}
	}
}
