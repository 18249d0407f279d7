package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/spraxxx/pantry-ledger/internal/api"
	"github.com/spraxxx/pantry-ledger/internal/ledger"
	"go.uber.org/zap"
)

func setupRouter(t *testing.T, secret string) (*gin.Engine, *ledger.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc := ledger.New(context.Background(), ledger.NopPersister{}, zap.NewNop())
	h := api.NewLedgerHandler(svc, zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1, api.WriteAuth(secret, zap.NewNop()))
	return r, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRecordTransaction_201(t *testing.T) {
	router, svc := setupRouter(t, "")

	w := doJSON(t, router, http.MethodPost, "/api/v1/transactions",
		`{"transaction_kind":"task_completion","actor_id":"bot_1","description":"done","credits_awarded":{"computational":2}}`, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["entry_id"] == "" {
		t.Error("response missing entry_id")
	}
	if svc.Len() != 1 {
		t.Errorf("expected 1 entry recorded, got %d", svc.Len())
	}
}

func TestRecordTransaction_400_emptyActor(t *testing.T) {
	router, svc := setupRouter(t, "")

	w := doJSON(t, router, http.MethodPost, "/api/v1/transactions",
		`{"transaction_kind":"task_completion","actor_id":""}`, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if svc.Len() != 0 {
		t.Errorf("rejected request mutated the ledger: %d entries", svc.Len())
	}
}

func TestRecordTransaction_400_unknownKind(t *testing.T) {
	router, _ := setupRouter(t, "")

	w := doJSON(t, router, http.MethodPost, "/api/v1/transactions",
		`{"transaction_kind":"bribery","actor_id":"bot_1"}`, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBalance_200(t *testing.T) {
	router, svc := setupRouter(t, "")
	if _, err := svc.AwardCredits(context.Background(), "bot_1", ledger.CreditCommunity, 0.5, "welcome"); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, router, http.MethodGet, "/api/v1/accounts/bot_1/balance", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Balances map[string]float64 `json:"balances"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Balances["community"] != 0.5 {
		t.Errorf("community balance: got %v, want 0.5", resp.Balances["community"])
	}
}

func TestAccountSummary_404(t *testing.T) {
	router, _ := setupRouter(t, "")
	w := doJSON(t, router, http.MethodGet, "/api/v1/accounts/ghost", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSpend_409_overdraft(t *testing.T) {
	router, _ := setupRouter(t, "")

	w := doJSON(t, router, http.MethodPost, "/api/v1/credits/spend",
		`{"actor_id":"bot_1","category":"computational","amount":10,"reason":"render"}`, nil)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVerify_200(t *testing.T) {
	router, svc := setupRouter(t, "")
	if _, err := svc.RecordTransaction(context.Background(), ledger.KindBotWelcome, "bot_1", "hello", nil, nil); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, router, http.MethodGet, "/api/v1/ledger/verify", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["ok"] != true {
		t.Errorf("expected ok=true, got %v", resp["ok"])
	}
}

func TestStatistics_exposesIntegrityFlag(t *testing.T) {
	router, _ := setupRouter(t, "")

	w := doJSON(t, router, http.MethodGet, "/api/v1/statistics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if _, ok := resp["ledger_integrity"]; !ok {
		t.Error("statistics response missing ledger_integrity")
	}
}

func TestTransactionsByKind_400_missingKind(t *testing.T) {
	router, _ := setupRouter(t, "")
	w := doJSON(t, router, http.MethodGet, "/api/v1/transactions", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestWriteAuth_enforcedOnWrites(t *testing.T) {
	router, _ := setupRouter(t, "test-secret")

	body := `{"transaction_kind":"task_completion","actor_id":"bot_1"}`

	// No token: rejected.
	w := doJSON(t, router, http.MethodPost, "/api/v1/transactions", body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	// Bad token: rejected.
	w = doJSON(t, router, http.MethodPost, "/api/v1/transactions", body,
		map[string]string{"Authorization": "Bearer not-a-token"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", w.Code)
	}

	// Valid token: accepted.
	token, err := api.NewWriteToken("test-secret", "test", 60)
	if err != nil {
		t.Fatal(err)
	}
	w = doJSON(t, router, http.MethodPost, "/api/v1/transactions", body,
		map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 with valid token, got %d: %s", w.Code, w.Body.String())
	}

	// Reads stay public.
	w = doJSON(t, router, http.MethodGet, "/api/v1/statistics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on public read, got %d", w.Code)
	}
}

func TestLeaderboard_200(t *testing.T) {
	router, svc := setupRouter(t, "")
	if _, err := svc.AwardCredits(context.Background(), "bot_1", ledger.CreditCharitable, 2, "gift"); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, router, http.MethodGet, "/api/v1/leaderboard?category=charitable&limit=5", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Accounts []struct {
			AccountID string `json:"account_id"`
		} `json:"accounts"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Accounts) != 1 || resp.Accounts[0].AccountID != "bot_1" {
		t.Errorf("leaderboard wrong: %+v", resp.Accounts)
	}
}
