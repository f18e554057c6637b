package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/the491/branchledger/internal/api/middleware"
	"github.com/the491/branchledger/internal/categorize"
	"github.com/the491/branchledger/internal/domain"
	"github.com/the491/branchledger/internal/infra/memory"
	"github.com/the491/branchledger/internal/ledger"
	"github.com/the491/branchledger/internal/receipt"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newHandler(t *testing.T) *ReceiptsHandler {
	t.Helper()
	log := zerolog.New(discardWriter{})

	receipts := memory.NewReceiptStore()
	branches := memory.NewBranchStore()
	rows := memory.NewLedgerStore()
	if err := branches.UpsertBranch(context.Background(), &domain.Branch{
		ID: "branch_restaurant", Name: "Steak House", Type: domain.BusinessTypeRestaurant,
	}); err != nil {
		t.Fatalf("seeding branch: %v", err)
	}

	cat := categorize.New(nil, 0.8, log)
	committer := ledger.NewCommitter(rows, log)
	svc := receipt.NewService(receipts, branches, committer, cat, decimal.RequireFromString("0.01"), log)

	return NewReceiptsHandler(svc, nil, nil, log)
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user_mew")
	rec := httptest.NewRecorder()
	middleware.Identity(handler).ServeHTTP(rec, req)
	return rec
}

func TestCreateReceipt(t *testing.T) {
	h := newHandler(t)

	body := `{
		"branch_id": "branch_restaurant",
		"merchant": "Makro",
		"date": "2025-03-14",
		"total": "350",
		"items": [
			{"description": "เนื้อวัวนำเข้า", "amount": "300"},
			{"description": "ค่าแก๊ส", "amount": "50"}
		]
	}`
	rec := doJSON(t, h.CreateReceipt, http.MethodPost, "/api/receipts", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var created domain.Receipt
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if created.Status != domain.ReceiptStatusDraft {
		t.Errorf("status = %s, want DRAFT", created.Status)
	}
	if created.CreatedBy != "user_mew" {
		t.Errorf("created_by = %q, want user_mew", created.CreatedBy)
	}
	if len(created.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(created.Items))
	}
}

func TestCreateReceipt_BadRequests(t *testing.T) {
	h := newHandler(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing branch", `{"date": "2025-03-14", "items": [{"description": "x", "amount": "1"}]}`, http.StatusBadRequest},
		{"no items", `{"branch_id": "branch_restaurant", "date": "2025-03-14", "items": []}`, http.StatusBadRequest},
		{"bad date", `{"branch_id": "branch_restaurant", "date": "14/03/2025", "items": [{"description": "x", "amount": "1"}]}`, http.StatusBadRequest},
		{"unknown branch", `{"branch_id": "branch_nope", "date": "2025-03-14", "items": [{"description": "x", "amount": "1"}]}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h.CreateReceipt, http.MethodPost, "/api/receipts", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestVerifyAndRejectFlow(t *testing.T) {
	h := newHandler(t)

	create := doJSON(t, h.CreateReceipt, http.MethodPost, "/api/receipts", `{
		"branch_id": "branch_restaurant",
		"date": "2025-03-14",
		"total": "50",
		"items": [{"description": "ค่าแก๊ส", "amount": "50"}]
	}`)
	if create.Code != http.StatusCreated {
		t.Fatalf("create status = %d", create.Code)
	}
	var draft domain.Receipt
	if err := json.Unmarshal(create.Body.Bytes(), &draft); err != nil {
		t.Fatalf("decoding draft: %v", err)
	}

	// Mismatched total fails verification and leaves the draft intact.
	verifyHandler := func(w http.ResponseWriter, r *http.Request) {
		h.VerifyReceipt(w, r, draft.ID)
	}
	bad := doJSON(t, verifyHandler, http.MethodPost, "/api/receipts/verify", `{
		"items": [{"description": "ค่าแก๊ส", "amount": "50", "category_id": "F3"}],
		"total_check": "55"
	}`)
	if bad.Code != http.StatusUnprocessableEntity {
		t.Fatalf("mismatch status = %d, want 422; body = %s", bad.Code, bad.Body.String())
	}

	good := doJSON(t, verifyHandler, http.MethodPost, "/api/receipts/verify", `{
		"items": [{"description": "ค่าแก๊ส", "amount": "50", "category_id": "F3"}],
		"total_check": "50"
	}`)
	if good.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body = %s", good.Code, good.Body.String())
	}
	var verified domain.Receipt
	if err := json.Unmarshal(good.Body.Bytes(), &verified); err != nil {
		t.Fatalf("decoding verified: %v", err)
	}
	if verified.Status != domain.ReceiptStatusVerified {
		t.Errorf("status = %s, want VERIFIED", verified.Status)
	}
	if verified.VerifiedBy != "user_mew" {
		t.Errorf("verified_by = %q, want user_mew", verified.VerifiedBy)
	}

	// Rejecting a verified receipt is a conflict.
	rejectHandler := func(w http.ResponseWriter, r *http.Request) {
		h.RejectReceipt(w, r, draft.ID)
	}
	conflict := doJSON(t, rejectHandler, http.MethodPost, "/api/receipts/reject", "")
	if conflict.Code != http.StatusConflict {
		t.Errorf("reject status = %d, want 409", conflict.Code)
	}
}

func TestListReceipts(t *testing.T) {
	h := newHandler(t)

	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{
			"branch_id": "branch_restaurant",
			"date": "2025-03-14",
			"total": "50",
			"items": [{"description": "ค่าแก๊ส %d", "amount": "50"}]
		}`, i)
		if rec := doJSON(t, h.CreateReceipt, http.MethodPost, "/api/receipts", body); rec.Code != http.StatusCreated {
			t.Fatalf("create %d status = %d", i, rec.Code)
		}
	}

	rec := doJSON(t, h.ListReceipts, http.MethodGet, "/api/receipts?branch_id=branch_restaurant&status=DRAFT", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("count = %d, want 3", resp.Count)
	}
}

func TestIdentityRequired(t *testing.T) {
	h := newHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/receipts", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	middleware.Identity(http.HandlerFunc(h.CreateReceipt)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
