package receipt

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/the491/branchledger/internal/categorize"
	"github.com/the491/branchledger/internal/domain"
	"github.com/the491/branchledger/internal/infra/memory"
	"github.com/the491/branchledger/internal/ledger"
)

type mockClassifier struct {
	ClassifyFunc func(ctx context.Context, description string, bt domain.BusinessType) (categorize.ClassifierResult, error)
}

func (m *mockClassifier) Classify(ctx context.Context, description string, bt domain.BusinessType) (categorize.ClassifierResult, error) {
	return m.ClassifyFunc(ctx, description, bt)
}

type mockCommitter struct {
	CommitReceiptFunc func(ctx context.Context, r *domain.Receipt) ([]*domain.LedgerRow, error)
}

func (m *mockCommitter) CommitReceipt(ctx context.Context, r *domain.Receipt) ([]*domain.LedgerRow, error) {
	return m.CommitReceiptFunc(ctx, r)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() zerolog.Logger {
	return zerolog.New(discardWriter{})
}

type fixture struct {
	service  *Service
	receipts *memory.ReceiptStore
	branches *memory.BranchStore
	rows     *memory.LedgerStore
}

func newFixture(t *testing.T, classifier categorize.Classifier) *fixture {
	t.Helper()
	log := testLogger()

	receipts := memory.NewReceiptStore()
	branches := memory.NewBranchStore()
	rows := memory.NewLedgerStore()

	ctx := context.Background()
	for _, b := range []*domain.Branch{
		{ID: "branch_coffee", Name: "Coffee Corner", Type: domain.BusinessTypeCoffee},
		{ID: "branch_restaurant", Name: "Steak House", Type: domain.BusinessTypeRestaurant},
	} {
		if err := branches.UpsertBranch(ctx, b); err != nil {
			t.Fatalf("seeding branch %s: %v", b.ID, err)
		}
	}

	cat := categorize.New(classifier, 0.8, log)
	committer := ledger.NewCommitter(rows, log)
	svc := NewService(receipts, branches, committer, cat, decimal.RequireFromString("0.01"), log)

	return &fixture{service: svc, receipts: receipts, branches: branches, rows: rows}
}

func alwaysF1() *mockClassifier {
	conf := 0.9
	return &mockClassifier{
		ClassifyFunc: func(ctx context.Context, description string, bt domain.BusinessType) (categorize.ClassifierResult, error) {
			return categorize.ClassifierResult{CategoryID: "F1", Confidence: &conf}, nil
		},
	}
}

func ingestDraft(t *testing.T, fx *fixture, branchID string, raw []domain.RawLineItem, total string) *domain.Receipt {
	t.Helper()
	header := Header{
		Merchant: "Makro",
		Date:     civil.Date{Year: 2025, Month: 3, Day: 14},
		Total:    decimal.RequireFromString(total),
	}
	r, err := fx.service.Ingest(context.Background(), branchID, "user_mew", header, raw)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return r
}

func TestIngest(t *testing.T) {
	fx := newFixture(t, alwaysF1())

	raw := []domain.RawLineItem{
		{Description: "ค่าสมาชิก makro", Amount: decimal.RequireFromString("300")},
		{Description: "ค่าแก๊ส", Amount: decimal.RequireFromString("50")},
	}
	r := ingestDraft(t, fx, "branch_restaurant", raw, "350")

	if r.Status != domain.ReceiptStatusDraft {
		t.Fatalf("status = %s, want DRAFT", r.Status)
	}
	if len(r.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(r.Items))
	}

	// "ค่าแก๊ส" hits the F3 keyword table; the membership fee matches no
	// keyword and falls through to the classifier.
	byDesc := map[string]domain.LineItem{}
	for _, item := range r.Items {
		byDesc[item.Description] = item
	}
	if got := byDesc["ค่าแก๊ส"]; got.CategoryID != "F3" || got.Provenance != domain.ProvenanceRule {
		t.Errorf("gas item = %s/%s, want F3/RULE", got.CategoryID, got.Provenance)
	}
	if got := byDesc["ค่าสมาชิก makro"]; got.CategoryID != "F1" || got.Provenance != domain.ProvenanceModel {
		t.Errorf("membership item = %s/%s, want F1/MODEL", got.CategoryID, got.Provenance)
	}

	stored, err := fx.receipts.GetReceipt(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	if stored.Status != domain.ReceiptStatusDraft {
		t.Errorf("stored status = %s, want DRAFT", stored.Status)
	}
}

func TestIngest_UnknownBranch(t *testing.T) {
	fx := newFixture(t, alwaysF1())
	_, err := fx.service.Ingest(context.Background(), "branch_nope", "user_mew", Header{}, nil)
	if !errors.Is(err, domain.ErrBranchNotFound) {
		t.Fatalf("err = %v, want ErrBranchNotFound", err)
	}
}

func TestVerify(t *testing.T) {
	fx := newFixture(t, alwaysF1())
	raw := []domain.RawLineItem{
		{Description: "เนื้อวัวนำเข้า", Amount: decimal.RequireFromString("300")},
		{Description: "ค่าแก๊ส", Amount: decimal.RequireFromString("50")},
	}
	r := ingestDraft(t, fx, "branch_restaurant", raw, "350")

	ctx := context.Background()
	verified, err := fx.service.Verify(ctx, r.ID, VerifyInput{
		Items: []VerifyItem{
			{Description: "เนื้อวัวนำเข้า", Amount: decimal.RequireFromString("300"), CategoryID: "F1"},
			{Description: "ค่าแก๊ส", Amount: decimal.RequireFromString("50"), CategoryID: "F3"},
		},
		TotalCheck: decimal.RequireFromString("350"),
		VerifiedBy: "user_pim",
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.Status != domain.ReceiptStatusVerified {
		t.Fatalf("status = %s, want VERIFIED", verified.Status)
	}
	if verified.VerifiedBy != "user_pim" || verified.VerifiedAt == nil {
		t.Errorf("verifier metadata not recorded: by=%q at=%v", verified.VerifiedBy, verified.VerifiedAt)
	}

	rows, err := fx.rows.QueryRange(ctx, "branch_restaurant",
		civil.Date{Year: 2025, Month: 3, Day: 1}, civil.Date{Year: 2025, Month: 3, Day: 31})
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d ledger rows, want 2", len(rows))
	}
	for _, row := range rows {
		if row.Flow != domain.FlowExpense {
			t.Errorf("row %s flow = %s, want EXPENSE", row.TransactionID, row.Flow)
		}
	}

	stored, _ := fx.receipts.GetReceipt(ctx, r.ID)
	if stored.Status != domain.ReceiptStatusVerified {
		t.Errorf("stored status = %s, want VERIFIED", stored.Status)
	}
}

func TestVerify_ManualCorrectionProvenance(t *testing.T) {
	fx := newFixture(t, alwaysF1())
	raw := []domain.RawLineItem{
		{Description: "ค่าแก๊ส", Amount: decimal.RequireFromString("50")},
		{Description: "ค่าสมาชิก makro", Amount: decimal.RequireFromString("300")},
	}
	r := ingestDraft(t, fx, "branch_restaurant", raw, "350")

	// Keep the first item as categorized, recategorize the second.
	verified, err := fx.service.Verify(context.Background(), r.ID, VerifyInput{
		Items: []VerifyItem{
			{Description: "ค่าแก๊ส", Amount: decimal.RequireFromString("50"), CategoryID: "F3"},
			{Description: "ค่าสมาชิก makro", Amount: decimal.RequireFromString("300"), CategoryID: "F2"},
		},
		TotalCheck: decimal.RequireFromString("350"),
		VerifiedBy: "user_pim",
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if got := verified.Items[0]; got.Provenance != domain.ProvenanceRule || got.ManualEdit {
		t.Errorf("unchanged item = %s manual=%v, want RULE manual=false", got.Provenance, got.ManualEdit)
	}
	if got := verified.Items[1]; got.Provenance != domain.ProvenanceManual || !got.ManualEdit {
		t.Errorf("corrected item = %s manual=%v, want MANUAL manual=true", got.Provenance, got.ManualEdit)
	}
	if verified.Items[1].CategoryName == "" {
		t.Errorf("corrected item has no category name")
	}
}

func TestVerify_Preconditions(t *testing.T) {
	tests := []struct {
		name  string
		input VerifyInput
	}{
		{
			name: "total mismatch beyond tolerance",
			input: VerifyInput{
				Items: []VerifyItem{
					{Description: "เนื้อวัวนำเข้า", Amount: decimal.RequireFromString("215"), CategoryID: "F1"},
				},
				TotalCheck: decimal.RequireFromString("210"),
				VerifiedBy: "user_pim",
			},
		},
		{
			name: "uncategorized item",
			input: VerifyInput{
				Items: []VerifyItem{
					{Description: "เนื้อวัวนำเข้า", Amount: decimal.RequireFromString("300"), CategoryID: ""},
				},
				TotalCheck: decimal.RequireFromString("300"),
				VerifiedBy: "user_pim",
			},
		},
		{
			name: "category from wrong business type",
			input: VerifyInput{
				Items: []VerifyItem{
					{Description: "เนื้อวัวนำเข้า", Amount: decimal.RequireFromString("300"), CategoryID: "C1"},
				},
				TotalCheck: decimal.RequireFromString("300"),
				VerifiedBy: "user_pim",
			},
		},
		{
			name: "negative amount",
			input: VerifyInput{
				Items: []VerifyItem{
					{Description: "ส่วนลด", Amount: decimal.RequireFromString("-300"), CategoryID: "F1"},
				},
				TotalCheck: decimal.RequireFromString("-300"),
				VerifiedBy: "user_pim",
			},
		},
		{
			name: "no items",
			input: VerifyInput{
				TotalCheck: decimal.Zero,
				VerifiedBy: "user_pim",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, alwaysF1())
			raw := []domain.RawLineItem{
				{Description: "เนื้อวัวนำเข้า", Amount: decimal.RequireFromString("300")},
			}
			r := ingestDraft(t, fx, "branch_restaurant", raw, "300")

			_, err := fx.service.Verify(context.Background(), r.ID, tt.input)
			if !domain.IsValidation(err) {
				t.Fatalf("err = %v, want validation error", err)
			}

			stored, _ := fx.receipts.GetReceipt(context.Background(), r.ID)
			if stored.Status != domain.ReceiptStatusDraft {
				t.Errorf("stored status = %s, want DRAFT", stored.Status)
			}
		})
	}
}

func TestVerify_TerminalStates(t *testing.T) {
	fx := newFixture(t, alwaysF1())
	raw := []domain.RawLineItem{
		{Description: "ค่าแก๊ส", Amount: decimal.RequireFromString("50")},
	}
	r := ingestDraft(t, fx, "branch_restaurant", raw, "50")

	input := VerifyInput{
		Items: []VerifyItem{
			{Description: "ค่าแก๊ส", Amount: decimal.RequireFromString("50"), CategoryID: "F3"},
		},
		TotalCheck: decimal.RequireFromString("50"),
		VerifiedBy: "user_pim",
	}

	ctx := context.Background()
	if _, err := fx.service.Verify(ctx, r.ID, input); err != nil {
		t.Fatalf("first Verify: %v", err)
	}

	if _, err := fx.service.Verify(ctx, r.ID, input); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("re-verify err = %v, want ErrIllegalTransition", err)
	}
	if _, err := fx.service.Reject(ctx, r.ID); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("reject after verify err = %v, want ErrIllegalTransition", err)
	}
}

func TestVerify_CommitFailureLeavesDraft(t *testing.T) {
	fx := newFixture(t, alwaysF1())
	raw := []domain.RawLineItem{
		{Description: "ค่าแก๊ส", Amount: decimal.RequireFromString("50")},
	}
	r := ingestDraft(t, fx, "branch_restaurant", raw, "50")

	boom := errors.New("ledger unavailable")
	fx.service.committer = &mockCommitter{
		CommitReceiptFunc: func(ctx context.Context, r *domain.Receipt) ([]*domain.LedgerRow, error) {
			return nil, boom
		},
	}

	_, err := fx.service.Verify(context.Background(), r.ID, VerifyInput{
		Items: []VerifyItem{
			{Description: "ค่าแก๊ส", Amount: decimal.RequireFromString("50"), CategoryID: "F3"},
		},
		TotalCheck: decimal.RequireFromString("50"),
		VerifiedBy: "user_pim",
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want commit failure", err)
	}

	stored, _ := fx.receipts.GetReceipt(context.Background(), r.ID)
	if stored.Status != domain.ReceiptStatusDraft {
		t.Errorf("stored status = %s, want DRAFT after failed commit", stored.Status)
	}
}

func TestVerify_ConcurrentSubmissions(t *testing.T) {
	fx := newFixture(t, alwaysF1())
	raw := []domain.RawLineItem{
		{Description: "ค่าแก๊ส", Amount: decimal.RequireFromString("50")},
	}
	r := ingestDraft(t, fx, "branch_restaurant", raw, "50")

	input := VerifyInput{
		Items: []VerifyItem{
			{Description: "ค่าแก๊ส", Amount: decimal.RequireFromString("50"), CategoryID: "F3"},
		},
		TotalCheck: decimal.RequireFromString("50"),
		VerifiedBy: "user_pim",
	}

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fx.service.Verify(context.Background(), r.ID, input)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d submissions succeeded, want exactly 1", succeeded)
	}

	rows, _ := fx.rows.QueryRange(context.Background(), "branch_restaurant",
		civil.Date{Year: 2025, Month: 3, Day: 1}, civil.Date{Year: 2025, Month: 3, Day: 31})
	if len(rows) != 1 {
		t.Errorf("got %d ledger rows, want 1", len(rows))
	}
}

func TestReject(t *testing.T) {
	fx := newFixture(t, alwaysF1())
	raw := []domain.RawLineItem{
		{Description: "อะไรก็ไม่รู้", Amount: decimal.RequireFromString("120")},
	}
	r := ingestDraft(t, fx, "branch_coffee", raw, "120")

	ctx := context.Background()
	rejected, err := fx.service.Reject(ctx, r.ID)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != domain.ReceiptStatusRejected {
		t.Fatalf("status = %s, want REJECTED", rejected.Status)
	}

	// Rejection never touches the ledger.
	rows, _ := fx.rows.QueryRange(ctx, "branch_coffee",
		civil.Date{Year: 2025, Month: 1, Day: 1}, civil.Date{Year: 2025, Month: 12, Day: 31})
	if len(rows) != 0 {
		t.Errorf("got %d ledger rows after reject, want 0", len(rows))
	}

	if _, err := fx.service.Reject(ctx, r.ID); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("double reject err = %v, want ErrIllegalTransition", err)
	}
}
