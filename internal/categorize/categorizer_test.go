package categorize

import (
	"context"
	"errors"
	"testing"

	"github.com/the491/branchledger/internal/domain"
	"github.com/the491/branchledger/internal/logger"
)

// mockClassifier is a mock classification backend for testing.
type mockClassifier struct {
	ClassifyFunc func(ctx context.Context, description string, bt domain.BusinessType) (ClassifierResult, error)
	calls        int
}

func (m *mockClassifier) Classify(ctx context.Context, description string, bt domain.BusinessType) (ClassifierResult, error) {
	m.calls++
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, description, bt)
	}
	return ClassifierResult{}, errors.New("no classifier configured")
}

func newTestCategorizer(classifier Classifier) *Categorizer {
	return New(classifier, 0.8, logger.NewWithWriter(discardWriter{}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestCategorize_RuleMatch(t *testing.T) {
	// Rule matches must win regardless of classifier availability, so use a
	// classifier that fails the test if it is ever called.
	classifier := &mockClassifier{
		ClassifyFunc: func(ctx context.Context, description string, bt domain.BusinessType) (ClassifierResult, error) {
			t.Fatal("classifier must not be invoked for rule matches")
			return ClassifierResult{}, nil
		},
	}
	c := newTestCategorizer(classifier)

	tests := []struct {
		name         string
		description  string
		businessType domain.BusinessType
		wantCategory string
	}{
		{"thai keyword milk", "นมสด Meiji 2L", domain.BusinessTypeCoffee, "C1"},
		{"thai keyword pork", "หมูสับ 2 กก.", domain.BusinessTypeRestaurant, "F1"},
		{"latin keyword pos", "ค่าบริการ POS รายเดือน", domain.BusinessTypeCoffee, "C6"},
		{"case folded keyword", "WIFI router", domain.BusinessTypeCoffee, "C4"},
		{"keyword with punctuation around", "ค่าเช่า!!!", domain.BusinessTypeCoffee, "C3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Categorize(context.Background(), tt.description, tt.businessType)
			if got.CategoryID != tt.wantCategory {
				t.Errorf("Categorize(%q) = %q, want %q", tt.description, got.CategoryID, tt.wantCategory)
			}
			if got.Confidence != 1.0 {
				t.Errorf("rule match confidence = %v, want 1.0", got.Confidence)
			}
			if got.Provenance != domain.ProvenanceRule {
				t.Errorf("rule match provenance = %q, want RULE", got.Provenance)
			}
		})
	}
}

func TestCategorize_TieBreakDeclarationOrder(t *testing.T) {
	c := newTestCategorizer(nil)

	// "ทิชชู่" appears in both C5 (Equip & Maint) and the restaurant F4
	// table; within one table, "ที่จอดรถ" is declared under C3 before C-
	// anything later. The first category in table order must win.
	got := c.Categorize(context.Background(), "ซื้อทิชชู่", domain.BusinessTypeCoffee)
	if got.CategoryID != "C5" {
		t.Errorf("coffee ทิชชู่ = %q, want C5 (first declared match)", got.CategoryID)
	}

	got = c.Categorize(context.Background(), "ซื้อทิชชู่", domain.BusinessTypeRestaurant)
	if got.CategoryID != "F4" {
		t.Errorf("restaurant ทิชชู่ = %q, want F4 (first declared match)", got.CategoryID)
	}

	// "ที่จอดรถ" is shared between C3 and F7 across tables and must resolve
	// per-table deterministically.
	got = c.Categorize(context.Background(), "ค่าที่จอดรถ", domain.BusinessTypeRestaurant)
	if got.CategoryID != "F7" {
		t.Errorf("restaurant ที่จอดรถ = %q, want F7", got.CategoryID)
	}
}

func TestCategorize_ModelFallback(t *testing.T) {
	t.Run("backend answer passed through", func(t *testing.T) {
		confidence := 0.92
		classifier := &mockClassifier{
			ClassifyFunc: func(ctx context.Context, description string, bt domain.BusinessType) (ClassifierResult, error) {
				return ClassifierResult{CategoryID: "C7", Confidence: &confidence}, nil
			},
		}
		c := newTestCategorizer(classifier)

		got := c.Categorize(context.Background(), "mystery expense", domain.BusinessTypeCoffee)
		if got.CategoryID != "C7" {
			t.Errorf("CategoryID = %q, want C7", got.CategoryID)
		}
		if got.Confidence != 0.92 {
			t.Errorf("Confidence = %v, want 0.92 (passed through)", got.Confidence)
		}
		if got.Provenance != domain.ProvenanceModel {
			t.Errorf("Provenance = %q, want MODEL", got.Provenance)
		}
	})

	t.Run("missing confidence uses default", func(t *testing.T) {
		classifier := &mockClassifier{
			ClassifyFunc: func(ctx context.Context, description string, bt domain.BusinessType) (ClassifierResult, error) {
				return ClassifierResult{CategoryID: "F3"}, nil
			},
		}
		c := newTestCategorizer(classifier)

		got := c.Categorize(context.Background(), "mystery expense", domain.BusinessTypeRestaurant)
		if got.Confidence != 0.8 {
			t.Errorf("Confidence = %v, want default 0.8", got.Confidence)
		}
	})

	t.Run("backend unreachable degrades to uncategorized", func(t *testing.T) {
		classifier := &mockClassifier{
			ClassifyFunc: func(ctx context.Context, description string, bt domain.BusinessType) (ClassifierResult, error) {
				return ClassifierResult{}, errors.New("backend timeout")
			},
		}
		c := newTestCategorizer(classifier)

		got := c.Categorize(context.Background(), "mystery expense", domain.BusinessTypeCoffee)
		if got.CategoryID != "" {
			t.Errorf("CategoryID = %q, want empty", got.CategoryID)
		}
		if got.Confidence != 0 {
			t.Errorf("Confidence = %v, want 0", got.Confidence)
		}
		if got.Provenance != domain.ProvenanceModel {
			t.Errorf("Provenance = %q, want MODEL", got.Provenance)
		}
	})

	t.Run("out-of-set answer fails closed", func(t *testing.T) {
		classifier := &mockClassifier{
			ClassifyFunc: func(ctx context.Context, description string, bt domain.BusinessType) (ClassifierResult, error) {
				// F1 is a restaurant category, not valid for COFFEE.
				return ClassifierResult{CategoryID: "F1"}, nil
			},
		}
		c := newTestCategorizer(classifier)

		got := c.Categorize(context.Background(), "mystery expense", domain.BusinessTypeCoffee)
		if got.CategoryID != "" {
			t.Errorf("CategoryID = %q, want empty for out-of-set answer", got.CategoryID)
		}
		if got.Confidence != 0 {
			t.Errorf("Confidence = %v, want 0", got.Confidence)
		}
	})

	t.Run("nil classifier degrades to uncategorized", func(t *testing.T) {
		c := newTestCategorizer(nil)

		got := c.Categorize(context.Background(), "mystery expense", domain.BusinessTypeCoffee)
		if got.CategoryID != "" || got.Confidence != 0 || got.Provenance != domain.ProvenanceModel {
			t.Errorf("got %+v, want uncategorized MODEL assignment", got)
		}
	})
}

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  Hello, World!  ", "hello world"},
		{"นมสด Meiji 2L", "นมสด meiji 2l"},
		{"a   b\t\nc", "a b c"},
		{"POS-fee (monthly)", "posfee monthly"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeDescription(tt.input)
			if got != tt.want {
				t.Errorf("NormalizeDescription(%q) = %q, want %q", tt.input, got, tt.want)
			}

			// Normalization must be idempotent.
			if again := NormalizeDescription(got); again != got {
				t.Errorf("not idempotent: NormalizeDescription(%q) = %q", got, again)
			}
		})
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain json", `{"category_id": "C1"}`, `{"category_id": "C1"}`},
		{"fenced json", "```json\n{\"category_id\": \"C1\"}\n```", `{"category_id": "C1"}`},
		{"prose around json", "Sure! Here you go: {\"category_id\": \"C1\"} Hope that helps.", `{"category_id": "C1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanModelJSON(tt.input); got != tt.want {
				t.Errorf("cleanModelJSON(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
