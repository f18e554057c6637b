package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// ReceiptStatus is the lifecycle state of a receipt.
// DRAFT is the only editable state; VERIFIED and REJECTED are terminal.
type ReceiptStatus string

const (
	ReceiptStatusDraft    ReceiptStatus = "DRAFT"
	ReceiptStatusVerified ReceiptStatus = "VERIFIED"
	ReceiptStatusRejected ReceiptStatus = "REJECTED"
)

// Provenance records where a line item's category assignment came from.
type Provenance string

const (
	// ProvenanceRule means a keyword rule matched the description.
	ProvenanceRule Provenance = "RULE"
	// ProvenanceModel means the classification backend produced the category
	// (or failed to, leaving the item uncategorized).
	ProvenanceModel Provenance = "MODEL"
	// ProvenanceManual means a human set or corrected the category.
	ProvenanceManual Provenance = "MANUAL"
)

// LineItem is a single expense line on a receipt. CategoryID is empty until
// the item has been categorized; an empty CategoryID blocks verification.
type LineItem struct {
	ID           string          `json:"id"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	CategoryID   string          `json:"category_id,omitempty"`
	CategoryName string          `json:"category_name,omitempty"`
	Confidence   float64         `json:"confidence"`
	Provenance   Provenance      `json:"provenance"`
	ManualEdit   bool            `json:"manual_edit"`
}

// Categorized reports whether the item carries a category assignment.
func (li LineItem) Categorized() bool {
	return li.CategoryID != ""
}

// Receipt is the mutable draft aggregate for one uploaded receipt.
// Once Status leaves DRAFT the aggregate is immutable; corrections after
// verification are new offsetting ledger rows, never edits here.
type Receipt struct {
	ID         string          `json:"id"`
	BranchID   string          `json:"branch_id"`
	Status     ReceiptStatus   `json:"status"`
	Merchant   string          `json:"merchant,omitempty"`
	Date       civil.Date      `json:"date"`
	Total      decimal.Decimal `json:"total"`
	ImageURI   string          `json:"image_uri,omitempty"`
	Items      []LineItem      `json:"items"`
	CreatedBy  string          `json:"created_by"`
	VerifiedBy string          `json:"verified_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	VerifiedAt *time.Time      `json:"verified_at,omitempty"`
}

// Terminal reports whether the receipt can no longer change state.
func (r *Receipt) Terminal() bool {
	return r.Status == ReceiptStatusVerified || r.Status == ReceiptStatusRejected
}

// ItemsTotal sums the line item amounts.
func (r *Receipt) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.Amount)
	}
	return total
}

// Branch is a single store or location. Its Type fixes the valid
// category set for every receipt and summary scoped to it.
type Branch struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      BusinessType `json:"type"`
	CreatedAt time.Time    `json:"created_at"`
}

// RawLineItem is what the extraction collaborator hands us before
// categorization: free-text description plus amount.
type RawLineItem struct {
	Description string
	Amount      decimal.Decimal
}
