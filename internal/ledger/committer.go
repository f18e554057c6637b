package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/the491/branchledger/internal/domain"
)

// Repository is the append-only store for committed ledger rows. The
// Committer is the sole writer; the summary engine only reads.
type Repository interface {
	// InsertRows appends rows, silently skipping any whose transaction ID
	// is already committed. It returns the number of rows actually
	// inserted. Either all new rows of a call persist or none do.
	InsertRows(ctx context.Context, rows []*domain.LedgerRow) (int, error)

	// QueryRange returns all rows for a branch within [start, end].
	QueryRange(ctx context.Context, branchID string, start, end civil.Date) ([]*domain.LedgerRow, error)
}

// POSRecord is one normalized point-of-sale revenue record.
type POSRecord struct {
	Date         civil.Date
	Amount       decimal.Decimal
	PaymentLabel string
}

// POSBatch is a set of POS records imported as one logical transaction.
// BatchID must be stable across retries of the same upload (file checksum
// or upload UUID) so re-imports are no-ops.
type POSBatch struct {
	BatchID    string
	BranchID   string
	ImportedBy string
	Records    []POSRecord
}

// Total sums the record amounts.
func (b *POSBatch) Total() decimal.Decimal {
	total := decimal.Zero
	for _, rec := range b.Records {
		total = total.Add(rec.Amount)
	}
	return total
}

// Committer turns verified receipts and POS batches into ledger rows and
// writes them exactly once. Idempotency comes from deriving transaction IDs
// from the source entity plus item ordinal and letting the repository
// reject duplicates.
type Committer struct {
	repo Repository
	log  zerolog.Logger
}

// NewCommitter creates a Committer writing through the given repository.
func NewCommitter(repo Repository, log zerolog.Logger) *Committer {
	return &Committer{repo: repo, log: log}
}

// CommitReceipt writes one EXPENSE row per line item of a verified receipt.
// Re-committing the same receipt inserts nothing and is not an error.
func (c *Committer) CommitReceipt(ctx context.Context, r *domain.Receipt) ([]*domain.LedgerRow, error) {
	if r.Status != domain.ReceiptStatusVerified {
		return nil, fmt.Errorf("CommitReceipt: receipt %s is %s, want VERIFIED", r.ID, r.Status)
	}

	now := time.Now().UTC()
	rows := make([]*domain.LedgerRow, 0, len(r.Items))
	for i, item := range r.Items {
		if item.Amount.IsNegative() {
			return nil, domain.NewValidationError(
				fmt.Sprintf("items[%d].amount", i),
				"amount must be non-negative, got %s", item.Amount)
		}
		rows = append(rows, &domain.LedgerRow{
			TransactionID: ReceiptTransactionID(r.ID, i),
			BranchID:      r.BranchID,
			Date:          r.Date,
			Flow:          domain.FlowExpense,
			CategoryID:    item.CategoryID,
			CategoryName:  item.CategoryName,
			Description:   item.Description,
			Amount:        item.Amount,
			Payment:       domain.PaymentCash,
			Source:        domain.SourceReceipt,
			CommittedBy:   r.VerifiedBy,
			CommittedAt:   now,
		})
	}

	inserted, err := c.repo.InsertRows(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("CommitReceipt: inserting rows: %w", err)
	}

	if inserted < len(rows) {
		// Retried commit: the missing rows were already there.
		c.log.Info().Str("receipt_id", r.ID).Int("skipped", len(rows)-inserted).
			Msg("Duplicate ledger rows skipped on receipt commit")
	}

	return rows, nil
}

// CommitBatch writes one REVENUE row per POS record. The whole batch is
// validated and committed as a unit: a negative batch total rejects it
// outright, and retried imports of the same batch ID insert nothing.
func (c *Committer) CommitBatch(ctx context.Context, batch *POSBatch) (int, error) {
	if len(batch.Records) == 0 {
		return 0, domain.NewValidationError("records", "POS batch has no records")
	}
	if batch.Total().IsNegative() {
		return 0, domain.ErrNegativeBatchTotal
	}

	now := time.Now().UTC()
	rows := make([]*domain.LedgerRow, 0, len(batch.Records))
	for i, rec := range batch.Records {
		rows = append(rows, &domain.LedgerRow{
			TransactionID: BatchTransactionID(batch.BatchID, i),
			BranchID:      batch.BranchID,
			Date:          rec.Date,
			Flow:          domain.FlowRevenue,
			Description:   "POS Revenue",
			Amount:        rec.Amount,
			Payment:       NormalizePaymentMethod(rec.PaymentLabel),
			Source:        domain.SourcePOSBatch,
			CommittedBy:   batch.ImportedBy,
			CommittedAt:   now,
		})
	}

	inserted, err := c.repo.InsertRows(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("CommitBatch: inserting rows: %w", err)
	}

	if inserted < len(rows) {
		c.log.Info().Str("batch_id", batch.BatchID).Int("skipped", len(rows)-inserted).
			Msg("Duplicate ledger rows skipped on POS batch commit")
	}

	return inserted, nil
}

// ReceiptTransactionID derives the stable ledger transaction ID for the
// item at the given ordinal of a receipt.
func ReceiptTransactionID(receiptID string, itemIndex int) string {
	return fmt.Sprintf("%s_item_%d", receiptID, itemIndex+1)
}

// BatchTransactionID derives the stable ledger transaction ID for the
// record at the given ordinal of a POS batch.
func BatchTransactionID(batchID string, recordIndex int) string {
	return fmt.Sprintf("%s_row_%d", batchID, recordIndex+1)
}

// cashLabels are the source-system payment labels that map to CASH.
// Everything else, including labels we have never seen, maps to TRANSFER;
// unmapped labels are defaulted, never dropped.
var cashLabels = map[string]bool{
	"cash":   true,
	"เงินสด": true,
}

// NormalizePaymentMethod maps a source-system payment label onto one of the
// two canonical payment methods.
func NormalizePaymentMethod(label string) domain.PaymentMethod {
	if cashLabels[strings.ToLower(strings.TrimSpace(label))] {
		return domain.PaymentCash
	}
	return domain.PaymentTransfer
}
