package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/the491/branchledger/internal/domain"
)

// amountScale is the decimal exponent used when reading NUMERIC amounts
// back into decimals. BigQuery NUMERIC carries 9 fractional digits.
const amountScale = 9

// LedgerRowRecord is the BigQuery schema mapping for one committed fact.
// Amounts are NUMERIC, never FLOAT64.
type LedgerRowRecord struct {
	TransactionID string              `bigquery:"transaction_id"` // REQUIRED
	BranchID      string              `bigquery:"branch_id"`      // REQUIRED
	Date          civil.Date          `bigquery:"date"`           // REQUIRED
	Flow          string              `bigquery:"flow"`           // REQUIRED
	CategoryID    bigquery.NullString `bigquery:"category_id"`    // NULLABLE, empty for revenue
	CategoryName  bigquery.NullString `bigquery:"category_name"`  // NULLABLE
	Description   string              `bigquery:"description"`
	Amount        *big.Rat            `bigquery:"amount"` // REQUIRED NUMERIC
	Payment       string              `bigquery:"payment_method"`
	Source        string              `bigquery:"source"`
	CommittedBy   string              `bigquery:"committed_by"`
	CommittedAt   time.Time           `bigquery:"committed_at"`
}

// Ledger is the append-only committed-facts store backed by a single
// BigQuery table. It implements the ledger repository contract: inserts
// are idempotent on transaction ID, duplicates are skipped silently.
type Ledger struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// New creates a Ledger with its own BigQuery client.
func New(ctx context.Context, projectID, dataset, table string) (*Ledger, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery ledger: client: %w", err)
	}
	return NewWithClient(client, dataset, table), nil
}

// NewWithClient creates a Ledger on an existing client. The caller owns
// the client's lifecycle.
func NewWithClient(client *bigquery.Client, dataset, table string) *Ledger {
	return &Ledger{client: client, dataset: dataset, table: table}
}

// Close releases the underlying client.
func (l *Ledger) Close() error {
	return l.client.Close()
}

// InsertRows appends rows whose transaction IDs are not yet present and
// returns how many were actually inserted. Existing IDs are filtered out
// with a lookup query first; the streaming insert additionally carries the
// transaction ID as the insert ID, so a retry racing the lookup still
// cannot double-append within the dedupe window.
func (l *Ledger) InsertRows(ctx context.Context, rows []*domain.LedgerRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.TransactionID
	}
	existing, err := l.existingIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	var savers []*bigquery.StructSaver
	for _, row := range rows {
		if existing[row.TransactionID] {
			continue
		}
		savers = append(savers, &bigquery.StructSaver{
			Struct:   toRecord(row),
			InsertID: row.TransactionID,
		})
	}
	if len(savers) == 0 {
		return 0, nil
	}

	inserter := l.client.Dataset(l.dataset).Table(l.table).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return 0, fmt.Errorf("bigquery ledger: inserting %d rows: %w", len(savers), err)
	}
	return len(savers), nil
}

// QueryRange returns the branch's committed rows with dates in [start, end],
// ordered by date then transaction ID.
func (l *Ledger) QueryRange(ctx context.Context, branchID string, start, end civil.Date) ([]*domain.LedgerRow, error) {
	q := l.client.Query(fmt.Sprintf(`
		SELECT
			transaction_id,
			branch_id,
			date,
			flow,
			category_id,
			category_name,
			description,
			amount,
			payment_method,
			source,
			committed_by,
			committed_at
		FROM %s.%s
		WHERE branch_id = @branch_id
		  AND date >= @start_date
		  AND date <= @end_date
		ORDER BY date, transaction_id
	`, l.dataset, l.table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "branch_id", Value: branchID},
		{Name: "start_date", Value: start},
		{Name: "end_date", Value: end},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery ledger: range query: %w", err)
	}

	var rows []*domain.LedgerRow
	for {
		var rec LedgerRowRecord
		err := it.Next(&rec)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery ledger: iter next: %w", err)
		}
		rows = append(rows, fromRecord(&rec))
	}
	return rows, nil
}

// existingIDs looks up which of the candidate transaction IDs are already
// committed.
func (l *Ledger) existingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	q := l.client.Query(fmt.Sprintf(`
		SELECT transaction_id
		FROM %s.%s
		WHERE transaction_id IN UNNEST(@ids)
	`, l.dataset, l.table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "ids", Value: ids},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery ledger: existence check: %w", err)
	}

	existing := make(map[string]bool)
	for {
		var rec struct {
			TransactionID string `bigquery:"transaction_id"`
		}
		err := it.Next(&rec)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery ledger: existence iter: %w", err)
		}
		existing[rec.TransactionID] = true
	}
	return existing, nil
}

func toRecord(row *domain.LedgerRow) *LedgerRowRecord {
	return &LedgerRowRecord{
		TransactionID: row.TransactionID,
		BranchID:      row.BranchID,
		Date:          row.Date,
		Flow:          string(row.Flow),
		CategoryID:    bigquery.NullString{StringVal: row.CategoryID, Valid: row.CategoryID != ""},
		CategoryName:  bigquery.NullString{StringVal: row.CategoryName, Valid: row.CategoryName != ""},
		Description:   row.Description,
		Amount:        row.Amount.Rat(),
		Payment:       string(row.Payment),
		Source:        string(row.Source),
		CommittedBy:   row.CommittedBy,
		CommittedAt:   row.CommittedAt,
	}
}

func fromRecord(rec *LedgerRowRecord) *domain.LedgerRow {
	return &domain.LedgerRow{
		TransactionID: rec.TransactionID,
		BranchID:      rec.BranchID,
		Date:          rec.Date,
		Flow:          domain.FlowType(rec.Flow),
		CategoryID:    rec.CategoryID.StringVal,
		CategoryName:  rec.CategoryName.StringVal,
		Description:   rec.Description,
		Amount:        decimal.NewFromBigRat(rec.Amount, amountScale),
		Payment:       domain.PaymentMethod(rec.Payment),
		Source:        domain.RowSource(rec.Source),
		CommittedBy:   rec.CommittedBy,
		CommittedAt:   rec.CommittedAt,
	}
}
