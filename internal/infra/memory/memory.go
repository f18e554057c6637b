// Package memory provides in-memory repository implementations, safe for
// concurrent use. They back the test suites and single-process local runs;
// production wiring uses the firestore and bigquery packages instead.
package memory

import (
	"context"
	"sort"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/the491/branchledger/internal/domain"
)

// LedgerStore is an in-memory append-only ledger. Duplicate transaction IDs
// are skipped, matching the dedupe contract of the BigQuery repository.
type LedgerStore struct {
	mu   sync.RWMutex
	rows map[string]*domain.LedgerRow
}

// NewLedgerStore creates an empty in-memory ledger.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{rows: make(map[string]*domain.LedgerRow)}
}

// InsertRows appends rows, skipping already-committed transaction IDs.
func (s *LedgerStore) InsertRows(ctx context.Context, rows []*domain.LedgerRow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, row := range rows {
		if _, exists := s.rows[row.TransactionID]; exists {
			continue
		}
		rowCopy := *row
		s.rows[row.TransactionID] = &rowCopy
		inserted++
	}
	return inserted, nil
}

// QueryRange returns rows for a branch within [start, end], ordered by date
// then transaction ID.
func (s *LedgerStore) QueryRange(ctx context.Context, branchID string, start, end civil.Date) ([]*domain.LedgerRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerRow
	for _, row := range s.rows {
		if row.BranchID != branchID {
			continue
		}
		if row.Date.Before(start) || row.Date.After(end) {
			continue
		}
		rowCopy := *row
		result = append(result, &rowCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].TransactionID < result[j].TransactionID
	})

	return result, nil
}

// ReceiptStore is an in-memory draft receipt repository.
type ReceiptStore struct {
	mu       sync.RWMutex
	receipts map[string]*domain.Receipt
}

// NewReceiptStore creates an empty receipt store.
func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{receipts: make(map[string]*domain.Receipt)}
}

// CreateReceipt stores a new receipt, assigning an ID when absent.
func (s *ReceiptStore) CreateReceipt(ctx context.Context, r *domain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.receipts[r.ID] = copyReceipt(r)
	return nil
}

// GetReceipt retrieves a receipt by ID.
func (s *ReceiptStore) GetReceipt(ctx context.Context, id string) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.receipts[id]
	if !exists {
		return nil, domain.ErrReceiptNotFound
	}
	return copyReceipt(r), nil
}

// UpdateReceipt overwrites a stored receipt.
func (s *ReceiptStore) UpdateReceipt(ctx context.Context, r *domain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receipts[r.ID]; !exists {
		return domain.ErrReceiptNotFound
	}
	s.receipts[r.ID] = copyReceipt(r)
	return nil
}

// ListReceipts returns receipts matching the filter, newest first.
func (s *ReceiptStore) ListReceipts(ctx context.Context, branchID string, status domain.ReceiptStatus, limit int) ([]*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Receipt
	for _, r := range s.receipts {
		if branchID != "" && r.BranchID != branchID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		result = append(result, copyReceipt(r))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func copyReceipt(r *domain.Receipt) *domain.Receipt {
	c := *r
	c.Items = make([]domain.LineItem, len(r.Items))
	copy(c.Items, r.Items)
	if r.VerifiedAt != nil {
		t := *r.VerifiedAt
		c.VerifiedAt = &t
	}
	return &c
}

// BranchStore is an in-memory branch registry.
type BranchStore struct {
	mu       sync.RWMutex
	branches map[string]*domain.Branch
}

// NewBranchStore creates an empty branch store.
func NewBranchStore() *BranchStore {
	return &BranchStore{branches: make(map[string]*domain.Branch)}
}

// UpsertBranch creates or replaces a branch.
func (s *BranchStore) UpsertBranch(ctx context.Context, b *domain.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	branchCopy := *b
	s.branches[b.ID] = &branchCopy
	return nil
}

// GetBranch retrieves a branch by ID.
func (s *BranchStore) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, exists := s.branches[id]
	if !exists {
		return nil, domain.ErrBranchNotFound
	}
	branchCopy := *b
	return &branchCopy, nil
}

// ListBranches returns all branches sorted by name.
func (s *BranchStore) ListBranches(ctx context.Context) ([]*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Branch, 0, len(s.branches))
	for _, b := range s.branches {
		branchCopy := *b
		result = append(result, &branchCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}
