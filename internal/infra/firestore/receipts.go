package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/the491/branchledger/internal/domain"
)

const (
	receiptsCollection = "receipts"
	branchesCollection = "branches"
)

// receiptDoc is the Firestore document shape for a receipt. Amounts are
// stored as decimal strings, never as floats.
type receiptDoc struct {
	BranchID   string        `firestore:"branch_id"`
	Status     string        `firestore:"status"`
	Merchant   string        `firestore:"merchant"`
	Date       string        `firestore:"date"` // ISO 8601 civil date
	Total      string        `firestore:"total"`
	ImageURI   string        `firestore:"image_uri,omitempty"`
	Items      []lineItemDoc `firestore:"items"`
	CreatedBy  string        `firestore:"created_by"`
	VerifiedBy string        `firestore:"verified_by,omitempty"`
	CreatedAt  time.Time     `firestore:"created_at"`
	VerifiedAt *time.Time    `firestore:"verified_at,omitempty"`
}

type lineItemDoc struct {
	ID           string  `firestore:"id"`
	Description  string  `firestore:"description"`
	Amount       string  `firestore:"amount"`
	CategoryID   string  `firestore:"category_id,omitempty"`
	CategoryName string  `firestore:"category_name,omitempty"`
	Confidence   float64 `firestore:"confidence"`
	Provenance   string  `firestore:"provenance"`
	ManualEdit   bool    `firestore:"manual_edit"`
}

type branchDoc struct {
	Name      string    `firestore:"name"`
	Type      string    `firestore:"type"`
	CreatedAt time.Time `firestore:"created_at"`
}

// Store holds draft receipts and the branch registry in Firestore.
// The committed ledger lives in BigQuery; this store only ever sees the
// mutable side of the pipeline.
type Store struct {
	client *firestore.Client
}

// NewStore connects to the given Firestore database.
func NewStore(ctx context.Context, projectID, database string) (*Store, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return nil, fmt.Errorf("firestore store: client: %w", err)
	}
	return &Store{client: client}, nil
}

// NewStoreWithClient wraps an existing client. The caller owns its lifecycle.
func NewStoreWithClient(client *firestore.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// CreateReceipt writes a new receipt document, assigning an ID when the
// receipt has none.
func (s *Store) CreateReceipt(ctx context.Context, r *domain.Receipt) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	doc, err := toReceiptDoc(r)
	if err != nil {
		return err
	}
	if _, err := s.client.Collection(receiptsCollection).Doc(r.ID).Create(ctx, doc); err != nil {
		return fmt.Errorf("firestore store: creating receipt %s: %w", r.ID, err)
	}
	return nil
}

// GetReceipt loads a receipt by ID.
func (s *Store) GetReceipt(ctx context.Context, id string) (*domain.Receipt, error) {
	snap, err := s.client.Collection(receiptsCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, domain.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore store: getting receipt %s: %w", id, err)
	}

	var doc receiptDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore store: decoding receipt %s: %w", id, err)
	}
	return fromReceiptDoc(id, &doc)
}

// UpdateReceipt overwrites the receipt document.
func (s *Store) UpdateReceipt(ctx context.Context, r *domain.Receipt) error {
	doc, err := toReceiptDoc(r)
	if err != nil {
		return err
	}
	if _, err := s.client.Collection(receiptsCollection).Doc(r.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore store: updating receipt %s: %w", r.ID, err)
	}
	return nil
}

// ListReceipts returns receipts for a branch, newest first, optionally
// filtered by status. limit <= 0 means no limit.
func (s *Store) ListReceipts(ctx context.Context, branchID string, st domain.ReceiptStatus, limit int) ([]*domain.Receipt, error) {
	q := s.client.Collection(receiptsCollection).
		Where("branch_id", "==", branchID).
		OrderBy("created_at", firestore.Desc)
	if st != "" {
		q = q.Where("status", "==", string(st))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	it := q.Documents(ctx)
	defer it.Stop()

	var receipts []*domain.Receipt
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore store: listing receipts: %w", err)
		}
		var doc receiptDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore store: decoding receipt %s: %w", snap.Ref.ID, err)
		}
		r, err := fromReceiptDoc(snap.Ref.ID, &doc)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

// UpsertBranch writes a branch document keyed by branch ID.
func (s *Store) UpsertBranch(ctx context.Context, b *domain.Branch) error {
	doc := branchDoc{Name: b.Name, Type: string(b.Type), CreatedAt: b.CreatedAt}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if _, err := s.client.Collection(branchesCollection).Doc(b.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore store: upserting branch %s: %w", b.ID, err)
	}
	return nil
}

// GetBranch loads a branch by ID.
func (s *Store) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	snap, err := s.client.Collection(branchesCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, domain.ErrBranchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore store: getting branch %s: %w", id, err)
	}

	var doc branchDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore store: decoding branch %s: %w", id, err)
	}
	return fromBranchDoc(id, &doc)
}

// ListBranches returns all branches ordered by name.
func (s *Store) ListBranches(ctx context.Context) ([]*domain.Branch, error) {
	it := s.client.Collection(branchesCollection).OrderBy("name", firestore.Asc).Documents(ctx)
	defer it.Stop()

	var branches []*domain.Branch
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore store: listing branches: %w", err)
		}
		var doc branchDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore store: decoding branch %s: %w", snap.Ref.ID, err)
		}
		b, err := fromBranchDoc(snap.Ref.ID, &doc)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, nil
}

func toReceiptDoc(r *domain.Receipt) (*receiptDoc, error) {
	doc := &receiptDoc{
		BranchID:   r.BranchID,
		Status:     string(r.Status),
		Merchant:   r.Merchant,
		Date:       r.Date.String(),
		Total:      r.Total.String(),
		ImageURI:   r.ImageURI,
		Items:      make([]lineItemDoc, len(r.Items)),
		CreatedBy:  r.CreatedBy,
		VerifiedBy: r.VerifiedBy,
		CreatedAt:  r.CreatedAt,
		VerifiedAt: r.VerifiedAt,
	}
	for i, item := range r.Items {
		doc.Items[i] = lineItemDoc{
			ID:           item.ID,
			Description:  item.Description,
			Amount:       item.Amount.String(),
			CategoryID:   item.CategoryID,
			CategoryName: item.CategoryName,
			Confidence:   item.Confidence,
			Provenance:   string(item.Provenance),
			ManualEdit:   item.ManualEdit,
		}
	}
	return doc, nil
}

func fromReceiptDoc(id string, doc *receiptDoc) (*domain.Receipt, error) {
	date, err := civil.ParseDate(doc.Date)
	if err != nil {
		return nil, fmt.Errorf("firestore store: receipt %s: bad date %q: %w", id, doc.Date, err)
	}
	total, err := decimal.NewFromString(doc.Total)
	if err != nil {
		return nil, fmt.Errorf("firestore store: receipt %s: bad total %q: %w", id, doc.Total, err)
	}

	r := &domain.Receipt{
		ID:         id,
		BranchID:   doc.BranchID,
		Status:     domain.ReceiptStatus(doc.Status),
		Merchant:   doc.Merchant,
		Date:       date,
		Total:      total,
		ImageURI:   doc.ImageURI,
		Items:      make([]domain.LineItem, len(doc.Items)),
		CreatedBy:  doc.CreatedBy,
		VerifiedBy: doc.VerifiedBy,
		CreatedAt:  doc.CreatedAt,
		VerifiedAt: doc.VerifiedAt,
	}
	for i, item := range doc.Items {
		amount, err := decimal.NewFromString(item.Amount)
		if err != nil {
			return nil, fmt.Errorf("firestore store: receipt %s item %s: bad amount %q: %w", id, item.ID, item.Amount, err)
		}
		r.Items[i] = domain.LineItem{
			ID:           item.ID,
			Description:  item.Description,
			Amount:       amount,
			CategoryID:   item.CategoryID,
			CategoryName: item.CategoryName,
			Confidence:   item.Confidence,
			Provenance:   domain.Provenance(item.Provenance),
			ManualEdit:   item.ManualEdit,
		}
	}
	return r, nil
}

func fromBranchDoc(id string, doc *branchDoc) (*domain.Branch, error) {
	bt, err := domain.ParseBusinessType(doc.Type)
	if err != nil {
		return nil, fmt.Errorf("firestore store: branch %s: %w", id, err)
	}
	return &domain.Branch{ID: id, Name: doc.Name, Type: bt, CreatedAt: doc.CreatedAt}, nil
}
