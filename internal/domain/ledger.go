package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// FlowType marks a ledger row as money out or money in.
type FlowType string

const (
	FlowExpense FlowType = "EXPENSE"
	FlowRevenue FlowType = "REVENUE"
)

// RowSource identifies what produced a ledger row.
type RowSource string

const (
	SourceReceipt  RowSource = "RECEIPT"
	SourcePOSBatch RowSource = "POS_BATCH"
)

// PaymentMethod is one of exactly two canonical values. Source-system
// payment labels are normalized onto these before commit.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentTransfer PaymentMethod = "TRANSFER"
)

// LedgerRow is one immutable committed financial fact. Rows are never
// updated or deleted; corrections are new offsetting rows. The transaction
// ID is derived from the source entity plus item ordinal, which makes
// retried commits collide with the original rows instead of duplicating
// them.
type LedgerRow struct {
	TransactionID string
	BranchID      string
	Date          civil.Date
	Flow          FlowType
	CategoryID    string // empty for revenue rows
	CategoryName  string
	Description   string
	Amount        decimal.Decimal
	Payment       PaymentMethod
	Source        RowSource
	CommittedBy   string
	CommittedAt   time.Time
}
