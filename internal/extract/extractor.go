package extract

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/the491/branchledger/internal/domain"
)

// Header is the receipt-level data an extractor recovers from the image.
// HasDate distinguishes a missing date from the zero date.
type Header struct {
	Merchant string
	Date     civil.Date
	HasDate  bool
	Total    decimal.Decimal
}

// Extraction is the raw output of OCR before categorization. Items carry
// free-text descriptions and amounts only; category assignment happens
// downstream.
type Extraction struct {
	Header Header
	Items  []domain.RawLineItem
}

// Extractor pulls structured receipt data out of a document image.
type Extractor interface {
	Extract(ctx context.Context, content []byte, mimeType string) (*Extraction, error)
}
