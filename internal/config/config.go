package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/the491/branchledger/internal/domain"
)

// Config holds all runtime settings, loaded from environment variables with
// an optional .env file. Decision constants that the business logic depends
// on (total tolerance, default model confidence, cost-ratio category sets)
// live here so they are set in exactly one place.
type Config struct {
	// Google Cloud
	ProjectID     string
	Location      string
	StorageBucket string

	// Firestore (draft receipts and branches)
	FirestoreDB string

	// BigQuery (committed ledger)
	BigQueryDataset string
	LedgerTable     string

	// Document AI invoice processor
	DocAIProcessorID string
	DocAILocation    string

	// Gemini classification backend
	GeminiModel string

	// TotalTolerance is the maximum allowed difference between the sum of
	// line item amounts and the submitted total at verification time.
	TotalTolerance decimal.Decimal

	// ModelDefaultConfidence is used when the classification backend
	// returns a category without a confidence score.
	ModelDefaultConfidence float64

	// PrimaryCostCategories designates, per business type, the categories
	// whose spend forms the primary-ingredient cost ratio.
	PrimaryCostCategories map[domain.BusinessType][]string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ProjectID:        getEnv("GCP_PROJECT_ID", "project-the491"),
		Location:         getEnv("GCP_LOCATION", "asia-southeast1"),
		StorageBucket:    getEnv("GCP_STORAGE_BUCKET", "the491-receipts"),
		FirestoreDB:      getEnv("FIRESTORE_DB", "(default)"),
		BigQueryDataset:  getEnv("BIGQUERY_DATASET", "the491_analytics"),
		LedgerTable:      getEnv("BIGQUERY_LEDGER_TABLE", "fact_transactions"),
		DocAIProcessorID: getEnv("DOCAI_PROCESSOR_ID", ""),
		DocAILocation:    getEnv("DOCAI_LOCATION", "us"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		PrimaryCostCategories: map[domain.BusinessType][]string{
			domain.BusinessTypeCoffee:     {"C1"},
			domain.BusinessTypeRestaurant: {"F1", "F6"},
		},
	}

	tolerance, err := decimal.NewFromString(getEnv("LEDGER_TOTAL_TOLERANCE", "0.01"))
	if err != nil {
		return nil, err
	}
	cfg.TotalTolerance = tolerance

	confidence, err := strconv.ParseFloat(getEnv("MODEL_DEFAULT_CONFIDENCE", "0.8"), 64)
	if err != nil {
		return nil, err
	}
	cfg.ModelDefaultConfidence = confidence

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
