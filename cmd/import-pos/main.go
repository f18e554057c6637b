// Command import-pos commits a point-of-sale CSV export straight to the
// BigQuery ledger, bypassing the HTTP API. Useful for backfilling history.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/the491/branchledger/internal/config"
	infraBQ "github.com/the491/branchledger/internal/infra/bigquery"
	"github.com/the491/branchledger/internal/ledger"
	"github.com/the491/branchledger/internal/logger"
	"github.com/the491/branchledger/internal/pos"
)

func main() {
	// Initialize structured logger
	log := logger.New("import-pos")

	var (
		filePath   string
		branchID   string
		importedBy string
	)

	flag.StringVar(&filePath, "file", "", "Path to POS CSV export (required)")
	flag.StringVar(&branchID, "branch", "", "Branch ID the sales belong to (required)")
	flag.StringVar(&importedBy, "by", "import-pos", "Recorded as the importer on each ledger row")
	flag.Parse()

	if filePath == "" || branchID == "" {
		log.Fatal().Msg("Usage: import-pos -file /path/to/sales.csv -branch BRANCH_ID [-by USER]")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Str("file", filePath).Msg("Failed to read CSV file")
	}

	records, err := pos.ParseCSV(bytes.NewReader(raw))
	if err != nil {
		log.Fatal().Err(err).Msg("CSV did not parse; nothing was committed")
	}

	ctx := context.Background()
	ctx = logger.WithContext(ctx, log)

	rows, err := infraBQ.New(ctx, cfg.ProjectID, cfg.BigQueryDataset, cfg.LedgerTable)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery ledger")
	}
	defer rows.Close()

	batch := &ledger.POSBatch{
		BatchID:    pos.BatchID(branchID, raw),
		BranchID:   branchID,
		ImportedBy: importedBy,
		Records:    records,
	}

	committer := ledger.NewCommitter(rows, log)
	inserted, err := committer.CommitBatch(ctx, batch)
	if err != nil {
		log.Fatal().Err(err).Str("batch_id", batch.BatchID).Msg("Batch commit failed")
	}

	fmt.Printf("Committed batch %s: %d records, %d inserted, %d already present, total %s\n",
		batch.BatchID, len(records), inserted, len(records)-inserted, batch.Total())
}
