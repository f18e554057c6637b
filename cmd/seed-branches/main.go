// Command seed-branches writes the initial branch registry to Firestore.
// Upserts by ID, so it is safe to rerun after editing the seed set.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/the491/branchledger/internal/config"
	"github.com/the491/branchledger/internal/domain"
	infraFS "github.com/the491/branchledger/internal/infra/firestore"
	"github.com/the491/branchledger/internal/logger"
)

var seedBranches = []domain.Branch{
	{ID: "branch_coffee", Name: "The 491 Coffee", Type: domain.BusinessTypeCoffee},
	{ID: "branch_restaurant", Name: "The 491 Kitchen", Type: domain.BusinessTypeRestaurant},
	{ID: "branch_steak", Name: "The 491 Steak", Type: domain.BusinessTypeRestaurant},
}

func main() {
	log := logger.New("seed-branches")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()
	ctx = logger.WithContext(ctx, log)

	store, err := infraFS.NewStore(ctx, cfg.ProjectID, cfg.FirestoreDB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Firestore store")
	}
	defer store.Close()

	for i := range seedBranches {
		b := seedBranches[i]
		if err := store.UpsertBranch(ctx, &b); err != nil {
			log.Fatal().Err(err).Str("branch_id", b.ID).Msg("Failed to upsert branch")
		}
		fmt.Printf("Seeded %s (%s, %s)\n", b.ID, b.Name, b.Type)
	}
}
