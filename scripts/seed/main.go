package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

type sampleProduct struct {
	input    catalog.CreateInput
	outbound int64
}

var samples = []sampleProduct{
	{input: catalog.CreateInput{Name: "Arabica coffee beans", Unit: "kg", OpeningStock: 40, Price: 185000, Description: "Single origin, medium roast"}, outbound: 12},
	{input: catalog.CreateInput{Name: "Green tea leaves", Unit: "box", OpeningStock: 25, Price: 62000}, outbound: 5},
	{input: catalog.CreateInput{Name: "Cane sugar", Unit: "bag", OpeningStock: 8, Price: 18000}, outbound: 3},
	{input: catalog.CreateInput{Name: "Paper cups 12oz", Unit: "pack", OpeningStock: 120, Price: 35000}},
	{input: catalog.CreateInput{Name: "Oat milk", Unit: "carton", Price: 42000}},
}

func main() {
	if err := app.LoadDotEnv(); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	ctx := context.Background()

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Applying schema...")
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	services, err := app.BuildServices(app.ServiceParams{Config: cfg, Logger: logger, Pool: pool})
	if err != nil {
		log.Fatalf("build services: %v", err)
	}
	defer services.Close()

	_, page, err := services.Catalog.List(ctx, catalog.ListFilter{IncludeHidden: true})
	if err != nil {
		log.Fatalf("count products: %v", err)
	}
	total := page.Total
	if total > 0 && !force() {
		fmt.Printf("✓ %d products already present, skipping (set SEED_FORCE=1 to add more)\n", total)
		return
	}

	fmt.Println("→ Seeding products...")
	var codes []string
	for _, sample := range samples {
		product, err := services.Catalog.CreateProduct(ctx, sample.input)
		if err != nil {
			log.Fatalf("create %q: %v", sample.input.Name, err)
		}
		codes = append(codes, product.Code)
		if sample.outbound == 0 {
			continue
		}
		_, err = services.Ledger.ApplyMovement(ctx, ledger.MovementInput{
			ProductID:       product.ID,
			Direction:       ledger.DirectionOut,
			Quantity:        sample.outbound,
			UseProductPrice: true,
			Notes:           "Seed sale",
			Actor:           "seed",
		})
		if err != nil && !errors.Is(err, ledger.ErrInsufficientStock) {
			log.Fatalf("seed movement for %s: %v", product.Code, err)
		}
	}
	fmt.Printf("✓ Seeded %d products: %s\n", len(codes), strings.Join(codes, ", "))
}

func force() bool {
	return os.Getenv("SEED_FORCE") == "1"
}
