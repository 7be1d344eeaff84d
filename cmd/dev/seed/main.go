package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"fieldservice/internal/activity"
	"fieldservice/internal/installation"
	"fieldservice/internal/sale"
	"fieldservice/internal/totals"
	"fieldservice/internal/user"
	"fieldservice/pkg/config"
	"fieldservice/pkg/db"
	"fieldservice/pkg/log"
)

func main() {
	var (
		email    = flag.String("email", "admin@example.com", "user email")
		name     = flag.String("name", "Admin", "display name")
		role     = flag.String("role", string(user.RoleAdmin), "admin | dispatcher | technician | sales")
		password = flag.String("password", "", "password (empty keeps the stored one)")
		demo     = flag.Bool("demo", false, "also create a demo installation and sale")
	)
	flag.Parse()

	cfg := config.Load()
	logger := log.New(os.Stderr, cfg.LogLevel)
	fail := func(msg string, err error) {
		logger.Error(msg, log.Error(err))
		os.Exit(1)
	}

	r := user.Role(strings.ToLower(strings.TrimSpace(*role)))
	switch r {
	case user.RoleAdmin, user.RoleDispatcher, user.RoleTechnician, user.RoleSales:
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, cfg)
	if err != nil {
		fail("db open failed", err)
	}
	defer pool.Close()

	if cfg.MigrationsPath != "" {
		if err := db.MigrateConfig(cfg.MigrationsPath, cfg); err != nil {
			fail("migrate failed", err)
		}
	}

	hash := ""
	if *password != "" {
		if hash, err = user.HashPassword(*password); err != nil {
			fail("hash password failed", err)
		}
	}
	u, err := user.NewRepository(pool).Upsert(ctx, *email, *name, r, hash)
	if err != nil {
		fail("upsert user failed", err)
	}
	logger.Info("user seeded", "user_id", u.ID, "email", u.Email, "role", string(u.Role))

	if !*demo {
		return
	}

	var created *sale.Sale
	err = db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		inst, err := installation.Insert(ctx, tx, installation.Installation{
			Name:         "Deck oven",
			CustomerName: "Acme Bakery",
			Address:      "1 Market Street",
			SerialNumber: "DO-1001",
		})
		if err != nil {
			return err
		}

		req := sale.CreateRequest{
			Title:        "Annual oven maintenance",
			CustomerName: "Acme Bakery",
			Tax:          &totals.Adjustment{Type: totals.AdjustmentPercentage, Value: decimal.NewFromInt(20)},
			Items: []sale.ItemRequest{
				{Kind: sale.KindService, Description: "Oven service", InstallationID: &inst.ID, Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(80)},
				{Kind: sale.KindArticle, Description: "Door gasket", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("24.50")},
			},
		}
		req.Normalize(cfg.PDF.Currency)
		if fields := req.Validate(); !fields.Empty() {
			return fmt.Errorf("demo sale invalid: %v", fields)
		}
		created, err = sale.Insert(ctx, tx, req, &u.ID)
		if err != nil {
			return err
		}
		return activity.Insert(ctx, tx, sale.EntityType, created.ID, activity.EventCreated,
			"Sale "+created.Reference+" created", u.DisplayName(), nil)
	})
	if err != nil {
		fail("seed demo data failed", err)
	}
	logger.Info("demo sale seeded", log.Entity(sale.EntityType, created.ID), "reference", created.Reference)
}
