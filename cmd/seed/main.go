package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/xtrntr/fleamarket/internal/config"
	"github.com/xtrntr/fleamarket/internal/db"
	"github.com/xtrntr/fleamarket/internal/models"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

const catalogSchema = `
CREATE TABLE IF NOT EXISTS item_templates (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    category_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    handbook_price INTEGER NOT NULL DEFAULT 0,
    max_stack INTEGER NOT NULL DEFAULT 1,
    tier_level INTEGER NOT NULL DEFAULT 0,
    price_modifier REAL,
    flea_banned INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS flea_prices (
    tpl_id TEXT PRIMARY KEY,
    price INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS currencies (
    tpl_id TEXT PRIMARY KEY,
    roubles_per_unit INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS linked_templates (
    tpl_id TEXT NOT NULL,
    linked_tpl_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS trader_assorts (
    trader_id TEXT NOT NULL,
    trader_name TEXT NOT NULL,
    tpl_id TEXT NOT NULL,
    price INTEGER NOT NULL,
    currency_tpl TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    loyalty_level INTEGER NOT NULL DEFAULT 1,
    buy_restriction_max INTEGER,
    quest_lock_id TEXT NOT NULL DEFAULT ''
);
`

type templateRow struct {
	id, name, category, kind string
	handbookPrice            int64
	maxStack                 int
	tierLevel                int
}

var templates = []templateRow{
	{"tpl-roubles", "Roubles", "cat-money", "money", 0, 500000, 0},
	{"tpl-dollars", "Dollars", "cat-money", "money", 0, 50000, 0},
	{"tpl-ammo-545ps", "5.45x39mm PS", "cat-ammo", "ammo", 100, 60, 0},
	{"tpl-ammo-762bp", "7.62x39mm BP", "cat-ammo", "ammo", 650, 60, 25},
	{"tpl-rifle-ak74n", "AK-74N", "cat-weapons", "weapon", 40000, 1, 0},
	{"tpl-scope-pso1", "PSO-1 scope", "cat-mods", "mod", 12000, 1, 0},
	{"tpl-key-dorm214", "Dorm room 214 key", "cat-keys", "key", 25000, 1, 20},
	{"tpl-medkit-ifak", "IFAK individual first aid kit", "cat-meds", "med", 18000, 1, 0},
	{"tpl-food-tushonka", "Beef stew (large)", "cat-food", "food", 9000, 1, 0},
}

var fleaPrices = map[string]int64{
	"tpl-ammo-545ps":    140,
	"tpl-ammo-762bp":    900,
	"tpl-rifle-ak74n":   45000,
	"tpl-scope-pso1":    15000,
	"tpl-key-dorm214":   78000,
	"tpl-medkit-ifak":   21000,
	"tpl-food-tushonka": 11000,
}

// Seed the catalog SQLite file and the Postgres database with demo data
func main() {
	cfg := config.New()
	ctx := context.Background()

	seedCatalog(cfg.CatalogPath)

	// Connect to database
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// Apply migration
	migration, err := os.ReadFile("migrations/001_init.sql")
	if err != nil {
		log.Fatalf("Failed to read migration: %v", err)
	}
	if _, err := database.Pool.Exec(ctx, string(migration)); err != nil {
		log.Fatalf("Failed to apply migration: %v", err)
	}

	// Skip if demo accounts already exist
	var count int
	if err := database.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		log.Fatalf("Failed to check accounts: %v", err)
	}
	if count > 0 {
		fmt.Printf("Database already has %d accounts. No need to seed.\n", count)
		os.Exit(0)
	}

	total := int64(0)
	for _, demo := range []struct {
		username string
		level    int
		roubles  int64
	}{
		{"fence-fan", 25, 2500000},
		{"rat-trader", 42, 15000000},
		{"rookie", 8, 350000},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte("demopass"), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		account, err := database.CreateAccount(ctx, uuid.NewString(), demo.username, string(hash), demo.username)
		if err != nil {
			log.Fatalf("Failed to create account %s: %v", demo.username, err)
		}

		profile := &models.Profile{
			ID:       account.ID,
			Username: demo.username,
			Nickname: demo.username,
			Level:    demo.level,
			Roubles:  demo.roubles,
			Inventory: []models.Item{
				{ID: uuid.NewString(), TplID: "tpl-ammo-545ps", StackCount: 60},
				{ID: uuid.NewString(), TplID: "tpl-medkit-ifak", StackCount: 1,
					Resource: &models.ItemResource{Value: 220, Max: 300}},
			},
			TraderLoyalty:   map[string]int{"trader-prapor": 1, "trader-therapist": 1},
			CompletedQuests: map[string]bool{},
		}
		if err := database.SaveProfile(ctx, profile); err != nil {
			log.Fatalf("Failed to save profile %s: %v", demo.username, err)
		}
		total += demo.roubles
	}

	fmt.Printf("Seeded 3 demo accounts holding %s roubles total (password: demopass)\n",
		humanize.Comma(total))
}

func seedCatalog(path string) {
	conn, err := sqlx.Open("sqlite", path)
	if err != nil {
		log.Fatalf("Failed to open catalog file: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Exec(catalogSchema); err != nil {
		log.Fatalf("Failed to create catalog schema: %v", err)
	}

	var count int
	if err := conn.Get(&count, "SELECT COUNT(*) FROM item_templates"); err != nil {
		log.Fatalf("Failed to check catalog: %v", err)
	}
	if count > 0 {
		fmt.Printf("Catalog already has %d templates. Skipping catalog seed.\n", count)
		return
	}

	tx, err := conn.Beginx()
	if err != nil {
		log.Fatalf("Failed to begin catalog transaction: %v", err)
	}

	for _, t := range templates {
		if _, err := tx.Exec(
			"INSERT INTO item_templates (id, name, category_id, kind, handbook_price, max_stack, tier_level) VALUES (?, ?, ?, ?, ?, ?, ?)",
			t.id, t.name, t.category, t.kind, t.handbookPrice, t.maxStack, t.tierLevel); err != nil {
			log.Fatalf("Failed to insert template %s: %v", t.id, err)
		}
	}
	for tpl, price := range fleaPrices {
		if _, err := tx.Exec("INSERT INTO flea_prices (tpl_id, price) VALUES (?, ?)", tpl, price); err != nil {
			log.Fatalf("Failed to insert flea price %s: %v", tpl, err)
		}
	}
	for tpl, rate := range map[string]int64{"tpl-roubles": 1, "tpl-dollars": 140} {
		if _, err := tx.Exec("INSERT INTO currencies (tpl_id, roubles_per_unit) VALUES (?, ?)", tpl, rate); err != nil {
			log.Fatalf("Failed to insert currency %s: %v", tpl, err)
		}
	}
	for _, link := range [][2]string{
		{"tpl-rifle-ak74n", "tpl-ammo-545ps"},
		{"tpl-rifle-ak74n", "tpl-scope-pso1"},
	} {
		if _, err := tx.Exec("INSERT INTO linked_templates (tpl_id, linked_tpl_id) VALUES (?, ?)", link[0], link[1]); err != nil {
			log.Fatalf("Failed to insert link %s -> %s: %v", link[0], link[1], err)
		}
	}

	assorts := []struct {
		trader, name, tpl string
		price             int64
		qty, loyalty      int
		restriction       *int
		questLock         string
	}{
		{"trader-prapor", "Prapor", "tpl-ammo-545ps", 95, 10000, 1, nil, ""},
		{"trader-prapor", "Prapor", "tpl-ammo-762bp", 700, 1200, 3, intPtr(120), ""},
		{"trader-prapor", "Prapor", "tpl-rifle-ak74n", 38000, 15, 2, intPtr(2), "quest-prapor-1"},
		{"trader-therapist", "Therapist", "tpl-medkit-ifak", 17000, 40, 1, intPtr(3), ""},
		{"trader-therapist", "Therapist", "tpl-food-tushonka", 8500, 200, 1, nil, ""},
	}
	for _, a := range assorts {
		if _, err := tx.Exec(
			"INSERT INTO trader_assorts (trader_id, trader_name, tpl_id, price, currency_tpl, quantity, loyalty_level, buy_restriction_max, quest_lock_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			a.trader, a.name, a.tpl, a.price, "tpl-roubles", a.qty, a.loyalty, a.restriction, a.questLock); err != nil {
			log.Fatalf("Failed to insert assort %s/%s: %v", a.trader, a.tpl, err)
		}
	}

	if err := tx.Commit(); err != nil {
		log.Fatalf("Failed to commit catalog seed: %v", err)
	}
	fmt.Printf("Seeded catalog with %d templates at %s\n", len(templates), path)
}

func intPtr(n int) *int { return &n }
