package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xtrntr/fleamarket/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateAccount inserts a new account
func (db *DB) CreateAccount(ctx context.Context, id, username, passwordHash, nickname string) (*models.Account, error) {
	account := &models.Account{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO accounts (id, username, password_hash, nickname) VALUES ($1, $2, $3, $4) RETURNING id, username, password_hash, nickname, created_at",
		id, username, passwordHash, nickname).Scan(
		&account.ID, &account.Username, &account.PasswordHash, &account.Nickname, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// GetAccountByUsername retrieves an account by username
func (db *DB) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	account := &models.Account{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, nickname, created_at FROM accounts WHERE username = $1",
		username).Scan(
		&account.ID, &account.Username, &account.PasswordHash, &account.Nickname, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// SaveProfile upserts a profile snapshot. The market state (inventory, live
// offers, counters) is stored as one JSONB document; scalar columns exist for
// querying without unpacking it.
func (db *DB) SaveProfile(ctx context.Context, profile *models.Profile) error {
	state, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile %s: %w", profile.ID, err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO profiles (id, nickname, level, roubles, rating, sell_sum, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			nickname = EXCLUDED.nickname,
			level = EXCLUDED.level,
			roubles = EXCLUDED.roubles,
			rating = EXCLUDED.rating,
			sell_sum = EXCLUDED.sell_sum,
			state = EXCLUDED.state,
			updated_at = now()`,
		profile.ID, profile.Nickname, profile.Level, profile.Roubles,
		profile.RagfairRating, profile.SellSum, state)
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", profile.ID, err)
	}
	return nil
}

// GetProfile retrieves one profile snapshot
func (db *DB) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var state []byte
	err := db.Pool.QueryRow(ctx, "SELECT state FROM profiles WHERE id = $1", id).Scan(&state)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("profile %s not found", id)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	profile := &models.Profile{}
	if err := json.Unmarshal(state, profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", id, err)
	}
	return profile, nil
}

// LoadProfiles retrieves every stored profile, used to warm the in-memory
// stores on startup
func (db *DB) LoadProfiles(ctx context.Context) ([]*models.Profile, error) {
	rows, err := db.Pool.Query(ctx, "SELECT state FROM profiles ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profile := &models.Profile{}
		if err := json.Unmarshal(state, profile); err != nil {
			return nil, fmt.Errorf("failed to decode profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// RecordSale appends one row to the sale ledger
func (db *DB) RecordSale(ctx context.Context, sale *models.SaleRecord) (*models.SaleRecord, error) {
	newSale := &models.SaleRecord{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO sales (offer_id, seller_id, tpl_id, amount, price) VALUES ($1, $2, $3, $4, $5) RETURNING id, offer_id, seller_id, tpl_id, amount, price, sold_at",
		sale.OfferID, sale.SellerID, sale.TplID, sale.Amount, sale.Price).Scan(
		&newSale.ID, &newSale.OfferID, &newSale.SellerID, &newSale.TplID, &newSale.Amount, &newSale.Price, &newSale.SoldAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record sale: %w", err)
	}
	return newSale, nil
}

// GetSellerSales retrieves the sale ledger for one seller
func (db *DB) GetSellerSales(ctx context.Context, sellerID string) ([]models.SaleRecord, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, offer_id, seller_id, tpl_id, amount, price, sold_at FROM sales WHERE seller_id = $1 ORDER BY sold_at ASC",
		sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get seller sales: %w", err)
	}
	defer rows.Close()

	var sales []models.SaleRecord
	for rows.Next() {
		var sale models.SaleRecord
		if err := rows.Scan(&sale.ID, &sale.OfferID, &sale.SellerID, &sale.TplID, &sale.Amount, &sale.Price, &sale.SoldAt); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

// GetTemplateSales retrieves recent ledger rows for one item template, newest
// first, capped at limit
func (db *DB) GetTemplateSales(ctx context.Context, tplID string, limit int) ([]models.SaleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx,
		"SELECT id, offer_id, seller_id, tpl_id, amount, price, sold_at FROM sales WHERE tpl_id = $1 ORDER BY sold_at DESC LIMIT $2",
		tplID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get template sales: %w", err)
	}
	defer rows.Close()

	var sales []models.SaleRecord
	for rows.Next() {
		var sale models.SaleRecord
		if err := rows.Scan(&sale.ID, &sale.OfferID, &sale.SellerID, &sale.TplID, &sale.Amount, &sale.Price, &sale.SoldAt); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sales = append(sales, sale)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}
