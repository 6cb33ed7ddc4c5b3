// Package catalog provides static reference data for the flea engine: item
// templates with handbook prices, the static flea price table, currency
// conversion rates, tier unlock levels and trader assort definitions.
// Shipped as a SQLite file and loaded fully into memory at startup so the
// search and pricing hot paths never touch disk.
package catalog

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Template describes one item template.
type Template struct {
	ID            string   `db:"id"`
	Name          string   `db:"name"`
	CategoryID    string   `db:"category_id"`
	Kind          string   `db:"kind"` // "weapon", "ammo", "key", ...
	HandbookPrice int64    `db:"handbook_price"`
	MaxStack      int      `db:"max_stack"`
	TierLevel     int      `db:"tier_level"` // minimum viewer level, 0 = ungated
	PriceModifier *float64 `db:"price_modifier"`
	FleaBanned    bool     `db:"flea_banned"`
}

// AssortRow is one trader inventory entry the offer generator turns into a
// trader-backed offer.
type AssortRow struct {
	TraderID          string `db:"trader_id"`
	TraderName        string `db:"trader_name"`
	TplID             string `db:"tpl_id"`
	Price             int64  `db:"price"`
	CurrencyTpl       string `db:"currency_tpl"`
	Quantity          int    `db:"quantity"`
	LoyaltyLevel      int    `db:"loyalty_level"`
	BuyRestrictionMax *int   `db:"buy_restriction_max"`
	QuestLockID       string `db:"quest_lock_id"`
}

// Catalog is the in-memory view of the reference database.
type Catalog struct {
	templates  map[string]Template
	fleaPrices map[string]int64
	currencies map[string]int64 // currency template -> roubles per unit
	linked     map[string][]string
	assort     []AssortRow
}

// Load reads the whole reference database into memory.
func Load(path string) (*Catalog, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer conn.Close()

	c := &Catalog{
		templates:  make(map[string]Template),
		fleaPrices: make(map[string]int64),
		currencies: make(map[string]int64),
		linked:     make(map[string][]string),
	}

	var templates []Template
	if err := conn.Select(&templates, `
		SELECT id, name, category_id, kind, handbook_price, max_stack,
		       tier_level, price_modifier, flea_banned
		FROM item_templates`); err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	for _, t := range templates {
		c.templates[t.ID] = t
	}

	rows, err := conn.Queryx(`SELECT tpl_id, price FROM flea_prices`)
	if err != nil {
		return nil, fmt.Errorf("load flea prices: %w", err)
	}
	for rows.Next() {
		var tpl string
		var price int64
		if err := rows.Scan(&tpl, &price); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan flea price: %w", err)
		}
		c.fleaPrices[tpl] = price
	}
	rows.Close()

	rows, err = conn.Queryx(`SELECT tpl_id, roubles_per_unit FROM currencies`)
	if err != nil {
		return nil, fmt.Errorf("load currencies: %w", err)
	}
	for rows.Next() {
		var tpl string
		var rate int64
		if err := rows.Scan(&tpl, &rate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan currency: %w", err)
		}
		c.currencies[tpl] = rate
	}
	rows.Close()

	rows, err = conn.Queryx(`SELECT tpl_id, linked_tpl_id FROM linked_templates`)
	if err != nil {
		return nil, fmt.Errorf("load linked templates: %w", err)
	}
	for rows.Next() {
		var tpl, linked string
		if err := rows.Scan(&tpl, &linked); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan linked template: %w", err)
		}
		c.linked[tpl] = append(c.linked[tpl], linked)
	}
	rows.Close()

	if err := conn.Select(&c.assort, `
		SELECT trader_id, trader_name, tpl_id, price, currency_tpl, quantity,
		       loyalty_level, buy_restriction_max, quest_lock_id
		FROM trader_assorts`); err != nil {
		return nil, fmt.Errorf("load trader assorts: %w", err)
	}

	return c, nil
}

// NewStatic builds a catalog directly from maps. Used by tests and tools
// that do not want a SQLite file on disk.
func NewStatic(templates []Template, fleaPrices map[string]int64, currencies map[string]int64) *Catalog {
	c := &Catalog{
		templates:  make(map[string]Template, len(templates)),
		fleaPrices: fleaPrices,
		currencies: currencies,
		linked:     make(map[string][]string),
	}
	if c.fleaPrices == nil {
		c.fleaPrices = map[string]int64{}
	}
	if c.currencies == nil {
		c.currencies = map[string]int64{}
	}
	for _, t := range templates {
		c.templates[t.ID] = t
	}
	return c
}

// SetLinked registers template compatibility for linked search.
func (c *Catalog) SetLinked(tpl string, linked ...string) {
	c.linked[tpl] = linked
}

// SetAssort replaces the trader assort rows.
func (c *Catalog) SetAssort(rows []AssortRow) {
	c.assort = rows
}

// Template returns the template for an id.
func (c *Catalog) Template(tpl string) (Template, bool) {
	t, ok := c.templates[tpl]
	return t, ok
}

// CategoryOf returns the handbook category an item template belongs to.
func (c *Catalog) CategoryOf(tpl string) string {
	return c.templates[tpl].CategoryID
}

// HandbookPrice returns the catalog price for a template.
func (c *Catalog) HandbookPrice(tpl string) (int64, bool) {
	t, ok := c.templates[tpl]
	if !ok || t.HandbookPrice <= 0 {
		return 0, false
	}
	return t.HandbookPrice, true
}

// FleaPrice returns the static flea price table entry for a template.
func (c *Catalog) FleaPrice(tpl string) (int64, bool) {
	p, ok := c.fleaPrices[tpl]
	return p, ok
}

// IsMoney reports whether a template is a currency.
func (c *Catalog) IsMoney(tpl string) bool {
	_, ok := c.currencies[tpl]
	return ok
}

// Rate returns roubles per unit of a currency template, 0 if not money.
func (c *Catalog) Rate(tpl string) int64 {
	return c.currencies[tpl]
}

// PriceModifier returns the per-template price multiplier, 1 when unset.
func (c *Catalog) PriceModifier(tpl string) float64 {
	t, ok := c.templates[tpl]
	if !ok || t.PriceModifier == nil {
		return 1
	}
	return *t.PriceModifier
}

// TierLevel returns the minimum viewer level for a template, 0 when ungated.
func (c *Catalog) TierLevel(tpl string) int {
	return c.templates[tpl].TierLevel
}

// MaxStack returns the maximum stack size for a template, 1 when unknown.
func (c *Catalog) MaxStack(tpl string) int {
	t, ok := c.templates[tpl]
	if !ok || t.MaxStack < 1 {
		return 1
	}
	return t.MaxStack
}

// Linked returns templates compatible with the given one (mods that fit a
// weapon, ammo it chambers). Drives linked search.
func (c *Catalog) Linked(tpl string) []string {
	return c.linked[tpl]
}

// Assort returns all trader assort rows.
func (c *Catalog) Assort() []AssortRow {
	return c.assort
}
