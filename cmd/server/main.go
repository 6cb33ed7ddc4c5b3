package main

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/xtrntr/fleamarket/internal/api"
	"github.com/xtrntr/fleamarket/internal/auth"
	"github.com/xtrntr/fleamarket/internal/catalog"
	"github.com/xtrntr/fleamarket/internal/config"
	"github.com/xtrntr/fleamarket/internal/db"
	"github.com/xtrntr/fleamarket/internal/market"
	"github.com/xtrntr/fleamarket/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*WSClient]bool)
	clientsMu sync.RWMutex
)

// marketSnapshot is the payload pushed to websocket clients.
type marketSnapshot struct {
	TotalOffers int            `json:"total_offers"`
	Categories  map[string]int `json:"categories"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func broadcastMarket(store *market.OfferStore, cat *catalog.Catalog) {
	categories := make(map[string]int)
	store.Each(func(o *models.Offer) bool {
		categories[cat.CategoryOf(o.Root().TplID)]++
		return true
	})
	snapshot := marketSnapshot{
		TotalOffers: store.Count(),
		Categories:  categories,
		UpdatedAt:   time.Now(),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("Failed to marshal market snapshot: %v", err)
		return
	}

	clientsMu.RLock()
	var dead []*WSClient
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			log.Printf("Failed to send message: %v", err)
			dead = append(dead, client)
		}
	}
	clientsMu.RUnlock()

	if len(dead) > 0 {
		clientsMu.Lock()
		for _, client := range dead {
			delete(clients, client)
		}
		clientsMu.Unlock()
	}
}

func handleWebSocket(store *market.OfferStore, cat *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Failed to upgrade connection: %v", err)
			return
		}

		client := &WSClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()

		// Send initial snapshot
		broadcastMarket(store, cat)

		// Keep connection alive and handle disconnection
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				clientsMu.Lock()
				delete(clients, client)
				clientsMu.Unlock()
				break
			}
		}
	}
}

// logMailer is the default mail transport: it logs deliveries instead of
// integrating with a message system.
type logMailer struct{}

func (logMailer) SendItems(profileID, messageKey string, items []models.Item) {
	total := 0
	for _, it := range items {
		n := it.StackCount
		if n < 1 {
			n = 1
		}
		total += n
	}
	log.Printf("Mail to %s [%s]: %d item stacks, %d units", profileID, messageKey, len(items), total)
}

// dbSaleRecorder appends completed sales to the Postgres ledger.
type dbSaleRecorder struct {
	db *db.DB
}

func (r *dbSaleRecorder) RecordSale(offer *models.Offer, soldAmount int, proceeds int64) {
	sale := &models.SaleRecord{
		OfferID:  offer.ID,
		SellerID: offer.Seller.ID,
		TplID:    offer.Root().TplID,
		Amount:   soldAmount,
		Price:    proceeds,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.db.RecordSale(ctx, sale); err != nil {
		log.Printf("Failed to record sale for offer %s: %v", offer.ID, err)
	}
}

// Main entry point: loads the catalog, warms the in-memory market from the
// database and runs the HTTP server plus the background market loops
func main() {
	ctx := context.Background()
	cfg := config.New()

	// Initialize database connection
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// Load static reference data
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	// Initialize market stores and engines
	store := market.NewOfferStore()
	profiles := market.NewProfileStore()
	mailer := logMailer{}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	pricing := market.NewPricingEngine(store, cat)
	simulator := market.NewSaleSimulator(cfg.Flea, rng)
	tax := market.NewFleaTax(cat, cfg.Flea.TaxRate)
	listing := market.NewListingService(store, pricing, simulator, tax, cat, cfg.Flea, nil)
	trades := market.NewTradeExecutor(store, profiles, cat, cfg.Flea, mailer, nil)
	trades.SetSaleRecorder(&dbSaleRecorder{db: database})
	search := market.NewSearchEngine(store, cat, cfg.Flea, nil)
	settlement := market.NewSettlementEngine(store, profiles, trades, mailer, cfg.Flea, nil)
	generator := market.NewOfferGenerator(store, profiles, cat, cfg.Flea, nil)

	// Warm the in-memory market from persisted profiles
	persisted, err := database.LoadProfiles(ctx)
	if err != nil {
		log.Fatalf("Failed to load profiles: %v", err)
	}
	now := time.Now()
	for _, p := range persisted {
		profiles.Register(p)
		kept := p.Offers[:0]
		for _, o := range p.Offers {
			if o.EndTime.Before(now) {
				continue
			}
			if err := store.Insert(o); err != nil {
				log.Printf("Skipping stored offer %s: %v", o.ID, err)
				continue
			}
			kept = append(kept, o)
		}
		p.Offers = kept
	}
	log.Printf("Loaded %d profiles, %d live offers", len(persisted), store.Count())

	// Populate trader offers
	generator.Refresh()

	// Initialize auth service
	authService := auth.NewAuthService(database, cfg.JWTSecret)

	// Initialize API handlers
	handler := api.NewHandler(database, profiles, search, pricing, listing, trades, authService)

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket endpoint
	r.Get("/ws", handleWebSocket(store, cat))

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/flea/search", handler.SearchOffers)
		r.Get("/flea/price/{tpl}", handler.GetPrice)
		r.Get("/flea/sales/{tpl}", handler.GetTemplateSales)
		r.Post("/flea/offers", handler.CreateOffer)
		r.Get("/flea/offers/mine", handler.GetMyOffers)
		r.Get("/flea/sales/mine", handler.GetMySales)
		r.Post("/flea/offers/{id}/buy", handler.BuyOffer)
		r.Post("/flea/offers/{id}/extend", handler.ExtendOffer)
		r.Delete("/flea/offers/{id}", handler.RemoveOffer)
	})

	// Settlement loop: consume matured sale events, then sweep expired offers
	go func() {
		ticker := time.NewTicker(cfg.Flea.SettlementTick)
		for range ticker.C {
			if settled := settlement.Tick(); settled > 0 {
				log.Printf("Settled %d sale events", settled)
			}
			if expired := settlement.ExpireOffers(); expired > 0 {
				log.Printf("Expired %d offers", expired)
			}
		}
	}()

	// Trader refresh loop
	go func() {
		ticker := time.NewTicker(cfg.Flea.TraderRefresh)
		for range ticker.C {
			refreshed := generator.Refresh()
			log.Printf("Refreshed %d trader offers", refreshed)
		}
	}()

	// Periodic market snapshot broadcast
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		for range ticker.C {
			broadcastMarket(store, cat)
		}
	}()

	// Start server
	log.Printf("Starting server on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
