package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xtrntr/fleamarket/internal/auth"
	"github.com/xtrntr/fleamarket/internal/db"
	"github.com/xtrntr/fleamarket/internal/market"
	"github.com/xtrntr/fleamarket/internal/models"
)

// New accounts start with a bankroll so they can trade immediately.
const startingRoubles = 500000

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Profiles    *market.ProfileStore
	Search      *market.SearchEngine
	Pricing     *market.PricingEngine
	Listing     *market.ListingService
	Trades      *market.TradeExecutor
	AuthService *auth.AuthService
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, profiles *market.ProfileStore, search *market.SearchEngine,
	pricing *market.PricingEngine, listing *market.ListingService, trades *market.TradeExecutor,
	authService *auth.AuthService) *Handler {
	return &Handler{
		DB:          database,
		Profiles:    profiles,
		Search:      search,
		Pricing:     pricing,
		Listing:     listing,
		Trades:      trades,
		AuthService: authService,
	}
}

// Register handles account registration and creates the market profile
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Nickname string `json:"nickname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	account, err := h.AuthService.Register(r.Context(), req.Username, req.Password, req.Nickname)
	if err != nil {
		http.Error(w, `{"error": "Failed to register account"}`, http.StatusInternalServerError)
		return
	}

	profile := &models.Profile{
		ID:              account.ID,
		Username:        account.Username,
		Nickname:        account.Nickname,
		Level:           1,
		Roubles:         startingRoubles,
		TraderLoyalty:   map[string]int{},
		CompletedQuests: map[string]bool{},
	}
	h.Profiles.Register(profile)
	if err := h.DB.SaveProfile(r.Context(), profile); err != nil {
		log.Printf("Failed to persist profile %s: %v", profile.ID, err)
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       account.ID,
		"username": account.Username,
		"nickname": account.Nickname,
	})
}

// Login handles account login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		profileID, err := h.AuthService.GetProfileFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "profile_id", profileID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type searchRequest struct {
	HandbookID       string         `json:"handbook_id"`
	LinkedSearchID   string         `json:"linked_search_id"`
	RequiredSearchID string         `json:"required_search_id"`
	OwnerType        int            `json:"owner_type"`
	Currency         *string        `json:"currency"`
	MinPrice         *int64         `json:"min_price"`
	MaxPrice         *int64         `json:"max_price"`
	MinQuantity      *int           `json:"min_quantity"`
	MinCondition     *int           `json:"min_condition"`
	MaxCondition     *int           `json:"max_condition"`
	BuildItems       map[string]int `json:"build_items"`
	SortKey          int            `json:"sort_key"`
	SortDesc         bool           `json:"sort_desc"`
	Page             int            `json:"page"`
	PageSize         int            `json:"page_size"`
}

// SearchOffers handles flea market searches
func (h *Handler) SearchOffers(w http.ResponseWriter, r *http.Request) {
	profileID, ok := r.Context().Value("profile_id").(string)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	query := models.SearchQuery{
		HandbookID:       req.HandbookID,
		LinkedSearchID:   req.LinkedSearchID,
		RequiredSearchID: req.RequiredSearchID,
		OwnerType:        models.OwnerType(req.OwnerType),
		Currency:         req.Currency,
		MinPrice:         req.MinPrice,
		MaxPrice:         req.MaxPrice,
		MinQuantity:      req.MinQuantity,
		MinCondition:     req.MinCondition,
		MaxCondition:     req.MaxCondition,
		BuildItems:       req.BuildItems,
		SortKey:          models.SortKey(req.SortKey),
		SortDesc:         req.SortDesc,
		Page:             req.Page,
		PageSize:         req.PageSize,
	}

	var result models.SearchResult
	err := h.Profiles.With(profileID, func(viewer *models.Profile) error {
		var searchErr error
		result, searchErr = h.Search.Search(query, viewer)
		return searchErr
	})
	if err != nil {
		writeMarketError(w, err)
		return
	}

	json.NewEncoder(w).Encode(result)
}

// GetPrice returns the live price statistics for an item template
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	tpl := chi.URLParam(r, "tpl")
	info, err := h.Pricing.GetPrice(tpl, true)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"template": tpl,
		"avg":      info.Avg,
		"min":      info.Min,
		"max":      info.Max,
	})
}

type requirementRequest struct {
	TplID string `json:"tpl_id"`
	Count int64  `json:"count"`
}

// CreateOffer handles offer placement
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	profileID, ok := r.Context().Value("profile_id").(string)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		ItemIDs        []string             `json:"item_ids"`
		Requirements   []requirementRequest `json:"requirements"`
		SellInOnePiece bool                 `json:"sell_in_one_piece"`
		TaxQuote       *int64               `json:"tax_quote"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	requirements := make([]models.Requirement, len(req.Requirements))
	for i, reqItem := range req.Requirements {
		requirements[i] = models.Requirement{
			TplID: reqItem.TplID,
			Count: reqItem.Count,
		}
	}

	var offer *models.Offer
	err := h.Profiles.With(profileID, func(seller *models.Profile) error {
		var createErr error
		offer, createErr = h.Listing.CreateOffer(seller, req.ItemIDs, requirements, req.SellInOnePiece, req.TaxQuote)
		if createErr == nil {
			h.persistProfile(r.Context(), seller)
		}
		return createErr
	})
	if err != nil {
		writeMarketError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "Offer placed",
		"offer_id": offer.ID,
		"end_time": offer.EndTime,
	})
}

// BuyOffer handles a buy confirmation against an offer
func (h *Handler) BuyOffer(w http.ResponseWriter, r *http.Request) {
	profileID, ok := r.Context().Value("profile_id").(string)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	offerID := chi.URLParam(r, "id")
	var req struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.Trades.Buy(profileID, offerID, req.Count); err != nil {
		writeMarketError(w, err)
		return
	}
	h.Profiles.With(profileID, func(p *models.Profile) error {
		h.persistProfile(r.Context(), p)
		return nil
	})

	json.NewEncoder(w).Encode(map[string]string{"message": "Purchase complete"})
}

// ExtendOffer prolongs an offer's listing window for a fee
func (h *Handler) ExtendOffer(w http.ResponseWriter, r *http.Request) {
	profileID, ok := r.Context().Value("profile_id").(string)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	offerID := chi.URLParam(r, "id")
	var req struct {
		Hours int `json:"hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Hours <= 0 {
		http.Error(w, `{"error": "Hours must be positive"}`, http.StatusBadRequest)
		return
	}

	err := h.Profiles.With(profileID, func(seller *models.Profile) error {
		extendErr := h.Listing.ExtendOffer(seller, offerID, time.Duration(req.Hours)*time.Hour)
		if extendErr == nil {
			h.persistProfile(r.Context(), seller)
		}
		return extendErr
	})
	if err != nil {
		writeMarketError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"message": "Offer extended"})
}

// RemoveOffer flags one of the caller's offers for early removal
func (h *Handler) RemoveOffer(w http.ResponseWriter, r *http.Request) {
	profileID, ok := r.Context().Value("profile_id").(string)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	offerID := chi.URLParam(r, "id")
	err := h.Profiles.With(profileID, func(seller *models.Profile) error {
		return h.Listing.FlagOfferForRemoval(seller, offerID)
	})
	if err != nil {
		writeMarketError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"message": "Offer flagged for removal"})
}

// GetMyOffers retrieves the caller's live offers
func (h *Handler) GetMyOffers(w http.ResponseWriter, r *http.Request) {
	profileID, ok := r.Context().Value("profile_id").(string)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var offers []models.Offer
	err := h.Profiles.With(profileID, func(p *models.Profile) error {
		offers = make([]models.Offer, 0, len(p.Offers))
		for _, o := range p.Offers {
			offers = append(offers, *o)
		}
		return nil
	})
	if err != nil {
		writeMarketError(w, err)
		return
	}

	json.NewEncoder(w).Encode(offers)
}

// GetMySales retrieves the caller's sale ledger
func (h *Handler) GetMySales(w http.ResponseWriter, r *http.Request) {
	profileID, ok := r.Context().Value("profile_id").(string)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	sales, err := h.DB.GetSellerSales(r.Context(), profileID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve sales"}`, http.StatusInternalServerError)
		return
	}
	if sales == nil {
		sales = []models.SaleRecord{}
	}
	json.NewEncoder(w).Encode(sales)
}

// GetTemplateSales returns the recent sale ledger for one template
func (h *Handler) GetTemplateSales(w http.ResponseWriter, r *http.Request) {
	tpl := chi.URLParam(r, "tpl")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	sales, err := h.DB.GetTemplateSales(r.Context(), tpl, limit)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve sales"}`, http.StatusInternalServerError)
		return
	}
	if sales == nil {
		sales = []models.SaleRecord{}
	}
	json.NewEncoder(w).Encode(sales)
}

func (h *Handler) persistProfile(ctx context.Context, p *models.Profile) {
	if err := h.DB.SaveProfile(ctx, p); err != nil {
		log.Printf("Failed to persist profile %s: %v", p.ID, err)
	}
}

// writeMarketError maps engine sentinel errors to HTTP statuses
func writeMarketError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, market.ErrOfferNotFound),
		errors.Is(err, market.ErrProfileNotFound),
		errors.Is(err, market.ErrItemNotFound),
		errors.Is(err, market.ErrNoPrice):
		status = http.StatusNotFound
	case errors.Is(err, market.ErrNotOfferOwner),
		errors.Is(err, market.ErrLoyaltyTooLow),
		errors.Is(err, market.ErrFleaLocked),
		errors.Is(err, market.ErrFleaBanned):
		status = http.StatusForbidden
	case errors.Is(err, market.ErrInsufficientFunds),
		errors.Is(err, market.ErrCannotPayTax):
		status = http.StatusPaymentRequired
	case errors.Is(err, market.ErrOutOfStock):
		status = http.StatusConflict
	}
	http.Error(w, `{"error": "`+err.Error()+`"}`, status)
}
