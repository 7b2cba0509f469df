// Package api exposes the ledger over HTTP: user login and funding, market
// creation, staking, resolution and the read-only views.
//
// All monetary values use shopspring/decimal and travel as JSON strings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/parimutuel/internal/account"
	"github.com/atmx/parimutuel/internal/market"
	"github.com/atmx/parimutuel/internal/model"
	"github.com/atmx/parimutuel/internal/query"
)

// Handler serves the /api/v1 routes.
type Handler struct {
	accounts *account.Manager
	engine   *market.Engine
	query    *query.Service
}

// NewHandler creates the HTTP handler set.
func NewHandler(accounts *account.Manager, engine *market.Engine, q *query.Service) *Handler {
	return &Handler{accounts: accounts, engine: engine, query: q}
}

// Register mounts every ledger route on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/users", h.GetUsers)
	r.Post("/users", h.CreateUser)
	r.Delete("/users/{userID}", h.DeleteUser)
	r.Put("/users/{userID}/balance", h.AddBalance)
	r.Get("/users/{userID}/bets", h.UserBets)
	r.Get("/users/{userID}/portfolio", h.Portfolio)
	r.Get("/leaderboard", h.Leaderboard)

	r.Get("/markets", h.ListMarkets)
	r.Post("/markets", h.CreateMarket)
	r.Get("/markets/{marketID}", h.GetMarket)
	r.Get("/markets/{marketID}/bets", h.MarketBets)
	r.Post("/markets/{marketID}/bets", h.PlaceBet)
	r.Post("/markets/{marketID}/resolve", h.ResolveMarket)
}

// --- Request types ---

// CreateUserRequest is the JSON body for POST /users.
type CreateUserRequest struct {
	Name string `json:"name"`
}

// AddBalanceRequest is the JSON body for PUT /users/{userID}/balance.
type AddBalanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// PlaceBetRequest is the JSON body for POST /markets/{marketID}/bets.
type PlaceBetRequest struct {
	UserID   string          `json:"userId"`
	Amount   decimal.Decimal `json:"amount"`
	Position string          `json:"position"` // "yes" or "no"
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	Outcome *bool `json:"outcome"`
}

// --- Users ---

// CreateUser handles POST /api/v1/users. Logging in with an existing name
// returns that user.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.accounts.CreateUser(r.Context(), req.Name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// GetUsers handles GET /api/v1/users. With ?name= it returns that user,
// otherwise every user ordered by balance.
func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if name := r.URL.Query().Get("name"); name != "" {
		u, err := h.accounts.GetUserByName(ctx, name)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
		return
	}

	users, err := h.accounts.ListUsers(ctx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// DeleteUser handles DELETE /api/v1/users/{userID}.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.DeleteUser(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// AddBalance handles PUT /api/v1/users/{userID}/balance.
func (h *Handler) AddBalance(w http.ResponseWriter, r *http.Request) {
	var req AddBalanceRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.accounts.AddBalance(r.Context(), chi.URLParam(r, "userID"), req.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UserBets handles GET /api/v1/users/{userID}/bets.
func (h *Handler) UserBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.query.UserBets(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

// Portfolio handles GET /api/v1/users/{userID}/portfolio.
func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.query.Portfolio(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Leaderboard handles GET /api/v1/leaderboard.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.query.Leaderboard(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// --- Markets ---

// ListMarkets handles GET /api/v1/markets.
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.query.ListMarkets(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

// CreateMarket handles POST /api/v1/markets.
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req market.CreateMarketInput
	if !decode(w, r, &req) {
		return
	}
	m, err := h.engine.CreateMarket(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.query.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// MarketBets handles GET /api/v1/markets/{marketID}/bets.
func (h *Handler) MarketBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.query.MarketBets(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

// PlaceBet handles POST /api/v1/markets/{marketID}/bets.
// Returns the bet with the updated user and market.
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, "validation failed: userId is required", http.StatusBadRequest)
		return
	}

	res, err := h.engine.PlaceBet(r.Context(), market.PlaceBetInput{
		UserID:   req.UserID,
		MarketID: chi.URLParam(r, "marketID"),
		Amount:   req.Amount,
		Position: req.Position,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve.
func (h *Handler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Outcome == nil {
		writeError(w, "validation failed: outcome is required", http.StatusBadRequest)
		return
	}

	m, err := h.engine.ResolveMarket(r.Context(), chi.URLParam(r, "marketID"), *req.Outcome)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// --- helpers ---

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrMarketResolved),
		errors.Is(err, model.ErrAlreadyResolved),
		errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
		switch status {
		case http.StatusServiceUnavailable:
			msg = model.ErrStoreUnavailable.Error()
		default:
			msg = http.StatusText(status)
		}
	}
	writeError(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
