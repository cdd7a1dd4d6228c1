package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fjod/storefront/internal/domain"
)

const (
	MsgProductNotFound = "Product doesn't exist"
	MsgNoProducts      = "No products found"
	MsgBearerMissing   = "Protected route, Oauth2 Bearer token not found"
	MsgUserNotFound    = "Username does not exist"
	MsgBadPassword     = "Password is incorrect"
	MsgInternal        = "Something went wrong. Check the backend console for more details"
)

type ctxKey int

const usernameKey ctxKey = iota

type Handler struct {
	catalog Catalog
	state   State
	logger  *slog.Logger
}

func NewHandler(catalog Catalog, state State, logger *slog.Logger) *Handler {
	return &Handler{
		catalog: catalog,
		state:   state,
		logger:  logger,
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success  bool   `json:"success"`
	Token    string `json:"token"`
	Username string `json:"username"`
	Balance  int64  `json:"balance"`
}

type cartRequest struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"qty"`
}

func (h *Handler) GetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.Products(r.Context())
	if err != nil {
		h.internalError(w, r, "list products", err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.Search(r.Context(), r.URL.Query().Get("value"))
	if err != nil {
		h.internalError(w, r, "search products", err)
		return
	}
	if len(products) == 0 {
		respondError(w, http.StatusNotFound, MsgNoProducts)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	entries, err := h.state.Cart(r.Context(), usernameFrom(r.Context()))
	if err != nil {
		h.internalError(w, r, "get cart", err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// UpsertCart sets the quantity of one product and answers with the whole
// cart. A quantity of 0 removes the line; new products go to the end.
func (h *Handler) UpsertCart(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "productId is a required field")
		return
	}
	if req.Quantity == nil || *req.Quantity < 0 {
		respondError(w, http.StatusBadRequest, "qty must be a non-negative integer")
		return
	}

	if _, err := h.catalog.Product(r.Context(), req.ProductID); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			respondError(w, http.StatusNotFound, MsgProductNotFound)
			return
		}
		h.internalError(w, r, "lookup product", err)
		return
	}

	entry := domain.CartEntry{ProductID: req.ProductID, Quantity: *req.Quantity}
	entries, err := h.state.UpdateCart(r.Context(), usernameFrom(r.Context()), func(current []domain.CartEntry) []domain.CartEntry {
		return upsert(current, entry)
	})
	if err != nil {
		h.internalError(w, r, "update cart", err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" {
		respondError(w, http.StatusBadRequest, "Username is a required field")
		return
	}
	if req.Password == "" {
		respondError(w, http.StatusBadRequest, "Password is a required field")
		return
	}

	user, err := h.catalog.Authenticate(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, ErrUserNotFound):
		respondError(w, http.StatusBadRequest, MsgUserNotFound)
		return
	case errors.Is(err, ErrBadPassword):
		respondError(w, http.StatusBadRequest, MsgBadPassword)
		return
	case err != nil:
		h.internalError(w, r, "authenticate", err)
		return
	}

	token, err := h.state.IssueToken(r.Context(), user.Username)
	if err != nil {
		h.internalError(w, r, "issue token", err)
		return
	}

	respondJSON(w, http.StatusCreated, loginResponse{
		Success:  true,
		Token:    token,
		Username: user.Username,
		Balance:  user.Balance,
	})
}

// AuthMiddleware resolves the bearer token to a username and rejects the
// request with 401 when there is none.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, MsgBearerMissing)
			return
		}

		username, err := h.state.Resolve(r.Context(), token)
		if errors.Is(err, ErrTokenNotFound) {
			respondError(w, http.StatusUnauthorized, MsgBearerMissing)
			return
		}
		if err != nil {
			h.internalError(w, r, "resolve token", err)
			return
		}

		ctx := context.WithValue(r.Context(), usernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), "request failed", "op", op, "path", r.URL.Path, "error", err)
	respondError(w, http.StatusInternalServerError, MsgInternal)
}

func upsert(entries []domain.CartEntry, entry domain.CartEntry) []domain.CartEntry {
	out := make([]domain.CartEntry, 0, len(entries)+1)
	found := false
	for _, e := range entries {
		if e.ProductID != entry.ProductID {
			out = append(out, e)
			continue
		}
		found = true
		if entry.Quantity > 0 {
			out = append(out, entry)
		}
	}
	if !found && entry.Quantity > 0 {
		out = append(out, entry)
	}
	return out
}

func usernameFrom(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Success: false, Message: message})
}
