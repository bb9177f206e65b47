package wallet

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/callwise/callwise-api/internal/middleware"
	"github.com/callwise/callwise-api/internal/pkg/response"
	"github.com/callwise/callwise-api/internal/pkg/validator"
)

// Handler handles wallet HTTP requests
type Handler struct {
	service Service
}

// NewHandler creates wallet handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Get handles GET /wallet
// @Summary Wallet and recent transactions
// @Description Returns the caller's wallet with recent transactions, creating the wallet lazily on first access
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=WalletResponse}
// @Failure 401 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /wallet [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	wal, transactions, err := h.service.GetWallet(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("fetch wallet failed")
		response.InternalError(w)
		return
	}

	response.OK(w, WalletResponse{Wallet: wal, Transactions: transactions})
}

// Deduct handles POST /wallet/deduct
// @Summary Deduct call minutes
// @Description Debits call minutes consumed by a voice agent. Responds 402 when the balance is too low so the calling layer can stop the call.
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=TransactionResult}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 402 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /wallet/deduct [post]
func (h *Handler) Deduct(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req DeductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		response.BadRequest(w, "invalid agent_id")
		return
	}

	txID, err := h.service.Debit(r.Context(), userID, decimal.NewFromFloat(req.Minutes), agentID, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientCredits):
			response.PaymentRequired(w, "insufficient credits")
		case errors.Is(err, ErrInvalidAmount):
			response.BadRequest(w, "minutes must be greater than zero")
		default:
			log.Error().Err(err).Str("user_id", userID.String()).Msg("wallet debit failed")
			response.InternalError(w)
		}
		return
	}

	response.OK(w, TransactionResult{TransactionID: txID})
}

// PurchaseCredits handles POST /wallet/credits
// @Summary Add credits
// @Description Credits the wallet after a confirmed payment. Replaying the same confirmation reference returns the original transaction instead of crediting twice.
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=TransactionResult}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /wallet/credits [post]
func (h *Handler) PurchaseCredits(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	txID, err := h.service.Credit(r.Context(), userID, decimal.NewFromFloat(req.Amount), TxType(req.Type), req.Description, req.Reference)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateReference):
			existing, findErr := h.service.FindByReference(r.Context(), req.Reference)
			if findErr != nil || existing == nil {
				response.InternalError(w)
				return
			}
			response.OK(w, TransactionResult{TransactionID: existing.ID, Duplicate: true})
		case errors.Is(err, ErrInvalidAmount):
			response.BadRequest(w, "amount must be greater than zero")
		case errors.Is(err, ErrInvalidType):
			response.BadRequest(w, "type must be purchase, refund, or adjustment")
		default:
			log.Error().Err(err).Str("user_id", userID.String()).Msg("wallet credit failed")
			response.InternalError(w)
		}
		return
	}

	response.OK(w, TransactionResult{TransactionID: txID})
}

// History handles GET /wallet/transactions
// @Summary Transaction history
// @Description Returns the caller's transaction history with pagination, newest first
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of rows (default 20, max 100)"
// @Param offset query int false "Offset (default 0)"
// @Success 200 {object} response.Response{data=[]Transaction}
// @Failure 401 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /wallet/transactions [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	transactions, err := h.service.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, transactions)
}

// Routes returns wallet router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.Get)
	r.Post("/deduct", h.Deduct)
	r.Post("/credits", h.PurchaseCredits)
	r.Get("/transactions", h.History)
	return r
}
