package billing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/callwise/callwise-api/internal/middleware"
	"github.com/callwise/callwise-api/internal/pkg/response"
	"github.com/callwise/callwise-api/internal/pkg/validator"
)

// maxWebhookBody bounds the webhook payload read.
const maxWebhookBody = 64 << 10

// Handler handles billing HTTP requests
type Handler struct {
	service   Service
	gateway   Gateway
	processor *Processor
}

// NewHandler creates billing handler
func NewHandler(service Service, gateway Gateway, processor *Processor) *Handler {
	return &Handler{service: service, gateway: gateway, processor: processor}
}

// GetProfile handles GET /billing
// @Summary Billing profile
// @Description Returns the caller's subscription status and billing state
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=ProfileResponse}
// @Failure 401 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /billing [get]
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	profile, err := h.service.GetProfile(r.Context(), userID, middleware.GetEmail(r.Context()))
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("fetch billing profile failed")
		response.InternalError(w)
		return
	}

	response.OK(w, NewProfileResponse(profile))
}

// CreateCheckout handles POST /billing/checkout
// @Summary Start hosted checkout
// @Description Creates a hosted checkout session, payment mode for minute top-ups or subscription mode for plans
// @Tags Billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=CheckoutResponse}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /billing/checkout [post]
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	result, err := h.service.CreateCheckoutSession(r.Context(), userID, middleware.GetEmail(r.Context()), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			response.BadRequest(w, err.Error())
			return
		}
		log.Error().Err(err).Str("user_id", userID.String()).Msg("create checkout session failed")
		response.InternalError(w)
		return
	}

	response.OK(w, result)
}

// ListPaymentMethods handles GET /billing/payment-methods
func (h *Handler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	methods, err := h.service.ListPaymentMethods(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, PaymentMethodsResponse{Methods: methods})
}

// RefreshPaymentMethods handles POST /billing/payment-methods/refresh
func (h *Handler) RefreshPaymentMethods(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	methods, err := h.service.RefreshPaymentMethods(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoCustomer), errors.Is(err, ErrProfileNotFound):
			response.OK(w, PaymentMethodsResponse{Methods: []PaymentMethod{}})
		default:
			log.Error().Err(err).Str("user_id", userID.String()).Msg("refresh payment methods failed")
			response.InternalError(w)
		}
		return
	}

	response.OK(w, PaymentMethodsResponse{Methods: methods})
}

// SetDefaultPaymentMethod handles PUT /billing/payment-methods/{id}/default
func (h *Handler) SetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	methodID := chi.URLParam(r, "id")
	if err := h.service.SetDefaultPaymentMethod(r.Context(), userID, methodID); err != nil {
		switch {
		case errors.Is(err, ErrMethodNotFound):
			response.NotFound(w, "payment method not found")
		default:
			log.Error().Err(err).Str("user_id", userID.String()).Msg("set default payment method failed")
			response.InternalError(w)
		}
		return
	}

	response.OK(w, map[string]bool{"updated": true})
}

// DeletePaymentMethod handles DELETE /billing/payment-methods/{id}
func (h *Handler) DeletePaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	methodID := chi.URLParam(r, "id")
	if err := h.service.DeletePaymentMethod(r.Context(), userID, methodID); err != nil {
		switch {
		case errors.Is(err, ErrMethodNotFound):
			response.NotFound(w, "payment method not found")
		case errors.Is(err, ErrDefaultMethodDelete):
			response.BadRequest(w, "default payment method cannot be deleted")
		default:
			log.Error().Err(err).Str("user_id", userID.String()).Msg("delete payment method failed")
			response.InternalError(w)
		}
		return
	}

	response.NoContent(w)
}

// Webhook handles POST /webhooks/stripe
// @Summary Payment provider webhook
// @Description Verifies the event signature and reconciles local billing state. Unverifiable payloads are rejected before any state is touched.
// @Tags Billing
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /webhooks/stripe [post]
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "unreadable payload")
		return
	}

	event, err := h.gateway.VerifyAndParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Warn().Err(err).Msg("webhook signature rejected")
		response.BadRequest(w, "signature verification failed")
		return
	}

	if err := h.processor.ProcessEvent(r.Context(), event); err != nil {
		// A failed event gets a 5xx so the provider redelivers it.
		log.Error().Err(err).Str("type", string(event.Type)).Str("event_id", event.ID).Msg("webhook event failed")
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]interface{}{"received": true, "type": string(event.Type)})
}

// Routes returns the authenticated billing router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.GetProfile)
	r.Post("/checkout", h.CreateCheckout)
	r.Get("/payment-methods", h.ListPaymentMethods)
	r.Post("/payment-methods/refresh", h.RefreshPaymentMethods)
	r.Put("/payment-methods/{id}/default", h.SetDefaultPaymentMethod)
	r.Delete("/payment-methods/{id}", h.DeletePaymentMethod)
	return r
}

// WebhookRoutes returns the unauthenticated webhook router. Authentication is
// the signature on the payload, not a bearer token.
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/stripe", h.Webhook)
	return r
}
