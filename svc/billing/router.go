package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/creditkit/pkg/account"
	"github.com/dmitrymomot/creditkit/pkg/catalog"
	"github.com/dmitrymomot/creditkit/pkg/checkout"
	"github.com/dmitrymomot/creditkit/pkg/identity"
	"github.com/dmitrymomot/creditkit/pkg/ledger"
	"github.com/dmitrymomot/creditkit/pkg/reconcile"
	"github.com/dmitrymomot/creditkit/pkg/subscription"
)

// maxWebhookBody caps provider webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// Router mounts the billing surface. Intended for use with chi.Mount:
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billing.Router(svc))
func Router(svc *Service) chi.Router {
	h := &handler{svc: svc, log: svc.log}

	r := chi.NewRouter()
	r.Post("/signin", h.signIn)
	r.Get("/plans", h.plans)
	r.Route("/accounts/{accountID}", func(r chi.Router) {
		r.Get("/", h.getAccount)
		r.Post("/checkout", h.initiateCheckout)
		r.Post("/refresh", h.refreshSubscription)
		r.Post("/debit", h.debit)
	})
	r.Post("/webhooks/provider", h.webhook)
	return r
}

type handler struct {
	svc *Service
	log *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) signIn(w http.ResponseWriter, r *http.Request) {
	var creds identity.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := h.svc.SignIn(r.Context(), creds)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) plans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Plans())
}

func (h *handler) getAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	view, err := h.svc.GetAccount(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) initiateCheckout(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	var payload struct {
		Tier  catalog.Tier `json:"tier"`
		Token string       `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := h.svc.InitiateCheckout(r.Context(), accountID, payload.Tier, payload.Token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (h *handler) refreshSubscription(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	if err := h.svc.RefreshSubscription(r.Context(), accountID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) debit(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	var payload struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	remaining, err := h.svc.Debit(r.Context(), accountID, payload.Amount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"credits": remaining})
}

func (h *handler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	if err := h.svc.HandleWebhook(r.Context(), payload, r.Header.Get("Paddle-Signature")); err != nil {
		if errors.Is(err, checkout.ErrWebhookSignature) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		h.log.ErrorContext(r.Context(), "webhook processing failed", slog.Any("error", err))
		// Non-2xx makes the provider retry the delivery later.
		writeError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrAuthenticationFailed):
		writeError(w, http.StatusUnauthorized, "authentication failed")
	case errors.Is(err, account.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, catalog.ErrUnknownTier):
		writeError(w, http.StatusUnprocessableEntity, "unknown tier")
	case errors.Is(err, checkout.ErrCheckoutInFlight),
		errors.Is(err, checkout.ErrTokenConflict),
		errors.Is(err, subscription.ErrAlreadySubscribed),
		errors.Is(err, reconcile.ErrReconcileInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid amount")
	case errors.Is(err, checkout.ErrMissingToken):
		writeError(w, http.StatusBadRequest, "checkout token is required")
	case errors.Is(err, checkout.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
	case errors.Is(err, identity.ErrGatewayUnavailable):
		writeError(w, http.StatusBadGateway, "identity gateway unavailable")
	default:
		h.log.ErrorContext(r.Context(), "request failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func accountIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return uuid.Nil, false
	}
	return accountID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
