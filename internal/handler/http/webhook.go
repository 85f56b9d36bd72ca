package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SparingSoftware/getpaid-go/internal/service"
	apperrors "github.com/SparingSoftware/getpaid-go/pkg/errors"
	"github.com/SparingSoftware/getpaid-go/pkg/httputil"
)

// WebhookHandler receives broker callback notifications.
type WebhookHandler struct {
	reconciler *service.Reconciler
	logger     *slog.Logger
}

// NewWebhookHandler creates a broker webhook handler.
func NewWebhookHandler(rec *service.Reconciler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: rec,
		logger:     logger,
	}
}

// HandleCallback handles POST /callbacks/{brokerID}.
//
// The response contract is kept stable for brokers: an authenticated
// delivery is acknowledged with 200 even when it matches no payment or
// contradicts an already-settled one, because brokers treat non-2xx as a
// signal to redeliver and redelivery cannot fix either condition. Those
// cases are logged for operators instead.
func (h *WebhookHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerID")

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "unreadable request body"},
		})
		return
	}

	result, err := h.reconciler.HandleCallback(r.Context(), brokerID, r, body)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrPaymentNotFound):
			h.logger.WarnContext(r.Context(), "callback matched no payment",
				slog.String("broker_id", brokerID),
				slog.String("error", err.Error()),
			)
			httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "acknowledged"}})
		case errors.Is(err, apperrors.ErrConflictingState):
			h.logger.ErrorContext(r.Context(), "callback conflicts with recorded state",
				slog.String("broker_id", brokerID),
				slog.String("error", err.Error()),
			)
			httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "acknowledged"}})
		default:
			httputil.WriteError(w, r, err, h.logger)
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}
