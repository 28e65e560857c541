package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// maxBodyBytes bounds a single webhook delivery read in HTTP mode.
const maxBodyBytes = 1 << 20

// Router serves the webhook over plain HTTP for non-Lambda deployments.
func (h *Webhook) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.correlate)

	r.Post("/callback", h.handleCallback)
	r.Get("/healthz", h.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		h.metrics.Handler().ServeHTTP(w, r)
	})
	return r
}

// correlate propagates or assigns X-Correlation-Id and attaches a request
// scoped logger.
func (h *Webhook) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerCorrelationID, id)
		ctx := withLogger(r.Context(), h.logger.With("correlation_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Webhook) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.ObserveWebhook(http.StatusBadRequest)
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: codeMalformedPayload})
		return
	}

	status, err := h.Process(r.Context(), body, r.Header.Get(headerSignature))
	if err != nil {
		_, code := mapGatewayError(err)
		respondJSON(w, status, errorResponse{Error: code})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, "OK")
}

func (h *Webhook) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
