package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// AgreementHandler serves read access to persisted agreements and their
// event logs.
type AgreementHandler struct {
	agreements domain.AgreementStore
	events     domain.EventStore
	logger     *slog.Logger
}

// NewAgreementHandler creates an AgreementHandler.
func NewAgreementHandler(agreements domain.AgreementStore, events domain.EventStore, logger *slog.Logger) *AgreementHandler {
	return &AgreementHandler{
		agreements: agreements,
		events:     events,
		logger:     logHandler(logger, "agreements"),
	}
}

// ListAgreements returns agreements, optionally filtered by status or
// protocol.
// GET /api/agreements?status=active&protocol=payment_channel
func (h *AgreementHandler) ListAgreements(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()

	var (
		agreements []domain.Agreement
		err        error
	)
	switch {
	case q.Get("status") != "":
		agreements, err = h.agreements.ListByStatus(r.Context(), domain.AgreementStatus(q.Get("status")), opts)
	case q.Get("protocol") != "":
		agreements, err = h.agreements.ListByProtocol(r.Context(), domain.Protocol(q.Get("protocol")), opts)
	default:
		agreements, err = h.agreements.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list agreements failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agreements": agreements,
		"count":      len(agreements),
	})
}

// GetAgreement returns a single agreement snapshot.
// GET /api/agreements/{id}
func (h *AgreementHandler) GetAgreement(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	a, err := h.agreements.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListAgreementEvents returns an agreement's event history in order.
// GET /api/agreements/{id}/events
func (h *AgreementHandler) ListAgreementEvents(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if _, err := h.agreements.GetByID(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	events, err := h.events.ListByAgreement(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list events failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// ListRecentEvents returns the newest events across all agreements.
// GET /api/events/recent
func (h *AgreementHandler) ListRecentEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListRecent(r.Context(), parseListOpts(r).Limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
