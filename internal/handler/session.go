package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/sfa-scheme-engine/internal/domain/auth"
	"github.com/xenking/sfa-scheme-engine/internal/domain/calculation"
	"github.com/xenking/sfa-scheme-engine/internal/domain/order"
)

// OpenSession handles POST /api/sessions.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := decodeOpen(d)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}

	sess, err := h.orders.Open(r.Context(), order.OpenRequest{
		Customer: req.Customer,
		Items:    req.Items,
		AsOf:     req.AsOf,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeSession(e, sess) })
}

// GetSession handles GET /api/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.orders.Get(sessionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSession(e, sess) })
}

// UpdateCart handles PUT /api/sessions/{id}/cart.
func (h *Handler) UpdateCart(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := decodeCart(d)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}

	sess, _, err := h.orders.UpdateCart(r.Context(), sessionID(r), items, auth.Actor(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSession(e, sess) })
}

// AddOverride handles POST /api/sessions/{id}/overrides. The actor is always
// the authenticated API key name.
func (h *Handler) AddOverride(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := decodeOverride(d)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}
	sess, _, err := h.orders.AddOverride(r.Context(), sessionID(r), calculation.OverrideRequest{
		SchemeID: req.SchemeID,
		Benefit: calculation.OverrideBenefit{
			DiscountAmount: req.DiscountAmount,
			FreeQuantity:   req.FreeQuantity,
		},
		Reason: req.Reason,
		Actor:  auth.Actor(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSession(e, sess) })
}

// RemoveOverride handles DELETE /api/sessions/{id}/overrides/{schemeId}.
func (h *Handler) RemoveOverride(w http.ResponseWriter, r *http.Request) {
	sess, _, err := h.orders.RemoveOverride(r.Context(), sessionID(r), chi.URLParam(r, "schemeId"), auth.Actor(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSession(e, sess) })
}

// Submit handles POST /api/sessions/{id}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Submit(r.Context(), sessionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := mapError(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeError(w, status, msg)
}

// mapError converts domain errors to a status code and client message.
func mapError(err error) (int, string) {
	if errors.Is(err, order.ErrEmptyItems) {
		return http.StatusBadRequest, err.Error()
	}
	if errors.Is(err, calculation.ErrSessionNotFound) {
		return http.StatusNotFound, err.Error()
	}
	if errors.Is(err, calculation.ErrSessionSubmitted) {
		return http.StatusConflict, err.Error()
	}

	var vErr *calculation.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusUnprocessableEntity, vErr.Error()
	}
	var iqErr *order.InvalidQuantityError
	if errors.As(err, &iqErr) {
		return http.StatusUnprocessableEntity, iqErr.Error()
	}
	var pnfErr *order.ProductNotFoundError
	if errors.As(err, &pnfErr) {
		return http.StatusUnprocessableEntity, pnfErr.Error()
	}
	if errors.Is(err, order.ErrInvalidCustomer) {
		return http.StatusUnprocessableEntity, err.Error()
	}

	return http.StatusInternalServerError, "internal error"
}
