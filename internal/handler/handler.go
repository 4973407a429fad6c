package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/sfa-scheme-engine/internal/domain/auth"
	"github.com/xenking/sfa-scheme-engine/internal/domain/order"
)

// Handler serves the calculation session API, delegating business logic to
// the order service.
type Handler struct {
	orders *order.Service
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orders *order.Service) *Handler {
	return &Handler{orders: orders}
}

// Register mounts the session API on r behind sec. Each route requires the
// scope it is registered with.
func (h *Handler) Register(r chi.Router, sec *SecurityHandler) {
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Use(sec.Authenticate)
		r.With(RequireScope(auth.ScopeCalculate)).Post("/", h.OpenSession)

		r.Route("/{id}", func(r chi.Router) {
			r.With(RequireScope(auth.ScopeCalculate)).Get("/", h.GetSession)
			r.With(RequireScope(auth.ScopeCalculate)).Put("/cart", h.UpdateCart)
			r.With(RequireScope(auth.ScopeOverride)).Post("/overrides", h.AddOverride)
			r.With(RequireScope(auth.ScopeOverride)).Delete("/overrides/{schemeId}", h.RemoveOverride)
			r.With(RequireScope(auth.ScopeSubmit)).Post("/submit", h.Submit)
		})
	})
}
