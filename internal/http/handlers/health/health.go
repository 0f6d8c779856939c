// Package health реализует проверку готовности сервиса.
package health

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/payment-pipeline/internal/http/response"
)

// Handler обрабатывает GET /health.
type Handler struct {
	db *sql.DB
}

// New создает новый Handler.
func New(db *sql.DB) *Handler {
	return &Handler{db: db}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("database unavailable"))
		return
	}
	render.JSON(w, r, response.OK())
}
