package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gilesd/giles/internal/hub"
	"github.com/gilesd/giles/internal/transport"
)

// SetupRoutes builds the HTTP surface: a health probe, a read-only
// table listing, and the websocket endpoint carrying the same line
// protocol as telnet.
func SetupRoutes(h *hub.Hub, sessions transport.Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/tables", ListTables(h))
	r.Get("/ws", transport.WSHandler(sessions))
	return r
}
