package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gescom/backoffice/internal/handler"
)

type Handlers struct {
	Product  *handler.ProductHandler
	Stock    *handler.StockHandler
	Order    *handler.OrderHandler
	Invoice  *handler.InvoiceHandler
	Payment  *handler.PaymentHandler
	Security *handler.SecurityHandler
}

// NewRouter assembles the API. trustProxy enables the RealIP middleware
// so RemoteAddr reflects the forwarding headers; leave it off unless
// every request passes through a proxy that sets them.
func NewRouter(h Handlers, trustProxy bool) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(api chi.Router) {
		h.Product.RegisterRoutes(api)
		h.Stock.RegisterRoutes(api)
		h.Order.RegisterRoutes(api)
		h.Invoice.RegisterRoutes(api)
		h.Payment.RegisterRoutes(api)
		h.Security.RegisterRoutes(api)
	})

	return r
}
