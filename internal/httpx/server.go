package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/auth"
	"github.com/ariefcatur/go-marketplace-orders/internal/funds"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/ariefcatur/go-marketplace-orders/internal/sweeper"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// StatusCache serves GET /orders/{id}/status without a store read.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.StatusEntry, bool, error)
	SetStatus(ctx context.Context, o *orders.Order)
}

type Sweeper interface {
	RunOnce(ctx context.Context) (sweeper.Report, error)
}

type Deps struct {
	Orders  *orders.Service
	Funds   *funds.Service
	Auth    *auth.Verifier
	Cache   StatusCache
	Sweeper Sweeper
	Limiter *Limiter
}

func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	oh := &OrdersHandler{Orders: d.Orders, Funds: d.Funds, Cache: d.Cache}
	wh := &WalletHandler{Funds: d.Funds}

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware(writeStatus))
		oh.Register(r, d.Limiter)
		wh.Register(r, d.Limiter)

		if d.Sweeper != nil {
			r.With(auth.RequireRole(auth.RoleAdmin, writeStatus)).
				Post("/admin/sweep", sweepHandler(d.Sweeper))
		}
	})
	return r
}

func sweepHandler(s Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := s.RunOnce(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}
