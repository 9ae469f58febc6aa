/**
 * @description
 * This file sets up the HTTP router for poold using go-chi/chi. It applies
 * logging, recovery, CORS and rate limiting, and groups the routes that need
 * a verified session.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: The routing library.
 * - github.com/go-chi/cors: CORS handling.
 */
package api

import (
	"net/http"
	"time"

	"github.com/Pool-labs/Pool/internal/identity"
	"github.com/Pool-labs/Pool/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures the cross-cutting middleware.
type RouterOptions struct {
	AllowedOrigins []string
	RateLimiter    *RateLimiter
}

// NewRouter creates a new Chi router and registers every poold route.
func NewRouter(h *Handlers, provider identity.Provider, sessions *session.Manager, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if opts.RateLimiter != nil {
		r.Use(opts.RateLimiter.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/sign-up", h.SignUp)
		r.Post("/sign-in", h.SignIn)
		r.Post("/federated", h.SignInFederated)
		r.With(AuthMiddleware(provider, sessions)).Post("/sign-out", h.SignOut)
	})

	// Group routes that require authentication
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(provider, sessions))

		r.Get("/session/route", h.GetRoute)

		r.Route("/onboarding", func(r chi.Router) {
			r.Post("/profile", h.SaveProfile)
			r.Post("/funding", h.LinkFunding)
		})

		r.Route("/pools", func(r chi.Router) {
			r.Get("/", h.ListPools)
			r.Post("/", h.CreatePool)
			r.Get("/{id}", h.GetPool)
			r.Post("/{id}/join", h.JoinPool)
			r.Post("/{id}/leave", h.LeavePool)
			r.Post("/{id}/funds", h.AddFunds)
			r.Post("/{id}/withdrawals", h.WithdrawFunds)
			r.Post("/{id}/cards", h.IssueCard)
			r.Post("/{id}/contributions", h.Contribute)
		})

		r.Route("/cards", func(r chi.Router) {
			r.Get("/", h.ListCards)
			r.Post("/{id}/activate", h.ActivateCard)
			r.Post("/{id}/deactivate", h.DeactivateCard)
		})

		r.Get("/payments", h.ListPayments)
	})

	return r
}

// requestLogger logs one line per request through zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logRequest(r, ww.Status(), ww.BytesWritten(), time.Since(start))
	})
}
