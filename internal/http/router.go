package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gmela/gmela-api/internal/auth"
	"github.com/gmela/gmela-api/internal/config"
	"github.com/gmela/gmela-api/internal/httputil"
	"github.com/gmela/gmela-api/internal/logging"
)

// NewRouter creates and configures the HTTP router. The route guard
// runs ahead of every route, after logging.
func NewRouter(cfg *config.Config, authHandler *auth.Handler, guard *auth.Guard, accounts *auth.AccountRepository, logger *logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	// CORS - must be first
	if len(cfg.Server.TrustedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.TrustedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300, // 5 minutes
		}))
	}

	// Global middleware
	r.Use(SecurityHeaders)               // Security headers on all responses
	r.Use(middleware.Recoverer)          // Recover from panics
	r.Use(middleware.RequestID)          // Add request ID
	r.Use(middleware.RealIP)             // Set RemoteAddr to real IP
	r.Use(logging.RequestLogger(logger)) // Structured logging with request context
	r.Use(middleware.Compress(5))        // Compress responses
	r.Use(guard.Handler)                 // Route guard ahead of all routes

	// Public routes
	r.Get("/health", handleHealth)

	// Auth flows
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/new-verification", authHandler.VerifyEmail)
		r.Post("/forgot-password", authHandler.ForgotPassword)
		r.Post("/reset-password", authHandler.ResetPassword)
	})

	// Auth UI routes. The pages themselves live in the frontend; these
	// endpoints exist so the guard's redirect semantics apply to the
	// paths a browser hits.
	r.Get("/auth/login", handleAuthPage("login"))
	r.Get("/auth/register", handleAuthPage("register"))

	// Protected prefix
	r.Get("/dashboard", handleDashboard(accounts))

	return r
}

// handleHealth is a simple health check endpoint
// @Summary      Health check
// @Description  Check if the API is running
// @Tags         health
// @Produce      json
// @Success      200 {object} map[string]string
// @Router       /health [get]
func handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, map[string]string{"status": "api is running"}, http.StatusOK)
}

func handleAuthPage(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.RespondJSON(w, map[string]string{"page": page}, http.StatusOK)
	}
}

// handleDashboard returns the authenticated user's session identity.
// The guard has already redirected unauthenticated requests to login.
func handleDashboard(accounts *auth.AccountRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.GetLoggerFromContext(r.Context())

		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			httputil.RespondError(w, "missing session", http.StatusUnauthorized)
			return
		}

		// OAuth-linked accounts have an external provider on file
		isOAuth := false
		if _, err := accounts.GetByUserID(r.Context(), identity.UserID); err == nil {
			isOAuth = true
		}

		logger.Info("dashboard accessed", "user_id", identity.UserID)

		httputil.RespondJSON(w, map[string]any{
			"user_id":  identity.UserID,
			"email":    identity.Email,
			"is_oauth": isOAuth,
		}, http.StatusOK)
	}
}
