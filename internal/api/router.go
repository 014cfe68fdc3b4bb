package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vocaldesk/vocaldesk/internal/models"
)

// RouterConfig holds settings for the API router.
type RouterConfig struct {
	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, sessions Sessions, users UserStore, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// CORS: restrict origins when configured, otherwise allow all (dev mode)
	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		origins := strings.Split(cfg.CorsAllowedOrigins, ",")
		trimmed := make([]string, 0, len(origins))
		for _, o := range origins {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes — no session required
	r.Get("/health", h.Health)
	r.Post("/v1/auth/login", h.Login)
	r.Post("/v1/auth/reset", h.RequestPasswordReset)
	r.Post("/v1/auth/reset/confirm", h.ConfirmPasswordReset)

	// Everything else runs behind the session gate, with per-route
	// permission indexes into the 20-bit vector.
	r.Route("/v1", func(r chi.Router) {
		r.Use(SessionAuth(sessions, users))

		r.Post("/auth/logout", h.Logout)

		// Batch jobs (queue path)
		r.Group(func(r chi.Router) {
			r.Use(RequirePermission(models.PermSubmitBatches))
			r.Post("/batches", h.SubmitBatch)
			r.Get("/batches", h.ListBatches)
			r.Get("/batches/{id}", h.GetBatch)
			r.Get("/batches/{id}/download", h.DownloadBatch)
			r.Get("/archives/{name}", h.DownloadArchive)
		})

		// Real-time path + single-phrase preview
		r.Group(func(r chi.Router) {
			r.Use(RequirePermission(models.PermSynthesize))
			r.Post("/workspaces", h.BeginWorkspace)
			r.Post("/workspaces/{id}/rows", h.UploadRow)
			r.Post("/workspaces/{id}/archive", h.ArchiveWorkspace)
			r.Post("/preview", h.Preview)
		})

		// Voice profiles — reads are open to any signed-in operator,
		// writes need the manage bit.
		r.Get("/profiles", h.ListProfiles)
		r.Get("/profiles/{id}", h.GetProfile)
		r.Group(func(r chi.Router) {
			r.Use(RequirePermission(models.PermManageProfiles))
			r.Post("/profiles", h.CreateProfile)
			r.Put("/profiles/{id}", h.UpdateProfile)
			r.Delete("/profiles/{id}", h.DeleteProfile)
		})

		// Users
		r.Group(func(r chi.Router) {
			r.Use(RequirePermission(models.PermManageUsers))
			r.Get("/users", h.ListUsers)
			r.Post("/users", h.CreateUser)
			r.Put("/users/{id}/permissions", h.UpdateUserPermissions)
			r.Delete("/users/{id}", h.DeleteUser)
		})

		// SMTP settings
		r.Group(func(r chi.Router) {
			r.Use(RequirePermission(models.PermManageSettings))
			r.Get("/settings/smtp", h.GetSMTPSettings)
			r.Put("/settings/smtp", h.SaveSMTPSettings)
			r.Post("/settings/smtp/test", h.TestSMTPSettings)
		})
	})

	return r
}
