package handler

import (
	"net/http"

	"go-press/internal/middleware"
	"go-press/internal/session"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates and configures a new chi router.
func NewRouter(
	postHandler *PostHandler,
	seoHandler *SeoHandler,
	authHandler *AuthHandler,
	statsHandler *StatsHandler,
	sm session.Manager,
	authzMiddleware func(http.Handler) http.Handler,
	errorMiddleware func(middleware.AppHandler) http.Handler,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(sm.LoadAndSave)
	r.Use(middleware.SettingsMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/posts", http.StatusFound)
	})

	r.Group(func(r chi.Router) {
		r.Use(authzMiddleware)

		r.Method(http.MethodGet, "/auth/login", errorMiddleware(authHandler.handleLogin))
		r.Method(http.MethodGet, "/auth/callback", errorMiddleware(authHandler.handleCallback))
		r.Method(http.MethodPost, "/auth/logout", errorMiddleware(authHandler.handleLogout))

		r.Method(http.MethodGet, "/posts", errorMiddleware(postHandler.listHandler))
		r.Method(http.MethodPost, "/posts", errorMiddleware(postHandler.createHandler))
		r.Method(http.MethodGet, "/posts/{slug}", errorMiddleware(postHandler.viewHandler))
		r.Method(http.MethodPut, "/posts/{id}", errorMiddleware(postHandler.updateHandler))
		r.Method(http.MethodDelete, "/posts/{id}", errorMiddleware(postHandler.deleteHandler))

		r.Method(http.MethodGet, "/tags", errorMiddleware(postHandler.tagsHandler))
		r.Method(http.MethodDelete, "/tags/{slug}", errorMiddleware(postHandler.deleteTagHandler))

		r.Method(http.MethodGet, "/search", errorMiddleware(postHandler.searchHandler))

		r.Method(http.MethodGet, "/sitemap.xml", errorMiddleware(seoHandler.sitemapHandler))
		r.Method(http.MethodGet, "/robots.txt", errorMiddleware(seoHandler.robotsHandler))

		r.Method(http.MethodGet, "/debug/stats", errorMiddleware(statsHandler.statsHandler))
	})

	return r
}
