package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-press/internal/auth"
	"go-press/internal/cache"
	"go-press/internal/config"
	"go-press/internal/data"
	"go-press/internal/database"
	"go-press/internal/handler"
	"go-press/internal/logger"
	"go-press/internal/middleware"
	"go-press/internal/service"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("press-server", pflag.ExitOnError)
	config.RegisterFlags(flags)
	flags.String("server.port", "", "port to listen on")
	_ = flags.Parse(os.Args[1:])

	// --- Configuration Loading ---
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		// Use fmt.Printf here because the logger is not yet initialized.
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Initialization ---
	log := logger.New(cfg.Log, nil)

	// --- Storage and Migration ---
	log.Info("Opening storage...")
	pool, err := database.Open(cfg.DB, log)
	if err != nil {
		log.Fatal(err, "Failed to open storage")
	}
	defer pool.Close()

	log.Info("Applying database migrations...")
	applied, err := database.ApplyMigrations(context.Background(), pool, log)
	if err != nil {
		// Serving against a partially migrated schema is never safe.
		log.Fatal(err, "Failed to apply migrations")
	}
	log.Info(fmt.Sprintf("Migrations applied successfully (%d new).", len(applied)))

	// --- Cache Initialization ---
	log.Info("Initializing SQLite cache...")
	renderCache, err := cache.New(cfg.Cache)
	if err != nil {
		log.Fatal(err, "Failed to initialize cache")
	}
	defer renderCache.Close()

	// --- Session Management Setup ---
	sessionManager := scs.New()
	sessionManager.Store = sqlite3store.New(renderCache.DB())
	sessionManager.Lifetime = time.Duration(cfg.Session.Lifetime) * time.Hour
	sessionManager.Cookie.Persist = true
	sessionManager.Cookie.SameSite = http.SameSiteLaxMode
	sessionManager.Cookie.Secure = cfg.Server.TLS.Enabled

	// --- Authentication and Authorization Setup ---
	log.Info("Initializing authentication and authorization...")
	var authenticator *auth.Authenticator
	if cfg.OIDC.IssuerURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		authenticator, err = auth.NewAuthenticator(ctx, cfg.OIDC)
		cancel()
		if err != nil {
			log.Fatal(err, "Failed to initialize authenticator")
		}
	} else {
		log.Warn("oidc.issuer_url is empty; login is disabled and every caller is anonymous")
	}
	enforcer, err := auth.NewEnforcer()
	if err != nil {
		log.Fatal(err, "Failed to initialize enforcer")
	}
	if err := auth.SeedDefaultPolicies(enforcer, log); err != nil {
		log.Fatal(err, "Failed to seed policies")
	}
	if err := auth.GrantRoles(enforcer, cfg.Auth, log); err != nil {
		log.Fatal(err, "Failed to grant roles")
	}

	// --- Dependency Injection and Handler Initialization ---
	repository := data.NewRepository(pool, log)
	postService := service.NewPostService(repository, renderCache, log)
	postHandler := handler.NewPostHandler(postService, log)
	seoHandler := handler.NewSeoHandler(postService, cfg.Server.BaseURL)
	authHandler := handler.NewAuthHandler(authenticator, sessionManager, log)
	statsHandler := handler.NewStatsHandler(pool, repository)

	authzMiddleware := middleware.Authorizer(enforcer, sessionManager)
	errorMiddleware := middleware.Error(log)

	router := handler.NewRouter(postHandler, seoHandler, authHandler, statsHandler, sessionManager, authzMiddleware, errorMiddleware)

	// --- Server Initialization and Graceful Shutdown ---
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if cfg.Server.TLS.Enabled {
			log.Info(fmt.Sprintf("Starting HTTPS server on %s", server.Addr))
			if err := server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal(err, "Could not start HTTPS server")
			}
		} else {
			log.Info(fmt.Sprintf("Starting HTTP server on %s", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal(err, "Could not start HTTP server")
			}
		}
	}()

	// Expired cache rows are removed lazily on read; sweep the rest hourly.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n, err := renderCache.Purge(sweepCtx); err != nil {
					log.Error(err, "Cache purge failed")
				} else if n > 0 {
					log.Debug(fmt.Sprintf("Purged %d expired cache entries", n))
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Warn("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}
	log.Info("Server exiting")
}
