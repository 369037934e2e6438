package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"annothub/internal/annotations"
	"annothub/internal/auth"
	"annothub/internal/chat"
	"annothub/internal/presence"
	"annothub/pkg/database"
	"annothub/pkg/utils"
)

func main() {
	cfg := database.DefaultConfig()
	db := database.MustOpen(cfg)
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	router := gin.Default()

	// Optional: avoid "trusted all proxies" warning
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	// Auth: tokens come from the external identity provider; we only
	// verify them against the shared secret.
	authCfg := utils.LoadAuthConfig()
	tokenSvc := auth.TokenService{
		Secret:   []byte(authCfg.JWTSecret),
		Issuer:   authCfg.JWTIssuer,
		Duration: authCfg.JWTDuration,
	}

	hub := presence.NewHub()
	router.GET("/ws", presence.WSHandler(hub, tokenSvc))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": cfg.Path})
	})

	router.GET("/ready", func(c *gin.Context) {
		stats := hub.Stats()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not_ready",
				"db_error":  err.Error(),
				"documents": stats.Documents,
				"clients":   stats.Clients,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"db":        "ok",
			"documents": stats.Documents,
			"clients":   stats.Clients,
		})
	})

	router.GET("/debug", func(c *gin.Context) {
		stats := hub.Stats()
		c.JSON(http.StatusOK, gin.H{
			"db":        cfg.Path,
			"documents": stats.Documents,
			"clients":   stats.Clients,
		})
	})

	public := router.Group("/api")
	protected := router.Group("/api")
	protected.Use(auth.AuthMiddleware(tokenSvc))

	// Annotations
	store := annotations.NewRepo(db)
	proc := annotations.NewProcessor(store)
	annotations.NewHandler(proc, store, hub).RegisterRoutes(public, protected)

	// Chat
	chatRepo := chat.NewRepo(db)
	chat.NewHandler(chatRepo).RegisterRoutes(public, protected)

	srvCfg := utils.LoadServerConfig()
	httpSrv := &http.Server{
		Addr:    srvCfg.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP API server listening on %s", srvCfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("shutdown signal received: %s", sig)
	case err := <-errCh:
		log.Printf("server error: %v", err)
	}

	log.Println("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}

	log.Println("server stopped")
}
