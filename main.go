package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/itellico/mono-sub017/global"
	"github.com/itellico/mono-sub017/logger"
	"github.com/itellico/mono-sub017/service/natsx"
	"github.com/itellico/mono-sub017/service/realtime"
	"github.com/itellico/mono-sub017/service/storage"
	"github.com/itellico/mono-sub017/tools/security"
)

func main() {
	cfg := global.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewRedis(ctx, storage.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Errorf("redis connect failed: %v", err)
		os.Exit(1)
	}
	pipeline := storage.NewPipeline(store)

	verifier := &realtime.JWTVerifier{Opts: security.DefaultOptions(cfg.JWTSecret)}
	srv := realtime.NewServer(cfg, pipeline, verifier)
	srv.Start(ctx)

	var ingest *natsx.Ingestor
	if cfg.NatsServers != "" {
		ingest, err = natsx.NewIngestor(natsx.Config{Servers: cfg.NatsServers}, srv)
		if err != nil {
			logger.Errorf("nats connect failed: %v", err)
			os.Exit(1)
		}
		if err := ingest.Start(); err != nil {
			logger.Errorf("nats subscribe failed: %v", err)
			os.Exit(1)
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/realtime", srv.HandleWS) // e.g. ws://host:8080/realtime?token=...
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"instance": srv.InstanceID()})
	})
	r.GET("/api/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"users": srv.GetConnectedUsers()})
	})
	r.GET("/api/presence/:userId", func(c *gin.Context) {
		rec, err := srv.GetUserPresence(c.Request.Context(), c.Param("userId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if rec == nil {
			c.JSON(http.StatusOK, gin.H{"userId": c.Param("userId"), "status": storage.StatusOffline})
			return
		}
		c.JSON(http.StatusOK, rec)
	})
	r.GET("/api/stats/:subjectId", func(c *gin.Context) {
		stats, err := srv.GetEngagementStats(c.Request.Context(), c.Param("subjectId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	})
	r.POST("/api/notify", func(c *gin.Context) {
		var req struct {
			UserID  string `json:"userId" binding:"required"`
			Type    string `json:"type"`
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		n := &storage.NotificationEnvelope{Type: req.Type, Title: req.Title, Content: req.Content}
		if err := srv.SendNotification(c.Request.Context(), req.UserID, n); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": n.NotificationID})
	})

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Infof("listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if ingest != nil {
		_ = ingest.Close()
	}
	srv.Shutdown(shutdownCtx)
	_ = store.Close()
	logger.Sync()
}
