// Package api wires together all HTTP routes for the model configuration
// backend.
//
// Route grouping philosophy:
//   - /health, /ready and /version are unauthenticated probes.
//   - /api/v1/auth/* is unauthenticated by nature (it is how a session token
//     is obtained) but runs behind the stricter auth rate limit.
//   - /api/v1/webhooks/trigger/* is the one unauthenticated write: external
//     systems fire incoming webhooks with the webhook's own validation token
//     instead of a session.
//   - Everything else under /api/v1 requires a valid session token; the auth
//     middleware resolves the user document on every request so archived or
//     deleted users lose access immediately.
//
// Middleware order is Recovery, RequestID, Metrics, Logger, CORS,
// SecurityHeaders globally, then RateLimit, Auth, Audit per group. Audit runs
// innermost so it sees the final status code and the authenticated username.
package api

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/lmco/mcf-sub003/internal/api/authn"
	"github.com/lmco/mcf-sub003/internal/api/entities"
	"github.com/lmco/mcf-sub003/internal/api/files"
	"github.com/lmco/mcf-sub003/internal/audit"
	"github.com/lmco/mcf-sub003/internal/cascade"
	"github.com/lmco/mcf-sub003/internal/config"
	"github.com/lmco/mcf-sub003/internal/controllers"
	"github.com/lmco/mcf-sub003/internal/crypto"
	"github.com/lmco/mcf-sub003/internal/jobs"
	"github.com/lmco/mcf-sub003/internal/middleware"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/permissions"
	"github.com/lmco/mcf-sub003/internal/safego"
	"github.com/lmco/mcf-sub003/internal/storage"
	"github.com/lmco/mcf-sub003/internal/store"
	"github.com/lmco/mcf-sub003/internal/store/memstore"
	"github.com/lmco/mcf-sub003/internal/store/postgres"

	// Import storage backends to register them
	_ "github.com/lmco/mcf-sub003/internal/storage/azure"
	_ "github.com/lmco/mcf-sub003/internal/storage/gcs"
	_ "github.com/lmco/mcf-sub003/internal/storage/local"
	_ "github.com/lmco/mcf-sub003/internal/storage/s3"
)

// BackgroundServices holds references to background jobs and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	reaper       *jobs.ArchiveReaper
	auditShipper audit.Shipper
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines and flushes the audit pipeline.
// It should be called after the HTTP server has been shut down so that
// in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	if bg.reaper != nil {
		bg.reaper.Stop()
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Warn("failed to close audit shipper", "error", err)
		}
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
}

// NewRouter creates and configures the Gin router. A nil db selects the
// in-memory store; anything else runs against Postgres.
func NewRouter(cfg *config.Config, db *sqlx.DB) (*gin.Engine, *BackgroundServices) {
	var s store.Store
	if db != nil {
		s = postgres.New(db)
	} else {
		s = memstore.New()
		slog.Warn("running against the in-memory store; documents will not survive a restart")
	}
	return NewRouterWithStore(cfg, s, db)
}

// NewRouterWithStore wires the router over an already-constructed document
// store. db may be nil; it is only used by the health and readiness probes.
func NewRouterWithStore(cfg *config.Config, s store.Store, db *sqlx.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	// Blob storage backend
	blobs, err := storage.NewStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}
	slog.Info("initialized storage backend", "backend", cfg.Storage.DefaultBackend)

	// Webhook token cipher. Empty key means tokens are stored in the clear.
	var cipher *crypto.TokenCipher
	if cfg.Auth.TokenEncryptionKey != "" {
		key, err := crypto.DecodeKey(cfg.Auth.TokenEncryptionKey)
		if err != nil {
			log.Fatalf("Invalid token encryption key: %v", err)
		}
		if cipher, err = crypto.NewTokenCipher(key); err != nil {
			log.Fatalf("Failed to initialize token cipher: %v", err)
		}
	}

	// Controllers over the shared permission resolver and cascade coordinator
	defaultOrg := cfg.Tenancy.DefaultOrganization
	resolver := permissions.New()
	coordinator := cascade.New(s)
	if err := ensureDefaultOrg(context.Background(), s, defaultOrg); err != nil {
		log.Fatalf("Failed to provision the default organization: %v", err)
	}

	orgControl := controllers.NewOrganizations(s, resolver, coordinator, defaultOrg)
	projectControl := controllers.NewProjects(s, resolver, coordinator)
	branchControl := controllers.NewBranches(s, resolver)
	elementControl := controllers.NewElements(s, resolver)
	artifactControl := controllers.NewArtifacts(s, resolver, blobs)
	userControl := controllers.NewUsers(s, resolver, coordinator, defaultOrg)
	webhookControl := controllers.NewWebhooks(s, resolver, cipher)

	handlers := entities.New(orgControl, projectControl, branchControl, elementControl, artifactControl, userControl, webhookControl)

	authHandlers, err := authn.New(cfg, s, userControl)
	if err != nil {
		log.Fatalf("Failed to initialize authentication: %v", err)
	}

	// Audit pipeline
	var shipper audit.Shipper
	if cfg.Audit.Enabled && len(cfg.Audit.Shippers) > 0 {
		ms, err := audit.NewMultiShipper(auditShipperConfigs(cfg.Audit.Shippers))
		if err != nil {
			log.Fatalf("Failed to initialize audit shippers: %v", err)
		}
		shipper = ms
		bg.auditShipper = ms
	}

	// Rate limiters. With a Redis URL the limit state is shared across
	// replicas; otherwise each replica enforces it in process.
	limiterFor := func(rlc middleware.RateLimitConfig) gin.HandlerFunc {
		if !cfg.Security.RateLimiting.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		if cfg.Security.RateLimiting.RedisURL != "" {
			rrl, err := middleware.NewRedisRateLimiter(cfg.Security.RateLimiting.RedisURL, rlc)
			if err != nil {
				log.Fatalf("Failed to initialize Redis rate limiter: %v", err)
			}
			return middleware.RedisRateLimitMiddleware(rrl)
		}
		rl := middleware.NewRateLimiter(rlc)
		bg.rateLimiters = append(bg.rateLimiters, rl)
		return middleware.RateLimitMiddleware(rl)
	}
	generalCfg := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
		generalCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
	}
	if cfg.Security.RateLimiting.Burst > 0 {
		generalCfg.BurstSize = cfg.Security.RateLimiting.Burst
	}
	generalLimit := limiterFor(generalCfg)
	authLimit := limiterFor(middleware.AuthRateLimitConfig())
	uploadLimit := limiterFor(middleware.UploadRateLimitConfig())

	// Archive reaper
	if cfg.Retention.Enabled {
		reaper := jobs.NewArchiveReaper(s, coordinator, cfg.Retention.ArchiveMaxAge, cfg.Retention.SweepInterval)
		bg.reaper = reaper
		safego.Go(func() { reaper.Start(context.Background()) })
	}

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Probes
	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, blobs))
	router.GET("/version", versionHandler())

	// Login endpoints: unauthenticated, strict rate limit
	authGroup := router.Group("/api/v1/auth", authLimit)
	{
		authGroup.GET("/login", authHandlers.LoginHandler())
		authGroup.GET("/callback", authHandlers.CallbackHandler())
		authGroup.GET("/logout", authHandlers.LogoutHandler())
		authGroup.POST("/dev-login", authn.DevModeMiddleware(), authHandlers.DevLoginHandler())
	}

	// Incoming webhook trigger: unauthenticated, guarded by the webhook token
	router.POST("/api/v1/webhooks/trigger/:webhookid", authLimit, handlers.TriggerWebhookHandler())

	// Direct blob serving for local storage with serve_directly enabled
	if cfg.Storage.DefaultBackend == "local" && cfg.Storage.Local.ServeDirectly {
		router.GET("/api/v1/files/*filepath", generalLimit, files.ServeFileHandler(blobs))
	}

	// Authenticated API
	v1 := router.Group("/api/v1",
		generalLimit,
		middleware.AuthMiddleware(s),
		middleware.AuditMiddleware(shipper, &cfg.Audit),
	)
	{
		v1.GET("/auth/me", authHandlers.MeHandler())
		v1.POST("/auth/refresh", authHandlers.RefreshHandler())

		v1.GET("/orgs", handlers.GetOrgsHandler())
		v1.POST("/orgs", handlers.PostOrgsHandler())
		v1.PATCH("/orgs", handlers.PatchOrgsHandler())
		v1.DELETE("/orgs", handlers.DeleteOrgsHandler())
		v1.GET("/orgs/:orgid", handlers.GetOrgHandler())
		v1.POST("/orgs/:orgid", handlers.PostOrgHandler())
		v1.PATCH("/orgs/:orgid", handlers.PatchOrgHandler())
		v1.DELETE("/orgs/:orgid", handlers.DeleteOrgHandler())

		v1.GET("/orgs/:orgid/projects", handlers.GetProjectsHandler())
		v1.POST("/orgs/:orgid/projects", handlers.PostProjectsHandler())
		v1.PATCH("/orgs/:orgid/projects", handlers.PatchProjectsHandler())
		v1.DELETE("/orgs/:orgid/projects", handlers.DeleteProjectsHandler())
		v1.GET("/orgs/:orgid/projects/:projectid", handlers.GetProjectHandler())
		v1.POST("/orgs/:orgid/projects/:projectid", handlers.PostProjectHandler())
		v1.PATCH("/orgs/:orgid/projects/:projectid", handlers.PatchProjectHandler())
		v1.DELETE("/orgs/:orgid/projects/:projectid", handlers.DeleteProjectHandler())

		v1.GET("/orgs/:orgid/projects/:projectid/branches", handlers.GetBranchesHandler())
		v1.GET("/orgs/:orgid/projects/:projectid/branches/:branchid", handlers.GetBranchHandler())

		v1.GET("/orgs/:orgid/projects/:projectid/branches/:branchid/elements", handlers.GetElementsHandler())
		v1.GET("/orgs/:orgid/projects/:projectid/branches/:branchid/elements/:elementid", handlers.GetElementHandler())

		v1.GET("/orgs/:orgid/projects/:projectid/branches/:branchid/artifacts", handlers.GetArtifactsHandler())
		v1.DELETE("/orgs/:orgid/projects/:projectid/branches/:branchid/artifacts", handlers.DeleteArtifactsHandler())
		v1.GET("/orgs/:orgid/projects/:projectid/branches/:branchid/artifacts/:artifactid", handlers.GetArtifactHandler())
		v1.POST("/orgs/:orgid/projects/:projectid/branches/:branchid/artifacts/:artifactid", uploadLimit, handlers.PostArtifactHandler())
		v1.DELETE("/orgs/:orgid/projects/:projectid/branches/:branchid/artifacts/:artifactid", handlers.DeleteArtifactHandler())
		v1.GET("/orgs/:orgid/projects/:projectid/branches/:branchid/artifacts/:artifactid/blob", handlers.GetArtifactBlobHandler())

		v1.GET("/webhooks", handlers.GetWebhooksHandler())
		v1.POST("/webhooks", handlers.PostWebhooksHandler())
		v1.PATCH("/webhooks", handlers.PatchWebhooksHandler())
		v1.DELETE("/webhooks", handlers.DeleteWebhooksHandler())
		v1.GET("/webhooks/:webhookid", handlers.GetWebhookHandler())
		v1.PATCH("/webhooks/:webhookid", handlers.PatchWebhookHandler())
		v1.DELETE("/webhooks/:webhookid", handlers.DeleteWebhookHandler())

		v1.GET("/users", handlers.GetUsersHandler())
		v1.POST("/users", handlers.PostUsersHandler())
		v1.PATCH("/users", handlers.PatchUsersHandler())
		v1.DELETE("/users", handlers.DeleteUsersHandler())
		v1.GET("/users/whoami", handlers.WhoamiHandler())
		v1.GET("/users/:username", handlers.GetUserHandler())
		v1.POST("/users/:username", handlers.PostUserHandler())
		v1.PATCH("/users/:username", handlers.PatchUserHandler())
		v1.DELETE("/users/:username", handlers.DeleteUserHandler())
	}

	return router, bg
}

// ensureDefaultOrg provisions the default organization on first boot. It is
// the root of the tenancy model: every new user is enrolled into it and the
// controllers refuse to rename, archive or delete it.
func ensureDefaultOrg(ctx context.Context, s store.Store, orgID string) error {
	existing, err := s.FindOne(ctx, models.KindOrganization, orgID)
	if err != nil || existing != nil {
		return err
	}
	org := &models.Organization{ID: orgID, Name: "Default", Permissions: models.PermissionMap{}}
	org.StampCreate("system", time.Now().UTC())
	slog.Info("provisioning default organization", "org", orgID)
	return s.InsertMany(ctx, models.KindOrganization, []models.Entity{org})
}

// auditShipperConfigs converts the viper-decoded audit shipper configuration
// into the audit package's own config types, so the audit package stays
// independent of the config loader.
func auditShipperConfigs(shippers []config.AuditShipperConfig) []audit.ShipperConfig {
	out := make([]audit.ShipperConfig, 0, len(shippers))
	for _, sc := range shippers {
		conv := audit.ShipperConfig{Enabled: sc.Enabled, Type: sc.Type}
		if sc.Webhook != nil {
			conv.Webhook = &audit.WebhookConfig{
				URL:           sc.Webhook.URL,
				Headers:       sc.Webhook.Headers,
				Timeout:       time.Duration(sc.Webhook.TimeoutSecs) * time.Second,
				BatchSize:     sc.Webhook.BatchSize,
				FlushInterval: time.Duration(sc.Webhook.FlushInterval) * time.Second,
			}
		}
		if sc.File != nil {
			conv.File = &audit.FileConfig{
				Path:       sc.File.Path,
				MaxSizeMB:  sc.File.MaxSizeMB,
				MaxBackups: sc.File.MaxBackups,
			}
		}
		out = append(out, conv)
	}
	return out
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service. A nil db (the
// in-memory store) is always healthy.
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			if err := db.PingContext(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unhealthy",
					"error":  "database connection failed",
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service. Unlike the
// liveness probe (/health), this also checks the storage backend so that a
// Kubernetes readiness gate fails when uploads/downloads would error.
func readinessHandler(db *sqlx.DB, blobs storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if db != nil {
			if err := db.PingContext(c.Request.Context()); err != nil {
				checks["database"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "database not ready",
				})
				return
			}
		}
		checks["database"] = "healthy"

		// Probe the storage backend with a known-absent sentinel path.
		// Exists() exercises authentication and network connectivity without
		// creating any state.
		if _, err := blobs.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging through the global
// slog handler configured in telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID := c.GetString(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", requestID),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS against the configured allowed origins.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
