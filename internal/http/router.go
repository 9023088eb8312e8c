// Package httpapi builds the Gin engine for the merchant API: the middleware
// chain (tracing, request IDs, access log, recovery, gzip, metrics, identity,
// idempotency, rate limits, CORS, security headers), the player and admin
// routes, and the /health, /metrics and /swagger endpoints.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-merchant-backend/docs"
	"github.com/tbourn/go-merchant-backend/internal/config"
	"github.com/tbourn/go-merchant-backend/internal/http/handlers"
	"github.com/tbourn/go-merchant-backend/internal/http/middleware"
	"github.com/tbourn/go-merchant-backend/internal/repo"
	"github.com/tbourn/go-merchant-backend/internal/services"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string               `json:"status" example:"ok"`
	Audit  services.AuditHealth `json:"audit"`
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), identity,
// idempotency and rate limiting, CORS and security headers, health and
// metrics endpoints, and then mounts the player and admin API under
// cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access log + request-scoped logger
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip (metrics excluded)
//  7. Metrics
//  8. Identity (X-User-ID), needed by idempotency and rate limiting
//  9. Idempotency validator (before rate limiter to allow bypass on replay)
//  10. Rate limiter (per user/IP, tighter bucket for purchases, bypass on replay)
//  11. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, m *services.Merchant, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Access log and request-scoped logger
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Response compression; the Prometheus handler negotiates its own.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Caller identity
	r.Use(middleware.Identity())

	// 9) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return rec != nil, err
		},
	))

	// 10) Token-bucket rate limiter per user/IP; purchases get their own bucket
	var rlOpts []middleware.RateOption
	if cfg.BuyRPS > 0 {
		rlOpts = append(rlOpts, middleware.WithRouteLimit(http.MethodPost,
			strings.TrimSuffix(cfg.APIBasePath, "/")+"/merchant/buy", cfg.BuyRPS, cfg.BuyBurst))
	}
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP(), rlOpts...)
	r.Use(rl.Handler())

	// 11) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderUserID, middleware.HeaderAdminToken, middleware.HeaderIdempotencyKey,
	}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "Retry-After", "Idempotency-Replayed"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers; API responses are never cached
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{cfg.APIBasePath},
		EnablePolicy:    true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health: degraded while the audit trail is losing records.
	r.GET("/health", func(c *gin.Context) {
		h := m.Audit.Health()
		status := "ok"
		if h.Degraded {
			status = "degraded"
		}
		c.JSON(http.StatusOK, HealthResponse{Status: status, Audit: h})
	})

	apiBase := cfg.APIBasePath // e.g. "/api/v1"

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: stateless services ← db, core ← merchant
	h := handlers.New(handlers.Deps{
		Rotations:      m.Rotations,
		Purchases:      m.Purchases,
		Wallets:        &services.WalletService{DB: db},
		Catalog:        services.NewCatalogService(db),
		Settings:       &services.SettingsService{DB: db, Cache: m.Settings},
		History:        &services.HistoryService{DB: db},
		DB:             db,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	// Player API
	api := groupWithPrefix(r, apiBase)
	player := api.Group("", middleware.RequireUser())
	{
		player.GET("/merchant", h.GetMerchant)
		player.GET("/merchant/offers", h.SearchOffers)
		player.POST("/merchant/buy", h.Buy)

		player.GET("/me", h.GetMe)
		player.GET("/me/instances", h.ListInstances)
	}

	// Admin API: mounted only when a token is configured.
	if cfg.Merchant.AdminToken == "" {
		return
	}
	admin := api.Group("/admin",
		middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{middleware.HeaderAdminToken},
		}),
		middleware.AdminAuth(cfg.Merchant.AdminToken),
	)
	{
		admin.GET("/settings", h.GetSettings)
		admin.PUT("/settings", h.UpdateSettings)

		admin.GET("/catalog", h.ListCatalog)
		admin.POST("/catalog", h.CreateCatalogEntry)
		admin.GET("/catalog/:id", h.GetCatalogEntry)
		admin.PUT("/catalog/:id", h.UpdateCatalogEntry)
		admin.DELETE("/catalog/:id", h.DeleteCatalogEntry)

		admin.GET("/rotations", h.ListRotationHistory)
		admin.GET("/purchases", h.ListPurchaseHistory)
		admin.POST("/wallets/:user_id/credit", h.CreditWallet)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
