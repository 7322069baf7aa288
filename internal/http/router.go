// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, idempotency, and rate limiting.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-anon-backend/docs"
	"github.com/tbourn/go-anon-backend/internal/config"
	"github.com/tbourn/go-anon-backend/internal/depersonalize"
	"github.com/tbourn/go-anon-backend/internal/http/handlers"
	"github.com/tbourn/go-anon-backend/internal/http/middleware"
	"github.com/tbourn/go-anon-backend/internal/moderation"
	"github.com/tbourn/go-anon-backend/internal/ratelimit"
	"github.com/tbourn/go-anon-backend/internal/repo"
	"github.com/tbourn/go-anon-backend/internal/services"
)

var (
	corsAllowHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey,
	}
	corsExposeHeaders = []string{
		"X-Request-ID", "Content-Length", "ETag", "Retry-After", middleware.HeaderIdempotencyReplayed,
	}
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. counters backs the per-token post rate limit and must be shared by
// every replica for the limit to hold cluster-wide.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Compression
//  8. Per-IP token bucket
//  9. CORS and Security headers
//
// Route-level: Auth → IdempotencyValidator → PostRateLimit on POST /posts, so
// a replayed write does not spend post allowance.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, counters ratelimit.Store, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{handlers.HeaderInternalToken},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (64 KiB; posts are capped far below that)
	r.Use(limitBody(64 << 10))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Response compression
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 8) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
	r.Use(rl.Handler())

	// 9) CORS posture and security headers
	r.Use(corsHandlers(cfg.CORS)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false, // the feed relies on ETag revalidation
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db
	users := &services.UserService{DB: db, Secret: []byte(cfg.TokenSecret)}
	idem := &services.IdempotencyService{DB: db}
	h := handlers.New(handlers.Services{
		Users: users,
		Posts: &services.PostService{
			DB:         db,
			Cleaner:    depersonalize.Depersonalizer{MaxLength: cfg.Posting.MaxRunes},
			Moderator:  moderation.Default(),
			TTL:        cfg.Posting.TTL,
			ReceiptTTL: cfg.IdempotencyTTL,
		},
		Groups:      &services.GroupingService{Store: repo.NewGroupStore(db), Capacity: cfg.Posting.GroupCapacity},
		Embeddings:  &services.EmbeddingService{DB: db},
		Idempotency: idem,
	}, handlers.Options{
		InternalToken: cfg.InternalAPIToken,
		Version:       cfg.Version,
	})

	postLimit := ratelimit.New[*gin.Context](counters)(ratelimit.Config[*gin.Context]{
		Limit:  cfg.Posting.RateLimit,
		Window: cfg.Posting.RateWindow,
		Key:    middleware.KeyByTokenHash,
	})
	auth := middleware.Auth(users)

	// Liveness/health
	r.GET("/health", h.Health)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath) // e.g. "/v1"
	{
		api.POST("/register", h.Register)

		// Posts
		api.GET("/posts", h.ListFeed)
		api.POST("/posts",
			auth,
			middleware.IdempotencyValidator(middleware.IdempotencyOptions{Scope: handlers.PostsScope}, idem.Exists),
			middleware.PostRateLimit(postLimit),
			h.CreatePost,
		)
		api.POST("/posts/:id/vec", h.EmbedPost)

		// Groups
		api.POST("/groups/join", auth, h.JoinGroup)
		api.GET("/groups/:id/posts", auth, h.ListGroupPosts)
	}
}

// corsHandlers returns the CORS middleware for cfg. With no allowlist every
// origin is allowed without credentials; otherwise allowed origins are echoed.
func corsHandlers(cfg config.CORSConfig) []gin.HandlerFunc {
	if len(cfg.AllowedOrigins) == 0 {
		return []gin.HandlerFunc{
			// ACAO: * even without an Origin header, for simple probes.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     []string{"GET", "POST", "OPTIONS"},
				AllowHeaders:     corsAllowHeaders,
				ExposeHeaders:    corsExposeHeaders,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     corsAllowHeaders,
			ExposeHeaders:    corsExposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody caps the request body at maxBytes; reads past it fail.
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
