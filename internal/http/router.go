// Package httpapi wires the Gin engine: observability, correlation, logging
// with redaction, recovery, compression, CORS, security headers and the
// authenticated booking API.
package httpapi

import (
	"context"
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

	_ "github.com/bhartiyash03-sys/speedy-doc-link/docs"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/checkout"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/config"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/domain"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/http/handlers"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/http/middleware"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/repo"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/services"
)

// repoShim adapts the repo free functions to services.BookingRepo.
type repoShim struct{}

func (repoShim) InsertBooking(ctx context.Context, db *gorm.DB, b *domain.Booking) (*domain.Booking, error) {
	return repo.InsertBooking(ctx, db, b)
}

func (repoShim) GetBooking(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Booking, error) {
	return repo.GetBooking(ctx, db, id, userID)
}

func (repoShim) UpdateSessionReference(ctx context.Context, db *gorm.DB, id, userID, sessionID string) error {
	return repo.UpdateSessionReference(ctx, db, id, userID, sessionID)
}

func (repoShim) MarkConfirmedPaid(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Booking, bool, error) {
	return repo.MarkConfirmedPaid(ctx, db, id, userID)
}

func (repoShim) CountBookings(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountBookings(ctx, db, userID)
}

func (repoShim) ListBookingsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Booking, error) {
	return repo.ListBookingsPage(ctx, db, userID, offset, limit)
}

func (repoShim) BookingsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.BookingsStats(ctx, db, userID)
}

func (repoShim) GetIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, userID, scope, key, now)
}

func (repoShim) CreateIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key, bookingID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, userID, scope, key, bookingID, status, ttl)
}

// Deps are the collaborators the API is built from.
type Deps struct {
	DB       *gorm.DB
	Gateway  checkout.Gateway
	Notifier services.Dispatcher
	Verifier middleware.TokenVerifier
}

var corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey, "If-None-Match"}

// RegisterRoutes attaches middleware and endpoints to r.
//
// Order: otelgin, RequestID, RedactingLogger, Recovery, body limit, gzip,
// Metrics, CORS, SecurityHeaders. The API group then runs BearerAuth before
// the idempotency validator, which must precede the rate limiter so replays
// bypass it.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{MaskHeaders: []string{"Stripe-Signature"}}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(cfg.MaxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(deps.DB))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	svc := services.NewBookingService(deps.DB, repoShim{}, deps.Gateway, deps.Notifier)
	svc.Currency = cfg.Checkout.Currency
	svc.DefaultOrigin = cfg.Checkout.DefaultOrigin
	svc.StoreTimeout = cfg.DB.Timeout
	svc.GatewayTimeout = cfg.Checkout.Timeout
	svc.IdempotencyTTL = cfg.IdempotencyTTL

	h := handlers.New(svc, originResolver(cfg.CORS.AllowedOrigins))

	lookup := func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
		_, err := repo.GetIdempotency(ctx, deps.DB, userID, scope, key, now)
		if err != nil {
			return false, err
		}
		return true, nil
	}
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.BearerAuth(deps.Verifier),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup),
		rl.Handler(),
	)
	{
		api.POST("/bookings/checkout", h.CreateCheckout)
		api.POST("/bookings/resume", h.ResumeCheckout)
		api.POST("/bookings/verify", h.VerifyPayment)
		api.GET("/bookings", h.ListBookings)
		api.GET("/bookings/:id", h.GetBooking)
	}
}

// corsMiddleware allows any origin when the allowlist is empty; otherwise
// only listed origins, which are echoed with Vary: Origin.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  corsHeaders,
		ExposeHeaders: []string{"X-Request-ID", "ETag", middleware.HeaderIdempotencyReplayed},
		MaxAge:        12 * time.Hour,
	}
	if len(allowed) == 0 {
		base.AllowAllOrigins = true
		return cors.New(base)
	}
	base.AllowOrigins = allowed
	return cors.New(base)
}

// originResolver picks the front-end origin for checkout redirects from the
// request's Origin header. With an allowlist, unlisted origins are ignored
// and the service default applies.
func originResolver(allowed []string) handlers.OriginFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(c *gin.Context) string {
		origin := c.GetHeader("Origin")
		if origin == "" || len(set) == 0 {
			return origin
		}
		if _, ok := set[origin]; ok {
			return origin
		}
		return ""
	}
}

// readiness pings the booking store.
func readiness(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			err = sqlDB.PingContext(ctx)
			cancel()
		}
		if err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness check failed")
			handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeStoreUnavailable, "booking store unavailable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// limitBody caps request bodies at maxBytes; larger bodies fail to bind.
// Zero disables the cap.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}
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
