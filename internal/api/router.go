package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/elysion/user-service/docs"
	"github.com/elysion/user-service/internal/api/handler"
	"github.com/elysion/user-service/internal/api/middleware"
	"github.com/elysion/user-service/internal/core/domain"
	"github.com/elysion/user-service/internal/core/ports"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Identity    ports.IdentityService
	Preferences ports.PreferenceService
	Sessions middleware.SessionVerifier
	Health   map[string]handler.Pinger
	// LoginLimiter throttles the unauthenticated credential endpoints; nil disables it.
	LoginLimiter *middleware.RateLimiter
	// Registry receives the HTTP metrics; nil uses the default registry.
	Registry *prometheus.Registry
	Log      zerolog.Logger
}

// NewRouter builds the Echo instance with all routes registered.
func NewRouter(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(d.Log)

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if d.Registry != nil {
		registerer, gatherer = d.Registry, d.Registry
	}

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.RequestLoggerWithConfig(requestLoggerConfig(d.Log)))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "user_service",
		Registerer: registerer,
	}))

	// --- Handlers ---
	users := handler.NewUserHandler(d.Identity)
	admin := handler.NewAdminHandler(d.Identity)
	prefs := handler.NewPreferenceHandler(d.Preferences)
	health := handler.NewHealthHandler(d.Health)

	throttle := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	if d.LoginLimiter != nil {
		throttle = d.LoginLimiter.Middleware()
	}

	// --- Public account routes ---
	g := e.Group("/users")
	g.POST("/register", users.Register, throttle)
	g.POST("/login", users.Login, throttle)
	g.GET("/confirm-email", users.ConfirmEmail)
	g.POST("/resend-activation", users.ResendActivation, throttle)
	g.POST("/login-ident", users.LoginIdent, throttle)
	g.GET("/confirm-email-change", users.ConfirmEmailChange)

	// --- Authenticated account routes ---
	auth := middleware.Auth(d.Sessions)
	asUser := middleware.RequireGroup(string(domain.RoleUser))
	g.GET("/me", users.Me, auth, asUser)
	g.PUT("/email", users.ChangeEmail, auth, asUser)
	g.PUT("/password", users.ChangePassword, auth, asUser)
	g.PUT("/profile", users.UpdateProfile, auth, asUser)

	// --- Sustainability preferences ---
	p := g.Group("/preferences", auth, asUser)
	p.GET("", prefs.List)
	p.GET("/map", prefs.Map)
	p.GET("/:filterKey", prefs.Get)
	p.PUT("/:filterKey", prefs.Set)
	p.DELETE("/:filterKey", prefs.Delete)
	e.GET("/filters", prefs.Filters)

	// --- Admin routes ---
	asAdmin := middleware.RequireGroup(string(domain.RoleAdmin))
	g.PUT("/:id/role/seller", admin.PromoteSeller, auth, asAdmin)
	g.PUT("/:id/role/admin", admin.PromoteAdmin, auth, asAdmin)

	// --- Operational routes (no auth required) ---
	e.GET("/health", health.Liveness)
	e.GET("/health/ready", health.Readiness)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: gatherer}))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}

func requestLoggerConfig(log zerolog.Logger) echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogURIPath:   true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			evt := log.Info()
			if v.Error != nil {
				evt = log.Warn().Err(v.Error)
			}
			evt.
				Str("request_id", v.RequestID).
				Str("method", v.Method).
				Str("path", v.URIPath).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}
}
