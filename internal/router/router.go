// Package router registers the HTTP routes of the API on an echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/sportsbook/internal/handler"
	"github.com/iliyamo/sportsbook/internal/middleware"
	"github.com/iliyamo/sportsbook/internal/model"
)

// Handlers groups every HTTP handler the router mounts.
type Handlers struct {
	Auth          *handler.AuthHandler
	Profile       *handler.ProfileHandler
	Facilities    *handler.FacilityHandler
	Bookings      *handler.BookingHandler
	Payments      *handler.PaymentHandler
	Matches       *handler.MatchHandler
	Chat          *handler.ChatHandler
	Leaderboard   *handler.LeaderboardHandler
	Notifications *handler.NotificationHandler
	Dashboard     *handler.DashboardHandler
	AdminUsers    *handler.AdminUserHandler
	Readiness     *handler.Readiness
}

// Middlewares carries the configured cross-cutting middleware.  RateLimit
// and Cache may be nil to disable them.
type Middlewares struct {
	JWTSecret string
	Active    echo.MiddlewareFunc // account check for privileged groups; optional
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
	Metrics   *middleware.Metrics
	Gatherer  prometheus.Gatherer
	Logger    echo.MiddlewareFunc
}

func (m Middlewares) auth() echo.MiddlewareFunc { return middleware.JWTAuth(m.JWTSecret) }

// privileged is the chain for role-restricted groups.
func (m Middlewares) privileged(roles ...string) []echo.MiddlewareFunc {
	mw := []echo.MiddlewareFunc{m.auth(), middleware.RequireRole(roles...)}
	if m.Active != nil {
		mw = append(mw, m.Active)
	}
	return mw
}

func (m Middlewares) cached() []echo.MiddlewareFunc {
	if m.Cache == nil {
		return nil
	}
	return []echo.MiddlewareFunc{m.Cache}
}

// New builds an echo instance with every route registered.
func New(h Handlers, m Middlewares) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	Register(e, h, m)
	return e
}

// Register installs the global middleware and all route groups on e.
func Register(e *echo.Echo, h Handlers, m Middlewares) {
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	if m.Logger != nil {
		e.Use(m.Logger)
	}
	if m.Metrics != nil {
		e.Use(m.Metrics.Middleware())
	}

	RegisterProbes(e, h.Readiness, m.Gatherer)

	var v1mw []echo.MiddlewareFunc
	if m.RateLimit != nil {
		v1mw = append(v1mw, m.RateLimit)
	}
	v1 := e.Group("/v1", v1mw...)

	RegisterAuth(v1, h.Auth, m)
	RegisterPublic(v1, h, m)
	RegisterPlayer(v1, h, m)
	RegisterManager(v1, h, m)
	RegisterAdmin(v1, h, m)
}

// RegisterProbes exposes liveness, readiness and the Prometheus endpoint.
func RegisterProbes(e *echo.Echo, ready *handler.Readiness, g prometheus.Gatherer) {
	e.GET("/healthz", handler.Health)
	if ready != nil {
		e.GET("/readyz", ready.Ready)
	}
	if g != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	}
}

// RegisterAuth mounts the session endpoints.  Register, login, refresh and
// logout run without a bearer token; /me requires one.
func RegisterAuth(v1 *echo.Group, a *handler.AuthHandler, m Middlewares) {
	g := v1.Group("/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/refresh-access", a.RefreshAccess)
	g.POST("/logout", a.Logout)

	v1.GET("/me", a.Me, m.auth())
}

// RegisterPublic mounts the browse endpoints guests may call.  Facility
// pages and the leaderboard go through the response cache.  Availability
// is never cached because it changes with every booking.
func RegisterPublic(v1 *echo.Group, h Handlers, m Middlewares) {
	cache := m.cached()
	v1.GET("/facilities", h.Facilities.Search, cache...)
	v1.GET("/facilities/:id", h.Facilities.Get, cache...)
	v1.GET("/facilities/:id/availability", h.Facilities.Availability)

	v1.GET("/leaderboard", h.Leaderboard.Get, cache...)
	v1.GET("/users/:id/stats", h.Profile.UserStats)

	v1.GET("/matches", h.Matches.List)
	v1.GET("/matches/:id", h.Matches.Get)

	v1.POST("/payments/webhook", h.Payments.Webhook)
}

// allRoles is every role that may use the player surface.
var allRoles = []string{model.RolePlayer, model.RoleManager, model.RoleAdmin}
