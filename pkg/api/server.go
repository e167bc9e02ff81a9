package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/entitlements/pkg/entitlements"
	"github.com/platinummonkey/entitlements/pkg/features"
	"github.com/platinummonkey/entitlements/pkg/httputil"
	"github.com/platinummonkey/entitlements/pkg/observability"
	"github.com/platinummonkey/entitlements/pkg/orgs"
	"github.com/platinummonkey/entitlements/pkg/overrides"
	"github.com/platinummonkey/entitlements/pkg/plans"
	"github.com/platinummonkey/entitlements/pkg/rbac"
	"github.com/platinummonkey/entitlements/pkg/usage"
)

// Invalidator drops memoized permission maps. Role writes go through it;
// override and usage writes reach the memo through their OnChange hooks.
type Invalidator interface {
	InvalidateUser(userID string)
	Purge()
}

// PlanLister lists the plans of the catalog
type PlanLister interface {
	List(ctx context.Context) []plans.Plan
}

// Config wires the services behind the API. Nil services leave their
// routes unregistered.
type Config struct {
	Resolver    entitlements.Resolver
	Overrides   *overrides.Service
	Usage       *usage.Tracker
	Roles       *rbac.Manager
	Directory   orgs.Service
	Features    features.Catalog
	Plans       PlanLister
	Invalidator Invalidator
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// Server is the HTTP API of the entitlement engine
type Server struct {
	router  *mux.Router
	handler http.Handler

	permissionHandlers *PermissionHandlers
	overrideHandlers   *OverrideHandlers
	usageHandlers      *UsageHandlers
	roleHandlers       *RoleHandlers
	catalogHandlers    *CatalogHandlers
	directoryHandlers  *DirectoryHandlers
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &Server{router: mux.NewRouter()}

	var registrars []RouteRegistrar
	if cfg.Resolver != nil {
		s.permissionHandlers = NewPermissionHandlers(cfg.Resolver)
		registrars = append(registrars, s.permissionHandlers)
	}
	if cfg.Overrides != nil {
		s.overrideHandlers = NewOverrideHandlers(cfg.Overrides)
		registrars = append(registrars, s.overrideHandlers)
	}
	if cfg.Usage != nil {
		s.usageHandlers = NewUsageHandlers(cfg.Usage)
		registrars = append(registrars, s.usageHandlers)
	}
	if cfg.Roles != nil {
		s.roleHandlers = NewRoleHandlers(cfg.Roles, cfg.Invalidator)
		registrars = append(registrars, s.roleHandlers)
	}
	if cfg.Directory != nil {
		s.directoryHandlers = NewDirectoryHandlers(cfg.Directory, cfg.Invalidator)
		registrars = append(registrars, s.directoryHandlers)
	}
	if cfg.Features != nil {
		s.catalogHandlers = NewCatalogHandlers(cfg.Features, cfg.Plans)
		registrars = append(registrars, s.catalogHandlers)
	}

	if cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}
	s.setupRoutes(registrars)

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware(logger.WithComponent("api")),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
	)(s.router)
	return s
}

func (s *Server) setupRoutes(registrars []RouteRegistrar) {
	v1 := s.router.PathPrefix("/v1").Subrouter()
	for _, registrar := range registrars {
		registrar.RegisterRoutes(v1)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "route not found")
	})
}

// Router exposes the router so callers can mount extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}
