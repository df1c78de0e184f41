package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/schoolhub/internal/apikey"
	apikeydomain "github.com/smallbiznis/schoolhub/internal/apikey/domain"
	apikeyservice "github.com/smallbiznis/schoolhub/internal/apikey/service"
	"github.com/smallbiznis/schoolhub/internal/audit"
	auditdomain "github.com/smallbiznis/schoolhub/internal/audit/domain"
	"github.com/smallbiznis/schoolhub/internal/auth"
	"github.com/smallbiznis/schoolhub/internal/authorization"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/config"
	entitlementservice "github.com/smallbiznis/schoolhub/internal/entitlement/service"
	"github.com/smallbiznis/schoolhub/internal/gateway"
	"github.com/smallbiznis/schoolhub/internal/observability"
	obsmiddleware "github.com/smallbiznis/schoolhub/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/schoolhub/internal/observability/metrics"
	obstracing "github.com/smallbiznis/schoolhub/internal/observability/tracing"
	"github.com/smallbiznis/schoolhub/internal/plan"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	"github.com/smallbiznis/schoolhub/internal/ratelimit"
	"github.com/smallbiznis/schoolhub/internal/receipt"
	"github.com/smallbiznis/schoolhub/internal/resource"
	"github.com/smallbiznis/schoolhub/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/schoolhub/internal/subscription/domain"
	"github.com/smallbiznis/schoolhub/internal/subscription/webhook"
	"github.com/smallbiznis/schoolhub/internal/tenant"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	auth.Module,
	authorization.Module,
	apikey.Module,
	audit.Module,
	tenant.Module,
	plan.Module,
	entitlementservice.Module,
	gateway.Module,
	subscription.Module,
	ratelimit.Module,
	receipt.Module,
	resource.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.String("addr", cfg.HTTPAddr), zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	verifier      *auth.Verifier
	authzSvc      authorization.Service
	guard         *entitlementservice.Guard
	catalog       *plan.Catalog
	counter       resource.Counter
	tenantSvc     tenantdomain.Service
	ledger        subscriptiondomain.Service
	reconciler    *webhook.Reconciler
	receipts      *receipt.Service
	apiKeySvc     apikeydomain.Service
	authenticator *apikeyservice.Authenticator
	limiter       ratelimit.Limiter
	auditSvc      auditdomain.Service
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Verifier      *auth.Verifier
	AuthzSvc      authorization.Service
	Guard         *entitlementservice.Guard
	Catalog       *plan.Catalog
	Counter       resource.Counter
	TenantSvc     tenantdomain.Service
	Ledger        subscriptiondomain.Service
	Reconciler    *webhook.Reconciler
	Receipts      *receipt.Service
	APIKeySvc     apikeydomain.Service
	Authenticator *apikeyservice.Authenticator
	Limiter       ratelimit.Limiter
	AuditSvc      auditdomain.Service
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		log:           p.Log.Named("http.server"),
		clock:         p.Clock,
		verifier:      p.Verifier,
		authzSvc:      p.AuthzSvc,
		guard:         p.Guard,
		catalog:       p.Catalog,
		counter:       p.Counter,
		tenantSvc:     p.TenantSvc,
		ledger:        p.Ledger,
		reconciler:    p.Reconciler,
		receipts:      p.Receipts,
		apiKeySvc:     p.APIKeySvc,
		authenticator: p.Authenticator,
		limiter:       p.Limiter,
		auditSvc:      p.AuditSvc,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerPublicRoutes()
	svc.registerTenantRoutes()
	svc.registerAdminRoutes()
	svc.registerExternalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	api := s.engine.Group("/api")

	api.GET("/plans", s.ListPlans)

	// -------- Payment Webhooks --------
	api.GET("/payments/webhook", s.HandlePaymentWebhook)
	api.POST("/payments/webhook", s.HandlePaymentWebhook)

	if s.cfg.E2ECleanupEnabled && !s.cfg.IsProduction() {
		api.POST("/test/cleanup",
			s.SessionRequired(),
			s.authorizeTenantAction(authorization.ObjectTenant, authorization.ActionTenantProvision),
			s.TestCleanup,
		)
	}
}

func (s *Server) registerTenantRoutes() {
	tenant := s.engine.Group("/api/tenant")

	tenant.Use(s.SessionRequired())
	tenant.Use(s.TenantContext())

	tenant.GET("/entitlement", s.authorizeTenantAction(authorization.ObjectEntitlement, authorization.ActionEntitlementView), s.GetEntitlement)

	// -------- Subscription (billing mode) --------
	tenant.POST("/subscribe", s.BillingEntitlement(), s.authorizeTenantAction(authorization.ObjectSubscription, authorization.ActionSubscriptionPurchase), s.Subscribe)
	tenant.GET("/subscription/status", s.BillingEntitlement(), s.authorizeTenantAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.GetSubscriptionStatus)
	tenant.GET("/subscription/orders", s.BillingEntitlement(), s.authorizeTenantAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.ListOrders)
	tenant.GET("/subscription/orders/:orderId/receipt", s.BillingEntitlement(), s.authorizeTenantAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.DownloadReceipt)

	// -------- API Keys --------
	keys := tenant.Group("/api-keys", s.EntitlementRequired(), s.RequireFeature(plandomain.FeatureAPIAccess))
	keys.GET("", s.authorizeTenantAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyView), s.ListAPIKeys)
	keys.POST("", s.authorizeTenantAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyCreate), s.CreateAPIKey)
	keys.POST("/:keyId/revoke", s.authorizeTenantAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyRevoke), s.RevokeAPIKey)
	keys.DELETE("/:keyId", s.authorizeTenantAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyDelete), s.DeleteAPIKey)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin")

	admin.Use(s.SessionRequired())

	admin.POST("/tenants", s.authorizeTenantAction(authorization.ObjectTenant, authorization.ActionTenantProvision), s.ProvisionTenant)
	admin.GET("/tenants/:id", s.authorizeTenantAction(authorization.ObjectTenant, authorization.ActionTenantView), s.GetTenant)
	admin.POST("/tenants/:id/suspend", s.authorizeTenantAction(authorization.ObjectTenant, authorization.ActionTenantSuspend), s.SuspendTenant)
	admin.POST("/tenants/:id/reinstate", s.authorizeTenantAction(authorization.ObjectTenant, authorization.ActionTenantReinstate), s.ReinstateTenant)
	admin.GET("/tenants/:id/audit-logs", s.authorizeTenantAction(authorization.ObjectTenant, authorization.ActionTenantView), s.ListAuditLogs)
}

func (s *Server) registerExternalRoutes() {
	v1 := s.engine.Group("/api/v1")

	v1.Use(s.APIKeyRequired())
	v1.Use(s.EntitlementRequired())

	v1.GET("/whoami", s.WhoAmI)
	v1.GET("/entitlement", s.GetEntitlement)
}
