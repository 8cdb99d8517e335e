package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/clinicpay/internal/audit"
	auditdomain "github.com/smallbiznis/clinicpay/internal/audit/domain"
	"github.com/smallbiznis/clinicpay/internal/catalog"
	"github.com/smallbiznis/clinicpay/internal/config"
	"github.com/smallbiznis/clinicpay/internal/invoice"
	invoicedomain "github.com/smallbiznis/clinicpay/internal/invoice/domain"
	"github.com/smallbiznis/clinicpay/internal/observability"
	obsmiddleware "github.com/smallbiznis/clinicpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/clinicpay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/clinicpay/internal/observability/tracing"
	"github.com/smallbiznis/clinicpay/internal/visit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	visit.Module,
	catalog.Module,
	invoice.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, db *gorm.DB) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", healthHandler(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, db *gorm.DB) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics, db)
}

func healthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine     *gin.Engine
	cfg        config.Config
	invoiceSvc invoicedomain.Service
	auditSvc   auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	InvoiceSvc invoicedomain.Service
	AuditSvc   auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		invoiceSvc: p.InvoiceSvc,
		auditSvc:   p.AuditSvc,
	}
	svc.registerAPIRoutes()
	svc.registerFallback()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(ActorRequired())

	// -------- Visits --------
	api.POST("/visits/:visit_id/invoice", s.CreateInvoice)
	api.GET("/visits/:visit_id/invoice", s.GetInvoiceByVisit)
	api.POST("/visits/:visit_id/items/services", s.AddVisitServiceItem)
	api.POST("/visits/:visit_id/items/medicines", s.AddVisitMedicineItem)

	// -------- Invoices --------
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.POST("/invoices/:id/items/services", s.AddServiceItem)
	api.POST("/invoices/:id/items/medicines", s.AddMedicineItem)
	api.PATCH("/invoices/:id/items/:item_id", s.UpdateInvoiceItem)
	api.DELETE("/invoices/:id/items/:item_id", s.RemoveInvoiceItem)
	api.PUT("/invoices/:id/discount", s.UpdateDiscount)
	api.POST("/invoices/:id/payments", s.RecordPayment)
	api.POST("/invoices/:id/complete", s.CompleteInvoice)
	api.POST("/invoices/:id/cancel", s.CancelInvoice)
	api.POST("/invoices/:id/hold", s.PutInvoiceOnHold)
	api.POST("/invoices/:id/resume", s.ResumeInvoiceFromHold)
	api.GET("/invoices/:id/audit-logs", s.ListInvoiceAuditLogs)

	// -------- Patients --------
	api.GET("/patients/:patient_id/invoices", s.ListPatientInvoices)
	api.GET("/patients/:patient_id/outstanding", s.GetPatientOutstanding)
	api.GET("/patients/:patient_id/can-create-invoice", s.CanPatientCreateInvoice)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
