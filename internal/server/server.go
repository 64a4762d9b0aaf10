package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hochk2019/congno/internal/config"
	"github.com/hochk2019/congno/internal/identity"
	"github.com/hochk2019/congno/internal/importer"
	"github.com/hochk2019/congno/internal/observability/tracing"
	"github.com/hochk2019/congno/internal/periodlock"
	auditservice "github.com/hochk2019/congno/internal/audit/service"
	receivableservice "github.com/hochk2019/congno/internal/receivable/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg         config.Config
	Log         *zap.Logger
	IdentitySvc identity.Service
	Receivable  *receivableservice.Service
	Importer    *importer.Service
	Guard       *periodlock.Guard
	AuditSvc    auditservice.Service
}

// Server is the thin HTTP surface over the ledger workflows. It owns no
// business rules: every handler binds, delegates, and maps errors.
type Server struct {
	cfg         config.Config
	log         *zap.Logger
	identitySvc identity.Service
	receivable  *receivableservice.Service
	importer    *importer.Service
	guard       *periodlock.Guard
	auditSvc    auditservice.Service
	limiter     *rateLimiter
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:         p.Cfg,
		log:         p.Log.Named("server"),
		identitySvc: p.IdentitySvc,
		receivable:  p.Receivable,
		importer:    p.Importer,
		guard:       p.Guard,
		auditSvc:    p.AuditSvc,
		limiter:     newRateLimiter(p.Cfg.RateLimitPerMinute, time.Minute),
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(tracing.Middleware("congno"))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/v1")
	api.Use(s.ActorMiddleware(), s.RateLimitMiddleware())
	{
		api.POST("/customers", s.RegisterCustomer)
		api.GET("/customers", s.ListCustomers)
		api.GET("/customers/:taxCode", s.GetCustomer)
		api.PUT("/customers/:taxCode/owner", s.AssignOwner)

		api.POST("/receipts", s.CreateReceipt)
		api.GET("/receipts", s.ListReceipts)
		api.GET("/receipts/:id", s.GetReceipt)
		api.POST("/receipts/:id/preview", s.PreviewAllocation)
		api.POST("/receipts/:id/approve", s.ApproveReceipt)

		api.POST("/invoices", s.CreateInvoice)
		api.GET("/invoices", s.ListInvoices)
		api.GET("/invoices/:id", s.GetInvoice)
		api.POST("/invoices/:id/void", s.VoidInvoice)
		api.POST("/invoices/:id/unvoid", s.UnvoidInvoice)

		api.POST("/advances", s.CreateAdvance)
		api.GET("/advances", s.ListAdvances)
		api.GET("/advances/:id", s.GetAdvance)
		api.POST("/advances/:id/approve", s.ApproveAdvance)
		api.POST("/advances/:id/void", s.VoidAdvance)
		api.POST("/advances/:id/unvoid", s.UnvoidAdvance)
		api.PATCH("/advances/:id", s.UpdateAdvance)

		api.POST("/import/batches", s.StageImportBatch)
		api.GET("/import/batches/:id", s.GetImportBatch)
		api.POST("/import/batches/:id/commit", s.CommitImportBatch)

		api.GET("/period-locks", s.ListPeriodLocks)
		api.POST("/period-locks", s.LockPeriod)
		api.DELETE("/period-locks", s.UnlockPeriod)

		api.GET("/audit-logs", s.ListAuditLogs)
	}
	return r
}

// RunHTTP starts the listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				s.log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)
