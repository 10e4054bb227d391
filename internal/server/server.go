package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/railzwaylabs/paygate/internal/config"
	creditservice "github.com/railzwaylabs/paygate/internal/credit/service"
	orgdomain "github.com/railzwaylabs/paygate/internal/organization/domain"
	subscriptionservice "github.com/railzwaylabs/paygate/internal/subscription/service"
	whdomain "github.com/railzwaylabs/paygate/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(Start),
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	WebhookSvc whdomain.Service
	SubSvc     *subscriptionservice.Service
	CreditSvc  *creditservice.Service
	OrgRepo    orgdomain.Repository
}

type Server struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        config.Config
	webhookSvc whdomain.Service
	subSvc     *subscriptionservice.Service
	creditSvc  *creditservice.Service
	orgRepo    orgdomain.Repository
}

func NewServer(p Params) *Server {
	return &Server{
		db:         p.DB,
		log:        p.Log.Named("server"),
		cfg:        p.Cfg,
		webhookSvc: p.WebhookSvc,
		subSvc:     p.SubSvc,
		creditSvc:  p.CreditSvc,
		orgRepo:    p.OrgRepo,
	}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.RequestID(), s.RequestLog())

	router.GET("/healthz", s.Healthz)
	router.GET("/readyz", s.Readyz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/billing", s.HandleWebhook)

	v1 := router.Group("/v1", s.APIKeyRequired())
	{
		v1.GET("/organizations/:org_id", s.GetOrganization)
		v1.POST("/organizations/:org_id/downgrade", s.ScheduleDowngrade)
		v1.DELETE("/organizations/:org_id/downgrade", s.UndoDowngrade)
		v1.POST("/organizations/:org_id/cancellation", s.ScheduleCancellation)
		v1.DELETE("/organizations/:org_id/cancellation", s.UndoCancellation)
		v1.POST("/organizations/:org_id/usage-debits", s.DebitUsage)

		v1.GET("/failed-events", s.ListFailedEvents)
		v1.POST("/failed-events/:id/replay", s.ReplayFailedEvent)
	}

	return router
}

func Start(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				s.log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Error("http server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
