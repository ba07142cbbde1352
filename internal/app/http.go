package app

import (
	"gorm.io/gorm"

	httpserver "github.com/yungbote/planforge-backend/internal/http"
	httpH "github.com/yungbote/planforge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/planforge-backend/internal/http/middleware"
	"github.com/yungbote/planforge-backend/internal/observability"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

func wireHTTP(db *gorm.DB, log *logger.Logger, cfg Config, serviceset Services, metrics *observability.Metrics) *httpserver.Server {
	log.Info("Wiring handlers...")
	return httpserver.NewServer(httpserver.RouterConfig{
		Log:            log,
		ServiceName:    cfg.Otel.ServiceName,
		CORSOrigins:    cfg.CORSOrigins,
		Metrics:        metrics,
		AuthMiddleware: httpMW.NewAuthMiddleware(log, cfg.Auth),
		PlanHandler:    httpH.NewPlanHandler(log, serviceset.Plans, serviceset.Generation, serviceset.Schedules),
		HealthHandler:  httpH.NewHealthHandler(db),
	})
}
