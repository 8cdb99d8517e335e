package audit

import (
	"context"

	auditdomain "github.com/smallbiznis/clinicpay/internal/audit/domain"
	"github.com/smallbiznis/clinicpay/internal/audit/repository"
	"github.com/smallbiznis/clinicpay/internal/audit/service"
	"github.com/smallbiznis/clinicpay/internal/config"
	"github.com/smallbiznis/clinicpay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) auditdomain.Service { return s }),
	fx.Provide(newDispatcher),
)

func newDispatcher(lc fx.Lifecycle, svc *service.Service, policy config.PolicySource, log *zap.Logger, m *metrics.Metrics) auditdomain.Emitter {
	d := service.NewDispatcher(svc, policy.Get().AuditQueueSize, log, m)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: d.Stop,
	})
	return d
}
