package visit

import (
	"github.com/smallbiznis/clinicpay/internal/visit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("visit.service",
	fx.Provide(service.NewService),
)
