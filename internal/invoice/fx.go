package invoice

import (
	"github.com/smallbiznis/clinicpay/internal/invoice/balance"
	"github.com/smallbiznis/clinicpay/internal/invoice/repository"
	"github.com/smallbiznis/clinicpay/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(balance.NewCalculator),
	fx.Provide(service.NewService),
)
