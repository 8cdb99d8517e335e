package catalog

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/clinicpay/internal/catalog/domain"
	"github.com/smallbiznis/clinicpay/internal/catalog/service"
	"github.com/smallbiznis/clinicpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("catalog.service",
	fx.Provide(NewService),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Config    config.Config
	Log       *zap.Logger
}

// NewService returns the catalog lookup, cached in Redis when REDIS_ADDR is set.
func NewService(p Params) domain.Service {
	store := service.NewStore(p.DB)
	addr := strings.TrimSpace(p.Config.RedisAddr)
	if addr == "" {
		return store
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(p.Config.RedisPassword),
		DB:       p.Config.RedisDB,
	})
	p.Lifecycle.Append(fx.StopHook(client.Close))

	return service.NewCachedService(store, client, p.Config.CatalogTTL, p.Log)
}
