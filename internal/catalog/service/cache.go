package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/clinicpay/internal/catalog/domain"
	"go.uber.org/zap"
)

const keyCatalogEntry = "catalog:%s:%s"

// CachedService is a read-through Redis cache in front of another catalog.
// Redis failures are logged and the lookup falls through to the inner service.
type CachedService struct {
	inner  domain.Service
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedService(inner domain.Service, client *redis.Client, ttl time.Duration, log *zap.Logger) *CachedService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedService{
		inner:  inner,
		client: client,
		ttl:    ttl,
		log:    log.Named("catalog.cache"),
	}
}

func (c *CachedService) LookupService(ctx context.Context, id snowflake.ID) (*domain.Entry, error) {
	return c.lookup(ctx, domain.KindService, id, c.inner.LookupService)
}

func (c *CachedService) LookupMedicine(ctx context.Context, prescriptionItemID snowflake.ID) (*domain.Entry, error) {
	return c.lookup(ctx, domain.KindMedicine, prescriptionItemID, c.inner.LookupMedicine)
}

func (c *CachedService) lookup(
	ctx context.Context,
	kind domain.Kind,
	id snowflake.ID,
	load func(context.Context, snowflake.ID) (*domain.Entry, error),
) (*domain.Entry, error) {
	key := fmt.Sprintf(keyCatalogEntry, kind, id)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var entry domain.Entry
		if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil {
			return &entry, nil
		}
		c.log.Warn("discarding malformed catalog cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
	}

	entry, err := load(ctx, id)
	if err != nil {
		return nil, err
	}

	if payload, jsonErr := json.Marshal(entry); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, payload, c.ttl).Err(); setErr != nil {
			c.log.Warn("catalog cache write failed", zap.String("key", key), zap.Error(setErr))
		}
	}
	return entry, nil
}
