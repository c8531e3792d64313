package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"luxeconcierge.com/lead-intake/internal/store"
)

const customizationKeyPrefix = "tenant:customization:"

// absentMarker is cached for tenants without a customization record.
const absentMarker = "null"

// CustomizationSource is the backing lookup, normally the SQLite store.
type CustomizationSource interface {
	GetCustomization(ctx context.Context, tenantID string) (*store.TenantCustomization, error)
}

// CachedCustomizations is a read-through cache in front of a
// CustomizationSource. Cache failures fall back to the source.
type CachedCustomizations struct {
	source CustomizationSource
	cache  Cache
	ttl    time.Duration
}

func NewCachedCustomizations(source CustomizationSource, cache Cache, ttl time.Duration) *CachedCustomizations {
	return &CachedCustomizations{source: source, cache: cache, ttl: ttl}
}

func (c *CachedCustomizations) GetCustomization(ctx context.Context, tenantID string) (*store.TenantCustomization, error) {
	key := customizationKeyPrefix + tenantID
	logger := logrus.WithField("tenant_id", tenantID)

	raw, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		if raw == absentMarker {
			return nil, nil
		}
		var custom store.TenantCustomization
		if jsonErr := json.Unmarshal([]byte(raw), &custom); jsonErr == nil {
			return &custom, nil
		}
		logger.Warn("Discarding undecodable cached customization")
	case errors.Is(err, ErrMiss):
	default:
		logger.WithError(err).Warn("Customization cache read failed, using the store")
	}

	custom, err := c.source.GetCustomization(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	value := absentMarker
	if custom != nil {
		encoded, err := json.Marshal(custom)
		if err != nil {
			return custom, nil
		}
		value = string(encoded)
	}
	if err := c.cache.Set(ctx, key, value, c.ttl); err != nil {
		logger.WithError(err).Warn("Customization cache write failed")
	}
	return custom, nil
}

// Invalidate drops the cached entry after the tenant's record changed.
func (c *CachedCustomizations) Invalidate(ctx context.Context, tenantID string) error {
	_, err := c.cache.Del(ctx, customizationKeyPrefix+tenantID)
	return err
}
