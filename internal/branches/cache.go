package branches

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/appraisal-booking/internal/availability"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

const DefaultCacheTTL = 5 * time.Minute

// CachedDirectory fronts a Directory with Redis. Cache failures degrade to a
// direct fetch; empty listings are not cached so new branches show up.
type CachedDirectory struct {
	next   availability.Directory
	redis  redis.Cmdable
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedDirectory(next availability.Directory, rdb redis.Cmdable, ttl time.Duration, logger *logging.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedDirectory{next: next, redis: rdb, ttl: ttl, logger: logger}
}

var _ availability.Directory = (*CachedDirectory)(nil)

func cacheKey(zip, vehicleID string, from time.Time, days int) string {
	return fmt.Sprintf("branches:availability:%s:%s:%s:%d", zip, vehicleID, from.Format(availability.DateLayout), days)
}

func (d *CachedDirectory) ListAvailability(ctx context.Context, zip, vehicleID string, from time.Time, days int) (availability.Listing, error) {
	key := cacheKey(zip, vehicleID, from, days)

	raw, err := d.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var listing availability.Listing
		if err := json.Unmarshal(raw, &listing); err == nil {
			return listing, nil
		}
		d.logger.Warn("branch cache entry unreadable", "key", key)
	case !errors.Is(err, redis.Nil):
		d.logger.Warn("branch cache read failed", "key", key, "error", err)
	}

	listing, err := d.next.ListAvailability(ctx, zip, vehicleID, from, days)
	if err != nil {
		return availability.Listing{}, err
	}
	if len(listing.Branches()) == 0 {
		return listing, nil
	}
	payload, err := json.Marshal(listing)
	if err != nil {
		return listing, nil
	}
	if err := d.redis.Set(ctx, key, payload, d.ttl).Err(); err != nil {
		d.logger.Warn("branch cache write failed", "key", key, "error", err)
	}
	return listing, nil
}
