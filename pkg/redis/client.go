package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client wraps the Redis connection.
type Client struct {
	rdb *goredis.Client
	log *slog.Logger
}

// NewClient connects to Redis with retry.
func NewClient(addr string, log *slog.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rdb.Ping(ctx).Err(); err == nil {
			cancel()
			log.Info("connected to redis")
			return &Client{rdb: rdb, log: log}, nil
		}
		cancel()
		log.Warn("waiting for redis", "attempt", i+1)
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("redis: failed to connect after 20 attempts")
}

// SetDriverPosition stores a driver's latest reported position. The hash is
// the point-read source for GET /locations/{uid}; the GEO set backs nearby
// queries. Positions expire if the driver stops reporting.
func (c *Client) SetDriverPosition(ctx context.Context, driverUID string, fields map[string]any, lat, lng float64) error {
	key := "driver:pos:" + driverUID
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, 10*time.Minute)
	pipe.GeoAdd(ctx, "driver:locations", &goredis.GeoLocation{
		Name:      driverUID,
		Longitude: lng,
		Latitude:  lat,
	})
	_, err := pipe.Exec(ctx)
	return err
}

// GetDriverPosition retrieves the latest cached position for a driver.
// An empty map means no recent report.
func (c *Client) GetDriverPosition(ctx context.Context, driverUID string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, "driver:pos:"+driverUID).Result()
}

// GetNearbyDrivers returns driver UIDs within radiusKm of (lat,lng).
func (c *Client) GetNearbyDrivers(ctx context.Context, lat, lng, radiusKm float64, count int) ([]string, error) {
	return c.rdb.GeoSearch(ctx, "driver:locations", &goredis.GeoSearchQuery{
		Longitude:  lng,
		Latitude:   lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Count:      count,
		Sort:       "ASC",
	}).Result()
}

// CacheQuote stores a rendered quote snapshot in a hash with TTL so read-heavy
// clients don't hit postgres for every poll.
func (c *Client) CacheQuote(ctx context.Context, quoteID string, data map[string]string) error {
	key := "quote:" + quoteID
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, 24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateQuote drops the cached snapshot after a state transition.
func (c *Client) InvalidateQuote(ctx context.Context, quoteID string) error {
	return c.rdb.Del(ctx, "quote:"+quoteID).Err()
}

// Close tears down the Redis connection.
func (c *Client) Close() error { return c.rdb.Close() }
