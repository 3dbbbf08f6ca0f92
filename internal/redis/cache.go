package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AvailabilityCache holds the booked-times view per date under a short
// TTL. It is the single derived availability index: writes that change
// slot occupancy delete the affected date keys, so no handler keeps its
// own stale copy.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{
		client: client,
		ttl:    ttl,
	}
}

func availabilityKey(dateKey string) string {
	return fmt.Sprintf("availability:%s", dateKey)
}

// GetBookedTimes returns the cached booked set for a date. The second
// return is false on a miss.
func (c *AvailabilityCache) GetBookedTimes(ctx context.Context, dateKey string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, availabilityKey(dateKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get booked times: %w", err)
	}

	var times []string
	if err := json.Unmarshal(raw, &times); err != nil {
		return nil, false, fmt.Errorf("decode booked times: %w", err)
	}

	return times, true, nil
}

func (c *AvailabilityCache) SetBookedTimes(ctx context.Context, dateKey string, times []string) error {
	raw, err := json.Marshal(times)
	if err != nil {
		return fmt.Errorf("encode booked times: %w", err)
	}

	if err := c.client.Set(ctx, availabilityKey(dateKey), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set booked times: %w", err)
	}

	return nil
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, dateKeys ...string) error {
	if len(dateKeys) == 0 {
		return nil
	}

	keys := make([]string, 0, len(dateKeys))
	for _, d := range dateKeys {
		keys = append(keys, availabilityKey(d))
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate availability: %w", err)
	}

	return nil
}
