package redis

import (
	"context"
	"fmt"
	"time"
)

// Concurrent orchestrators on the same task name are not supported; the lock
// enforces that across processes. TTL keeps a crashed holder from blocking
// the task forever.

func lockKey(task string) string {
	return fmt.Sprintf("populate:lock:%s", task)
}

// AcquireTaskLock attempts to acquire the run lock for a task.
func (c *Client) AcquireTaskLock(ctx context.Context, task string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(task), "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// RefreshTaskLock extends the TTL of a held lock.
func (c *Client) RefreshTaskLock(ctx context.Context, task string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, lockKey(task), ttl).Err()
}

// ReleaseTaskLock releases the run lock for a task.
func (c *Client) ReleaseTaskLock(ctx context.Context, task string) error {
	return c.rdb.Del(ctx, lockKey(task)).Err()
}
