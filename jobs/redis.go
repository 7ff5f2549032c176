package jobs

import (
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
)

// RedisConnOpt converts a REDIS_ADDR value, host:port or a redis:// URL, into
// Asynq connection options.
func RedisConnOpt(addr string) (asynq.RedisConnOpt, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := asynq.ParseRedisURI(addr)
		if err != nil {
			return nil, fmt.Errorf("jobs: parse redis uri: %w", err)
		}
		return opt, nil
	}
	if addr == "" {
		return nil, fmt.Errorf("jobs: redis address is empty")
	}
	return asynq.RedisClientOpt{Addr: addr}, nil
}
