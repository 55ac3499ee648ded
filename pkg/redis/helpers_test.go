package redis

import "github.com/talkscribe/talkscribe-backend/pkg/config"

func configRedis(addr string) config.RedisConfig {
	return config.RedisConfig{Address: addr}
}
