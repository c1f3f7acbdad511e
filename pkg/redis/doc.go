// Package redis manages the Redis connection used for hot-path usage
// counters.
//
// Connect dials the server from environment-driven Config with retry, and
// Healthcheck exposes a probe for health endpoints.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
package redis
