// Package config loads typed configuration structs from environment
// variables, with optional .env file support for local development.
//
// Each config struct declares its variables with `env` tags. Load parses the
// process environment into the struct; the first call in the process also
// loads a .env file when one exists.
//
//	type RedisConfig struct {
//		URL string `env:"REDIS_URL,required"`
//	}
//
//	var cfg RedisConfig
//	if err := config.Load(&cfg); err != nil {
//		// handle error
//	}
//
// MustLoad panics on failure and suits configuration the process cannot run
// without.
package config
