// Package config loads env-tagged configuration structs, reading a .env
// file once when present. Each config type is parsed once per process and
// served from cache afterwards.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]any)

	dotenvOnce sync.Once
)

// Load parses environment variables into the provided configuration struct.
//
// Example:
//
//	type WorkerConfig struct {
//		Interval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"15m"`
//	}
//
//	var cfg WorkerConfig
//	if err := config.Load(&cfg); err != nil { ... }
func Load[T any](v *T) error {
	dotenvOnce.Do(func() {
		// The .env file is optional.
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}

	key := typeName[T]()

	cacheMu.RLock()
	cached, ok := cache[key]
	cacheMu.RUnlock()
	if ok {
		*v = cached.(T)
		return nil
	}

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	cacheMu.Lock()
	cache[key] = *v
	cacheMu.Unlock()
	return nil
}

// MustLoad works like Load but panics on failure. Use for configuration the
// process cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

func typeName[T any]() string {
	var zero T
	if t := reflect.TypeOf(zero); t != nil {
		return t.String()
	}
	return fmt.Sprintf("%T", *new(T))
}
