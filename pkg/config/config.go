// Package config fills tagged structs from environment variables.
//
// A .env file in the working directory is read once before the first Load;
// variables already present in the process environment win. Each struct type
// is parsed once and cached, so packages can call Load for the same type
// without re-reading the environment.
//
//	var cfg struct {
//		Store string `env:"SESSION_STORE" envDefault:"memory"`
//	}
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
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
	ErrParsingConfig = errors.New("config: failed to parse environment")
	ErrNilPointer    = errors.New("config: nil pointer")
	ErrEnvFile       = errors.New("config: failed to read env file")
)

type entry struct {
	once  sync.Once
	value any
	err   error
}

var (
	cache  sync.Map // reflect.Type -> *entry
	dotenv sync.Once
)

// LoadEnvFiles reads the given .env files into the process environment
// without overriding variables that are already set.
func LoadEnvFiles(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		return errors.Join(ErrEnvFile, err)
	}
	return nil
}

// Load parses the environment into v. The result for type T is cached.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	dotenv.Do(func() {
		// a missing .env file is normal outside development
		_ = godotenv.Load()
	})

	key := reflect.TypeFor[T]()
	actual, _ := cache.LoadOrStore(key, &entry{})
	e := actual.(*entry)

	e.once.Do(func() {
		var parsed T
		if err := env.Parse(&parsed); err != nil {
			e.err = errors.Join(ErrParsingConfig, err)
			return
		}
		e.value = parsed
	})

	if e.err != nil {
		// let the next call retry once the environment is fixed
		cache.CompareAndDelete(key, e)
		return e.err
	}

	*v = e.value.(T)
	return nil
}

// MustLoad is Load for values required at startup.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

// Reset drops every cached value.
func Reset() {
	cache.Clear()
}
