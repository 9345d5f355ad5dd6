// Package config loads typed configuration structs from environment
// variables, optionally seeded from a .env file in the working directory.
//
//	type ServerConfig struct {
//	    Addr string `env:"SERVER_ADDR" envDefault:":8080"`
//	}
//
//	var cfg ServerConfig
//	if err := config.Load(&cfg); err != nil { ... }
package config
