/*
Package config implements TOML config file handling for the translation
staging API.

Normally it will be used by simply passing a config file name to the Load
function to obtain a Config struct. Selected settings can be overridden from
the environment for deployments where editing the file is inconvenient.
*/
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	env "github.com/caarlos0/env/v11"
)

const (
	DbDriverSqlite3    = "sqlite3"
	DbDriverPostgresql = "pgx"
)

// Config represents the parsed configuration for the translation staging API.
type Config struct {
	DB          DbConfig          `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Import      ImportConfig      `toml:"import"`
	Components  ComponentsConfig  `toml:"components"`
	Permissions PermissionsConfig `toml:"permissions"`
}

// valid checks if the Config is valid in its current state.
func (c *Config) valid() error {
	if c.DB.Driver != DbDriverSqlite3 && c.DB.Driver != DbDriverPostgresql {
		drivers := []string{DbDriverSqlite3, DbDriverPostgresql}
		return fmt.Errorf("config: invalid database.driver value (must be one of: '%v')", strings.Join(drivers, ", "))
	}
	if c.DB.Driver == DbDriverSqlite3 && len(c.DB.File) == 0 {
		return errors.New("config: missing database.file value")
	}
	if c.DB.Driver == DbDriverPostgresql {
		if len(c.DB.Host) == 0 {
			return errors.New("config: missing database.host value")
		}
		if len(c.DB.Name) == 0 {
			return errors.New("config: missing database.name value")
		}
		if len(c.DB.User) == 0 {
			return errors.New("config: missing database.user value")
		}
		if c.DB.Port < 0 {
			return errors.New("config: invalid database.port value")
		}
	}
	if c.Server.Port < 0 {
		return errors.New("config: server.port is invalid")
	}
	for _, com := range c.Permissions.Committers {
		if com.User == "" {
			return errors.New("config: permissions.committer entry without user")
		}
	}
	return nil
}

// DbConfig contains database connection configuration.
type DbConfig struct {
	// Must be 'sqlite3' or 'pgx'
	Driver string `env:"TRANSAPI_DB_DRIVER"`
	// When driver is sqlite3, this is the path to the database file
	File     string `env:"TRANSAPI_DB_FILE"`
	Host     string `env:"TRANSAPI_DB_HOST"`
	Port     int    `env:"TRANSAPI_DB_PORT"`
	Name     string `env:"TRANSAPI_DB_NAME"`
	User     string `env:"TRANSAPI_DB_USER"`
	Password string `env:"TRANSAPI_DB_PASSWORD"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port that the server should run on.
	Port int `env:"TRANSAPI_PORT"`
}

// ImportConfig contains string batch import configuration.
type ImportConfig struct {
	// Path to import translation batch files from
	Path string `toml:"path" env:"TRANSAPI_IMPORT_PATH"`
}

// ComponentsConfig assigns components to their class. Components listed in
// neither list are treated as non-standard plugins.
type ComponentsConfig struct {
	Core     []string `toml:"core"`
	Standard []string `toml:"standard"`
}

// PermissionsConfig declares portal managers and per-language committers.
type PermissionsConfig struct {
	Managers   []string    `toml:"managers"`
	Committers []Committer `toml:"committer"`
}

// Committer grants one user commit rights for a set of languages and
// component classes. A "*" entry matches any language or any class.
type Committer struct {
	User    string   `toml:"user"`
	Langs   []string `toml:"langs"`
	Classes []string `toml:"classes"`
}

// ConnectionString gets a driver connection string for this config.
func (d *DbConfig) ConnectionString() string {
	cStr := ""
	switch d.Driver {
	case DbDriverPostgresql:
		cStr = fmt.Sprintf("postgres://%v:%v@%v:%v/%v?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Name)
	case DbDriverSqlite3:
		cStr = d.File
	}
	return cStr
}

// Creates a new Config with some default values.
func defaults() Config {
	c := Config{
		DB: DbConfig{
			Driver: DbDriverSqlite3,
			File:   filepath.FromSlash("./translations.db"),
			Port:   5432, // Postgres default port
		},
		Server: ServerConfig{
			Port: 8181,
		},
		Import: ImportConfig{
			Path: filepath.FromSlash("./import-in"),
		},
		Components: ComponentsConfig{
			Core: []string{"core"},
		},
	}
	return c
}

// Load reads config from a TOML file, applies environment overrides and
// checks validity.
func Load(file string) (Config, error) {
	conf := defaults()
	if _, err := toml.DecodeFile(file, &conf); err != nil {
		return conf, err
	}

	if err := env.Parse(&conf); err != nil {
		return conf, err
	}

	if err := conf.valid(); err != nil {
		return conf, err
	}

	return conf, nil
}
