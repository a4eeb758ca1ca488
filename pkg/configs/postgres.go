// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package configs

import "fmt"

type PostgresAuth struct {
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
}

type PostgresConfig struct {
	Host               string       `mapstructure:"host" validate:"required"`
	Port               int          `mapstructure:"port" validate:"required"`
	DBName             string       `mapstructure:"db_name" validate:"required"`
	Auth               PostgresAuth `mapstructure:"auth" validate:"required"`
	MaxOpenConnection  int          `mapstructure:"max_open_connection"`
	MaxIdealConnection int          `mapstructure:"max_ideal_connection"`
	SslMode            string       `mapstructure:"ssl_mode"`
}

// DSN renders the libpq connection string.
func (c PostgresConfig) DSN() string {
	sslMode := c.SslMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Auth.User, c.Auth.Password, c.DBName, sslMode)
}

// URL renders the postgres:// form used by the migrator.
func (c PostgresConfig) URL() string {
	sslMode := c.SslMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Auth.User, c.Auth.Password, c.Host, c.Port, c.DBName, sslMode)
}
