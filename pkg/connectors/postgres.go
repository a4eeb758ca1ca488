// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package connectors

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/configs"
)

// PostgresConnector hands out request scoped gorm handles.
type PostgresConnector interface {
	Connect(ctx context.Context) error
	DB(ctx context.Context) *gorm.DB
	IsConnected(ctx context.Context) bool
	Disconnect(ctx context.Context) error
	Name() string
}

type gormConnector struct {
	name      string
	dialector gorm.Dialector
	pool      func(*gormConnector) error
	db        *gorm.DB
	logger    commons.Logger
}

// NewPostgresConnector returns a connector for the configured Postgres database.
func NewPostgresConnector(cfg *configs.PostgresConfig, logger commons.Logger) PostgresConnector {
	return &gormConnector{
		name:      fmt.Sprintf("postgres://%s:%d/%s", cfg.Host, cfg.Port, cfg.DBName),
		dialector: postgres.Open(cfg.DSN()),
		logger:    logger,
		pool: func(c *gormConnector) error {
			sqlDB, err := c.db.DB()
			if err != nil {
				return err
			}
			if cfg.MaxOpenConnection > 0 {
				sqlDB.SetMaxOpenConns(cfg.MaxOpenConnection)
			}
			if cfg.MaxIdealConnection > 0 {
				sqlDB.SetMaxIdleConns(cfg.MaxIdealConnection)
			}
			sqlDB.SetConnMaxLifetime(30 * time.Minute)
			return nil
		},
	}
}

// NewSqliteConnector returns a connector for a sqlite database. Used for local
// development and tests; dsn ":memory:" gives a private in-memory database.
func NewSqliteConnector(dsn string, logger commons.Logger) PostgresConnector {
	return &gormConnector{
		name:      "sqlite://" + dsn,
		dialector: sqlite.Open(dsn),
		logger:    logger,
		pool: func(c *gormConnector) error {
			sqlDB, err := c.db.DB()
			if err != nil {
				return err
			}
			// a single connection keeps an in-memory database alive and
			// serialises writers the way sqlite expects
			sqlDB.SetMaxOpenConns(1)
			return nil
		},
	}
}

// NewDialectorConnector wraps an arbitrary gorm dialector, e.g. a postgres
// dialector over a sqlmock connection.
func NewDialectorConnector(name string, dialector gorm.Dialector, logger commons.Logger) PostgresConnector {
	return &gormConnector{name: name, dialector: dialector, logger: logger}
}

func (c *gormConnector) Connect(ctx context.Context) error {
	db, err := gorm.Open(c.dialector, &gorm.Config{
		Logger:                 gorm_logger.Default.LogMode(gorm_logger.Silent),
		SkipDefaultTransaction: true,
		TranslateError:         true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return fmt.Errorf("unable to open %s: %w", c.name, err)
	}
	c.db = db
	if c.pool != nil {
		if err := c.pool(c); err != nil {
			return fmt.Errorf("unable to configure pool for %s: %w", c.name, err)
		}
	}
	c.logger.Infof("connected to %s", c.name)
	return nil
}

func (c *gormConnector) DB(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

func (c *gormConnector) IsConnected(ctx context.Context) bool {
	if c.db == nil {
		return false
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}

func (c *gormConnector) Disconnect(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	c.logger.Infof("disconnecting from %s", c.name)
	return sqlDB.Close()
}

func (c *gormConnector) Name() string {
	return c.name
}
