// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package connectors

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/configs"
)

// Migrate applies every pending up migration found at the root of migrations.
func Migrate(cfg *configs.PostgresConfig, migrations fs.FS, logger commons.Logger) error {
	source, err := iofs.New(migrations, ".")
	if err != nil {
		return fmt.Errorf("unable to open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.URL())
	if err != nil {
		return fmt.Errorf("unable to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Infof("database schema at version %d (dirty=%v)", version, dirty)
	return nil
}
