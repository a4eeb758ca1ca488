// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package migrations embeds the Postgres schema for the callcenter api.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
