// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package utils

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
)

// Go runs fn in a goroutine and recovers from panics so a misbehaving
// background task cannot take the process down.
func Go(ctx context.Context, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				zap.S().Errorw("recovered from panic in background task",
					"panic", r,
					"stack", string(debug.Stack()),
					"ctx_err", ctx.Err(),
				)
			}
		}()
		fn()
	}()
}
