// Package safego launches background goroutines that cannot take the
// process down: panics are logged and swallowed.
package safego

import (
	"go.uber.org/zap"
)

// Go runs fn on a new goroutine with panic recovery. The name identifies
// the goroutine in the panic log.
//
// Usage:
//
//	safego.Go(logger, "cache-sweeper", func() {
//	    cache.Run(ctx)
//	})
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger == nil {
					return
				}
				logger.Error("Goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}
