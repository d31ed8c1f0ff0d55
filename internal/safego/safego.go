// Package safego launches background goroutines that survive panics.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn on a new goroutine, recovering and logging any panic together
// with its stack. Fire-and-forget work (the archive reaper, async webhook
// delivery) goes through here; a bare goroutine that panics dies silently
// and takes its job with it.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine",
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
