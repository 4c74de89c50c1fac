// Package safe isolates goroutine failures so a single detector,
// subscriber, or producer cannot take the whole agent down with it.
package safe

import (
	"runtime/debug"

	"github.com/sentryd/sentryd/internal/log"
	"go.uber.org/zap"
)

// Go starts f in its own goroutine with panic recovery.
func Go(f func()) {
	go Do(f)
}

// Do runs f, recovering and logging any panic instead of letting it
// propagate.
func Do(f func()) {
	defer func() {
		if r := recover(); r != nil {
			log.L().Error("recovered from panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	f()
}

// DoNamed is Do with a label attached to the panic log line, for
// synchronous call sites where several distinct pieces of logic share
// one recover point (one rule detector among several, invoked inline
// on the caller's own thread rather than in a new goroutine).
func DoNamed(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			log.L().Error("recovered from panic",
				zap.String("component", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	f()
}

// GoNamed is Go with a label attached to the panic log line, for
// goroutines where "which one crashed" matters (one rule detector among
// several, one fan-out subscriber among many).
func GoNamed(name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.L().Error("recovered from panic",
					zap.String("component", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
			}
		}()
		f()
	}()
}
