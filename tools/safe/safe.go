package safe

import (
	"TMProject/logger"

	"go.uber.org/zap"
)

// Go starts a goroutine that recovers from panic, so a misbehaving
// background task cannot take down the process.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("background panic recovered", zap.Any("panic", r))
			}
		}()
		f()
	}()
}
