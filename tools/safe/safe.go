package safe

import (
	"github.com/itellico/mono-sub017/logger"
)

// Go starts a new goroutine that recovers from panic, so a misbehaving
// handler cannot crash the whole gateway process.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
