package registry

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the registry package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the registry package's logger.
func SetLogger(l *zap.Logger) {
	logger = l
}

func zapID(id ID) zap.Field {
	return zap.Uint32("image_id", uint32(id))
}

func zapName(name string) zap.Field {
	return zap.String("image", name)
}
