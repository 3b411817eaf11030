package app

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"parley/internal/config"
)

// NewLogger builds the process logger from the [logging] section. Logs go to
// stderr so command output on stdout stays clean.
func NewLogger(c config.Logging) (*zap.Logger, error) {
	if c.Disable {
		return zap.NewNop(), nil
	}
	level := zapcore.InfoLevel
	if c.Level != "" {
		var err error
		if level, err = zapcore.ParseLevel(c.Level); err != nil {
			return nil, errors.Wrap(err, "logging level")
		}
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "initializing logger")
	}
	return logger, nil
}
