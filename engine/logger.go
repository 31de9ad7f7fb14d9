package engine

import "go.uber.org/zap"

// NewProductionLogger builds a *zap.SugaredLogger configured the way the
// original fdb reference configures Python's logging module: timestamped,
// leveled, human-readable. Satisfies the Logger interface.
func NewProductionLogger() (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// NewNopLogger returns a Logger that discards everything, for embedded
// use and tests that don't want engine log output on stdout.
func NewNopLogger() Logger {
	return zap.NewNop().Sugar()
}
