package config

import (
	"go.uber.org/zap/zapcore"

	"go.viam.com/rdk/logging"
)

// InitLoggingSettings sets the log level once at startup. Debug logging is on if either the
// command line flag or the config file asks for it.
func InitLoggingSettings(logger logging.Logger, cmdLineDebugFlag, fileDebugFlag bool) {
	if cmdLineDebugFlag || fileDebugFlag {
		logging.GlobalLogLevel.SetLevel(zapcore.DebugLevel)
		logger.SetLevel(logging.DEBUG)
	} else {
		logging.GlobalLogLevel.SetLevel(zapcore.InfoLevel)
		logger.SetLevel(logging.INFO)
	}
	logger.Info("Log level initialized: ", logging.GlobalLogLevel.Level())
}
