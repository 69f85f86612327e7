package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger, a no-op until Initialize runs.
var Logger *zap.SugaredLogger

func init() {
	// Safe no-op logger until Initialize runs, so packages can log at load time
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger.
// jsonOutput selects machine-readable JSON; otherwise the minimal console encoder is used.
func Initialize(jsonOutput bool) error {
	return InitializeWithLevel(jsonOutput, levelFromEnv())
}

// InitializeWithLevel sets up the global logger at an explicit level.
func InitializeWithLevel(jsonOutput bool, level zapcore.Level) error {
	var zapLogger *zap.Logger
	var err error

	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		config.OutputPaths = []string{"stderr"}
		zapLogger, err = config.Build()
	} else {
		zapLogger = zap.New(
			zapcore.NewCore(
				newMinimalEncoder(),
				zapcore.AddSync(os.Stderr),
				level,
			),
		)
	}

	if err != nil {
		return err
	}

	Logger = zapLogger.Sugar()
	return nil
}

// levelFromEnv reads PACT_LOG_LEVEL (debug, info, warn, error); info when unset or unknown
func levelFromEnv() zapcore.Level {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("PACT_LOG_LEVEL")))
	if raw == "" {
		return zapcore.InfoLevel
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// VerbosityLevel maps a -v count to a zap level: 0 info, 1+ debug.
func VerbosityLevel(verbosity int) zapcore.Level {
	if verbosity > 0 {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
