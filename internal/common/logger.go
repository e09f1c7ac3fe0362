package common

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// GetLogger returns the global logger instance. If SetupLogger hasn't run
// yet, returns a fallback console logger so early startup code never has a
// nil logger to dereference.
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(createWriterConfig(nil, models.LogWriterTypeConsole, ""))
		globalLogger.Warn().Msg("using fallback logger before SetupLogger ran")
	}
	return globalLogger
}

// SetupLogger configures and returns the process-wide logger based on config.
// File output goes through arbor's file writer to <exe dir>/logs/weiqr.log,
// rotated by the size limit and backup count set in createWriterConfig; the
// file is not rotated by day.
func SetupLogger(config *Config) arbor.ILogger {
	logger := arbor.NewLogger()

	execPath, err := os.Executable()
	if err != nil {
		logger = logger.WithConsoleWriter(createWriterConfig(config, models.LogWriterTypeConsole, ""))
		logger.Warn().Err(err).Msg("failed to resolve executable path, falling back to console logging")
	} else {
		logsDir := filepath.Join(filepath.Dir(execPath), "logs")

		hasFile, hasStdout := false, false
		for _, output := range config.Logging.Output {
			switch output {
			case "file":
				hasFile = true
			case "stdout", "console":
				hasStdout = true
			}
		}

		if hasFile {
			if err := os.MkdirAll(logsDir, 0755); err != nil {
				tmp := logger.WithConsoleWriter(createWriterConfig(config, models.LogWriterTypeConsole, ""))
				tmp.Warn().Err(err).Str("logs_dir", logsDir).Msg("failed to create logs directory")
			} else {
				logFile := filepath.Join(logsDir, "weiqr.log")
				logger = logger.WithFileWriter(createWriterConfig(config, models.LogWriterTypeFile, logFile))
			}
		}

		if hasStdout {
			logger = logger.WithConsoleWriter(createWriterConfig(config, models.LogWriterTypeConsole, ""))
		}

		if !hasFile && !hasStdout {
			logger = logger.WithConsoleWriter(createWriterConfig(config, models.LogWriterTypeConsole, ""))
			logger.Warn().Strs("configured_outputs", config.Logging.Output).Msg("no visible log outputs configured, defaulting to console")
		}
	}

	logger = logger.WithMemoryWriter(createWriterConfig(config, models.LogWriterTypeMemory, ""))
	logger = logger.WithLevelFromString(config.Logging.Level)

	loggerMutex.Lock()
	globalLogger = logger
	loggerMutex.Unlock()

	return logger
}

func createWriterConfig(config *Config, writerType models.LogWriterType, filename string) models.WriterConfiguration {
	timeFormat := "15:04:05.000"
	if config != nil && config.Logging.TimeFormat != "" {
		timeFormat = config.Logging.TimeFormat
	}

	return models.WriterConfiguration{
		Type:             writerType,
		FileName:         filename,
		TimeFormat:       timeFormat,
		DisableTimestamp: false,
		MaxSize:          100 * 1024 * 1024,
		MaxBackups:       3,
	}
}

// Stop flushes any buffered log output before process exit. Safe to call
// multiple times.
func Stop() {
	arborcommon.Stop()
}

// redactCookies returns the cookie names only, never their values, for use
// in any log call site that touches a credential-bearing payload
// (spec.md §9, "Credential-bearing operations").
func redactCookies(cookies map[string]string) []string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	return names
}

// RedactCookies is the exported form of redactCookies for use by other
// packages that log cookie-bearing payloads.
func RedactCookies(cookies map[string]string) []string {
	return redactCookies(cookies)
}
