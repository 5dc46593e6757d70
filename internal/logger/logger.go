// Package logger builds the process-wide structured logger.
package logger

import (
	"github.com/SOLUCIONESSYCOM/scribe"
	"github.com/google/uuid"
)

const serviceName = "highwind"

// New creates the logger every component shares. Quiet mode raises the
// minimum level to error so per-request lines disappear from the console
// while failures still surface. When logPath is non-empty the same stream
// also goes to a rotated file.
func New(version string, quiet bool, logPath string) (*scribe.Scribe, error) {
	minLevel := "info"
	if quiet {
		minLevel = "error"
	}

	loggerConfig := &scribe.ConfigLogger{
		FilePath:          logPath,
		MinLevel:          minLevel,
		RotationMaxSizeMB: 100,
		MaxBackups:        5,
		MaxAgeDay:         30,
		Compress:          true,
		Console:           true,
		BeutifyConsoleLog: true,
		File:              logPath != "",
	}

	globals := map[string]interface{}{
		"service_name":    serviceName,
		"service_version": version,
		"service_id":      uuid.New().String(),
	}

	globalContext := scribe.NewGlobalLogContext(globals, []string{"service_name", "service_version", "service_id"})

	return scribe.New(loggerConfig, globalContext, []string{"service_name", "service_version", "service_id"})
}
