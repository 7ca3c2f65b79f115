// Package logging provides leveled structured-ish logging for Muninn.
//
// The engine packages stay quiet; logging happens at the edges: episode
// orchestration, the HTTP server, the CLI. Messages carry an optional
// params map so callers can attach context without string building at call
// sites that are usually filtered out.
package logging

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// Level represents log levels.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLevel = LevelInfo
	logger       = log.New(os.Stderr, "muninn ", log.LstdFlags)
)

// Debug logs a debug message. Enabled by SetVerbose(true).
func Debug(message string, params map[string]interface{}) {
	if currentLevel <= LevelDebug {
		logMessage("DEBUG", message, params)
	}
}

// Info logs an info message.
func Info(message string, params map[string]interface{}) {
	if currentLevel <= LevelInfo {
		logMessage("INFO", message, params)
	}
}

// Warn logs a warning message.
func Warn(message string, params map[string]interface{}) {
	if currentLevel <= LevelWarn {
		logMessage("WARN", message, params)
	}
}

// Error logs an error message.
func Error(message string, params map[string]interface{}) {
	if currentLevel <= LevelError {
		logMessage("ERROR", message, params)
	}
}

// SetVerbose switches between debug and info level.
func SetVerbose(verbose bool) {
	if verbose {
		currentLevel = LevelDebug
	} else {
		currentLevel = LevelInfo
	}
}

// SetLevel sets the logging level by name. Unknown names are ignored.
func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(l *log.Logger) {
	logger = l
}

func logMessage(level, message string, params map[string]interface{}) {
	line := fmt.Sprintf("%s: %s", level, message)
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
		}
		line += " " + strings.Join(parts, " ")
	}
	logger.Println(line)
}
