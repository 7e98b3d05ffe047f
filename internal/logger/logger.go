// Package logger is a small leveled singleton logger writing to a file
// and, optionally, the console.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level lists supported log severities.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a config string onto a Level, defaulting to INFO for
// anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return DEBUG
	case "warn", "WARN":
		return WARN
	case "error", "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger writes to a file plus, optionally, the console.
type Logger struct {
	mu          sync.Mutex
	fileLogger  *log.Logger
	consoleLog  *log.Logger
	level       Level
	console     bool
	logFile     *os.File
	logFilePath string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init creates the global logger. logFilePrefix names the file under
// logDir, e.g. "redisreplica" or "redisreplica_10.0.0.1_6379". console
// controls whether Warn/Error/Printf/Println also write to stdout; file
// logging at the configured level always happens regardless.
func Init(logDir string, level Level, logFilePrefix string, console bool) error {
	var initErr error
	once.Do(func() {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			initErr = fmt.Errorf("create log directory: %w", err)
			return
		}

		if logFilePrefix == "" {
			logFilePrefix = "redisreplica"
		}
		logFileName := fmt.Sprintf("%s.log", logFilePrefix)
		logFilePath := filepath.Join(logDir, logFileName)

		logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			initErr = fmt.Errorf("open log file: %w", err)
			return
		}

		defaultLogger = &Logger{
			fileLogger:  log.New(logFile, "", 0),
			consoleLog:  log.New(os.Stdout, "", 0),
			level:       level,
			console:     console,
			logFile:     logFile,
			logFilePath: logFilePath,
		}
	})
	return initErr
}

// Close shuts down the log file.
func Close() error {
	if defaultLogger != nil && defaultLogger.logFile != nil {
		return defaultLogger.logFile.Close()
	}
	return nil
}

// GetLogFilePath returns the backing log file path.
func GetLogFilePath() string {
	if defaultLogger != nil {
		return defaultLogger.logFilePath
	}
	return ""
}

func formatMessage(level Level, format string, args ...interface{}) string {
	timestamp := time.Now().Format("2006/01/02 15:04:05")
	return fmt.Sprintf("%s [%s] %s", timestamp, levelNames[level], fmt.Sprintf(format, args...))
}

func logToFile(level Level, format string, args ...interface{}) {
	if defaultLogger == nil {
		return
	}
	if level < defaultLogger.level {
		return
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.fileLogger.Println(formatMessage(level, format, args...))
}

func logToConsole(format string, args ...interface{}) {
	if defaultLogger == nil {
		fmt.Printf(format+"\n", args...)
		return
	}
	if !defaultLogger.console {
		return
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	timestamp := time.Now().Format("2006/01/02 15:04:05")
	defaultLogger.consoleLog.Printf("%s [redisreplica] %s", timestamp, fmt.Sprintf(format, args...))
}

func logToBoth(level Level, format string, args ...interface{}) {
	logToFile(level, format, args...)
	logToConsole(format, args...)
}

// Debug logs a debug-level message to the file only.
func Debug(format string, args ...interface{}) { logToFile(DEBUG, format, args...) }

// Info logs an info-level message to the file only.
func Info(format string, args ...interface{}) { logToFile(INFO, format, args...) }

// Warn logs a warning to both file and console.
func Warn(format string, args ...interface{}) { logToBoth(WARN, format, args...) }

// Error logs an error to both file and console.
func Error(format string, args ...interface{}) { logToBoth(ERROR, format, args...) }

// Printf mimics log.Printf, writing to both sinks at INFO level.
func Printf(format string, args ...interface{}) { logToBoth(INFO, format, args...) }

// Println mimics log.Println, writing to both sinks at INFO level.
func Println(args ...interface{}) { logToBoth(INFO, "%s", fmt.Sprint(args...)) }

// Writer returns an io.Writer compatible with the standard log package,
// for collaborators (e.g. net.Conn tracing) that want to embed this
// logger as their backing writer.
func Writer() io.Writer {
	if defaultLogger != nil {
		return defaultLogger.logFile
	}
	return os.Stdout
}
