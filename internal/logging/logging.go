// Package logging provides a simple leveled logger for the host and
// viewer endpoints, plus a small error-kind taxonomy (see ErrorKind) that
// lets call sites tag a log line with which part of the tile-casting
// pipeline produced it, rather than inventing a new format string each
// time one of these recurring conditions is logged.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents log severity levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

// Logger provides leveled logging
type Logger struct {
	level  Level
	mu     sync.RWMutex
	logger *log.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the default logger instance
func Default() *Logger {
	once.Do(func() {
		defaultLogger = &Logger{
			level:  LevelInfo,
			logger: log.New(os.Stderr, "", log.LstdFlags|log.LUTC),
		}
	})
	return defaultLogger
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetLevelFromString sets the log level from a string
func (l *Logger) SetLevelFromString(levelStr string) {
	switch strings.ToLower(levelStr) {
	case "debug":
		l.SetLevel(LevelDebug)
	case "info":
		l.SetLevel(LevelInfo)
	case "warn", "warning":
		l.SetLevel(LevelWarn)
	case "error":
		l.SetLevel(LevelError)
	default:
		l.SetLevel(LevelInfo)
	}
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// GetLevelString returns the current log level as a string
func (l *Logger) GetLevelString() string {
	return levelNames[l.GetLevel()]
}

// GetLevelString returns the default logger's level as a string
func GetLevelString() string {
	return Default().GetLevelString()
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.RLock()
	currentLevel := l.level
	l.mu.RUnlock()

	if level < currentLevel {
		return
	}

	prefix := levelNames[level]
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] %s", prefix, msg)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Package-level convenience functions

// SetLevel sets the default logger's level
func SetLevel(level Level) {
	Default().SetLevel(level)
}

// SetLevelFromString sets the default logger's level from a string
func SetLevelFromString(levelStr string) {
	Default().SetLevelFromString(levelStr)
}

// Debug logs a debug message to the default logger
func Debug(format string, args ...interface{}) {
	Default().Debug(format, args...)
}

// Info logs an info message to the default logger
func Info(format string, args ...interface{}) {
	Default().Info(format, args...)
}

// Warn logs a warning message to the default logger
func Warn(format string, args ...interface{}) {
	Default().Warn(format, args...)
}

// Error(format string, args ...interface{}) logs an error message to the default logger
func Error(format string, args ...interface{}) {
	Default().Error(format, args...)
}

// ErrorKind names one of the recurring failure categories a tilecast
// endpoint logs: a closed transport, a malformed wire message, an image
// codec failure, a screen capture failure, or a local I/O failure (config,
// settings store). Tagging log lines with a kind lets an operator grep for
// one category without depending on the wording of the message.
type ErrorKind string

const (
	KindTransportClosed ErrorKind = "transport_closed"
	KindProtocolError   ErrorKind = "protocol_error"
	KindCodecError      ErrorKind = "codec_error"
	KindCaptureError    ErrorKind = "capture_error"
	KindIOError         ErrorKind = "io_error"
)

func (l *Logger) logKind(level Level, kind ErrorKind, format string, args ...interface{}) {
	l.mu.RLock()
	currentLevel := l.level
	l.mu.RUnlock()

	if level < currentLevel {
		return
	}

	prefix := levelNames[level]
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s", prefix, kind, msg)
}

// TransportClosed logs a session or connection that ended, expectedly or
// not. Losing a transport is routine under this protocol (a viewer that
// walks away, a network blip) so it is logged at info level, not warn.
func (l *Logger) TransportClosed(format string, args ...interface{}) {
	l.logKind(LevelInfo, KindTransportClosed, format, args...)
}

// ProtocolError logs a malformed wire message: an unrecognized frame type
// tag, a truncated header, or a tile payload shorter than its declared
// length. Logged at error level: a well-behaved peer never sends these.
func (l *Logger) ProtocolError(format string, args ...interface{}) {
	l.logKind(LevelError, KindProtocolError, format, args...)
}

// CodecError logs a JPEG/WebP encode or decode failure.
func (l *Logger) CodecError(format string, args ...interface{}) {
	l.logKind(LevelWarn, KindCodecError, format, args...)
}

// CaptureError logs a screen grab failure (monitor gone, permission denied).
func (l *Logger) CaptureError(format string, args ...interface{}) {
	l.logKind(LevelWarn, KindCaptureError, format, args...)
}

// IOError logs a local filesystem failure unrelated to the network, such
// as a settings file that failed to read, parse, or write.
func (l *Logger) IOError(format string, args ...interface{}) {
	l.logKind(LevelWarn, KindIOError, format, args...)
}

// Package-level convenience wrappers for the error-kind taxonomy.

// TransportClosed logs a transport-closed event to the default logger.
func TransportClosed(format string, args ...interface{}) {
	Default().TransportClosed(format, args...)
}

// ProtocolError logs a protocol error to the default logger.
func ProtocolError(format string, args ...interface{}) {
	Default().ProtocolError(format, args...)
}

// CodecError logs a codec error to the default logger.
func CodecError(format string, args ...interface{}) {
	Default().CodecError(format, args...)
}

// CaptureError logs a capture error to the default logger.
func CaptureError(format string, args ...interface{}) {
	Default().CaptureError(format, args...)
}

// IOError logs a local I/O error to the default logger.
func IOError(format string, args ...interface{}) {
	Default().IOError(format, args...)
}
